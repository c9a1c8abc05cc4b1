package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impactkit/core"
)

func TestMemoryStore(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateUser(ctx, "u")
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, "u")
	assert.ErrorIs(t, err, core.ErrUserExists)

	change, err := s.ApplyPoints(ctx, "u", 105)
	require.NoError(t, err)
	assert.Equal(t, int64(105), change.Total)
	assert.Equal(t, core.LevelAdvocate, change.Level)
	assert.True(t, change.LevelChanged())

	added, change, err := s.AwardBadge(ctx, "u", "starter", 10)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, int64(115), change.Total)

	added, _, err = s.AwardBadge(ctx, "u", "starter", 10)
	require.NoError(t, err)
	assert.False(t, added)

	u, err := s.GetUser(ctx, "u")
	require.NoError(t, err)
	assert.True(t, u.HasBadge("starter"))
	assert.Equal(t, int64(115), u.Points)
}

func TestMemoryStoreUnknownUser(t *testing.T) {
	s := New()
	_, err := s.GetUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, core.ErrUserNotFound)
	_, err = s.ApplyPoints(context.Background(), "ghost", 5)
	assert.ErrorIs(t, err, core.ErrUserNotFound)
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateUser(ctx, "u")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.ApplyPoints(ctx, "u", 5)
		}()
	}
	wg.Wait()
	u, _ := s.GetUser(ctx, "u")
	assert.Equal(t, int64(500), u.Points)
	assert.Equal(t, core.LevelLeader, u.Level)
}

func TestMemoryStoreRecordStreakKeepsLongest(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _ = s.CreateUser(ctx, "u")
	stored, err := s.RecordStreak(ctx, "u", core.StreakCivic, core.StreakSnapshot{Current: 4, Longest: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Longest)
	stored, err = s.RecordStreak(ctx, "u", core.StreakCivic, core.StreakSnapshot{Current: 1, Longest: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Current)
	assert.Equal(t, 4, stored.Longest)
}

func TestMemoryActivityLogOrdersAndFilters(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(ctx, core.ActivityEvent{ID: "2", UserID: "u", Kind: core.ActionRateOfficial, Time: base.Add(time.Hour)}))
	require.NoError(t, s.Append(ctx, core.ActivityEvent{ID: "1", UserID: "u", Kind: core.ActionCompleteModule, Time: base}))
	require.NoError(t, s.Append(ctx, core.ActivityEvent{ID: "3", UserID: "v", Kind: core.ActionRateOfficial, Time: base}))

	all, err := s.Query(ctx, core.ActivityQuery{UserID: "u"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "1", all[0].ID)

	ratings, err := s.Query(ctx, core.ActivityQuery{UserID: "u", Kinds: []core.ActionKind{core.ActionRateOfficial}})
	require.NoError(t, err)
	require.Len(t, ratings, 1)
	assert.Equal(t, "2", ratings[0].ID)

	windowed, err := s.Query(ctx, core.ActivityQuery{UserID: "u", To: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
}

func TestContributions(t *testing.T) {
	c := NewContributions()
	ctx := context.Background()
	c.AddRating("u", 10)
	c.AddRating("u", core.LongReviewChars)
	n, _ := c.CountRatings(ctx, "u")
	assert.Equal(t, 2, n)
	n, _ = c.CountLongReviews(ctx, "u")
	assert.Equal(t, 1, n)

	c.DefineModule("m1", "budget")
	c.DefineModule("m2", "budget")
	c.CompleteModule("u", "m1")
	done, total, _ := c.CategoryProgress(ctx, "u", "budget")
	assert.Equal(t, 1, done)
	assert.Equal(t, 2, total)
	ok, _ := c.ModuleCompleted(ctx, "u", "m1")
	assert.True(t, ok)
}
