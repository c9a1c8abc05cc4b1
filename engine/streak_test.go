package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impactkit/adapters/memory"
	"impactkit/core"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 12, 0, 0, 0, time.UTC) }

func logAction(t *testing.T, store *memory.Store, user core.UserID, kind core.ActionKind, at time.Time) {
	t.Helper()
	require.NoError(t, store.Append(context.Background(), core.ActivityEvent{
		ID: at.Format(time.RFC3339Nano) + kind.String(), UserID: user, Kind: kind, Time: at,
	}))
}

func TestComputeStreakConsecutiveWeeks(t *testing.T) {
	var events []core.ActivityEvent
	for i := 0; i < 4; i++ {
		events = append(events, core.ActivityEvent{UserID: "u", Kind: core.ActionRateOfficial, Time: day(2024, 1, 1).AddDate(0, 0, 7*i)})
	}
	// two actions in the same week count once
	events = append(events, core.ActivityEvent{UserID: "u", Kind: core.ActionPostComment, Time: day(2024, 1, 24)})

	st, err := ComputeStreak(core.StreakCivic, events, core.StreakSnapshot{})
	require.NoError(t, err)
	assert.Equal(t, 4, st.Current)
	assert.Equal(t, 4, st.Longest)
	assert.Equal(t, core.Multiplier(1500), st.Multiplier)
	assert.Equal(t, day(2024, 1, 24), st.LastActivity)
}

func TestComputeStreakEmpty(t *testing.T) {
	st, err := ComputeStreak(core.StreakLearning, nil, core.StreakSnapshot{Longest: 9})
	require.NoError(t, err)
	assert.Equal(t, 0, st.Current)
	assert.Equal(t, 9, st.Longest)
	assert.Equal(t, core.MultiplierOne, st.Multiplier)
}

func TestComputeStreakDailyTiers(t *testing.T) {
	cases := []struct {
		days int
		want core.Multiplier
	}{{1, 1000}, {2, 1000}, {3, 1200}, {6, 1200}, {7, 1500}, {30, 1500}}
	for _, tc := range cases {
		var events []core.ActivityEvent
		for i := 0; i < tc.days; i++ {
			events = append(events, core.ActivityEvent{Kind: core.ActionCompleteQuiz, Time: day(2024, 3, 1).AddDate(0, 0, i)})
		}
		st, err := ComputeStreak(core.StreakLearning, events, core.StreakSnapshot{})
		require.NoError(t, err)
		assert.Equal(t, tc.days, st.Current)
		assert.Equal(t, tc.want, st.Multiplier, "days=%d", tc.days)
	}
}

func TestStreakRefreshKeepsLongestAfterBreak(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	u, err := store.CreateUser(ctx, "alice")
	require.NoError(t, err)
	calc := NewStreakCalculator(store, store)

	for i := 0; i < 4; i++ {
		at := day(2024, 1, 1).AddDate(0, 0, 7*i)
		logAction(t, store, "alice", core.ActionRateOfficial, at)
		st, err := calc.Refresh(ctx, u, core.StreakCivic, at)
		require.NoError(t, err)
		assert.Equal(t, i+1, st.Current)
	}

	// skip two weeks
	at := day(2024, 2, 12)
	logAction(t, store, "alice", core.ActionSubmitEvidence, at)
	u, err = store.GetUser(ctx, "alice")
	require.NoError(t, err)
	st, err := calc.Refresh(ctx, u, core.StreakCivic, at)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Current)
	assert.Equal(t, 4, st.Longest)
	assert.Equal(t, core.MultiplierOne, st.Multiplier)

	u, err = store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 4, u.Streaks[core.StreakCivic].Longest)
	assert.Equal(t, 1, u.Streaks[core.StreakCivic].Current)
}

func TestStreakIgnoresOtherCategories(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	u, _ := store.CreateUser(ctx, "bob")
	for i := 0; i < 3; i++ {
		logAction(t, store, "bob", core.ActionCompleteQuiz, day(2024, 5, 1).AddDate(0, 0, i))
	}
	calc := NewStreakCalculator(store, store)
	civic, err := calc.Current(ctx, u, core.StreakCivic, day(2024, 5, 3))
	require.NoError(t, err)
	assert.Zero(t, civic.Current)
	learning, err := calc.Current(ctx, u, core.StreakLearning, day(2024, 5, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, learning.Current)
}
