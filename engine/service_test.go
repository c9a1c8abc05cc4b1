package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impactkit/adapters/memory"
	"impactkit/catalog"
	"impactkit/core"
)

type fixture struct {
	svc     *Service
	store   *memory.Store
	contrib *memory.Contributions
	clock   time.Time
}

func newFixture(t *testing.T, defs []core.BadgeDefinition, opts ...func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), contrib: memory.NewContributions(), clock: day(2024, 1, 1)}
	cat, err := catalog.New(defs)
	require.NoError(t, err)
	d := Deps{
		Users:         f.store,
		Activity:      f.store,
		Catalog:       cat,
		Contributions: f.contrib,
		Bus:           NewEventBus(DispatchSync),
		Clock:         func() time.Time { return f.clock },
	}
	for _, o := range opts {
		o(&d)
	}
	f.svc = NewService(d)
	t.Cleanup(f.svc.Close)
	return f
}

func TestRecordActionPipeline(t *testing.T) {
	f := newFixture(t, catalog.Defaults())
	ctx := context.Background()
	_, err := f.svc.RegisterUser(ctx, "Alice ")
	require.NoError(t, err)

	var seen []core.EventType
	f.svc.bus.SubscribeAll(func(_ context.Context, e core.Event) { seen = append(seen, e.Type) })

	res, err := f.svc.RecordAction(ctx, "alice", core.ActionRateOfficial, core.ActionContext{EntityID: "official-7", EntityKind: "official"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.PointsAwarded)
	assert.Equal(t, []core.BadgeCode{"first-rating"}, res.BadgesAwarded)
	assert.Equal(t, int64(20), res.Total) // 10 + first-rating reward
	assert.Nil(t, res.LevelChangedTo)
	assert.NotEmpty(t, res.Event.ID)
	assert.Equal(t, []core.EventType{core.EventActionRecorded, core.EventPointsAwarded, core.EventBadgeEarned}, seen)

	events, err := f.svc.Activity(ctx, core.ActivityQuery{UserID: "ALICE"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "official-7", events[0].EntityID)
}

func TestRecordActionUnknownKindStillLogged(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, _ = f.svc.RegisterUser(ctx, "bea")
	kind, ok := core.ParseActionKind("plant-tree")
	require.False(t, ok)

	res, err := f.svc.RecordAction(ctx, "bea", kind, core.ActionContext{RawKind: "plant-tree"})
	require.NoError(t, err)
	assert.Equal(t, core.DefaultPoints, res.PointsAwarded)
	events, _ := f.svc.Activity(ctx, core.ActivityQuery{UserID: "bea"})
	require.Len(t, events, 1)
	assert.Equal(t, "plant-tree", events[0].RawKind)
}

func TestRecordActionRejectsOversizedReward(t *testing.T) {
	f := newFixture(t, catalog.Defaults())
	ctx := context.Background()
	_, _ = f.svc.RegisterUser(ctx, "cleo")

	_, err := f.svc.RecordAction(ctx, "cleo", core.ActionCompleteModule, core.ActionContext{Reward: 20_000_000_000_000})
	require.ErrorIs(t, err, core.ErrInvalidAction)
	assert.False(t, core.IsRetryable(err))

	u, err := f.svc.GetUser(ctx, "cleo")
	require.NoError(t, err)
	assert.Zero(t, u.Points)
	events, err := f.svc.Activity(ctx, core.ActivityQuery{UserID: "cleo"})
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = f.svc.Quote(ctx, "cleo", core.ActionCompleteModule, core.ActionContext{Reward: core.MaxContextReward + 1})
	require.ErrorIs(t, err, core.ErrInvalidAction)
}

func TestRecordActionUnknownUser(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.RecordAction(context.Background(), "nobody", core.ActionRateOfficial, core.ActionContext{})
	require.ErrorIs(t, err, core.ErrUserNotFound)
	_, err = f.svc.RecordAction(context.Background(), "  ", core.ActionRateOfficial, core.ActionContext{})
	require.Error(t, err)
}

type failingAppend struct{ *memory.Store }

func (failingAppend) Append(context.Context, core.ActivityEvent) error { return errors.New("disk full") }

func TestAppendFailureAppliesNothing(t *testing.T) {
	var store *memory.Store
	f := newFixture(t, catalog.Defaults(), func(d *Deps) {
		store = d.Users.(*memory.Store)
		d.Activity = failingAppend{store}
	})
	ctx := context.Background()
	_, _ = f.svc.RegisterUser(ctx, "cy")

	_, err := f.svc.RecordAction(ctx, "cy", core.ActionCreateCampaign, core.ActionContext{})
	require.Error(t, err)
	assert.True(t, core.IsRetryable(err))
	u, _ := store.GetUser(ctx, "cy")
	assert.Zero(t, u.Points)
	assert.Empty(t, u.Badges)
}

func TestNotifierFailureDoesNotFailAction(t *testing.T) {
	var mu sync.Mutex
	var delivered []core.EventType
	notifier := NotifierFunc(func(_ context.Context, ev core.Event) error {
		mu.Lock()
		delivered = append(delivered, ev.Type)
		mu.Unlock()
		return errors.New("push gateway down")
	})
	f := newFixture(t, []core.BadgeDefinition{{Code: "founder", Name: "Founder",
		Criteria: core.CriteriaSpecificAction, Threshold: 1, SpecificValue: "create-campaign", PointReward: 60}},
		func(d *Deps) { d.Notifier = notifier })
	ctx := context.Background()
	_, _ = f.svc.RegisterUser(ctx, "dee")

	res, err := f.svc.RecordAction(ctx, "dee", core.ActionCreateCampaign, core.ActionContext{})
	require.NoError(t, err)
	assert.Equal(t, int64(110), res.Total)
	require.NotNil(t, res.LevelChangedTo)
	assert.Equal(t, core.LevelAdvocate, *res.LevelChangedTo)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []core.EventType{core.EventBadgeEarned, core.EventLevelUp}, delivered)
}

func TestLevelUpEventCarriesFeatures(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, _ = f.svc.RegisterUser(ctx, "eli")
	_, _ = f.store.ApplyPoints(ctx, "eli", 95)

	var got core.Event
	f.svc.Subscribe(core.EventLevelUp, func(_ context.Context, e core.Event) { got = e })
	res, err := f.svc.RecordAction(ctx, "eli", core.ActionVerifyEvidence, core.ActionContext{})
	require.NoError(t, err)
	assert.Equal(t, core.LevelAdvocate, res.Level)
	assert.Equal(t, core.LevelAdvocate, got.Level)
	assert.Equal(t, core.LevelAdvocate.Features(), got.Features)
}

func TestPointsMatchSumOfAwards(t *testing.T) {
	f := newFixture(t, catalog.Defaults())
	ctx := context.Background()
	_, _ = f.svc.RegisterUser(ctx, "fin")
	rng := rand.New(rand.NewSource(42))
	kinds := core.ActionKinds()

	var sum int64
	for i := 0; i < 200; i++ {
		f.clock = day(2024, 1, 1).Add(time.Duration(i) * 9 * time.Hour)
		res, err := f.svc.RecordAction(ctx, "fin", kinds[rng.Intn(len(kinds))], core.ActionContext{})
		require.NoError(t, err)
		sum += res.PointsAwarded
		u, _ := f.svc.GetUser(ctx, "fin")
		for _, b := range res.BadgesAwarded {
			for _, def := range catalog.Defaults() {
				if def.Code == b {
					sum += def.PointReward
				}
			}
		}
		require.Equal(t, sum, u.Points)
		require.Equal(t, core.ResolveLevel(u.Points), u.Level)
		require.Equal(t, u.Points, res.Total)
	}
}

func TestConcurrentRecordAction(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, _ = f.svc.RegisterUser(ctx, "gil")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordAction(ctx, "gil", core.ActionVerifyEvidence, core.ActionContext{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	u, _ := f.svc.GetUser(ctx, "gil")
	// bonus tiers depend on interleaving; the total never drops below the base sum
	assert.GreaterOrEqual(t, u.Points, int64(50*30))
	assert.Equal(t, core.LevelLeader, u.Level)
	events, _ := f.svc.Activity(ctx, core.ActivityQuery{UserID: "gil"})
	assert.Len(t, events, 50)
}

func TestProfileAndQuote(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, _ = f.svc.RegisterUser(ctx, "hana")
	for i := 0; i < 3; i++ {
		f.clock = day(2024, 6, 3).AddDate(0, 0, i)
		_, err := f.svc.RecordAction(ctx, "hana", core.ActionCompleteQuiz, core.ActionContext{})
		require.NoError(t, err)
	}

	p, err := f.svc.Profile(ctx, "hana")
	require.NoError(t, err)
	require.Len(t, p.Streaks, 2)
	assert.Equal(t, core.StreakCivic, p.Streaks[0].Category)
	assert.Equal(t, 3, p.Streaks[1].Current)
	assert.Equal(t, core.LevelCitizen, p.Progress.CurrentLevel)

	q, err := f.svc.Quote(ctx, "hana", core.ActionCompleteQuiz, core.ActionContext{})
	require.NoError(t, err)
	assert.Equal(t, core.Multiplier(1200), q.StreakMultiplier)
	assert.Equal(t, int64(6), q.Points)
	u, _ := f.svc.GetUser(ctx, "hana")
	assert.Equal(t, p.User.Points, u.Points)
}
