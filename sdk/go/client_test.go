package sdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "impactkit/adapters/memory"
	"impactkit/api/httpapi"
	"impactkit/catalog"
	"impactkit/core"
	"impactkit/engine"
	"impactkit/leaderboard"
	"impactkit/realtime"
)

type testServer struct {
	*httptest.Server
	hub *realtime.Hub
}

// newTestServer runs the real API over the in-memory adapter.
func newTestServer(t *testing.T, opts httpapi.Options) *testServer {
	t.Helper()
	store := mem.New()
	bus := engine.NewEventBus(engine.DispatchSync)
	hub := realtime.NewHub()
	hub.Attach(bus)
	board := leaderboard.NewSkipList()
	leaderboard.NewTracker(board).Attach(bus)
	svc := engine.NewService(engine.Deps{
		Users:         store,
		Activity:      store,
		Catalog:       catalog.Default(),
		Contributions: mem.NewContributions(),
		Bus:           bus,
	})
	opts.PathPrefix = "/api"
	srv := httptest.NewServer(httpapi.NewRouter(httpapi.Deps{Service: svc, Hub: hub, Board: board}, opts))
	t.Cleanup(func() {
		srv.Close()
		bus.Close()
	})
	return &testServer{Server: srv, hub: hub}
}

func TestClient_ActionLifecycle(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{APIKeys: []string{"k1"}})
	client, err := NewClient(srv.URL+"/api", WithAPIKey("k1"))
	require.NoError(t, err)
	ctx := context.Background()

	u, err := client.RegisterUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.LevelCitizen, u.Level)

	_, err = client.RegisterUser(ctx, "alice")
	assert.True(t, IsConflict(err), "got %v", err)

	res, err := client.RecordAction(ctx, "alice", ActionRequest{Action: "rate-official", EntityID: "official-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.PointsAwarded)
	assert.Equal(t, []core.BadgeCode{"first-rating"}, res.BadgesAwarded)

	res, err = client.RecordAction(ctx, "alice", ActionRequest{Action: "complete-module", Reward: 80})
	require.NoError(t, err)
	assert.Equal(t, int64(80), res.PointsAwarded)

	profile, err := client.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, res.Total, profile.User.Points)
	assert.True(t, profile.User.HasBadge("first-rating"))
	assert.Len(t, profile.Streaks, 2)

	progress, err := client.Progress(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, profile.Progress, progress)

	streaks, err := client.Streaks(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, streaks, 2)

	quote, err := client.Quote(ctx, "alice", "submit-evidence", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(20), quote.Base)

	events, err := client.Activity(ctx, "alice", []string{"rate-official"}, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "official-1", events[0].EntityID)

	badges, err := client.Badges(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, badges)

	top, err := client.Leaderboard(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "alice", top[0].UserID)
	assert.Equal(t, res.Total, top[0].Points)

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestClient_Errors(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{})
	client, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.GetProfile(ctx, "nobody")
	assert.True(t, IsNotFound(err), "got %v", err)

	_, err = client.RecordAction(ctx, "", ActionRequest{Action: "rate-official"})
	assert.ErrorIs(t, err, ErrEmptyUserID)

	_, err = NewClient(" ")
	assert.Error(t, err)
}

func TestClient_RetriesTemporaryFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":"storage_unavailable","message":"retry"}`))
			return
		}
		_, _ = w.Write([]byte(`{"points_awarded":10,"total":10,"level":"citizen","badges_awarded":[]}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithRetry(3, time.Millisecond))
	require.NoError(t, err)
	res, err := client.RecordAction(context.Background(), "bob", ActionRequest{Action: "rate-official"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Total)
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(0)
	client, err = NewClient(srv.URL, WithRetry(0, 0))
	require.NoError(t, err)
	_, err = client.RecordAction(context.Background(), "bob", ActionRequest{Action: "rate-official"})
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "storage_unavailable", ae.Code)
	assert.True(t, ae.Temporary())
}

func TestClient_SubscribeEvents(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{})
	client, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	events, err := client.SubscribeEvents(ctx, "alice")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	_, err = client.RegisterUser(ctx, "bob")
	require.NoError(t, err)
	_, err = client.RecordAction(ctx, "bob", ActionRequest{Action: "post-comment"})
	require.NoError(t, err)
	_, err = client.RegisterUser(ctx, "alice")
	require.NoError(t, err)
	_, err = client.RecordAction(ctx, "alice", ActionRequest{Action: "post-comment"})
	require.NoError(t, err)

	select {
	case evt := <-events:
		assert.Equal(t, core.EventActionRecorded, evt.Type)
		assert.Equal(t, core.UserID("alice"), evt.UserID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestDeriveWSURL(t *testing.T) {
	assert.Equal(t, "wss://impact.example/api/ws", deriveWSURL("https://impact.example/api"))
	assert.Equal(t, "ws://localhost:8080/ws", deriveWSURL("http://localhost:8080/"))
}
