package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "impactkit/adapters/memory"
	"impactkit/catalog"
	"impactkit/core"
	"impactkit/engine"
	"impactkit/leaderboard"
)

type fixture struct {
	store   *mem.Store
	svc     *engine.Service
	board   *leaderboard.SkipList
	handler http.Handler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	return newFixtureWithLog(t, opts, nil)
}

func newFixtureWithLog(t *testing.T, opts Options, log engine.ActivityLog) *fixture {
	t.Helper()
	store := mem.New()
	if log == nil {
		log = store
	}
	bus := engine.NewEventBus(engine.DispatchSync)
	t.Cleanup(bus.Close)
	svc := engine.NewService(engine.Deps{
		Users:         store,
		Activity:      log,
		Catalog:       catalog.Default(),
		Contributions: mem.NewContributions(),
		Bus:           bus,
	})
	board := leaderboard.NewSkipList()
	leaderboard.NewTracker(board).Attach(bus)
	return &fixture{
		store:   store,
		svc:     svc,
		board:   board,
		handler: NewRouter(Deps{Service: svc, Board: board}, opts),
	}
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRegisterAndRecordAction(t *testing.T) {
	f := newFixture(t, Options{PathPrefix: "/api"})

	rec := f.do(t, http.MethodPost, "/api/users", `{"user_id":"alice"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/users/alice", rec.Header().Get("Location"))

	rec = f.do(t, http.MethodPost, "/api/users/alice/actions", `{"action":"rate-official","entity_id":"official-7"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decodeBody[core.ActionResult](t, rec)
	assert.Equal(t, core.ActionRateOfficial, res.Event.Kind)
	assert.Equal(t, int64(10), res.PointsAwarded)
	assert.Equal(t, int64(20), res.Total, "first-rating badge adds its reward")
	assert.Equal(t, []core.BadgeCode{"first-rating"}, res.BadgesAwarded)

	entry, ok := f.board.Get("alice")
	require.True(t, ok)
	assert.Equal(t, int64(20), entry.Score)
}

func TestRecordUnknownActionKeepsName(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.RegisterUser(context.Background(), "bob")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/users/bob/actions", `{"action":"attend-town-hall"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decodeBody[core.ActionResult](t, rec)
	assert.Equal(t, core.ActionUnspecified, res.Event.Kind)
	assert.Equal(t, "attend-town-hall", res.Event.RawKind)
	assert.Equal(t, core.DefaultPoints, res.PointsAwarded)
}

func TestRecordActionValidation(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.RegisterUser(context.Background(), "carol")
	require.NoError(t, err)

	cases := map[string]string{
		"missing action":  `{}`,
		"negative reward": `{"action":"complete-module","reward":-5}`,
		"reward too large": `{"action":"complete-module","reward":20000000000000}`,
		"unknown field":   `{"action":"rate-official","points":100}`,
		"malformed":       `{"action":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/users/carol/actions", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestRecordActionTimeWindow(t *testing.T) {
	f := newFixture(t, Options{MaxEventSkew: 10 * time.Minute})
	_, err := f.svc.RegisterUser(context.Background(), "kai")
	require.NoError(t, err)

	body := func(at time.Time) string {
		return fmt.Sprintf(`{"action":"rate-official","time":%q}`, at.Format(time.RFC3339Nano))
	}
	for name, at := range map[string]time.Time{
		"last week": time.Now().Add(-7 * 24 * time.Hour),
		"tomorrow":  time.Now().Add(24 * time.Hour),
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/users/kai/actions", body(at))
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "invalid_time", decodeBody[apiError](t, rec).Code)
		})
	}

	at := time.Now().Add(-time.Minute).UTC()
	rec := f.do(t, http.MethodPost, "/users/kai/actions", body(at))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[core.ActionResult](t, rec)
	assert.WithinDuration(t, at, res.Event.Time, time.Millisecond)

	events, err := f.svc.Activity(context.Background(), core.ActivityQuery{UserID: "kai"})
	require.NoError(t, err)
	assert.Len(t, events, 1, "rejected requests log nothing")
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodGet, "/users/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "user_not_found", decodeBody[apiError](t, rec).Code)

	rec = f.do(t, http.MethodPost, "/users/ghost/actions", `{"action":"rate-official"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/users", `{"user_id":"dana"}`).Code)
	rec = f.do(t, http.MethodPost, "/users", `{"user_id":"dana"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type failingLog struct{}

func (failingLog) Append(context.Context, core.ActivityEvent) error {
	return errors.New("disk full")
}

func (failingLog) Query(context.Context, core.ActivityQuery) ([]core.ActivityEvent, error) {
	return nil, nil
}

func TestStorageFailureIsRetryable(t *testing.T) {
	f := newFixtureWithLog(t, Options{}, failingLog{})
	_, err := f.svc.RegisterUser(context.Background(), "erin")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/users/erin/actions", `{"action":"rate-official"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	u, err := f.svc.GetUser(context.Background(), "erin")
	require.NoError(t, err)
	assert.Zero(t, u.Points)
}

func TestProfileStreaksAndProgress(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.svc.RegisterUser(ctx, "frank")
	require.NoError(t, err)
	_, err = f.svc.RecordAction(ctx, "frank", core.ActionSubmitEvidence, core.ActionContext{})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/users/frank", "")
	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeBody[engine.Profile](t, rec)
	assert.Equal(t, core.UserID("frank"), p.User.ID)
	assert.Len(t, p.Streaks, 2)

	rec = f.do(t, http.MethodGet, "/users/frank/streaks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	streaks := decodeBody[map[string][]core.StreakStatus](t, rec)["streaks"]
	require.Len(t, streaks, 2)
	assert.Equal(t, 1, streaks[0].Current)

	rec = f.do(t, http.MethodGet, "/users/frank/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	prog := decodeBody[core.LevelProgress](t, rec)
	assert.Equal(t, core.LevelCitizen, prog.CurrentLevel)
}

func TestQuoteAndActivity(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.svc.RegisterUser(ctx, "gina")
	require.NoError(t, err)
	_, err = f.svc.RecordAction(ctx, "gina", core.ActionPostComment, core.ActionContext{})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/users/gina/quote?action=complete-module&reward=30", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	award := decodeBody[engine.Award](t, rec)
	assert.Equal(t, int64(30), award.Base)

	rec = f.do(t, http.MethodGet, "/users/gina/quote", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/users/gina/activity?kind=post-comment", "")
	require.Equal(t, http.StatusOK, rec.Code)
	events := decodeBody[map[string][]core.ActivityEvent](t, rec)["events"]
	require.Len(t, events, 1)
	assert.Equal(t, core.ActionPostComment, events[0].Kind)

	rec = f.do(t, http.MethodGet, "/users/gina/activity?kind=rate-official", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[map[string][]core.ActivityEvent](t, rec)["events"])

	rec = f.do(t, http.MethodGet, "/users/gina/activity?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBadgesAndLeaderboard(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	for _, id := range []core.UserID{"hal", "ivy"} {
		_, err := f.svc.RegisterUser(ctx, id)
		require.NoError(t, err)
	}
	_, err := f.svc.RecordAction(ctx, "ivy", core.ActionCreateCampaign, core.ActionContext{})
	require.NoError(t, err)
	_, err = f.svc.RecordAction(ctx, "hal", core.ActionPostComment, core.ActionContext{})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/badges", "")
	require.Equal(t, http.StatusOK, rec.Code)
	badges := decodeBody[map[string][]core.BadgeDefinition](t, rec)["badges"]
	assert.Len(t, badges, len(catalog.Defaults()))

	rec = f.do(t, http.MethodGet, "/leaderboard?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[map[string][]leaderboard.Entry](t, rec)["entries"]
	require.Len(t, entries, 2)
	assert.Equal(t, core.UserID("ivy"), entries[0].User)
	assert.Equal(t, 1, entries[0].Rank)

	rec = f.do(t, http.MethodGet, "/leaderboard?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/leaderboard?limit=101", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaderboardSizeCapsLimit(t *testing.T) {
	f := newFixture(t, Options{LeaderboardSize: 5})
	rec := f.do(t, http.MethodGet, "/leaderboard?limit=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/leaderboard?limit=6", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[apiError](t, rec).Message, "between 1 and 5")
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, Options{PathPrefix: "/api/"})
	rec := f.do(t, http.MethodGet, "/api/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody[map[string]any](t, rec)["status"])
}

func TestAPIKeyAuth(t *testing.T) {
	f := newFixture(t, Options{
		PathPrefix:      "/api",
		APIKeys:         []string{"secret"},
		AllowCORSOrigin: "*",
	})

	rec := f.do(t, http.MethodGet, "/api/badges", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/badges", "", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(t, http.MethodGet, "/api/badges", "", "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Options{AllowCORSOrigin: "https://civic.example"})
	rec := f.do(t, http.MethodOptions, "/badges", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://civic.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Options{
		APIKeys:          []string{"k"},
		RateLimitEnabled: true,
		RateLimitRPM:     1,
		RateLimitBurst:   1,
	})

	rec := f.do(t, http.MethodGet, "/badges", "", "X-API-Key", "k")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/badges", "", "X-API-Key", "k")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimiterEvictsIdleBuckets(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	l := newRateLimiter(60, 2, time.Minute)
	l.now = func() time.Time { return now }

	require.True(t, l.allow("10.0.0.1"))
	require.True(t, l.allow("10.0.0.2"))
	require.Len(t, l.b, 2)

	// both buckets refill to burst within two seconds at 60 rpm
	now = now.Add(30 * time.Second)
	require.True(t, l.allow("10.0.0.2"))
	assert.Len(t, l.b, 2, "no sweep before the cleanup interval")

	now = now.Add(time.Minute)
	require.True(t, l.allow("10.0.0.3"))
	assert.Len(t, l.b, 1)
	assert.Contains(t, l.b, "10.0.0.3")
}

func TestRateLimiterKeepsDrainedBuckets(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	l := newRateLimiter(1, 3, time.Second)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.True(t, l.allow("busy"))
	}
	require.False(t, l.allow("busy"))

	// one minute refills one token of three; the bucket must survive the sweep
	now = now.Add(time.Minute)
	require.True(t, l.allow("other"))
	assert.Contains(t, l.b, "busy")
	require.True(t, l.allow("busy"))
	assert.False(t, l.allow("busy"))
}
