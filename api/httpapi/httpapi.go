package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	wsadapter "impactkit/adapters/websocket"
	"impactkit/core"
	"impactkit/engine"
	"impactkit/leaderboard"
	"impactkit/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// RateLimitCleanup is how often idle client buckets are evicted; zero uses five minutes.
	RateLimitCleanup time.Duration
	// LeaderboardSize caps ?limit= on the leaderboard; zero uses 100.
	LeaderboardSize int
	// MaxEventSkew bounds how far a client-supplied action time may sit from
	// the server clock in either direction; zero uses five minutes.
	MaxEventSkew time.Duration
	// RequestTimeout bounds each request; zero disables it.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Deps are the read and write surfaces the API serves.
type Deps struct {
	Service *engine.Service
	Hub     *realtime.Hub
	Board   leaderboard.Board
}

type api struct {
	svc      *engine.Service
	board    leaderboard.Board
	logger   *slog.Logger
	validate *validator.Validate
	prefix   string
	maxBoard int
	maxSkew  time.Duration
	now      func() time.Time
}

const (
	defaultLeaderboardSize  = 100
	defaultMaxEventSkew     = 5 * time.Minute
	defaultRateLimitCleanup = 5 * time.Minute
)

// NewRouter builds the REST API and WebSocket stream.
// Routes:
//   - POST {prefix}/users                  register a user
//   - GET  {prefix}/users/{id}             profile with level progress and streaks
//   - POST {prefix}/users/{id}/actions     record an action
//   - GET  {prefix}/users/{id}/quote       preview the award for ?action=
//   - GET  {prefix}/users/{id}/streaks
//   - GET  {prefix}/users/{id}/progress
//   - GET  {prefix}/users/{id}/activity    ?kind=&from=&to=
//   - GET  {prefix}/badges
//   - GET  {prefix}/leaderboard            ?limit=
//   - GET  {prefix}/healthz
//   - WS   {prefix}/ws                     ?user=
func NewRouter(d Deps, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{
		svc:      d.Service,
		board:    d.Board,
		logger:   logger,
		validate: validator.New(),
		prefix:   strings.TrimSuffix(opts.PathPrefix, "/"),
		maxBoard: opts.LeaderboardSize,
		maxSkew:  opts.MaxEventSkew,
		now:      time.Now,
	}
	if a.maxBoard <= 0 {
		a.maxBoard = defaultLeaderboardSize
	}
	if a.maxSkew <= 0 {
		a.maxSkew = defaultMaxEventSkew
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	if opts.AllowCORSOrigin != "" {
		r.Use(func(next http.Handler) http.Handler { return withCORS(next, opts.AllowCORSOrigin) })
	}
	if len(opts.APIKeys) > 0 {
		r.Use(func(next http.Handler) http.Handler { return withAPIKeyAuth(next, opts.APIKeys) })
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		r.Use(func(next http.Handler) http.Handler {
			return withRateLimit(next, newRateLimiter(opts.RateLimitRPM, opts.RateLimitBurst, opts.RateLimitCleanup))
		})
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	routes := func(r chi.Router) {
		r.Get("/healthz", a.healthCheck)
		if d.Hub != nil {
			r.Handle("/ws", wsadapter.Handler(d.Hub))
		}
		r.Group(func(r chi.Router) {
			if opts.RequestTimeout > 0 {
				r.Use(middleware.Timeout(opts.RequestTimeout))
			}
			r.Post("/users", a.handleRegister)
			r.Route("/users/{id}", func(r chi.Router) {
				r.Get("/", a.handleProfile)
				r.Post("/actions", a.handleRecordAction)
				r.Get("/quote", a.handleQuote)
				r.Get("/streaks", a.handleStreaks)
				r.Get("/progress", a.handleProgress)
				r.Get("/activity", a.handleActivity)
			})
			r.Get("/badges", a.handleBadges)
			if d.Board != nil {
				r.Get("/leaderboard", a.handleLeaderboard)
			}
		})
	}
	if a.prefix == "" {
		routes(r)
	} else {
		r.Route(a.prefix, routes)
	}
	return r
}

type registerRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
}

type actionRequest struct {
	Action     string     `json:"action" validate:"required,max=64"`
	Reward     int64      `json:"reward" validate:"gte=0,lte=10000"`
	EntityID   string     `json:"entity_id" validate:"max=128"`
	EntityKind string     `json:"entity_kind" validate:"max=64"`
	Time       *time.Time `json:"time,omitempty"`
}

func (req actionRequest) parse() (core.ActionKind, core.ActionContext) {
	actx := core.ActionContext{Reward: req.Reward, EntityID: req.EntityID, EntityKind: req.EntityKind}
	if req.Time != nil {
		actx.Time = req.Time.UTC()
	}
	kind, ok := core.ParseActionKind(req.Action)
	if !ok {
		actx.RawKind = req.Action
	}
	return kind, actx
}

func (a *api) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.decode(w, r, &req) {
		return
	}
	u, err := a.svc.RegisterUser(r.Context(), core.UserID(req.UserID))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", a.prefix+"/users/"+string(u.ID))
	writeJSONStatus(w, http.StatusCreated, u)
}

func (a *api) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.Profile(r.Context(), userParam(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, p)
}

func (a *api) handleRecordAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Time != nil {
		if now := a.now(); req.Time.Before(now.Add(-a.maxSkew)) || req.Time.After(now.Add(a.maxSkew)) {
			writeError(w, http.StatusBadRequest, "invalid_time",
				fmt.Sprintf("time must be within %s of the server clock", a.maxSkew), nil)
			return
		}
	}
	kind, actx := req.parse()
	res, err := a.svc.RecordAction(r.Context(), userParam(r), kind, actx)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (a *api) handleQuote(w http.ResponseWriter, r *http.Request) {
	req := actionRequest{Action: r.URL.Query().Get("action")}
	if v := r.URL.Query().Get("reward"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_reward", "reward must be an integer", nil)
			return
		}
		req.Reward = n
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid query", validationDetails(err))
		return
	}
	kind, actx := req.parse()
	award, err := a.svc.Quote(r.Context(), userParam(r), kind, actx)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, award)
}

func (a *api) handleStreaks(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.Streaks(r.Context(), userParam(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"streaks": st})
}

func (a *api) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.Progress(r.Context(), userParam(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, p)
}

func (a *api) handleActivity(w http.ResponseWriter, r *http.Request) {
	q := core.ActivityQuery{UserID: userParam(r)}
	values := r.URL.Query()
	for _, name := range values["kind"] {
		kind, ok := core.ParseActionKind(name)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_kind", fmt.Sprintf("unknown action %q", name), nil)
			return
		}
		q.Kinds = append(q.Kinds, kind)
	}
	for key, dst := range map[string]*time.Time{"from": &q.From, "to": &q.To} {
		v := values.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_"+key, key+" must be RFC3339", nil)
			return
		}
		*dst = t.UTC()
	}
	events, err := a.svc.Activity(r.Context(), q)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if events == nil {
		events = []core.ActivityEvent{}
	}
	writeJSON(w, map[string]any{"events": events})
}

func (a *api) handleBadges(w http.ResponseWriter, r *http.Request) {
	defs, err := a.svc.Badges(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"badges": defs})
}

func (a *api) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := min(10, a.maxBoard)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > a.maxBoard {
			writeError(w, http.StatusBadRequest, "invalid_limit",
				fmt.Sprintf("limit must be between 1 and %d", a.maxBoard), nil)
			return
		}
		limit = n
	}
	writeJSON(w, map[string]any{"entries": a.board.TopN(limit)})
}

// healthCheck checks storage with a lookup that is expected to miss.
func (a *api) healthCheck(w http.ResponseWriter, r *http.Request) {
	_, err := a.svc.GetUser(r.Context(), core.UserID("healthcheck_lookup"))
	storage := "ok"
	status := http.StatusOK
	if err != nil && !errors.Is(err, core.ErrUserNotFound) {
		storage = "failed"
		status = http.StatusServiceUnavailable
		a.logger.WarnContext(r.Context(), "health check failed", "error", err)
	}
	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	writeJSONStatus(w, status, map[string]any{
		"status": state,
		"checks": map[string]any{"storage": storage},
	})
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "request validation failed", validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) map[string]string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		out[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return out
}

func (a *api) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", "user not found", nil)
	case errors.Is(err, core.ErrUserExists):
		writeError(w, http.StatusConflict, "user_exists", "user already exists", nil)
	case core.IsRetryable(err):
		a.logger.ErrorContext(r.Context(), "storage failure",
			"request_id", middleware.GetReqID(r.Context()), "path", r.URL.Path, "error", err)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "temporary storage failure, retry", nil)
	default:
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	}
}

func userParam(r *http.Request) core.UserID {
	return core.UserID(chi.URLParam(r, "id"))
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.DebugContext(r.Context(), "http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Code: code, Message: msg, Details: details})
}

// withCORS wraps a handler with a minimal CORS policy.
func withCORS(next http.Handler, origin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-API-Key")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAPIKeyAuth enforces a shared API key list.
func withAPIKeyAuth(next http.Handler, apiKeys []string) http.Handler {
	allowed := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		k = strings.TrimSpace(k)
		if k != "" {
			allowed[k] = struct{}{}
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractAPIKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key", nil)
			return
		}
		if _, ok := allowed[key]; !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit applies a token-bucket limiter per client key.
func withRateLimit(next http.Handler, limiter *rateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !limiter.allow(key) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return ""
}

// clientKey uses API key if present, otherwise remote IP.
func clientKey(r *http.Request) string {
	if key := extractAPIKey(r); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type rateLimiter struct {
	rpm       float64
	burst     float64
	cleanup   time.Duration
	lastSweep time.Time
	now       func() time.Time
	mu        sync.Mutex
	b         map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(rpm, burst int, cleanup time.Duration) *rateLimiter {
	if cleanup <= 0 {
		cleanup = defaultRateLimitCleanup
	}
	return &rateLimiter{
		rpm:     float64(rpm),
		burst:   float64(burst),
		cleanup: cleanup,
		now:     time.Now,
		b:       make(map[string]*bucket),
	}
}

func (l *rateLimiter) allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lastSweep.IsZero() {
		l.lastSweep = now
	} else if now.Sub(l.lastSweep) >= l.cleanup {
		l.sweep(now)
	}

	b, ok := l.b[key]
	if !ok {
		l.b[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}

	b.tokens += now.Sub(b.last).Minutes() * l.rpm
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops buckets that have refilled to burst; a fresh bucket for the
// same key behaves identically. Called with mu held.
func (l *rateLimiter) sweep(now time.Time) {
	full := time.Duration(l.burst / l.rpm * float64(time.Minute))
	for key, b := range l.b {
		if now.Sub(b.last) >= full {
			delete(l.b, key)
		}
	}
	l.lastSweep = now
}
