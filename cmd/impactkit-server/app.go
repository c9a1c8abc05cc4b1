package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"impactkit/adapters/jsonfile"
	mem "impactkit/adapters/memory"
	redisAdapter "impactkit/adapters/redis"
	sqlxAdapter "impactkit/adapters/sqlx"
	"impactkit/analytics"
	"impactkit/api/httpapi"
	"impactkit/catalog"
	"impactkit/config"
	"impactkit/core"
	"impactkit/engine"
	"impactkit/gamify"
	"impactkit/integrations/webhook"
	"impactkit/leaderboard"
	"impactkit/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Bus           *engine.EventBus
	Hub           *realtime.Hub
	Service       *engine.Service
	Board         *leaderboard.SkipList
	Metrics       *analytics.Metrics
	Handler       http.Handler
	Server        *http.Server
	MetricsServer *metricsServer
}

// metricsServer gives the metrics listener its own type in the wire graph.
// It is nil when metrics are disabled.
type metricsServer struct{ *http.Server }

func provideConfig(ctx context.Context) (*config.Config, error) {
	return config.Load()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideBus(cfg *config.Config) (*engine.EventBus, func()) {
	bus := engine.NewEventBus(cfg.Engine.DispatchMode)
	return bus, bus.Close
}

func provideHub(bus *engine.EventBus) *realtime.Hub {
	hub := realtime.NewHub()
	hub.Attach(bus)
	return hub
}

func provideBoard(bus *engine.EventBus) *leaderboard.SkipList {
	board := leaderboard.NewSkipList()
	leaderboard.NewTracker(board).Attach(bus)
	return board
}

func provideRegistry(cfg *config.Config) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	if cfg.Metrics.CollectSystem {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return reg
}

// provideMetrics feeds engine events to the Prometheus collectors and,
// at debug level, to the log.
func provideMetrics(reg *prometheus.Registry, bus *engine.EventBus, logger *slog.Logger) *analytics.Metrics {
	m := analytics.NewMetrics(reg)
	bus.SubscribeAll(analytics.NewBridge(m, eventLogger{logger}).OnEvent)
	return m
}

type eventLogger struct{ logger *slog.Logger }

func (l eventLogger) OnEvent(ctx context.Context, e core.Event) {
	l.logger.DebugContext(ctx, "engine event",
		"type", e.Type, "user_id", e.UserID, "delta", e.Delta, "total", e.Total,
		"level", e.Level, "badge", e.Badge)
}

func provideStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (gamify.Storage, func(), error) {
	return setupStorage(ctx, cfg, logger)
}

// provideContributions uses the SQL store's collaborator tables when
// available; other adapters count from their activity log.
func provideContributions(storage gamify.Storage) engine.Contributions {
	if c, ok := storage.(engine.Contributions); ok {
		return c
	}
	return engine.NewActivityContributions(storage, nil)
}

func provideCatalog(cfg *config.Config, logger *slog.Logger) (engine.BadgeCatalog, error) {
	if cfg.Engine.CatalogPath == "" {
		return catalog.Default(), nil
	}
	cat, err := catalog.LoadFile(cfg.Engine.CatalogPath)
	if err != nil {
		return nil, err
	}
	logger.Info("badge catalog loaded", "path", cfg.Engine.CatalogPath)
	return cat, nil
}

// provideNotifier always records notifications in the log and, when
// endpoints are configured, posts them to webhooks.
func provideNotifier(cfg *config.Config, logger *slog.Logger) engine.Notifier {
	notifiers := engine.MultiNotifier{auditNotifier{logger}}
	n := cfg.Notifications
	if len(n.WebhookURLs) > 0 {
		notifiers = append(notifiers, webhook.New(n.WebhookURLs,
			webhook.WithClient(&http.Client{Timeout: n.Timeout}),
			webhook.WithMaxRetries(n.MaxRetries),
			webhook.WithInitialInterval(n.InitialInterval),
			webhook.WithLogger(logger),
		))
	}
	return notifiers
}

type auditNotifier struct{ logger *slog.Logger }

func (a auditNotifier) Notify(ctx context.Context, e core.Event) error {
	a.logger.InfoContext(ctx, "user notification",
		"type", e.Type, "user_id", e.UserID, "level", e.Level, "badge", e.Badge, "message", e.Message)
	return nil
}

func provideService(
	storage gamify.Storage,
	contributions engine.Contributions,
	cat engine.BadgeCatalog,
	notifier engine.Notifier,
	bus *engine.EventBus,
	logger *slog.Logger,
) *engine.Service {
	return engine.NewService(engine.Deps{
		Users:         storage,
		Activity:      storage,
		Catalog:       cat,
		Contributions: contributions,
		Notifier:      notifier,
		Bus:           bus,
		Logger:        logger,
	})
}

func provideHandler(svc *engine.Service, hub *realtime.Hub, board *leaderboard.SkipList, cfg *config.Config, logger *slog.Logger) http.Handler {
	deps := httpapi.Deps{Service: svc, Hub: hub}
	// A zero leaderboard size turns the endpoint off.
	if cfg.Engine.LeaderboardSize > 0 {
		deps.Board = board
	}
	return httpapi.NewRouter(deps, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		RateLimitCleanup: cfg.Security.RateLimit.CleanupInterval,
		LeaderboardSize:  cfg.Engine.LeaderboardSize,
		MaxEventSkew:     cfg.Server.MaxEventSkew,
		RequestTimeout:   cfg.Server.WriteTimeout,
		Logger:           logger,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

func provideMetricsServer(cfg *config.Config, reg *prometheus.Registry) *metricsServer {
	if !cfg.Metrics.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &metricsServer{&http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	out := os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler).With("service", "impactkit", "environment", string(cfg.Environment))
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	result := make([]slog.Attr, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the storage adapter named by configuration. The
// returned cleanup closes connections.
func setupStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (gamify.Storage, func(), error) {
	noop := func() {}
	switch cfg.Storage.Adapter {
	case "memory":
		logger.Warn("using in-memory storage; state is lost on restart")
		return mem.New(), noop, nil
	case "redis":
		store, err := redisAdapter.New(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("redis storage: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case "sql":
		store, err := sqlxAdapter.New(cfg.Storage.SQL)
		if err != nil {
			return nil, nil, fmt.Errorf("sql storage: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "file":
		store, err := jsonfile.New(cfg.Storage.File.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("file storage: %w", err)
		}
		return store, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}
