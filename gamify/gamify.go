// Package gamify assembles an engine.Service with sensible defaults.
package gamify

import (
	"log/slog"
	"time"

	mem "impactkit/adapters/memory"
	"impactkit/catalog"
	"impactkit/engine"
	"impactkit/realtime"
)

// Storage is a backend that holds both user aggregates and the activity log,
// as every bundled adapter does.
type Storage interface {
	engine.UserStore
	engine.ActivityLog
}

// Option configures the service builder.
type Option func(*config)

type config struct {
	storage       Storage
	catalog       engine.BadgeCatalog
	contributions engine.Contributions
	notifier      engine.Notifier
	mode          engine.DispatchMode
	hub           *realtime.Hub
	logger        *slog.Logger
	clock         func() time.Time
}

// WithStorage sets the persistence adapter.
func WithStorage(s Storage) Option { return func(c *config) { c.storage = s } }

// WithCatalog sets the badge catalog.
func WithCatalog(cat engine.BadgeCatalog) Option { return func(c *config) { c.catalog = cat } }

// WithContributions sets the collaborator counts badge criteria read from.
func WithContributions(src engine.Contributions) Option {
	return func(c *config) { c.contributions = src }
}

// WithNotifier delivers level-up and badge-earned events.
func WithNotifier(n engine.Notifier) Option { return func(c *config) { c.notifier = n } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

func WithClock(now func() time.Time) Option { return func(c *config) { c.clock = now } }

// New builds a configured Service. If not provided, defaults are used:
//   - storage: in-memory
//   - catalog: catalog.Default()
//   - contributions: counted from the storage's activity log
//   - dispatch: async
func New(opts ...Option) *engine.Service {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}
	if cfg.catalog == nil {
		cfg.catalog = catalog.Default()
	}
	if cfg.contributions == nil {
		cfg.contributions = engine.NewActivityContributions(cfg.storage, nil)
	}
	bus := engine.NewEventBus(cfg.mode)
	if cfg.hub != nil {
		cfg.hub.Attach(bus)
	}
	return engine.NewService(engine.Deps{
		Users:         cfg.storage,
		Activity:      cfg.storage,
		Catalog:       cfg.catalog,
		Contributions: cfg.contributions,
		Notifier:      cfg.notifier,
		Bus:           bus,
		Logger:        cfg.logger,
		Clock:         cfg.clock,
	})
}
