package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"impactkit/core"
)

// Deps are the collaborators a Service is built from.
type Deps struct {
	Users         UserStore
	Activity      ActivityLog
	Catalog       BadgeCatalog
	Contributions Contributions
	// Notifier receives level-up and badge-earned events; optional.
	Notifier Notifier
	Bus      *EventBus
	Logger   *slog.Logger
	// Clock defaults to time.Now in UTC.
	Clock func() time.Time
}

// Service runs the action pipeline: log, award, evaluate badges, publish.
type Service struct {
	users   UserStore
	log     ActivityLog
	catalog BadgeCatalog
	bus     *EventBus
	streaks *StreakCalculator
	ledger  *PointsLedger
	badges  *BadgeEvaluator
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

func NewService(d Deps) *Service {
	if d.Users == nil || d.Activity == nil || d.Catalog == nil || d.Bus == nil {
		panic("NewService requires non-nil users, activity, catalog, and bus")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := d.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	streaks := NewStreakCalculator(d.Activity, d.Users)
	s := &Service{
		users:   d.Users,
		log:     d.Activity,
		catalog: d.Catalog,
		bus:     d.Bus,
		streaks: streaks,
		ledger:  NewPointsLedger(d.Users, streaks, logger),
		badges:  NewBadgeEvaluator(d.Catalog, d.Contributions, d.Users, logger),
		logger:  logger,
		tracer:  otel.Tracer("impactkit/engine"),
		now:     clock,
		newID:   func() string { return uuid.NewString() },
	}
	if d.Notifier != nil {
		s.attachNotifier(d.Notifier)
	}
	return s
}

func (s *Service) attachNotifier(n Notifier) {
	deliver := func(ctx context.Context, ev core.Event) {
		if err := n.Notify(ctx, ev); err != nil {
			s.logger.WarnContext(ctx, "notification dispatch failed",
				"user_id", ev.UserID, "event", ev.Type, "error", err)
		}
	}
	s.bus.Subscribe(core.EventLevelUp, deliver)
	s.bus.Subscribe(core.EventBadgeEarned, deliver)
}

// RegisterUser creates an empty aggregate for user.
func (s *Service) RegisterUser(ctx context.Context, user core.UserID) (core.User, error) {
	id, err := core.NormalizeUserID(user)
	if err != nil {
		return core.User{}, err
	}
	u, err := s.users.CreateUser(ctx, id)
	if err != nil {
		return core.User{}, storageErr("create user", err)
	}
	return u, nil
}

// RecordAction is the engine's inbound call. The event is appended before
// any points move; a failed append or increment aborts with a retryable
// error. Badge evaluation and notifications never undo the primary award.
func (s *Service) RecordAction(ctx context.Context, user core.UserID, kind core.ActionKind, actx core.ActionContext) (core.ActionResult, error) {
	ctx, span := s.tracer.Start(ctx, "engine.RecordAction",
		trace.WithAttributes(attribute.String("action", kind.String())))
	defer span.End()

	result, err := s.recordAction(ctx, user, kind, actx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return core.ActionResult{}, err
	}
	span.SetAttributes(
		attribute.Int64("points_awarded", result.PointsAwarded),
		attribute.Int("badges_awarded", len(result.BadgesAwarded)),
	)
	return result, nil
}

func (s *Service) recordAction(ctx context.Context, user core.UserID, kind core.ActionKind, actx core.ActionContext) (core.ActionResult, error) {
	id, err := core.NormalizeUserID(user)
	if err != nil {
		return core.ActionResult{}, err
	}
	if err := actx.Validate(); err != nil {
		return core.ActionResult{}, err
	}
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return core.ActionResult{}, storageErr("get user", err)
	}

	ts := actx.Time
	if ts.IsZero() {
		ts = s.now()
	}
	ev := core.ActivityEvent{
		ID:         s.newID(),
		UserID:     id,
		Kind:       kind,
		RawKind:    actx.RawKind,
		Time:       ts.UTC(),
		EntityID:   actx.EntityID,
		EntityKind: actx.EntityKind,
	}
	if err := s.log.Append(ctx, ev); err != nil {
		return core.ActionResult{}, storageErr("append activity", err)
	}

	award, err := s.ledger.Award(ctx, u, kind, actx, ts)
	if err != nil {
		return core.ActionResult{}, err
	}

	result := core.ActionResult{
		Event:         ev,
		PointsAwarded: award.Points,
		Total:         award.Change.Total,
		Level:         award.Change.Level,
		BadgesAwarded: []core.BadgeCode{},
	}
	events := []core.Event{
		core.NewActionRecorded(ev),
		core.NewPointsAwarded(id, kind, award.Points, award.Change.Total),
	}
	if award.Change.LevelChanged() {
		events = append(events, core.NewLevelUp(id, award.Change.Level, award.Change.Total))
	}

	for _, ba := range s.evaluateBadges(ctx, id, kind) {
		result.BadgesAwarded = append(result.BadgesAwarded, ba.Badge.Code)
		events = append(events, core.NewBadgeEarned(id, ba.Badge, ba.Change.Total))
		if ba.Change.Total > result.Total {
			result.Total = ba.Change.Total
			result.Level = ba.Change.Level
		}
		if ba.Change.LevelChanged() {
			events = append(events, core.NewLevelUp(id, ba.Change.Level, ba.Change.Total))
		}
	}

	if result.Level != u.Level {
		lvl := result.Level
		result.LevelChangedTo = &lvl
	}

	// Secondary effects run after commit and must outlive a cancelled request.
	pubCtx := context.WithoutCancel(ctx)
	for _, e := range events {
		s.bus.Publish(pubCtx, e)
	}
	return result, nil
}

func (s *Service) evaluateBadges(ctx context.Context, id core.UserID, kind core.ActionKind) []BadgeAward {
	ctx, span := s.tracer.Start(ctx, "engine.EvaluateBadges")
	defer span.End()

	fresh, err := s.users.GetUser(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "reload user for badge evaluation failed", "user_id", id, "error", err)
		return nil
	}
	awards, err := s.badges.Evaluate(ctx, fresh, kind)
	if err != nil {
		s.logger.WarnContext(ctx, "badge evaluation skipped", "user_id", id, "error", err)
		return nil
	}
	return awards
}

// GetUser returns the stored aggregate.
func (s *Service) GetUser(ctx context.Context, user core.UserID) (core.User, error) {
	id, err := core.NormalizeUserID(user)
	if err != nil {
		return core.User{}, err
	}
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return core.User{}, storageErr("get user", err)
	}
	return u, nil
}

// Profile is the read model served to clients.
type Profile struct {
	User     core.User           `json:"user"`
	Progress core.LevelProgress  `json:"progress"`
	Streaks  []core.StreakStatus `json:"streaks"`
}

// Profile assembles the user, level progress and streaks.
func (s *Service) Profile(ctx context.Context, user core.UserID) (Profile, error) {
	u, err := s.GetUser(ctx, user)
	if err != nil {
		return Profile{}, err
	}
	streaks, err := s.streaksFor(ctx, u)
	if err != nil {
		return Profile{}, err
	}
	return Profile{User: u, Progress: core.NextLevelProgress(u.Points), Streaks: streaks}, nil
}

// Streaks computes every streak category for user.
func (s *Service) Streaks(ctx context.Context, user core.UserID) ([]core.StreakStatus, error) {
	u, err := s.GetUser(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.streaksFor(ctx, u)
}

func (s *Service) streaksFor(ctx context.Context, u core.User) ([]core.StreakStatus, error) {
	categories := core.StreakCategories()
	out := make([]core.StreakStatus, len(categories))
	now := s.now()
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range categories {
		g.Go(func() error {
			st, err := s.streaks.Current(gctx, u, c, now)
			if err != nil {
				return storageErr(fmt.Sprintf("%s streak", c), err)
			}
			out[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Progress reports the user's position between levels.
func (s *Service) Progress(ctx context.Context, user core.UserID) (core.LevelProgress, error) {
	u, err := s.GetUser(ctx, user)
	if err != nil {
		return core.LevelProgress{}, err
	}
	return core.NextLevelProgress(u.Points), nil
}

// Quote previews the award an action would earn now, without side effects.
func (s *Service) Quote(ctx context.Context, user core.UserID, kind core.ActionKind, actx core.ActionContext) (Award, error) {
	u, err := s.GetUser(ctx, user)
	if err != nil {
		return Award{}, err
	}
	return s.ledger.Quote(ctx, u, kind, actx, s.now(), false)
}

// Badges lists the catalog.
func (s *Service) Badges(ctx context.Context) ([]core.BadgeDefinition, error) {
	return s.catalog.Badges(ctx)
}

// Activity returns the user's logged actions matching q.
func (s *Service) Activity(ctx context.Context, q core.ActivityQuery) ([]core.ActivityEvent, error) {
	id, err := core.NormalizeUserID(q.UserID)
	if err != nil {
		return nil, err
	}
	q.UserID = id
	events, err := s.log.Query(ctx, q)
	if err != nil {
		return nil, storageErr("query activity", err)
	}
	return events, nil
}

// Subscribe convenience method.
func (s *Service) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *Service) Close() { s.bus.Close() }
