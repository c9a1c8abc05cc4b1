package engine

import (
	"context"
	"errors"

	"impactkit/core"
)

// UserStore persists user aggregates. Every mutating call is a single atomic
// step at the storage layer; the engine never loads, modifies and stores.
type UserStore interface {
	CreateUser(ctx context.Context, user core.UserID) (core.User, error)
	GetUser(ctx context.Context, user core.UserID) (core.User, error)
	// ApplyPoints increments the total and re-resolves the level in one step.
	ApplyPoints(ctx context.Context, user core.UserID, delta int64) (core.PointsChange, error)
	// AwardBadge adds code only if absent and, when it did, applies reward in
	// the same step. added is false when the user already owned the badge.
	AwardBadge(ctx context.Context, user core.UserID, code core.BadgeCode, reward int64) (added bool, change core.PointsChange, err error)
	// RecordStreak stores snap, keeping the longest value monotone, and
	// returns what was stored.
	RecordStreak(ctx context.Context, user core.UserID, category core.StreakCategory, snap core.StreakSnapshot) (core.StreakSnapshot, error)
}

// ActivityLog is the append-only record of user actions.
type ActivityLog interface {
	Append(ctx context.Context, ev core.ActivityEvent) error
	// Query returns matching events ordered by timestamp.
	Query(ctx context.Context, q core.ActivityQuery) ([]core.ActivityEvent, error)
}

// BadgeCatalog provides the badge definitions.
type BadgeCatalog interface {
	Badges(ctx context.Context) ([]core.BadgeDefinition, error)
}

// Contributions exposes read-only counts of a user's work in other domains.
type Contributions interface {
	CountRatings(ctx context.Context, user core.UserID) (int, error)
	CountLongReviews(ctx context.Context, user core.UserID) (int, error)
	CountEvidence(ctx context.Context, user core.UserID) (int, error)
	CountCampaigns(ctx context.Context, user core.UserID) (int, error)
	CountCampaignSupports(ctx context.Context, user core.UserID) (int, error)
	CountUpvotes(ctx context.Context, user core.UserID) (int, error)
	CountCompletedModules(ctx context.Context, user core.UserID) (int, error)
	ModuleCompleted(ctx context.Context, user core.UserID, moduleID string) (bool, error)
	// CategoryProgress reports completed and total modules of a category.
	CategoryProgress(ctx context.Context, user core.UserID, category string) (completed, total int, err error)
	QuizResults(ctx context.Context, user core.UserID) ([]core.QuizResult, error)
}

// Notifier delivers level-up and badge-earned notifications. Failures are
// logged by the engine and never undo committed state.
type Notifier interface {
	Notify(ctx context.Context, ev core.Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev core.Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev core.Event) error { return f(ctx, ev) }

// MultiNotifier fans out to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, ev core.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
