package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"impactkit/core"
)

// Award is the breakdown of one points award.
type Award struct {
	Action           core.ActionKind    `json:"action"`
	Base             int64              `json:"base"`
	Streak           *core.StreakStatus `json:"streak,omitempty"`
	StreakMultiplier core.Multiplier    `json:"streak_multiplier"`
	LevelBonus       core.Multiplier    `json:"level_bonus"`
	Points           int64              `json:"points"`
	Change           core.PointsChange  `json:"change"`
}

// PointsLedger computes and applies point awards.
type PointsLedger struct {
	users   UserStore
	streaks *StreakCalculator
	logger  *slog.Logger
}

func NewPointsLedger(users UserStore, streaks *StreakCalculator, logger *slog.Logger) *PointsLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &PointsLedger{users: users, streaks: streaks, logger: logger}
}

// AwardPoints loads the user and applies the award for kind.
func (l *PointsLedger) AwardPoints(ctx context.Context, user core.UserID, kind core.ActionKind, actx core.ActionContext) (Award, error) {
	u, err := l.users.GetUser(ctx, user)
	if err != nil {
		return Award{}, storageErr("get user", err)
	}
	return l.Award(ctx, u, kind, actx, time.Now().UTC())
}

// Award computes base x streak multiplier x level bonus against the stored
// level of user and applies it as one atomic increment. Storage failures are
// returned as-is for the caller to retry; nothing is retried here.
func (l *PointsLedger) Award(ctx context.Context, user core.User, kind core.ActionKind, actx core.ActionContext, now time.Time) (Award, error) {
	a, err := l.Quote(ctx, user, kind, actx, now, true)
	if err != nil {
		return Award{}, err
	}
	change, err := l.users.ApplyPoints(ctx, user.ID, a.Points)
	if err != nil {
		return Award{}, storageErr("apply points", err)
	}
	a.Change = change
	return a, nil
}

// Quote computes the award without applying it. When persist is set the
// streak's longest value is recorded as a side effect. Out-of-range rewards
// and awards that overflow are rejected, never wrapped.
func (l *PointsLedger) Quote(ctx context.Context, user core.User, kind core.ActionKind, actx core.ActionContext, now time.Time, persist bool) (Award, error) {
	if err := actx.Validate(); err != nil {
		return Award{}, err
	}
	a := Award{
		Action:           kind,
		Base:             kind.BasePoints(actx),
		StreakMultiplier: core.MultiplierOne,
		LevelBonus:       core.LevelBonus(user.Level, kind),
	}
	if category := kind.Spec().Streak; category != "" && l.streaks != nil {
		status, err := l.streak(ctx, user, category, now, persist)
		if err != nil {
			// Streak state only sizes the multiplier; fall back to the stored snapshot.
			l.logger.WarnContext(ctx, "streak computation failed",
				"user_id", user.ID, "category", category, "error", err)
			snap := user.Streaks[category]
			status = core.StreakStatus{Category: category, Current: snap.Current, Longest: snap.Longest,
				LastActivity: snap.LastActivity, Multiplier: category.Multiplier(snap.Current)}
		}
		a.Streak = &status
		a.StreakMultiplier = status.Multiplier
	}
	points, err := core.Apply(a.Base, a.StreakMultiplier, a.LevelBonus)
	if err != nil {
		return Award{}, fmt.Errorf("price %s: %w", kind, err)
	}
	a.Points = points
	return a, nil
}

func (l *PointsLedger) streak(ctx context.Context, user core.User, category core.StreakCategory, now time.Time, persist bool) (core.StreakStatus, error) {
	if persist {
		return l.streaks.Refresh(ctx, user, category, now)
	}
	return l.streaks.Current(ctx, user, category, now)
}

// storageErr tags err as a retryable storage failure unless it is a domain
// error the caller must see unchanged.
func storageErr(op string, err error) error {
	if errors.Is(err, core.ErrUserNotFound) || errors.Is(err, core.ErrUserExists) || errors.Is(err, core.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", core.ErrStorage, op, err)
}
