package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"impactkit/core"
)

// StreakCalculator derives activity streaks from the activity log.
type StreakCalculator struct {
	log   ActivityLog
	users UserStore
}

func NewStreakCalculator(log ActivityLog, users UserStore) *StreakCalculator {
	return &StreakCalculator{log: log, users: users}
}

// Current computes the streak for category without persisting anything.
// The longest value folds in the snapshot already stored on user.
func (c *StreakCalculator) Current(ctx context.Context, user core.User, category core.StreakCategory, now time.Time) (core.StreakStatus, error) {
	events, err := c.log.Query(ctx, core.ActivityQuery{
		UserID: user.ID,
		Kinds:  core.ActionsFor(category),
		To:     now,
	})
	if err != nil {
		return core.StreakStatus{}, fmt.Errorf("query activity: %w", err)
	}
	return ComputeStreak(category, events, user.Streaks[category])
}

// Refresh computes the streak and persists it with a set-if-greater write of
// the longest value. The returned status carries what the store kept.
func (c *StreakCalculator) Refresh(ctx context.Context, user core.User, category core.StreakCategory, now time.Time) (core.StreakStatus, error) {
	status, err := c.Current(ctx, user, category, now)
	if err != nil {
		return core.StreakStatus{}, err
	}
	if status.Current == 0 {
		return status, nil
	}
	stored, err := c.users.RecordStreak(ctx, user.ID, category, status.Snapshot())
	if err != nil {
		return core.StreakStatus{}, fmt.Errorf("record streak: %w", err)
	}
	status.Longest = stored.Longest
	return status, nil
}

// ComputeStreak counts consecutive periods ending at the most recent period
// with activity. events need not be sorted.
func ComputeStreak(category core.StreakCategory, events []core.ActivityEvent, stored core.StreakSnapshot) (core.StreakStatus, error) {
	status := core.StreakStatus{
		Category:   category,
		Longest:    stored.Longest,
		Multiplier: core.MultiplierOne,
	}
	if len(events) == 0 {
		return status, nil
	}

	periods := make(map[string]struct{}, len(events))
	for _, ev := range events {
		periods[category.PeriodKey(ev.Time)] = struct{}{}
		if ev.Time.After(status.LastActivity) {
			status.LastActivity = ev.Time
		}
	}
	keys := make([]string, 0, len(periods))
	for k := range periods {
		keys = append(keys, k)
	}
	// YYYY-MM-DD keys sort chronologically as strings.
	sort.Strings(keys)

	run := 1
	key := keys[len(keys)-1]
	for {
		prev, err := category.PreviousKey(key)
		if err != nil {
			return core.StreakStatus{}, err
		}
		if _, ok := periods[prev]; !ok {
			break
		}
		run++
		key = prev
	}

	status.Current = run
	if run > status.Longest {
		status.Longest = run
	}
	status.Multiplier = category.Multiplier(run)
	return status, nil
}
