package core

import (
	"fmt"
	"time"
)

// StreakCategory groups actions that share a streak cadence.
type StreakCategory string

const (
	// StreakCivic counts consecutive ISO weeks (Monday start).
	StreakCivic StreakCategory = "civic"
	// StreakLearning counts consecutive days.
	StreakLearning StreakCategory = "learning"
)

// StreakCategories lists the tracked categories.
func StreakCategories() []StreakCategory { return []StreakCategory{StreakCivic, StreakLearning} }

// ParseStreakCategory validates a category name.
func ParseStreakCategory(s string) (StreakCategory, error) {
	switch c := StreakCategory(s); c {
	case StreakCivic, StreakLearning:
		return c, nil
	}
	return "", fmt.Errorf("unknown streak category %q", s)
}

const periodLayout = "2006-01-02"

// PeriodStart truncates t (in UTC) to the start of its day or ISO week.
func (c StreakCategory) PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if c != StreakCivic {
		return day
	}
	// Weekday: Sunday=0 ... Saturday=6; shift so Monday=0.
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// PeriodKey is the day string or ISO-week-start string for t.
func (c StreakCategory) PeriodKey(t time.Time) string {
	return c.PeriodStart(t).Format(periodLayout)
}

// PreviousKey returns the key of the period immediately before key.
func (c StreakCategory) PreviousKey(key string) (string, error) {
	t, err := time.Parse(periodLayout, key)
	if err != nil {
		return "", err
	}
	if c == StreakCivic {
		return t.AddDate(0, 0, -7).Format(periodLayout), nil
	}
	return t.AddDate(0, 0, -1).Format(periodLayout), nil
}

// Multiplier returns the tier implied by a current streak length.
func (c StreakCategory) Multiplier(current int) Multiplier {
	switch c {
	case StreakCivic:
		switch {
		case current >= 4:
			return 1500
		case current >= 2:
			return 1200
		}
	case StreakLearning:
		switch {
		case current >= 7:
			return 1500
		case current >= 3:
			return 1200
		}
	}
	return MultiplierOne
}

// StreakStatus is the calculator output for one category.
type StreakStatus struct {
	Category     StreakCategory `json:"category"`
	Current      int            `json:"current_streak"`
	Longest      int            `json:"longest_streak"`
	LastActivity time.Time      `json:"last_activity"`
	Multiplier   Multiplier     `json:"multiplier"`
}

// Snapshot converts the status to its persisted form.
func (s StreakStatus) Snapshot() StreakSnapshot {
	return StreakSnapshot{Current: s.Current, Longest: s.Longest, LastActivity: s.LastActivity}
}

// ActionContext carries caller-supplied details of an action.
type ActionContext struct {
	// Reward overrides the base value of actions that honour it (complete-module).
	Reward     int64     `json:"reward,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	EntityKind string    `json:"entity_kind,omitempty"`
	Time       time.Time `json:"time,omitempty"`
	// RawKind keeps the caller's action name when it did not parse.
	RawKind string `json:"raw_kind,omitempty"`
}

// Validate bounds the caller-supplied reward.
func (c ActionContext) Validate() error {
	if c.Reward < 0 || c.Reward > MaxContextReward {
		return fmt.Errorf("%w: reward %d outside 0..%d", ErrInvalidAction, c.Reward, MaxContextReward)
	}
	return nil
}

// ActivityEvent is an immutable record of one user action.
type ActivityEvent struct {
	ID         string     `json:"id"`
	UserID     UserID     `json:"user_id"`
	Kind       ActionKind `json:"kind"`
	RawKind    string     `json:"raw_kind,omitempty"`
	Time       time.Time  `json:"time"`
	EntityID   string     `json:"entity_id,omitempty"`
	EntityKind string     `json:"entity_kind,omitempty"`
}

// ActivityQuery filters the activity log. Zero From/To leave that side open;
// empty Kinds matches every kind.
type ActivityQuery struct {
	UserID UserID
	Kinds  []ActionKind
	From   time.Time
	To     time.Time
}

// Matches reports whether ev passes the filter.
func (q ActivityQuery) Matches(ev ActivityEvent) bool {
	if ev.UserID != q.UserID {
		return false
	}
	if !q.From.IsZero() && ev.Time.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && ev.Time.After(q.To) {
		return false
	}
	if len(q.Kinds) == 0 {
		return true
	}
	for _, k := range q.Kinds {
		if k == ev.Kind {
			return true
		}
	}
	return false
}
