package core

import (
	"errors"
	"math"
	"strings"
	"time"
)

// UserID uniquely identifies a user in the gamification domain.
type UserID string

// BadgeCode is the unique identifier of a badge definition.
type BadgeCode string

// User is a snapshot of a user's gamification aggregate.
// Stores return deep copies so callers may not mutate shared state.
type User struct {
	ID      UserID                            `json:"id"`
	Points  int64                             `json:"points"`
	Level   Level                             `json:"level"`
	Badges  map[BadgeCode]struct{}            `json:"badges"`
	Streaks map[StreakCategory]StreakSnapshot `json:"streaks"`
	Created time.Time                         `json:"created"`
	Updated time.Time                         `json:"updated"`
}

// NewUser returns an empty aggregate for id at the citizen tier.
func NewUser(id UserID, now time.Time) User {
	return User{
		ID:      id,
		Level:   LevelCitizen,
		Badges:  map[BadgeCode]struct{}{},
		Streaks: map[StreakCategory]StreakSnapshot{},
		Created: now,
		Updated: now,
	}
}

// Clone returns a deep copy of the user.
func (u User) Clone() User {
	cp := u
	cp.Badges = make(map[BadgeCode]struct{}, len(u.Badges))
	for k := range u.Badges {
		cp.Badges[k] = struct{}{}
	}
	cp.Streaks = make(map[StreakCategory]StreakSnapshot, len(u.Streaks))
	for k, v := range u.Streaks {
		cp.Streaks[k] = v
	}
	return cp
}

// HasBadge reports whether the user owns code.
func (u User) HasBadge(code BadgeCode) bool {
	_, ok := u.Badges[code]
	return ok
}

// StreakSnapshot is the persisted streak state of one category.
type StreakSnapshot struct {
	Current      int       `json:"current"`
	Longest      int       `json:"longest"`
	LastActivity time.Time `json:"last_activity"`
}

// Merge folds next into s keeping the longest value monotone.
func (s StreakSnapshot) Merge(next StreakSnapshot) StreakSnapshot {
	out := next
	if s.Longest > out.Longest {
		out.Longest = s.Longest
	}
	if out.Current > out.Longest {
		out.Longest = out.Current
	}
	return out
}

// PointsChange describes the outcome of one atomic points application.
type PointsChange struct {
	Delta    int64 `json:"delta"`
	Total    int64 `json:"total"`
	Previous Level `json:"previous"`
	Level    Level `json:"level"`
}

// LevelChanged reports whether the application moved the user to another tier.
func (c PointsChange) LevelChanged() bool { return c.Previous != c.Level }

// ApplyDelta adds delta to a user's points and re-resolves the level.
// Adapters call it while holding whatever lock makes the step atomic.
func ApplyDelta(u *User, delta int64, now time.Time) (PointsChange, error) {
	next, err := AddSafe(u.Points, delta)
	if err != nil {
		return PointsChange{}, err
	}
	if next < 0 {
		return PointsChange{}, errors.New("points cannot become negative")
	}
	change := PointsChange{Delta: delta, Total: next, Previous: u.Level, Level: ResolveLevel(next)}
	u.Points = next
	u.Level = change.Level
	u.Updated = now
	return change, nil
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", errors.New("empty user id")
	}
	return UserID(strings.ToLower(s)), nil
}

// ValidateBadgeCode ensures a non-empty code with a simple charset check.
func ValidateBadgeCode(b BadgeCode) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return errors.New("empty badge code")
	}
	// alnum, dash, underscore
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return ErrInvalidBadge
	}
	return nil
}

// QuizResult is a collaborator record of one quiz attempt.
type QuizResult struct {
	ModuleID  string `json:"module_id"`
	Score     int    `json:"score"`
	Completed bool   `json:"completed"`
}

// ActionResult is what the caller of RecordAction receives.
type ActionResult struct {
	Event          ActivityEvent `json:"event"`
	PointsAwarded  int64         `json:"points_awarded"`
	Total          int64         `json:"total"`
	Level          Level         `json:"level"`
	LevelChangedTo *Level        `json:"level_changed_to,omitempty"`
	BadgesAwarded  []BadgeCode   `json:"badges_awarded"`
}
