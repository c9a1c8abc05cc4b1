package core

import "time"

// EventType enumerates domain events.
type EventType string

const (
	EventActionRecorded EventType = "action_recorded"
	EventPointsAwarded  EventType = "points_awarded"
	EventLevelUp        EventType = "level_up"
	EventBadgeEarned    EventType = "badge_earned"
)

// Event represents an immutable domain event.
type Event struct {
	Type     EventType      `json:"type"`
	Time     time.Time      `json:"time"`
	UserID   UserID         `json:"user_id"`
	Action   ActionKind     `json:"action,omitempty"`
	Delta    int64          `json:"delta,omitempty"`
	Total    int64          `json:"total,omitempty"`
	Level    Level          `json:"level,omitempty"`
	Features []string       `json:"features,omitempty"`
	Badge    BadgeCode      `json:"badge,omitempty"`
	Message  string         `json:"message,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func NewActionRecorded(ev ActivityEvent) Event {
	return Event{Type: EventActionRecorded, Time: ev.Time, UserID: ev.UserID, Action: ev.Kind,
		Metadata: map[string]any{"event_id": ev.ID}}
}

func NewPointsAwarded(user UserID, action ActionKind, delta int64, total int64) Event {
	return Event{Type: EventPointsAwarded, Time: time.Now().UTC(), UserID: user, Action: action, Delta: delta, Total: total}
}

// NewLevelUp carries the feature list unlocked by level.
func NewLevelUp(user UserID, level Level, total int64) Event {
	return Event{Type: EventLevelUp, Time: time.Now().UTC(), UserID: user, Level: level, Total: total, Features: level.Features()}
}

// NewBadgeEarned carries the badge reward as Delta and the resulting total.
func NewBadgeEarned(user UserID, badge BadgeDefinition, total int64) Event {
	msg := badge.UnlockText
	if msg == "" {
		msg = badge.Description
	}
	return Event{Type: EventBadgeEarned, Time: time.Now().UTC(), UserID: user, Badge: badge.Code,
		Delta: badge.PointReward, Total: total, Message: msg}
}
