package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"impactkit/core"
)

// ActionRequest is the body of POST /users/{id}/actions. Action is the
// wire name of the action (e.g. "rate-official"); unknown names are still
// recorded by the server at the default value.
type ActionRequest struct {
	Action     string     `json:"action"`
	Reward     int64      `json:"reward,omitempty"`
	EntityID   string     `json:"entity_id,omitempty"`
	EntityKind string     `json:"entity_kind,omitempty"`
	Time       *time.Time `json:"time,omitempty"`
}

// Profile mirrors the GET /users/{id} response.
type Profile struct {
	User     core.User           `json:"user"`
	Progress core.LevelProgress  `json:"progress"`
	Streaks  []core.StreakStatus `json:"streaks"`
}

// Quote is the points breakdown an action would earn.
type Quote struct {
	Action           core.ActionKind    `json:"action"`
	Base             int64              `json:"base"`
	Streak           *core.StreakStatus `json:"streak,omitempty"`
	StreakMultiplier core.Multiplier    `json:"streak_multiplier"`
	LevelBonus       core.Multiplier    `json:"level_bonus"`
	Points           int64              `json:"points"`
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	UserID string     `json:"user_id"`
	Points int64      `json:"points"`
	Level  core.Level `json:"level"`
	Rank   int        `json:"rank"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]interface{} `json:"checks"`
}

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Temporary reports whether the request may succeed if retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == http.StatusTooManyRequests
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409 from the API.
func IsConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusConflict
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		ae := &APIError{StatusCode: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(body, ae)
		return ae
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyUserID is returned when user id is empty.
var ErrEmptyUserID = errors.New("user id is required")
