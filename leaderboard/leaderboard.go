package leaderboard

import (
	"context"

	"impactkit/core"
	"impactkit/engine"
)

// Entry represents a score entry.
type Entry struct {
	User  core.UserID `json:"user_id"`
	Score int64       `json:"points"`
	Level core.Level  `json:"level"`
	Rank  int         `json:"rank,omitempty"`
}

// Board abstracts leaderboard operations.
type Board interface {
	Update(user core.UserID, score int64)
	Remove(user core.UserID)
	TopN(n int) []Entry
	Get(user core.UserID) (Entry, bool)
}

// Tracker keeps a Board in step with point totals published on the bus.
// Totals only grow, so out-of-order async delivery never lowers a score.
type Tracker struct {
	board *SkipList
}

func NewTracker(board *SkipList) *Tracker { return &Tracker{board: board} }

// Attach subscribes to every event type that carries a new total.
func (t *Tracker) Attach(bus *engine.EventBus) func() {
	unsubs := []func(){
		bus.Subscribe(core.EventPointsAwarded, t.OnEvent),
		bus.Subscribe(core.EventBadgeEarned, t.OnEvent),
		bus.Subscribe(core.EventLevelUp, t.OnEvent),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (t *Tracker) OnEvent(_ context.Context, e core.Event) {
	if e.UserID == "" {
		return
	}
	t.board.Raise(e.UserID, e.Total)
}

// Seed loads existing users, e.g. at startup from a persistent store.
func (t *Tracker) Seed(users []core.User) {
	for _, u := range users {
		t.board.Update(u.ID, u.Points)
	}
}
