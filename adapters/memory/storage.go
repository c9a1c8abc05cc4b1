package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"impactkit/core"
)

// Store is a concurrent in-memory user store and activity log.
type Store struct {
	users sync.Map // map[core.UserID]*userRecord

	logMu sync.RWMutex
	log   map[core.UserID][]core.ActivityEvent
}

type userRecord struct {
	mu   sync.Mutex
	user core.User
}

func New() *Store { return &Store{log: map[core.UserID][]core.ActivityEvent{}} }

func (s *Store) record(user core.UserID) (*userRecord, error) {
	if v, ok := s.users.Load(user); ok {
		return v.(*userRecord), nil
	}
	return nil, core.ErrUserNotFound
}

func (s *Store) CreateUser(_ context.Context, user core.UserID) (core.User, error) {
	rec := &userRecord{user: core.NewUser(user, time.Now().UTC())}
	if _, loaded := s.users.LoadOrStore(user, rec); loaded {
		return core.User{}, core.ErrUserExists
	}
	return rec.user.Clone(), nil
}

func (s *Store) GetUser(_ context.Context, user core.UserID) (core.User, error) {
	rec, err := s.record(user)
	if err != nil {
		return core.User{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.user.Clone(), nil
}

func (s *Store) ApplyPoints(_ context.Context, user core.UserID, delta int64) (core.PointsChange, error) {
	rec, err := s.record(user)
	if err != nil {
		return core.PointsChange{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return core.ApplyDelta(&rec.user, delta, time.Now().UTC())
}

func (s *Store) AwardBadge(_ context.Context, user core.UserID, code core.BadgeCode, reward int64) (bool, core.PointsChange, error) {
	rec, err := s.record(user)
	if err != nil {
		return false, core.PointsChange{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.user.HasBadge(code) {
		return false, core.PointsChange{}, nil
	}
	now := time.Now().UTC()
	change := core.PointsChange{Total: rec.user.Points, Previous: rec.user.Level, Level: rec.user.Level}
	if reward != 0 {
		change, err = core.ApplyDelta(&rec.user, reward, now)
		if err != nil {
			return false, core.PointsChange{}, err
		}
	}
	rec.user.Badges[code] = struct{}{}
	rec.user.Updated = now
	return true, change, nil
}

func (s *Store) RecordStreak(_ context.Context, user core.UserID, category core.StreakCategory, snap core.StreakSnapshot) (core.StreakSnapshot, error) {
	rec, err := s.record(user)
	if err != nil {
		return core.StreakSnapshot{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	merged := rec.user.Streaks[category].Merge(snap)
	rec.user.Streaks[category] = merged
	rec.user.Updated = time.Now().UTC()
	return merged, nil
}

func (s *Store) Append(_ context.Context, ev core.ActivityEvent) error {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	events := append(s.log[ev.UserID], ev)
	// keep ordered by time; appends are almost always already in order
	if n := len(events); n > 1 && events[n-1].Time.Before(events[n-2].Time) {
		sort.SliceStable(events, func(i, j int) bool { return events[i].Time.Before(events[j].Time) })
	}
	s.log[ev.UserID] = events
	return nil
}

func (s *Store) Query(_ context.Context, q core.ActivityQuery) ([]core.ActivityEvent, error) {
	s.logMu.RLock()
	defer s.logMu.RUnlock()
	var out []core.ActivityEvent
	for _, ev := range s.log[q.UserID] {
		if q.Matches(ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}

var _ interface {
	CreateUser(context.Context, core.UserID) (core.User, error)
	GetUser(context.Context, core.UserID) (core.User, error)
	ApplyPoints(context.Context, core.UserID, int64) (core.PointsChange, error)
	AwardBadge(context.Context, core.UserID, core.BadgeCode, int64) (bool, core.PointsChange, error)
	RecordStreak(context.Context, core.UserID, core.StreakCategory, core.StreakSnapshot) (core.StreakSnapshot, error)
	Append(context.Context, core.ActivityEvent) error
	Query(context.Context, core.ActivityQuery) ([]core.ActivityEvent, error)
} = (*Store)(nil)
