package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"impactkit/core"
)

// Store persists users and the activity log to a single JSON file.
// Suitable for demos and small deployments.
type Store struct {
	path string
	mu   sync.Mutex
	// in-memory cache for speed
	users    map[core.UserID]core.User
	activity []core.ActivityEvent
}

type document struct {
	Users    map[string]core.User `json:"users"`
	Activity []core.ActivityEvent `json:"activity"`
}

func New(path string) (*Store, error) {
	s := &Store{path: path, users: map[core.UserID]core.User{}}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	for k, v := range doc.Users {
		if v.Badges == nil {
			v.Badges = map[core.BadgeCode]struct{}{}
		}
		if v.Streaks == nil {
			v.Streaks = map[core.StreakCategory]core.StreakSnapshot{}
		}
		s.users[core.UserID(k)] = v
	}
	s.activity = doc.Activity
	return nil
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	doc := document{Users: make(map[string]core.User, len(s.users)), Activity: s.activity}
	for k, v := range s.users {
		doc.Users[string(k)] = v
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// mutate applies fn to a copy of the user and keeps it only if the file write succeeds.
func (s *Store) mutate(user core.UserID, fn func(u *core.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.users[user]
	if !ok {
		return core.ErrUserNotFound
	}
	next := prev.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	s.users[user] = next
	if err := s.persist(); err != nil {
		s.users[user] = prev
		return err
	}
	return nil
}

func (s *Store) CreateUser(_ context.Context, user core.UserID) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user]; ok {
		return core.User{}, core.ErrUserExists
	}
	u := core.NewUser(user, time.Now().UTC())
	s.users[user] = u
	if err := s.persist(); err != nil {
		delete(s.users, user)
		return core.User{}, err
	}
	return u.Clone(), nil
}

func (s *Store) GetUser(_ context.Context, user core.UserID) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[user]
	if !ok {
		return core.User{}, core.ErrUserNotFound
	}
	return u.Clone(), nil
}

func (s *Store) ApplyPoints(_ context.Context, user core.UserID, delta int64) (core.PointsChange, error) {
	var change core.PointsChange
	err := s.mutate(user, func(u *core.User) error {
		var err error
		change, err = core.ApplyDelta(u, delta, time.Now().UTC())
		return err
	})
	return change, err
}

func (s *Store) AwardBadge(_ context.Context, user core.UserID, code core.BadgeCode, reward int64) (bool, core.PointsChange, error) {
	var (
		added  bool
		change core.PointsChange
	)
	err := s.mutate(user, func(u *core.User) error {
		if u.HasBadge(code) {
			return nil
		}
		now := time.Now().UTC()
		change = core.PointsChange{Total: u.Points, Previous: u.Level, Level: u.Level}
		if reward != 0 {
			var err error
			if change, err = core.ApplyDelta(u, reward, now); err != nil {
				return err
			}
		}
		u.Badges[code] = struct{}{}
		u.Updated = now
		added = true
		return nil
	})
	if err != nil || !added {
		return false, core.PointsChange{}, err
	}
	return true, change, nil
}

func (s *Store) RecordStreak(_ context.Context, user core.UserID, c core.StreakCategory, snap core.StreakSnapshot) (core.StreakSnapshot, error) {
	var merged core.StreakSnapshot
	err := s.mutate(user, func(u *core.User) error {
		merged = u.Streaks[c].Merge(snap)
		u.Streaks[c] = merged
		u.Updated = time.Now().UTC()
		return nil
	})
	return merged, err
}

func (s *Store) Append(_ context.Context, ev core.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.activity
	s.activity = append(s.activity[:len(s.activity):len(s.activity)], ev)
	sort.SliceStable(s.activity, func(i, j int) bool { return s.activity[i].Time.Before(s.activity[j].Time) })
	if err := s.persist(); err != nil {
		s.activity = prev
		return err
	}
	return nil
}

func (s *Store) Query(_ context.Context, q core.ActivityQuery) ([]core.ActivityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.ActivityEvent
	for _, ev := range s.activity {
		if q.Matches(ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}
