package sqlx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"impactkit/core"
)

type activityRow struct {
	ID         string    `db:"id"`
	UserID     string    `db:"user_id"`
	Kind       string    `db:"kind"`
	RawKind    string    `db:"raw_kind"`
	OccurredAt time.Time `db:"occurred_at"`
	EntityID   string    `db:"entity_id"`
	EntityKind string    `db:"entity_kind"`
}

func (s *Store) Append(ctx context.Context, ev core.ActivityEvent) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO activity_events (id, user_id, kind, raw_kind, occurred_at, entity_id, entity_kind) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		ev.ID, ev.UserID, ev.Kind.String(), ev.RawKind, ev.Time.UTC(), ev.EntityID, ev.EntityKind)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

// Query returns matching events oldest first.
func (s *Store) Query(ctx context.Context, q core.ActivityQuery) ([]core.ActivityEvent, error) {
	var (
		where = []string{"user_id = ?"}
		args  = []interface{}{q.UserID}
	)
	if !q.From.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		where = append(where, "occurred_at <= ?")
		args = append(args, q.To.UTC())
	}
	if len(q.Kinds) > 0 {
		names := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			names[i] = k.String()
		}
		where = append(where, "kind IN (?)")
		args = append(args, names)
	}
	query, args, err := sqlx.In(`SELECT id, user_id, kind, raw_kind, occurred_at, entity_id, entity_kind FROM activity_events WHERE `+
		strings.Join(where, " AND ")+` ORDER BY occurred_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build activity query: %w", err)
	}
	var rows []activityRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	out := make([]core.ActivityEvent, 0, len(rows))
	for _, r := range rows {
		kind, _ := core.ParseActionKind(r.Kind)
		out = append(out, core.ActivityEvent{
			ID:         r.ID,
			UserID:     core.UserID(r.UserID),
			Kind:       kind,
			RawKind:    r.RawKind,
			Time:       r.OccurredAt.UTC(),
			EntityID:   r.EntityID,
			EntityKind: r.EntityKind,
		})
	}
	return out, nil
}
