// Package sqlx stores users, activity and contribution counts in PostgreSQL
// or MySQL through jmoiron/sqlx.
package sqlx

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"impactkit/core"
)

// Driver names the SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// UnmarshalText accepts a dialect name in any case; "postgresql" and "pg"
// alias postgres.
func (d *Driver) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "postgres", "postgresql", "pg":
		*d = DriverPostgres
	case "mysql":
		*d = DriverMySQL
	default:
		return fmt.Errorf("unsupported sql driver %q", string(b))
	}
	return nil
}

// Config holds SQL connection configuration.
type Config struct {
	Driver          Driver        `json:"driver" env:"IMPACTKIT_SQL_DRIVER"`
	DSN             string        `json:"dsn,omitempty" env:"IMPACTKIT_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" env:"IMPACTKIT_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"IMPACTKIT_SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"IMPACTKIT_SQL_CONN_MAX_LIFETIME"`
}

// DefaultConfig returns pool defaults for driver.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Store implements engine.UserStore, engine.ActivityLog and engine.Contributions.
type Store struct {
	db     *sqlx.DB
	driver Driver
}

// New opens and pings the database.
func New(cfg Config) (*Store, error) {
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverMySQL {
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}
	dsn := cfg.DSN
	if cfg.Driver == DriverMySQL && !strings.Contains(dsn, "parseTime") {
		dsn = appendParam(dsn, "parseTime=true")
	}
	db, err := sqlx.Open(string(cfg.Driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Store{db: db, driver: cfg.Driver}, nil
}

func appendParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}

// NewWithDB wraps an existing handle (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Close() error { return s.db.Close() }

//go:embed schema_postgres.sql
var schemaPostgres string

//go:embed schema_mysql.sql
var schemaMySQL string

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema := schemaPostgres
	if s.driver == DriverMySQL {
		schema = schemaMySQL
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) q(query string) string { return s.db.Rebind(query) }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

type userRow struct {
	ID      string    `db:"user_id"`
	Points  int64     `db:"points"`
	Level   string    `db:"level"`
	Created time.Time `db:"created_at"`
	Updated time.Time `db:"updated_at"`
}

func (r userRow) user() core.User {
	u := core.NewUser(core.UserID(r.ID), r.Created.UTC())
	u.Points = r.Points
	u.Level = core.Level(r.Level)
	u.Updated = r.Updated.UTC()
	return u
}

func (s *Store) CreateUser(ctx context.Context, id core.UserID) (core.User, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO users (user_id, points, level, created_at, updated_at) VALUES (?, 0, ?, ?, ?)`),
		id, core.LevelCitizen, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return core.User{}, core.ErrUserExists
		}
		return core.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return core.NewUser(id, now), nil
}

func (s *Store) GetUser(ctx context.Context, id core.UserID) (core.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT user_id, points, level, created_at, updated_at FROM users WHERE user_id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrUserNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	u := row.user()

	var badges []string
	if err := s.db.SelectContext(ctx, &badges, s.q(`SELECT badge FROM user_badges WHERE user_id = ?`), id); err != nil {
		return core.User{}, fmt.Errorf("failed to get badges: %w", err)
	}
	for _, b := range badges {
		u.Badges[core.BadgeCode(b)] = struct{}{}
	}

	var streaks []streakRow
	if err := s.db.SelectContext(ctx, &streaks, s.q(`SELECT category, current_streak, longest_streak, last_activity FROM user_streaks WHERE user_id = ?`), id); err != nil {
		return core.User{}, fmt.Errorf("failed to get streaks: %w", err)
	}
	for _, r := range streaks {
		u.Streaks[core.StreakCategory(r.Category)] = core.StreakSnapshot{
			Current: r.Current, Longest: r.Longest, LastActivity: r.LastActivity.UTC(),
		}
	}
	return u, nil
}

type streakRow struct {
	Category     string    `db:"category"`
	Current      int       `db:"current_streak"`
	Longest      int       `db:"longest_streak"`
	LastActivity time.Time `db:"last_activity"`
}

// withUser runs fn in a transaction holding the user's row lock.
func (s *Store) withUser(ctx context.Context, id core.UserID, fn func(tx *sqlx.Tx, u *core.User) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var row userRow
	err = tx.GetContext(ctx, &row, s.q(`SELECT user_id, points, level, created_at, updated_at FROM users WHERE user_id = ? FOR UPDATE`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock user: %w", err)
	}
	u := row.user()
	if err = fn(tx, &u); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *Store) savePoints(ctx context.Context, tx *sqlx.Tx, u core.User) error {
	_, err := tx.ExecContext(ctx, s.q(`UPDATE users SET points = ?, level = ?, updated_at = ? WHERE user_id = ?`),
		u.Points, u.Level, u.Updated, u.ID)
	if err != nil {
		return fmt.Errorf("failed to update points: %w", err)
	}
	return nil
}

// ApplyPoints increments points and re-resolves the level under the row lock.
func (s *Store) ApplyPoints(ctx context.Context, id core.UserID, delta int64) (core.PointsChange, error) {
	var change core.PointsChange
	err := s.withUser(ctx, id, func(tx *sqlx.Tx, u *core.User) error {
		var err error
		if change, err = core.ApplyDelta(u, delta, time.Now().UTC()); err != nil {
			return err
		}
		return s.savePoints(ctx, tx, *u)
	})
	return change, err
}

// AwardBadge inserts the badge if absent and applies reward in the same transaction.
func (s *Store) AwardBadge(ctx context.Context, id core.UserID, code core.BadgeCode, reward int64) (bool, core.PointsChange, error) {
	insert := `INSERT INTO user_badges (user_id, badge, awarded_at) VALUES (?, ?, ?) ON CONFLICT (user_id, badge) DO NOTHING`
	if s.driver == DriverMySQL {
		insert = `INSERT IGNORE INTO user_badges (user_id, badge, awarded_at) VALUES (?, ?, ?)`
	}
	var (
		added  bool
		change core.PointsChange
	)
	err := s.withUser(ctx, id, func(tx *sqlx.Tx, u *core.User) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, s.q(insert), id, code, now)
		if err != nil {
			return fmt.Errorf("failed to award badge: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to award badge: %w", err)
		}
		if n == 0 {
			return nil
		}
		added = true
		change = core.PointsChange{Total: u.Points, Previous: u.Level, Level: u.Level}
		if reward == 0 {
			return nil
		}
		if change, err = core.ApplyDelta(u, reward, now); err != nil {
			return err
		}
		return s.savePoints(ctx, tx, *u)
	})
	if err != nil {
		return false, core.PointsChange{}, err
	}
	return added, change, nil
}

// RecordStreak upserts the streak keeping the longest value monotone.
func (s *Store) RecordStreak(ctx context.Context, id core.UserID, c core.StreakCategory, snap core.StreakSnapshot) (core.StreakSnapshot, error) {
	upsert := `INSERT INTO user_streaks (user_id, category, current_streak, longest_streak, last_activity) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, category) DO UPDATE SET current_streak = EXCLUDED.current_streak,
		longest_streak = EXCLUDED.longest_streak, last_activity = EXCLUDED.last_activity`
	if s.driver == DriverMySQL {
		upsert = `INSERT INTO user_streaks (user_id, category, current_streak, longest_streak, last_activity) VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE current_streak = VALUES(current_streak),
		longest_streak = VALUES(longest_streak), last_activity = VALUES(last_activity)`
	}
	var merged core.StreakSnapshot
	err := s.withUser(ctx, id, func(tx *sqlx.Tx, u *core.User) error {
		var stored int
		err := tx.GetContext(ctx, &stored, s.q(`SELECT longest_streak FROM user_streaks WHERE user_id = ? AND category = ?`), id, c)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read streak: %w", err)
		}
		merged = core.StreakSnapshot{Longest: stored}.Merge(snap)
		merged.LastActivity = merged.LastActivity.UTC()
		_, err = tx.ExecContext(ctx, s.q(upsert), id, c, merged.Current, merged.Longest, merged.LastActivity)
		if err != nil {
			return fmt.Errorf("failed to record streak: %w", err)
		}
		return nil
	})
	return merged, err
}
