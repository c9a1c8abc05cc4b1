package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"impactkit/core"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" env:"IMPACTKIT_REDIS_ADDR"`
	Password     string        `json:"password,omitempty" env:"IMPACTKIT_REDIS_PASSWORD"`
	DB           int           `json:"db" env:"IMPACTKIT_REDIS_DB"`
	PoolSize     int           `json:"pool_size" env:"IMPACTKIT_REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" env:"IMPACTKIT_REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"IMPACTKIT_REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"IMPACTKIT_REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"IMPACTKIT_REDIS_WRITE_TIMEOUT"`
	// StateTTL bounds how long an assembled user document is cached.
	StateTTL time.Duration `json:"state_ttl" env:"IMPACTKIT_REDIS_STATE_TTL"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		StateTTL:     5 * time.Minute,
	}
}

// Store implements engine.UserStore and engine.ActivityLog on Redis.
// Data structure:
//   - user:{id}:profile        -> hash {points, level, rev, created, updated}
//   - user:{id}:badges         -> set of badge codes
//   - user:{id}:streak:{cat}   -> hash {current, longest, last}
//   - user:{id}:activity       -> sorted set of JSON events scored by unix millis
//   - user:{id}:state          -> JSON blob of the assembled User, tagged with rev
//
// Every write goes through a Lua script that bumps rev, so a cached state is
// only served when its rev matches the profile.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client, ttl: config.StateTTL}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, ttl: DefaultConfig().StateTTL}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func profileKey(id core.UserID) string { return fmt.Sprintf("user:%s:profile", id) }
func badgesKey(id core.UserID) string  { return fmt.Sprintf("user:%s:badges", id) }
func stateKey(id core.UserID) string   { return fmt.Sprintf("user:%s:state", id) }
func activityKey(id core.UserID) string {
	return fmt.Sprintf("user:%s:activity", id)
}
func streakKey(id core.UserID, c core.StreakCategory) string {
	return fmt.Sprintf("user:%s:streak:%s", id, c)
}

const errNotFound = "user not found"

// Level thresholds travel as ARGV so the resolver stays defined in Go.
const levelLua = `
local function resolve(points, advocate, leader)
	if points >= leader then return 'leader' end
	if points >= advocate then return 'advocate' end
	return 'citizen'
end
`

var createUserScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 0
	end
	redis.call('HSET', KEYS[1], 'points', 0, 'level', ARGV[1], 'rev', 1, 'created', ARGV[2], 'updated', ARGV[2])
	return 1
`)

// KEYS: profile. ARGV: delta, advocate min, leader min, now.
var applyPointsScript = redis.NewScript(levelLua + `
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return redis.error_reply('` + errNotFound + `')
	end
	local delta = tonumber(ARGV[1])
	local current = tonumber(redis.call('HGET', KEYS[1], 'points') or '0')
	if current + delta < 0 then
		return redis.error_reply('points cannot become negative')
	end
	local prev = redis.call('HGET', KEYS[1], 'level')
	local total = redis.call('HINCRBY', KEYS[1], 'points', ARGV[1])
	local level = resolve(total, tonumber(ARGV[2]), tonumber(ARGV[3]))
	redis.call('HSET', KEYS[1], 'level', level, 'updated', ARGV[4])
	redis.call('HINCRBY', KEYS[1], 'rev', 1)
	return {total, prev, level}
`)

// KEYS: profile, badges. ARGV: code, reward, advocate min, leader min, now.
var awardBadgeScript = redis.NewScript(levelLua + `
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return redis.error_reply('` + errNotFound + `')
	end
	local prev = redis.call('HGET', KEYS[1], 'level')
	local reward = tonumber(ARGV[2])
	local current = tonumber(redis.call('HGET', KEYS[1], 'points') or '0')
	if current + reward < 0 then
		return redis.error_reply('points cannot become negative')
	end
	if redis.call('SADD', KEYS[2], ARGV[1]) == 0 then
		return {0, current, prev, prev}
	end
	local total = current
	if reward ~= 0 then
		total = redis.call('HINCRBY', KEYS[1], 'points', ARGV[2])
	end
	local level = resolve(total, tonumber(ARGV[3]), tonumber(ARGV[4]))
	redis.call('HSET', KEYS[1], 'level', level, 'updated', ARGV[5])
	redis.call('HINCRBY', KEYS[1], 'rev', 1)
	return {1, total, prev, level}
`)

// KEYS: profile, streak. ARGV: current, longest, last activity, now.
var recordStreakScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return redis.error_reply('` + errNotFound + `')
	end
	local current = tonumber(ARGV[1])
	local longest = math.max(tonumber(ARGV[2]), current, tonumber(redis.call('HGET', KEYS[2], 'longest') or '0'))
	redis.call('HSET', KEYS[2], 'current', current, 'longest', longest, 'last', ARGV[3])
	redis.call('HSET', KEYS[1], 'updated', ARGV[4])
	redis.call('HINCRBY', KEYS[1], 'rev', 1)
	return {current, longest}
`)

func nowArg() string { return strconv.FormatInt(time.Now().UTC().UnixNano(), 10) }

func scriptErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), errNotFound) {
		return core.ErrUserNotFound
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func (s *Store) CreateUser(ctx context.Context, id core.UserID) (core.User, error) {
	created, err := createUserScript.Run(ctx, s.client, []string{profileKey(id)}, string(core.LevelCitizen), nowArg()).Int64()
	if err != nil {
		return core.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	if created == 0 {
		return core.User{}, core.ErrUserExists
	}
	return s.GetUser(ctx, id)
}

// ApplyPoints increments points and re-resolves the level in one script.
func (s *Store) ApplyPoints(ctx context.Context, id core.UserID, delta int64) (core.PointsChange, error) {
	res, err := applyPointsScript.Run(ctx, s.client, []string{profileKey(id)},
		delta, core.AdvocateMinPoints, core.LeaderMinPoints, nowArg()).Slice()
	if err != nil {
		return core.PointsChange{}, scriptErr("apply points", err)
	}
	total, prev, level, err := parseChange(res)
	if err != nil {
		return core.PointsChange{}, err
	}
	return core.PointsChange{Delta: delta, Total: total, Previous: prev, Level: level}, nil
}

// AwardBadge adds code to the badge set and applies reward only when the
// badge was absent.
func (s *Store) AwardBadge(ctx context.Context, id core.UserID, code core.BadgeCode, reward int64) (bool, core.PointsChange, error) {
	res, err := awardBadgeScript.Run(ctx, s.client, []string{profileKey(id), badgesKey(id)},
		string(code), reward, core.AdvocateMinPoints, core.LeaderMinPoints, nowArg()).Slice()
	if err != nil {
		return false, core.PointsChange{}, scriptErr("award badge", err)
	}
	if len(res) != 4 {
		return false, core.PointsChange{}, errors.New("unexpected result from award badge script")
	}
	added, _ := res[0].(int64)
	total, prev, level, err := parseChange(res[1:])
	if err != nil {
		return false, core.PointsChange{}, err
	}
	if added == 0 {
		return false, core.PointsChange{}, nil
	}
	return true, core.PointsChange{Delta: reward, Total: total, Previous: prev, Level: level}, nil
}

func parseChange(res []interface{}) (int64, core.Level, core.Level, error) {
	if len(res) != 3 {
		return 0, "", "", errors.New("unexpected result type from Redis script")
	}
	total, ok := res[0].(int64)
	if !ok {
		return 0, "", "", errors.New("unexpected result type from Redis script")
	}
	prev, _ := res[1].(string)
	level, _ := res[2].(string)
	return total, core.Level(prev), core.Level(level), nil
}

// RecordStreak stores snap keeping the longest value monotone.
func (s *Store) RecordStreak(ctx context.Context, id core.UserID, c core.StreakCategory, snap core.StreakSnapshot) (core.StreakSnapshot, error) {
	res, err := recordStreakScript.Run(ctx, s.client, []string{profileKey(id), streakKey(id, c)},
		snap.Current, snap.Longest, snap.LastActivity.UTC().UnixNano(), nowArg()).Int64Slice()
	if err != nil {
		return core.StreakSnapshot{}, scriptErr("record streak", err)
	}
	if len(res) != 2 {
		return core.StreakSnapshot{}, errors.New("unexpected result from record streak script")
	}
	return core.StreakSnapshot{Current: int(res[0]), Longest: int(res[1]), LastActivity: snap.LastActivity.UTC()}, nil
}

type cachedState struct {
	Rev  int64     `json:"rev"`
	User core.User `json:"user"`
}

// GetUser serves the cached document when its rev is current and rebuilds
// it from the individual keys otherwise.
func (s *Store) GetUser(ctx context.Context, id core.UserID) (core.User, error) {
	pipe := s.client.Pipeline()
	cached := pipe.Get(ctx, stateKey(id))
	rev := pipe.HGet(ctx, profileKey(id), "rev")
	_, _ = pipe.Exec(ctx)

	liveRev, err := rev.Int64()
	if errors.Is(err, redis.Nil) {
		return core.User{}, core.ErrUserNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("failed to read profile: %w", err)
	}
	if data, err := cached.Bytes(); err == nil {
		var st cachedState
		if json.Unmarshal(data, &st) == nil && st.Rev == liveRev {
			return st.User, nil
		}
	}

	u, builtRev, err := s.buildUser(ctx, id)
	if err != nil {
		return core.User{}, err
	}
	if data, err := json.Marshal(cachedState{Rev: builtRev, User: u}); err == nil {
		_ = s.client.Set(ctx, stateKey(id), data, s.ttl).Err()
	}
	return u, nil
}

func (s *Store) buildUser(ctx context.Context, id core.UserID) (core.User, int64, error) {
	categories := core.StreakCategories()
	pipe := s.client.Pipeline()
	profile := pipe.HGetAll(ctx, profileKey(id))
	badges := pipe.SMembers(ctx, badgesKey(id))
	streaks := make([]*redis.MapStringStringCmd, len(categories))
	for i, c := range categories {
		streaks[i] = pipe.HGetAll(ctx, streakKey(id, c))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return core.User{}, 0, fmt.Errorf("failed to load user: %w", err)
	}

	fields := profile.Val()
	if len(fields) == 0 {
		return core.User{}, 0, core.ErrUserNotFound
	}
	u := core.NewUser(id, unixNano(fields["created"]))
	u.Points, _ = strconv.ParseInt(fields["points"], 10, 64)
	u.Level = core.Level(fields["level"])
	u.Updated = unixNano(fields["updated"])
	for _, b := range badges.Val() {
		u.Badges[core.BadgeCode(b)] = struct{}{}
	}
	for i, c := range categories {
		h := streaks[i].Val()
		if len(h) == 0 {
			continue
		}
		cur, _ := strconv.Atoi(h["current"])
		longest, _ := strconv.Atoi(h["longest"])
		u.Streaks[c] = core.StreakSnapshot{Current: cur, Longest: longest, LastActivity: unixNano(h["last"])}
	}
	rev, _ := strconv.ParseInt(fields["rev"], 10, 64)
	return u, rev, nil
}

func unixNano(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Append adds ev to the user's activity sorted set.
func (s *Store) Append(ctx context.Context, ev core.ActivityEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = s.client.ZAdd(ctx, activityKey(ev.UserID), redis.Z{
		Score:  float64(ev.Time.UnixMilli()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

// Query reads the time window from the sorted set and filters kinds client side.
func (s *Store) Query(ctx context.Context, q core.ActivityQuery) ([]core.ActivityEvent, error) {
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !q.From.IsZero() {
		rng.Min = strconv.FormatInt(q.From.UnixMilli(), 10)
	}
	if !q.To.IsZero() {
		rng.Max = strconv.FormatInt(q.To.UnixMilli(), 10)
	}
	raw, err := s.client.ZRangeByScore(ctx, activityKey(q.UserID), rng).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	out := make([]core.ActivityEvent, 0, len(raw))
	for _, r := range raw {
		var ev core.ActivityEvent
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode activity event: %w", err)
		}
		if q.Matches(ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}
