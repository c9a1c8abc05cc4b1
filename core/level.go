package core

import "fmt"

// Level is a discrete tier derived purely from cumulative points.
type Level string

const (
	LevelCitizen  Level = "citizen"
	LevelAdvocate Level = "advocate"
	LevelLeader   Level = "leader"
)

// Tier lower bounds in points.
const (
	AdvocateMinPoints int64 = 100
	LeaderMinPoints   int64 = 500
)

var levelOrder = []Level{LevelCitizen, LevelAdvocate, LevelLeader}

var levelFloor = map[Level]int64{
	LevelCitizen:  0,
	LevelAdvocate: AdvocateMinPoints,
	LevelLeader:   LeaderMinPoints,
}

var levelFeatures = map[Level][]string{
	LevelCitizen:  {"rate_officials", "join_discussions", "support_campaigns", "learning_modules"},
	LevelAdvocate: {"submit_evidence", "create_campaigns", "long_form_reviews"},
	LevelLeader:   {"verify_evidence", "moderate_discussions", "featured_profile"},
}

// ResolveLevel maps cumulative points to a tier.
func ResolveLevel(points int64) Level {
	switch {
	case points >= LeaderMinPoints:
		return LevelLeader
	case points >= AdvocateMinPoints:
		return LevelAdvocate
	default:
		return LevelCitizen
	}
}

// ParseLevel validates a level name.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if l.Rank() < 0 {
		return "", fmt.Errorf("unknown level %q", s)
	}
	return l, nil
}

// Rank returns the position of l in citizen < advocate < leader, or -1.
func (l Level) Rank() int {
	for i, v := range levelOrder {
		if v == l {
			return i
		}
	}
	return -1
}

// AtLeast reports whether l is at or above other.
func (l Level) AtLeast(other Level) bool { return l.Rank() >= other.Rank() }

// Next returns the following tier; the top tier is its own successor.
func (l Level) Next() Level {
	r := l.Rank()
	if r < 0 || r+1 >= len(levelOrder) {
		return LevelLeader
	}
	return levelOrder[r+1]
}

// Features lists what reaching l unlocks.
func (l Level) Features() []string {
	return append([]string(nil), levelFeatures[l]...)
}

// LevelProgress reports where a points total sits between two tiers.
type LevelProgress struct {
	Points          int64 `json:"points"`
	CurrentLevel    Level `json:"current_level"`
	NextLevel       Level `json:"next_level"`
	ProgressPercent int   `json:"progress_percent"`
	PointsToNext    int64 `json:"points_to_next"`
}

// NextLevelProgress interpolates linearly between the current tier's floor and
// the next tier's floor. The top tier reports itself as next at 100%.
func NextLevelProgress(points int64) LevelProgress {
	cur := ResolveLevel(points)
	next := cur.Next()
	p := LevelProgress{Points: points, CurrentLevel: cur, NextLevel: next}
	if next == cur {
		p.ProgressPercent = 100
		return p
	}
	lo, hi := levelFloor[cur], levelFloor[next]
	pct := (points - lo) * 100 / (hi - lo)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	p.ProgressPercent = int(pct)
	p.PointsToNext = hi - points
	return p
}
