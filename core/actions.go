package core

import (
	"fmt"
	"math"
	"math/bits"
	"strings"
)

// ActionKind enumerates the closed set of user actions the engine rewards.
type ActionKind uint8

const (
	ActionUnspecified ActionKind = iota
	ActionRateOfficial
	ActionSubmitEvidence
	ActionVerifyEvidence
	ActionCreateCampaign
	ActionSupportCampaign
	ActionStartModule
	ActionCompleteModule
	ActionCompleteQuiz
	ActionReceiveUpvote
	ActionPostComment
	ActionPostDiscussion

	numActionKinds
)

// DefaultPoints is the base value of actions without a dedicated entry.
const DefaultPoints int64 = 5

// DefaultModuleReward applies to complete-module when the caller supplies none.
const DefaultModuleReward int64 = 20

// MaxContextReward is the largest reward a caller may attach to an action.
const MaxContextReward int64 = 10_000

// ActionSpec is one row of the action dispatch table.
type ActionSpec struct {
	Name string
	Base int64
	// UsesContextReward makes ActionContext.Reward override Base when positive.
	UsesContextReward bool
	// Streak is the category this action extends; empty for none.
	Streak StreakCategory
	// AdvocateBonus marks actions boosted at the advocate tier.
	AdvocateBonus bool
}

// actionTable is indexed by ActionKind and must list every kind in order.
var actionTable = [...]ActionSpec{
	ActionUnspecified:     {Name: "unspecified", Base: DefaultPoints},
	ActionRateOfficial:    {Name: "rate-official", Base: 10, Streak: StreakCivic, AdvocateBonus: true},
	ActionSubmitEvidence:  {Name: "submit-evidence", Base: 20, Streak: StreakCivic, AdvocateBonus: true},
	ActionVerifyEvidence:  {Name: "verify-evidence", Base: 30},
	ActionCreateCampaign:  {Name: "create-campaign", Base: 50, Streak: StreakCivic},
	ActionSupportCampaign: {Name: "support-campaign", Base: 10, Streak: StreakCivic},
	ActionStartModule:     {Name: "start-module", Base: DefaultPoints, Streak: StreakLearning},
	ActionCompleteModule:  {Name: "complete-module", Base: DefaultModuleReward, UsesContextReward: true, Streak: StreakLearning},
	ActionCompleteQuiz:    {Name: "complete-quiz", Base: DefaultPoints, Streak: StreakLearning},
	ActionReceiveUpvote:   {Name: "receive-upvote", Base: 2},
	ActionPostComment:     {Name: "post-comment", Base: 5, Streak: StreakCivic},
	ActionPostDiscussion:  {Name: "post-discussion", Base: 5, Streak: StreakCivic},
}

// A kind added to the enum without a table row fails to compile here.
var (
	_ [len(actionTable) - int(numActionKinds)]struct{}
	_ [int(numActionKinds) - len(actionTable)]struct{}
)

var actionByName = func() map[string]ActionKind {
	m := make(map[string]ActionKind, len(actionTable))
	for i, s := range actionTable {
		m[s.Name] = ActionKind(i)
	}
	return m
}()

// ActionKinds returns every known kind except ActionUnspecified.
func ActionKinds() []ActionKind {
	out := make([]ActionKind, 0, len(actionTable)-1)
	for k := ActionKind(1); k < numActionKinds; k++ {
		out = append(out, k)
	}
	return out
}

// ParseActionKind maps a name to its kind. Unknown names resolve to
// ActionUnspecified and ok=false; callers still record them.
func ParseActionKind(s string) (kind ActionKind, ok bool) {
	k, ok := actionByName[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return ActionUnspecified, false
	}
	return k, true
}

// Spec returns the dispatch row for k; out-of-range kinds get the default row.
func (k ActionKind) Spec() ActionSpec {
	if k >= numActionKinds {
		return actionTable[ActionUnspecified]
	}
	return actionTable[k]
}

func (k ActionKind) String() string { return k.Spec().Name }

// BasePoints resolves the base value for k given the caller context.
func (k ActionKind) BasePoints(actx ActionContext) int64 {
	s := k.Spec()
	if s.UsesContextReward && actx.Reward > 0 {
		return actx.Reward
	}
	return s.Base
}

func (k ActionKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *ActionKind) UnmarshalText(b []byte) error {
	*k, _ = ParseActionKind(string(b))
	return nil
}

// ActionsFor lists the kinds that extend a streak category.
func ActionsFor(c StreakCategory) []ActionKind {
	var out []ActionKind
	for _, k := range ActionKinds() {
		if k.Spec().Streak == c {
			out = append(out, k)
		}
	}
	return out
}

// Multiplier is a fixed-point scalar in thousandths (1000 = x1.0).
type Multiplier int64

const (
	MultiplierOne Multiplier = 1000
	scale                    = int64(MultiplierOne)
)

// Float returns m as a float for display.
func (m Multiplier) Float() float64 { return float64(m) / float64(scale) }

func (m Multiplier) String() string { return fmt.Sprintf("x%.2f", m.Float()) }

// Apply computes round(base * m1 * m2 ...) with half-up integer rounding.
// Multipliers must be non-negative; a product that leaves int64 returns
// ErrPointsOverflow.
func Apply(base int64, ms ...Multiplier) (int64, error) {
	neg := base < 0
	if base == math.MinInt64 {
		return 0, ErrPointsOverflow
	}
	num, den := uint64(base), uint64(1)
	if neg {
		num = uint64(-base)
	}
	for _, m := range ms {
		if m < 0 {
			return 0, fmt.Errorf("%w: negative multiplier %d", ErrInvalidAction, m)
		}
		var err error
		if num, err = mul(num, uint64(m)); err != nil {
			return 0, fmt.Errorf("%w: %d %s", err, base, m)
		}
		if den, err = mul(den, uint64(scale)); err != nil {
			return 0, err
		}
	}
	q := num/den + (num%den*2)/den
	if q > math.MaxInt64 {
		return 0, ErrPointsOverflow
	}
	if neg {
		return -int64(q), nil
	}
	return int64(q), nil
}

func mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 || lo > math.MaxInt64 {
		return 0, ErrPointsOverflow
	}
	return lo, nil
}

// LevelBonus returns the tier multiplier applied to k for a user at level l.
func LevelBonus(l Level, k ActionKind) Multiplier {
	switch l {
	case LevelLeader:
		return 1200
	case LevelAdvocate:
		if k.Spec().AdvocateBonus {
			return 1100
		}
	}
	return MultiplierOne
}
