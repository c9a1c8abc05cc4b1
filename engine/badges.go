package engine

import (
	"context"
	"fmt"
	"log/slog"

	"impactkit/core"
)

// BadgeAward is one badge granted during an evaluation.
type BadgeAward struct {
	Badge  core.BadgeDefinition `json:"badge"`
	Change core.PointsChange    `json:"change"`
}

// BadgeEvaluator checks badge criteria against a user's live state.
type BadgeEvaluator struct {
	catalog       BadgeCatalog
	contributions Contributions
	users         UserStore
	logger        *slog.Logger
}

func NewBadgeEvaluator(catalog BadgeCatalog, contributions Contributions, users UserStore, logger *slog.Logger) *BadgeEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if contributions == nil {
		contributions = noContributions{}
	}
	return &BadgeEvaluator{catalog: catalog, contributions: contributions, users: users, logger: logger}
}

// Evaluate awards every not-yet-owned badge whose criteria user now meets.
// A failure on one badge is logged and skipped; only a catalog failure
// aborts the evaluation.
func (b *BadgeEvaluator) Evaluate(ctx context.Context, user core.User, trigger core.ActionKind) ([]BadgeAward, error) {
	defs, err := b.catalog.Badges(ctx)
	if err != nil {
		return nil, fmt.Errorf("load badge catalog: %w", err)
	}
	ec := newCriteriaContext(b.contributions, user, trigger)
	var awards []BadgeAward
	for _, def := range defs {
		if user.HasBadge(def.Code) {
			continue
		}
		ok, err := ec.eligible(ctx, def)
		if err != nil {
			b.logger.WarnContext(ctx, "badge evaluation failed",
				"user_id", user.ID, "badge", def.Code, "criteria", def.Criteria, "error", err)
			continue
		}
		if !ok {
			continue
		}
		added, change, err := b.users.AwardBadge(ctx, user.ID, def.Code, def.PointReward)
		if err != nil {
			b.logger.WarnContext(ctx, "badge award failed",
				"user_id", user.ID, "badge", def.Code, "error", err)
			continue
		}
		if !added {
			// a concurrent evaluation granted it first
			continue
		}
		ec.level = change.Level
		awards = append(awards, BadgeAward{Badge: def, Change: change})
	}
	return awards, nil
}

// criteriaContext is built per evaluation and memoises collaborator reads so
// several badges sharing a criteria kind cost one query.
type criteriaContext struct {
	src     Contributions
	user    core.User
	trigger core.ActionKind
	level   core.Level
	counts  map[core.CriteriaKind]int
	quizzes []core.QuizResult
	quizOK  bool
}

func newCriteriaContext(src Contributions, user core.User, trigger core.ActionKind) *criteriaContext {
	return &criteriaContext{
		src:     src,
		user:    user,
		trigger: trigger,
		level:   user.Level,
		counts:  map[core.CriteriaKind]int{},
	}
}

func (c *criteriaContext) eligible(ctx context.Context, def core.BadgeDefinition) (bool, error) {
	switch def.Criteria {
	case core.CriteriaSpecificAction:
		want, ok := core.ParseActionKind(def.SpecificValue)
		return ok && want != core.ActionUnspecified && c.trigger == want, nil
	case core.CriteriaRatingCount, core.CriteriaLongReviewCount, core.CriteriaEvidenceCount,
		core.CriteriaCampaignCount, core.CriteriaCampaignSupportCount, core.CriteriaUpvoteCount:
		n, err := c.count(ctx, def.Criteria)
		return n >= def.Threshold, err
	case core.CriteriaModuleCompletion:
		if def.SpecificValue != "" {
			return c.src.ModuleCompleted(ctx, c.user.ID, def.SpecificValue)
		}
		n, err := c.count(ctx, def.Criteria)
		return n >= def.Threshold, err
	case core.CriteriaCategoryCompletion:
		done, total, err := c.src.CategoryProgress(ctx, c.user.ID, def.SpecificValue)
		if err != nil {
			return false, err
		}
		return total > 0 && done >= total, nil
	case core.CriteriaQuizScore:
		results, err := c.quizResults(ctx)
		if err != nil {
			return false, err
		}
		for _, r := range results {
			if r.Completed && r.Score >= def.Threshold {
				return true, nil
			}
		}
		return false, nil
	case core.CriteriaLevelReached:
		want, err := core.ParseLevel(def.SpecificValue)
		if err != nil {
			return false, err
		}
		return c.level.AtLeast(want), nil
	case core.CriteriaCivicStreak:
		return c.user.Streaks[core.StreakCivic].Longest >= def.Threshold, nil
	case core.CriteriaLearningStreak:
		return c.user.Streaks[core.StreakLearning].Longest >= def.Threshold, nil
	}
	return false, fmt.Errorf("unsupported criteria %q", def.Criteria)
}

func (c *criteriaContext) count(ctx context.Context, kind core.CriteriaKind) (int, error) {
	if n, ok := c.counts[kind]; ok {
		return n, nil
	}
	var (
		n   int
		err error
	)
	switch kind {
	case core.CriteriaRatingCount:
		n, err = c.src.CountRatings(ctx, c.user.ID)
	case core.CriteriaLongReviewCount:
		n, err = c.src.CountLongReviews(ctx, c.user.ID)
	case core.CriteriaEvidenceCount:
		n, err = c.src.CountEvidence(ctx, c.user.ID)
	case core.CriteriaCampaignCount:
		n, err = c.src.CountCampaigns(ctx, c.user.ID)
	case core.CriteriaCampaignSupportCount:
		n, err = c.src.CountCampaignSupports(ctx, c.user.ID)
	case core.CriteriaUpvoteCount:
		n, err = c.src.CountUpvotes(ctx, c.user.ID)
	case core.CriteriaModuleCompletion:
		n, err = c.src.CountCompletedModules(ctx, c.user.ID)
	default:
		return 0, fmt.Errorf("criteria %q has no count", kind)
	}
	if err != nil {
		return 0, err
	}
	c.counts[kind] = n
	return n, nil
}

func (c *criteriaContext) quizResults(ctx context.Context) ([]core.QuizResult, error) {
	if c.quizOK {
		return c.quizzes, nil
	}
	res, err := c.src.QuizResults(ctx, c.user.ID)
	if err != nil {
		return nil, err
	}
	c.quizzes, c.quizOK = res, true
	return res, nil
}

// noContributions reports nothing; count-based badges never fire without a
// real collaborator.
type noContributions struct{}

func (noContributions) CountRatings(context.Context, core.UserID) (int, error)          { return 0, nil }
func (noContributions) CountLongReviews(context.Context, core.UserID) (int, error)      { return 0, nil }
func (noContributions) CountEvidence(context.Context, core.UserID) (int, error)         { return 0, nil }
func (noContributions) CountCampaigns(context.Context, core.UserID) (int, error)        { return 0, nil }
func (noContributions) CountCampaignSupports(context.Context, core.UserID) (int, error) { return 0, nil }
func (noContributions) CountUpvotes(context.Context, core.UserID) (int, error)          { return 0, nil }
func (noContributions) CountCompletedModules(context.Context, core.UserID) (int, error) { return 0, nil }
func (noContributions) ModuleCompleted(context.Context, core.UserID, string) (bool, error) {
	return false, nil
}
func (noContributions) CategoryProgress(context.Context, core.UserID, string) (int, int, error) {
	return 0, 0, nil
}
func (noContributions) QuizResults(context.Context, core.UserID) ([]core.QuizResult, error) {
	return nil, nil
}
