package core

import "fmt"

// CriteriaKind is the closed set of predicates a badge can use.
type CriteriaKind string

const (
	CriteriaSpecificAction       CriteriaKind = "specific-action"
	CriteriaRatingCount          CriteriaKind = "rating-count"
	CriteriaLongReviewCount      CriteriaKind = "long-review-count"
	CriteriaEvidenceCount        CriteriaKind = "evidence-count"
	CriteriaCampaignCount        CriteriaKind = "campaign-count"
	CriteriaCampaignSupportCount CriteriaKind = "campaign-support-count"
	CriteriaUpvoteCount          CriteriaKind = "upvote-count"
	CriteriaModuleCompletion     CriteriaKind = "module-completion"
	CriteriaCategoryCompletion   CriteriaKind = "category-completion"
	CriteriaQuizScore            CriteriaKind = "quiz-score"
	CriteriaLevelReached         CriteriaKind = "level-reached"
	CriteriaCivicStreak          CriteriaKind = "civic-streak"
	CriteriaLearningStreak       CriteriaKind = "learning-streak"
)

// LongReviewChars is the review length from which a rating counts toward
// long-review-count.
const LongReviewChars = 200

// CriteriaKinds lists every supported criteria kind.
func CriteriaKinds() []CriteriaKind {
	return []CriteriaKind{
		CriteriaSpecificAction, CriteriaRatingCount, CriteriaLongReviewCount,
		CriteriaEvidenceCount, CriteriaCampaignCount, CriteriaCampaignSupportCount,
		CriteriaUpvoteCount, CriteriaModuleCompletion, CriteriaCategoryCompletion,
		CriteriaQuizScore, CriteriaLevelReached, CriteriaCivicStreak, CriteriaLearningStreak,
	}
}

// Valid reports whether c is a known criteria kind.
func (c CriteriaKind) Valid() bool {
	for _, k := range CriteriaKinds() {
		if k == c {
			return true
		}
	}
	return false
}

// BadgeDefinition is immutable reference data read from the badge catalog.
type BadgeDefinition struct {
	Code        BadgeCode    `json:"code" yaml:"code" validate:"required"`
	Name        string       `json:"name" yaml:"name" validate:"required"`
	Description string       `json:"description" yaml:"description"`
	Criteria    CriteriaKind `json:"criteria" yaml:"criteria" validate:"required"`
	Threshold   int          `json:"threshold" yaml:"threshold" validate:"gte=1"`
	// SpecificValue discriminates criteria such as specific-action (an action
	// name), module-completion (a module id), category-completion (a category)
	// or level-reached (a level).
	SpecificValue string `json:"specific_value,omitempty" yaml:"specific_value"`
	PointReward   int64  `json:"point_reward" yaml:"point_reward" validate:"gte=0"`
	UnlockText    string `json:"unlock_text,omitempty" yaml:"unlock_text"`
}

// Validate checks the cross-field rules a struct tag cannot express.
func (b BadgeDefinition) Validate() error {
	if err := ValidateBadgeCode(b.Code); err != nil {
		return fmt.Errorf("badge %q: %w", b.Code, err)
	}
	if !b.Criteria.Valid() {
		return fmt.Errorf("badge %q: unknown criteria %q", b.Code, b.Criteria)
	}
	if b.Threshold < 1 {
		return fmt.Errorf("badge %q: threshold must be >= 1", b.Code)
	}
	switch b.Criteria {
	case CriteriaSpecificAction:
		// "unspecified" would match every unknown action name.
		if k, ok := ParseActionKind(b.SpecificValue); !ok || k == ActionUnspecified {
			return fmt.Errorf("badge %q: specific-action needs a known action, got %q", b.Code, b.SpecificValue)
		}
	case CriteriaCategoryCompletion:
		if b.SpecificValue == "" {
			return fmt.Errorf("badge %q: category-completion needs a category", b.Code)
		}
	case CriteriaLevelReached:
		if _, err := ParseLevel(b.SpecificValue); err != nil {
			return fmt.Errorf("badge %q: %w", b.Code, err)
		}
	}
	return nil
}
