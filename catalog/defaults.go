package catalog

import "impactkit/core"

// Defaults is the built-in civic badge set used when no catalog file is configured.
func Defaults() []core.BadgeDefinition {
	return []core.BadgeDefinition{
		{Code: "first-rating", Name: "First Voice", Description: "Rated an official for the first time",
			Criteria: core.CriteriaSpecificAction, Threshold: 1, SpecificValue: "rate-official", PointReward: 10,
			UnlockText: "Your first rating is in. Officials are listening."},
		{Code: "first-evidence", Name: "Fact Finder", Description: "Submitted the first piece of evidence",
			Criteria: core.CriteriaSpecificAction, Threshold: 1, SpecificValue: "submit-evidence", PointReward: 15},
		{Code: "first-campaign", Name: "Organizer", Description: "Started a first campaign",
			Criteria: core.CriteriaSpecificAction, Threshold: 1, SpecificValue: "create-campaign", PointReward: 20},
		{Code: "first-discussion", Name: "Town Crier", Description: "Opened a first forum discussion",
			Criteria: core.CriteriaSpecificAction, Threshold: 1, SpecificValue: "post-discussion", PointReward: 5},
		{Code: "active-rater", Name: "Active Rater", Description: "Rated officials 10 times",
			Criteria: core.CriteriaRatingCount, Threshold: 10, PointReward: 25},
		{Code: "thoughtful-reviewer", Name: "Thoughtful Reviewer", Description: "Wrote 5 long-form reviews",
			Criteria: core.CriteriaLongReviewCount, Threshold: 5, PointReward: 30},
		{Code: "evidence-collector", Name: "Evidence Collector", Description: "Submitted 10 pieces of evidence",
			Criteria: core.CriteriaEvidenceCount, Threshold: 10, PointReward: 40},
		{Code: "campaigner", Name: "Campaigner", Description: "Created 3 campaigns",
			Criteria: core.CriteriaCampaignCount, Threshold: 3, PointReward: 50},
		{Code: "supporter", Name: "Supporter", Description: "Supported 10 campaigns",
			Criteria: core.CriteriaCampaignSupportCount, Threshold: 10, PointReward: 20},
		{Code: "community-favorite", Name: "Community Favorite", Description: "Received 50 upvotes",
			Criteria: core.CriteriaUpvoteCount, Threshold: 50, PointReward: 30},
		{Code: "learner", Name: "Learner", Description: "Completed 5 learning modules",
			Criteria: core.CriteriaModuleCompletion, Threshold: 5, PointReward: 25},
		{Code: "civics-101", Name: "Civics 101", Description: "Completed the civics basics module",
			Criteria: core.CriteriaModuleCompletion, Threshold: 1, SpecificValue: "civics-basics", PointReward: 10},
		{Code: "budget-scholar", Name: "Budget Scholar", Description: "Completed every public budget module",
			Criteria: core.CriteriaCategoryCompletion, Threshold: 1, SpecificValue: "public-budget", PointReward: 40},
		{Code: "quiz-ace", Name: "Quiz Ace", Description: "Scored 90 or more on a quiz",
			Criteria: core.CriteriaQuizScore, Threshold: 90, PointReward: 15},
		{Code: "weekly-regular", Name: "Weekly Regular", Description: "Stayed civically active 4 weeks in a row",
			Criteria: core.CriteriaCivicStreak, Threshold: 4, PointReward: 25},
		{Code: "daily-learner", Name: "Daily Learner", Description: "Learned 7 days in a row",
			Criteria: core.CriteriaLearningStreak, Threshold: 7, PointReward: 25},
		{Code: "advocate", Name: "Advocate", Description: "Reached the advocate level",
			Criteria: core.CriteriaLevelReached, Threshold: 1, SpecificValue: "advocate", PointReward: 0},
		{Code: "civic-leader", Name: "Civic Leader", Description: "Reached the leader level",
			Criteria: core.CriteriaLevelReached, Threshold: 1, SpecificValue: "leader", PointReward: 0},
	}
}

// Default returns a catalog over Defaults.
func Default() *Static {
	return &Static{defs: Defaults()}
}
