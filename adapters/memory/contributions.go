package memory

import (
	"context"
	"sync"

	"impactkit/core"
)

// Contributions is an in-memory stand-in for the rating, evidence, campaign,
// learning and forum repositories the badge evaluator reads from.
type Contributions struct {
	mu          sync.RWMutex
	ratings     map[core.UserID]int
	longReviews map[core.UserID]int
	evidence    map[core.UserID]int
	campaigns   map[core.UserID]int
	supports    map[core.UserID]int
	upvotes     map[core.UserID]int
	completed   map[core.UserID]map[string]struct{}
	modules     map[string]string // module id -> category
	quizzes     map[core.UserID][]core.QuizResult
}

func NewContributions() *Contributions {
	return &Contributions{
		ratings:     map[core.UserID]int{},
		longReviews: map[core.UserID]int{},
		evidence:    map[core.UserID]int{},
		campaigns:   map[core.UserID]int{},
		supports:    map[core.UserID]int{},
		upvotes:     map[core.UserID]int{},
		completed:   map[core.UserID]map[string]struct{}{},
		modules:     map[string]string{},
		quizzes:     map[core.UserID][]core.QuizResult{},
	}
}

// AddRating records a rating; reviews of at least core.LongReviewChars count as long.
func (c *Contributions) AddRating(user core.UserID, reviewChars int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ratings[user]++
	if reviewChars >= core.LongReviewChars {
		c.longReviews[user]++
	}
}

func (c *Contributions) AddEvidence(user core.UserID) { c.inc(c.evidence, user, 1) }

func (c *Contributions) AddCampaign(user core.UserID) { c.inc(c.campaigns, user, 1) }

func (c *Contributions) AddCampaignSupport(user core.UserID) { c.inc(c.supports, user, 1) }

func (c *Contributions) AddUpvotes(user core.UserID, n int) { c.inc(c.upvotes, user, n) }

// DefineModule registers a learning module under category.
func (c *Contributions) DefineModule(moduleID, category string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[moduleID] = category
}

func (c *Contributions) CompleteModule(user core.UserID, moduleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completed[user] == nil {
		c.completed[user] = map[string]struct{}{}
	}
	c.completed[user][moduleID] = struct{}{}
}

func (c *Contributions) AddQuizResult(user core.UserID, r core.QuizResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quizzes[user] = append(c.quizzes[user], r)
}

func (c *Contributions) inc(m map[core.UserID]int, user core.UserID, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m[user] += n
}

func (c *Contributions) get(m map[core.UserID]int, user core.UserID) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return m[user], nil
}

func (c *Contributions) CountRatings(_ context.Context, u core.UserID) (int, error) {
	return c.get(c.ratings, u)
}

func (c *Contributions) CountLongReviews(_ context.Context, u core.UserID) (int, error) {
	return c.get(c.longReviews, u)
}

func (c *Contributions) CountEvidence(_ context.Context, u core.UserID) (int, error) {
	return c.get(c.evidence, u)
}

func (c *Contributions) CountCampaigns(_ context.Context, u core.UserID) (int, error) {
	return c.get(c.campaigns, u)
}

func (c *Contributions) CountCampaignSupports(_ context.Context, u core.UserID) (int, error) {
	return c.get(c.supports, u)
}

func (c *Contributions) CountUpvotes(_ context.Context, u core.UserID) (int, error) {
	return c.get(c.upvotes, u)
}

func (c *Contributions) CountCompletedModules(_ context.Context, u core.UserID) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.completed[u]), nil
}

func (c *Contributions) ModuleCompleted(_ context.Context, u core.UserID, moduleID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.completed[u][moduleID]
	return ok, nil
}

func (c *Contributions) CategoryProgress(_ context.Context, u core.UserID, category string) (int, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var done, total int
	for id, cat := range c.modules {
		if cat != category {
			continue
		}
		total++
		if _, ok := c.completed[u][id]; ok {
			done++
		}
	}
	return done, total, nil
}

func (c *Contributions) QuizResults(_ context.Context, u core.UserID) ([]core.QuizResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]core.QuizResult(nil), c.quizzes[u]...), nil
}
