package engine

import (
	"context"
	"fmt"

	"impactkit/core"
)

// ActivityContributions answers contribution counts from the activity log,
// so count-based badges work on stores that keep no collaborator tables.
// Questions the log cannot answer (review length, module categories, quiz
// scores) go to rest.
type ActivityContributions struct {
	log  ActivityLog
	rest Contributions
}

// NewActivityContributions reads counts from log; rest may be nil.
func NewActivityContributions(log ActivityLog, rest Contributions) *ActivityContributions {
	if rest == nil {
		rest = noContributions{}
	}
	return &ActivityContributions{log: log, rest: rest}
}

func (a *ActivityContributions) events(ctx context.Context, user core.UserID, kind core.ActionKind) ([]core.ActivityEvent, error) {
	events, err := a.log.Query(ctx, core.ActivityQuery{UserID: user, Kinds: []core.ActionKind{kind}})
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", kind, err)
	}
	return events, nil
}

func (a *ActivityContributions) count(ctx context.Context, user core.UserID, kind core.ActionKind) (int, error) {
	events, err := a.events(ctx, user, kind)
	return len(events), err
}

func (a *ActivityContributions) CountRatings(ctx context.Context, u core.UserID) (int, error) {
	return a.count(ctx, u, core.ActionRateOfficial)
}

func (a *ActivityContributions) CountLongReviews(ctx context.Context, u core.UserID) (int, error) {
	return a.rest.CountLongReviews(ctx, u)
}

func (a *ActivityContributions) CountEvidence(ctx context.Context, u core.UserID) (int, error) {
	return a.count(ctx, u, core.ActionSubmitEvidence)
}

func (a *ActivityContributions) CountCampaigns(ctx context.Context, u core.UserID) (int, error) {
	return a.count(ctx, u, core.ActionCreateCampaign)
}

func (a *ActivityContributions) CountCampaignSupports(ctx context.Context, u core.UserID) (int, error) {
	return a.count(ctx, u, core.ActionSupportCampaign)
}

func (a *ActivityContributions) CountUpvotes(ctx context.Context, u core.UserID) (int, error) {
	return a.count(ctx, u, core.ActionReceiveUpvote)
}

// CountCompletedModules counts distinct module ids; completions logged
// without an entity id count once each.
func (a *ActivityContributions) CountCompletedModules(ctx context.Context, u core.UserID) (int, error) {
	events, err := a.events(ctx, u, core.ActionCompleteModule)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(events))
	n := 0
	for _, ev := range events {
		if ev.EntityID == "" {
			n++
			continue
		}
		if _, dup := seen[ev.EntityID]; !dup {
			seen[ev.EntityID] = struct{}{}
			n++
		}
	}
	return n, nil
}

func (a *ActivityContributions) ModuleCompleted(ctx context.Context, u core.UserID, moduleID string) (bool, error) {
	events, err := a.events(ctx, u, core.ActionCompleteModule)
	if err != nil {
		return false, err
	}
	for _, ev := range events {
		if ev.EntityID == moduleID {
			return true, nil
		}
	}
	return false, nil
}

func (a *ActivityContributions) CategoryProgress(ctx context.Context, u core.UserID, category string) (int, int, error) {
	return a.rest.CategoryProgress(ctx, u, category)
}

func (a *ActivityContributions) QuizResults(ctx context.Context, u core.UserID) ([]core.QuizResult, error) {
	return a.rest.QuizResults(ctx, u)
}
