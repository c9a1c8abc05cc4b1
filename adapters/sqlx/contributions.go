package sqlx

import (
	"context"
	"fmt"

	"impactkit/core"
)

func (s *Store) count(ctx context.Context, what, query string, args ...interface{}) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.q(query), args...); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", what, err)
	}
	return n, nil
}

func (s *Store) CountRatings(ctx context.Context, u core.UserID) (int, error) {
	return s.count(ctx, "ratings", `SELECT COUNT(*) FROM ratings WHERE user_id = ?`, u)
}

func (s *Store) CountLongReviews(ctx context.Context, u core.UserID) (int, error) {
	return s.count(ctx, "long reviews", `SELECT COUNT(*) FROM ratings WHERE user_id = ? AND review_chars >= ?`, u, core.LongReviewChars)
}

func (s *Store) CountEvidence(ctx context.Context, u core.UserID) (int, error) {
	return s.count(ctx, "evidence", `SELECT COUNT(*) FROM evidence WHERE user_id = ?`, u)
}

func (s *Store) CountCampaigns(ctx context.Context, u core.UserID) (int, error) {
	return s.count(ctx, "campaigns", `SELECT COUNT(*) FROM campaigns WHERE creator_id = ?`, u)
}

func (s *Store) CountCampaignSupports(ctx context.Context, u core.UserID) (int, error) {
	return s.count(ctx, "campaign supports", `SELECT COUNT(*) FROM campaign_supporters WHERE user_id = ?`, u)
}

func (s *Store) CountUpvotes(ctx context.Context, u core.UserID) (int, error) {
	return s.count(ctx, "upvotes", `SELECT COUNT(*) FROM upvotes WHERE recipient_id = ?`, u)
}

func (s *Store) CountCompletedModules(ctx context.Context, u core.UserID) (int, error) {
	return s.count(ctx, "completed modules", `SELECT COUNT(*) FROM module_progress WHERE user_id = ? AND completed_at IS NOT NULL`, u)
}

func (s *Store) ModuleCompleted(ctx context.Context, u core.UserID, moduleID string) (bool, error) {
	n, err := s.count(ctx, "module completion",
		`SELECT COUNT(*) FROM module_progress WHERE user_id = ? AND module_id = ? AND completed_at IS NOT NULL`, u, moduleID)
	return n > 0, err
}

// CategoryProgress counts completed modules against all modules of category.
func (s *Store) CategoryProgress(ctx context.Context, u core.UserID, category string) (int, int, error) {
	var row struct {
		Total int `db:"total"`
		Done  int `db:"done"`
	}
	err := s.db.GetContext(ctx, &row, s.q(`SELECT COUNT(*) AS total, COUNT(p.completed_at) AS done
		FROM learning_modules m
		LEFT JOIN module_progress p ON p.module_id = m.module_id AND p.user_id = ?
		WHERE m.category = ?`), u, category)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read category progress: %w", err)
	}
	return row.Done, row.Total, nil
}

func (s *Store) QuizResults(ctx context.Context, u core.UserID) ([]core.QuizResult, error) {
	var rows []struct {
		ModuleID  string `db:"module_id"`
		Score     int    `db:"score"`
		Completed bool   `db:"completed"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.q(`SELECT module_id, score, completed FROM quiz_results WHERE user_id = ?`), u); err != nil {
		return nil, fmt.Errorf("failed to read quiz results: %w", err)
	}
	out := make([]core.QuizResult, len(rows))
	for i, r := range rows {
		out[i] = core.QuizResult{ModuleID: r.ModuleID, Score: r.Score, Completed: r.Completed}
	}
	return out, nil
}
