package db

import (
	"context"
	"database/sql"

	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

// InsertUsageEvent records the token cost of one provider call.
func InsertUsageEvent(ctx context.Context, q Querier, e *model.UsageEvent) error {
	modelName := sql.NullString{String: e.Model, Valid: e.Model != ""}
	_, err := q.ExecContext(ctx, `
		INSERT INTO usage_events (id, user_id, workspace_id, operation, model, input_tokens, output_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, e.WorkspaceID, e.Operation, modelName, e.InputTokens, e.OutputTokens, e.CreatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// SumTokensSince totals input plus output tokens a user has spent since the
// given Unix time.
func SumTokensSince(ctx context.Context, q Querier, userID string, since int64) (int64, error) {
	var total int64
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(input_tokens + output_tokens), 0)
		FROM usage_events
		WHERE user_id = ? AND created_at >= ?
	`, userID, since).Scan(&total)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return total, nil
}
