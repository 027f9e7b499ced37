package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

// InsertDigest appends a digest. Regenerating a week adds another row.
func InsertDigest(ctx context.Context, q Querier, d *model.Digest) error {
	items, err := json.Marshal(d.Items)
	if err != nil {
		return errors.NewInternal(err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO digests (id, workspace_id, week_start, summary, items_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.ID, d.WorkspaceID, d.WeekStart, d.Summary, string(items), d.CreatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// LatestDigest returns the newest digest for the workspace. When weekStart
// is non-nil only digests for that week are considered.
func LatestDigest(ctx context.Context, q Querier, workspaceID string, weekStart *int64) (*model.Digest, error) {
	query := `
		SELECT id, workspace_id, week_start, summary, items_json, created_at
		FROM digests
		WHERE workspace_id = ?`
	args := []any{workspaceID}
	if weekStart != nil {
		query += ` AND week_start = ?`
		args = append(args, *weekStart)
	}
	query += ` ORDER BY week_start DESC, created_at DESC, id DESC LIMIT 1`

	var (
		d     model.Digest
		items string
	)
	err := q.QueryRowContext(ctx, query, args...).Scan(&d.ID, &d.WorkspaceID, &d.WeekStart, &d.Summary, &items, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("digest", workspaceID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := json.Unmarshal([]byte(items), &d.Items); err != nil {
		return nil, errors.NewInternal(err)
	}
	return &d, nil
}
