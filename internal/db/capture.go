package db

import (
	"context"
	"database/sql"

	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

// InsertCapture stores a new raw capture.
func InsertCapture(ctx context.Context, q Querier, c *model.Capture) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO captures (id, user_id, workspace_id, content, source, created_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.UserID, c.WorkspaceID, c.Content, c.Source, c.CreatedAt, toNullInt64(c.ProcessedAt))
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetCapture retrieves a capture by id within a workspace.
func GetCapture(ctx context.Context, q Querier, workspaceID, id string) (*model.Capture, error) {
	var (
		c           model.Capture
		processedAt sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, workspace_id, content, source, created_at, processed_at
		FROM captures
		WHERE id = ? AND workspace_id = ?
	`, id, workspaceID).Scan(&c.ID, &c.UserID, &c.WorkspaceID, &c.Content, &c.Source, &c.CreatedAt, &processedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("capture", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	c.ProcessedAt = fromNullInt64(processedAt)
	return &c, nil
}

// MarkCaptureProcessed stamps processed_at. It is the only mutation a
// capture ever receives.
func MarkCaptureProcessed(ctx context.Context, q Querier, id string, at int64) error {
	result, err := q.ExecContext(ctx, `UPDATE captures SET processed_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound("capture", id)
	}
	return nil
}
