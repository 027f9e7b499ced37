package db

import (
	"context"
	"database/sql"

	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

const canonColumns = `id, workspace_id, content, raw_input, pillars_json, embedding, created_at`

// InsertCanon stores a new Canon. Canons are never updated.
func InsertCanon(ctx context.Context, q Querier, c *model.Canon) error {
	pillars, err := toNullJSON(c.Pillars)
	if err != nil {
		return errors.NewInternal(err)
	}
	rawInput := sql.NullString{String: c.RawInput, Valid: c.RawInput != ""}

	_, err = q.ExecContext(ctx, `
		INSERT INTO canons (`+canonColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.WorkspaceID, c.Content, rawInput, pillars, EncodeVector(c.Embedding), c.CreatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// LatestCanon returns the workspace's most recently created Canon, or nil
// when the workspace has none.
func LatestCanon(ctx context.Context, q Querier, workspaceID string) (*model.Canon, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+canonColumns+`
		FROM canons
		WHERE workspace_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, workspaceID)
	c, err := scanCanon(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c, nil
}

// GetCanon retrieves one Canon within a workspace.
func GetCanon(ctx context.Context, q Querier, workspaceID, id string) (*model.Canon, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+canonColumns+`
		FROM canons
		WHERE id = ? AND workspace_id = ?
	`, id, workspaceID)
	c, err := scanCanon(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("canon", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c, nil
}

func scanCanon(row rowScanner) (*model.Canon, error) {
	var (
		c         model.Canon
		rawInput  sql.NullString
		pillars   sql.NullString
		embedding []byte
	)
	if err := row.Scan(&c.ID, &c.WorkspaceID, &c.Content, &rawInput, &pillars, &embedding, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.RawInput = rawInput.String

	var err error
	if c.Pillars, err = fromNullJSON[model.Pillar](pillars); err != nil {
		return nil, err
	}
	if c.Embedding, err = DecodeVector(embedding); err != nil {
		return nil, err
	}
	return &c, nil
}
