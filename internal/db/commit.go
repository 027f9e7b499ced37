package db

import (
	"context"
	"database/sql"

	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

// InsertCommit stores a synthesis commit with its consumed signals and
// document changes. Run it inside a transaction.
func InsertCommit(ctx context.Context, q Querier, c *model.Commit) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO synthesis_commits (id, workspace_id, parent_id, summary, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.WorkspaceID, toNullString(c.ParentID), c.Summary, c.CreatedBy, c.CreatedAt); err != nil {
		return errors.NewInternal(err)
	}
	for _, signalID := range c.SignalIDs {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO synthesis_commit_signals (commit_id, signal_id) VALUES (?, ?)
		`, c.ID, signalID); err != nil {
			if isUniqueConstraintError(err) {
				return errors.NewConflict("signal listed twice in commit: " + signalID)
			}
			return errors.NewInternal(err)
		}
	}
	for _, ch := range c.Changes {
		patch := sql.NullString{String: ch.Patch, Valid: ch.Patch != ""}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO synthesis_commit_documents (commit_id, document_id, change, title, patch)
			VALUES (?, ?, ?, ?, ?)
		`, c.ID, ch.DocumentID, ch.Change, ch.Title, patch); err != nil {
			return errors.NewInternal(err)
		}
	}
	return nil
}

// LatestCommit returns the workspace's newest commit, or nil if none exist.
func LatestCommit(ctx context.Context, q Querier, workspaceID string) (*model.Commit, error) {
	c, err := scanCommit(q.QueryRowContext(ctx, `
		SELECT id, workspace_id, parent_id, summary, created_by, created_at
		FROM synthesis_commits
		WHERE workspace_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, workspaceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := attachCommitDetails(ctx, q, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetCommit retrieves a commit with its signals and changes.
func GetCommit(ctx context.Context, q Querier, workspaceID, id string) (*model.Commit, error) {
	c, err := scanCommit(q.QueryRowContext(ctx, `
		SELECT id, workspace_id, parent_id, summary, created_by, created_at
		FROM synthesis_commits
		WHERE id = ? AND workspace_id = ?
	`, id, workspaceID))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("commit", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := attachCommitDetails(ctx, q, c); err != nil {
		return nil, err
	}
	return c, nil
}

func scanCommit(row rowScanner) (*model.Commit, error) {
	var (
		c        model.Commit
		parentID sql.NullString
	)
	if err := row.Scan(&c.ID, &c.WorkspaceID, &parentID, &c.Summary, &c.CreatedBy, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.ParentID = fromNullString(parentID)
	return &c, nil
}

func attachCommitDetails(ctx context.Context, q Querier, c *model.Commit) error {
	rows, err := q.QueryContext(ctx, `
		SELECT signal_id FROM synthesis_commit_signals WHERE commit_id = ? ORDER BY signal_id
	`, c.ID)
	if err != nil {
		return errors.NewInternal(err)
	}
	c.SignalIDs = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return errors.NewInternal(err)
		}
		c.SignalIDs = append(c.SignalIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return errors.NewInternal(err)
	}
	rows.Close()

	rows, err = q.QueryContext(ctx, `
		SELECT document_id, change, title, patch
		FROM synthesis_commit_documents
		WHERE commit_id = ?
		ORDER BY document_id
	`, c.ID)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer rows.Close()
	c.Changes = []model.DocumentChange{}
	for rows.Next() {
		var (
			ch    model.DocumentChange
			patch sql.NullString
		)
		if err := rows.Scan(&ch.DocumentID, &ch.Change, &ch.Title, &patch); err != nil {
			return errors.NewInternal(err)
		}
		ch.Patch = patch.String
		c.Changes = append(c.Changes, ch)
	}
	if err := rows.Err(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}
