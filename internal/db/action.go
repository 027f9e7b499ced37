package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

const actionColumns = `id, workspace_id, user_id, artifact_id, goal_id, title, status,
	extracted_status, priority, goal_alignment_score, goal_pillar, position, created_at, updated_at`

// ActionFilter narrows ListActions. Zero values match everything.
type ActionFilter struct {
	WorkspaceID string
	UserID      string
	Status      model.ActionStatus
	Since       int64
	Limit       int
	Offset      int
}

// InsertAction stores one extracted action.
func InsertAction(ctx context.Context, q Querier, a *model.Action) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO actions (`+actionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.WorkspaceID, a.UserID, a.ArtifactID, toNullString(a.GoalID), a.Title, string(a.Status),
		string(a.ExtractedStatus), string(a.Priority), toNullFloat64(a.GoalAlignmentScore), toNullString(a.GoalPillar),
		a.Position, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetAction retrieves an action by id within a workspace.
func GetAction(ctx context.Context, q Querier, workspaceID, id string) (*model.Action, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE id = ? AND workspace_id = ?
	`, id, workspaceID)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("action", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return a, nil
}

// UpdateActionStatus sets the human-managed status of an action.
func UpdateActionStatus(ctx context.Context, q Querier, workspaceID, id string, status model.ActionStatus, at int64) error {
	result, err := q.ExecContext(ctx, `
		UPDATE actions SET status = ?, updated_at = ?
		WHERE id = ? AND workspace_id = ?
	`, string(status), at, id, workspaceID)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound("action", id)
	}
	return nil
}

// ListActions returns actions matching f, newest first, plus the total
// count before pagination.
func ListActions(ctx context.Context, q Querier, f ActionFilter) ([]*model.Action, int, error) {
	where := []string{"workspace_id = ?"}
	args := []any{f.WorkspaceID}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Since > 0 {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM actions WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE `+clause+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []*model.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return out, total, nil
}

func scanAction(row rowScanner) (*model.Action, error) {
	var (
		a          model.Action
		goalID     sql.NullString
		score      sql.NullFloat64
		goalPillar sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.WorkspaceID, &a.UserID, &a.ArtifactID, &goalID, &a.Title, &a.Status,
		&a.ExtractedStatus, &a.Priority, &score, &goalPillar, &a.Position, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.GoalID = fromNullString(goalID)
	a.GoalAlignmentScore = fromNullFloat64(score)
	a.GoalPillar = fromNullString(goalPillar)
	return &a, nil
}
