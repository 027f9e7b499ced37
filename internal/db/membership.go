package db

import (
	"context"
	"database/sql"

	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

// GetMembership returns the (user, workspace) membership, or nil when the
// user is not a member.
func GetMembership(ctx context.Context, q Querier, userID, workspaceID string) (*model.Membership, error) {
	var (
		m    model.Membership
		last sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
		SELECT user_id, workspace_id, role, last_capture_at, streak, traction, version
		FROM memberships
		WHERE user_id = ? AND workspace_id = ?
	`, userID, workspaceID).Scan(&m.UserID, &m.WorkspaceID, &m.Role, &last, &m.Streak, &m.Traction, &m.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	m.LastCaptureAt = fromNullInt64(last)
	return &m, nil
}

// InsertMembership creates a membership row if none exists. It reports
// whether this call created it.
func InsertMembership(ctx context.Context, q Querier, m *model.Membership) (bool, error) {
	result, err := q.ExecContext(ctx, `
		INSERT INTO memberships (user_id, workspace_id, role, last_capture_at, streak, traction, version)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT (user_id, workspace_id) DO NOTHING
	`, m.UserID, m.WorkspaceID, m.Role, toNullInt64(m.LastCaptureAt), m.Streak, m.Traction)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return n == 1, nil
}

// UpdateMembershipIfVersion writes gamification state only when the stored
// version still equals expected, bumping it. It reports whether the write
// won; false means another writer got there first.
func UpdateMembershipIfVersion(ctx context.Context, q Querier, m *model.Membership, expected int64) (bool, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE memberships
		SET last_capture_at = ?, streak = ?, traction = ?, version = version + 1
		WHERE user_id = ? AND workspace_id = ? AND version = ?
	`, toNullInt64(m.LastCaptureAt), m.Streak, m.Traction, m.UserID, m.WorkspaceID, expected)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return n == 1, nil
}
