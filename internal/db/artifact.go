package db

import (
	"context"
	"database/sql"

	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

const artifactColumns = `id, capture_id, canon_id, parent_artifact_id, iteration,
	alignment_score, drift_score, sentiment_score, synthesis, feedback,
	alignment_explanation, coaching_json, goal_pillar, embedding, created_at`

// InsertArtifact stores a new artifact. Its action items are stored
// separately as Action rows; see InsertAction.
func InsertArtifact(ctx context.Context, q Querier, workspaceID string, a *model.Artifact) error {
	coaching, err := toNullJSON(a.CoachingQuestions)
	if err != nil {
		return errors.NewInternal(err)
	}
	explanation := sql.NullString{String: a.AlignmentExplanation, Valid: a.AlignmentExplanation != ""}

	_, err = q.ExecContext(ctx, `
		INSERT INTO artifacts (id, capture_id, workspace_id, canon_id, parent_artifact_id, iteration,
			alignment_score, drift_score, sentiment_score, synthesis, feedback,
			alignment_explanation, coaching_json, goal_pillar, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.CaptureID, workspaceID, toNullString(a.CanonID), toNullString(a.ParentArtifactID), a.Iteration,
		a.AlignmentScore, a.DriftScore, a.SentimentScore, a.Synthesis, a.Feedback,
		explanation, coaching, toNullString(a.GoalPillar), EncodeVector(a.Embedding), a.CreatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetArtifact retrieves an artifact and its action item view.
func GetArtifact(ctx context.Context, q Querier, workspaceID, id string) (*model.Artifact, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts
		WHERE id = ? AND workspace_id = ?
	`, id, workspaceID)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("artifact", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := attachActionItems(ctx, q, a); err != nil {
		return nil, err
	}
	return a, nil
}

// CountArtifactsForCapture returns how many artifacts a capture owns.
func CountArtifactsForCapture(ctx context.Context, q Querier, captureID string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts WHERE capture_id = ?`, captureID).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// ListArtifactsForCapture returns a capture's artifacts oldest first.
// The last element is the current artifact.
func ListArtifactsForCapture(ctx context.Context, q Querier, workspaceID, captureID string) ([]*model.Artifact, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts
		WHERE capture_id = ? AND workspace_id = ?
		ORDER BY created_at ASC, id ASC
	`, captureID, workspaceID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return collectArtifacts(ctx, q, rows)
}

// LatestArtifactForCapture returns the current artifact of a capture.
func LatestArtifactForCapture(ctx context.Context, q Querier, workspaceID, captureID string) (*model.Artifact, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts
		WHERE capture_id = ? AND workspace_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, captureID, workspaceID)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("artifact for capture", captureID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := attachActionItems(ctx, q, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListArtifactsSince returns up to limit workspace artifacts created at or
// after since, newest first.
func ListArtifactsSince(ctx context.Context, q Querier, workspaceID string, since int64, limit int) ([]*model.Artifact, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts
		WHERE workspace_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, workspaceID, since, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return collectArtifacts(ctx, q, rows)
}

func collectArtifacts(ctx context.Context, q Querier, rows *sql.Rows) ([]*model.Artifact, error) {
	var out []*model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			rows.Close()
			return nil, errors.NewInternal(err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.NewInternal(err)
	}
	rows.Close()

	// Action items load after the cursor closes so a single-connection
	// pool does not deadlock.
	for _, a := range out {
		if err := attachActionItems(ctx, q, a); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanArtifact(row rowScanner) (*model.Artifact, error) {
	var (
		a           model.Artifact
		canonID     sql.NullString
		parentID    sql.NullString
		explanation sql.NullString
		coaching    sql.NullString
		goalPillar  sql.NullString
		embedding   []byte
	)
	err := row.Scan(
		&a.ID, &a.CaptureID, &canonID, &parentID, &a.Iteration,
		&a.AlignmentScore, &a.DriftScore, &a.SentimentScore, &a.Synthesis, &a.Feedback,
		&explanation, &coaching, &goalPillar, &embedding, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.CanonID = fromNullString(canonID)
	a.ParentArtifactID = fromNullString(parentID)
	a.AlignmentExplanation = explanation.String
	a.GoalPillar = fromNullString(goalPillar)
	if a.CoachingQuestions, err = fromNullJSON[model.CoachingQuestion](coaching); err != nil {
		return nil, err
	}
	if a.Embedding, err = DecodeVector(embedding); err != nil {
		return nil, err
	}
	return &a, nil
}

// attachActionItems fills a.ActionItems from the artifact's action rows in
// extraction order, reporting each task's status as extracted.
func attachActionItems(ctx context.Context, q Querier, a *model.Artifact) error {
	rows, err := q.QueryContext(ctx, `
		SELECT id, title, extracted_status
		FROM actions
		WHERE artifact_id = ?
		ORDER BY position ASC
	`, a.ID)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer rows.Close()

	items := []model.ActionItem{}
	for rows.Next() {
		var item model.ActionItem
		if err := rows.Scan(&item.ActionID, &item.Task, &item.Status); err != nil {
			return errors.NewInternal(err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return errors.NewInternal(err)
	}
	a.ActionItems = items
	return nil
}
