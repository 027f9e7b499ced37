package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

const signalColumns = `id, workspace_id, user_id, conversation_id, message_id, content, embedding,
	ai_priority, human_priority, reviewed_at, status, source, created_at, updated_at`

// SignalFilter narrows ListSignals. Zero values match everything.
type SignalFilter struct {
	WorkspaceID    string
	Status         model.SignalStatus
	ConversationID string
	AIPriority     model.Priority
	HumanPriority  model.Priority
	Since          int64  // created_at >= Since when > 0
	Until          int64  // created_at < Until when > 0
	Keyword        string // case-insensitive substring of content
	Limit          int
	Offset         int
}

// SignalHit is a signal ranked by cosine distance to a query vector.
type SignalHit struct {
	Signal   *model.Signal
	Distance float64
}

// InsertSignal stores a new signal.
func InsertSignal(ctx context.Context, q Querier, s *model.Signal) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO signals (`+signalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.WorkspaceID, s.UserID, toNullString(s.ConversationID), toNullString(s.MessageID), s.Content,
		EncodeVector(s.Embedding), priorityArg(s.AIPriority), priorityArg(s.HumanPriority), toNullInt64(s.ReviewedAt),
		string(s.Status), s.Source, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetSignal retrieves a signal by id within a workspace.
func GetSignal(ctx context.Context, q Querier, workspaceID, id string) (*model.Signal, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+signalColumns+`
		FROM signals
		WHERE id = ? AND workspace_id = ?
	`, id, workspaceID)
	s, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("signal", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// UpdateSignal writes the mutable fields of s: status, human priority,
// review stamp and updated_at.
func UpdateSignal(ctx context.Context, q Querier, s *model.Signal) error {
	result, err := q.ExecContext(ctx, `
		UPDATE signals
		SET status = ?, human_priority = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ? AND workspace_id = ?
	`, string(s.Status), priorityArg(s.HumanPriority), toNullInt64(s.ReviewedAt), s.UpdatedAt, s.ID, s.WorkspaceID)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound("signal", s.ID)
	}
	return nil
}

// DeleteSignal hard-deletes a signal and returns what was removed.
func DeleteSignal(ctx context.Context, q Querier, workspaceID, id string) (*model.Signal, error) {
	s, err := GetSignal(ctx, q, workspaceID, id)
	if err != nil {
		return nil, err
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM signals WHERE id = ? AND workspace_id = ?`, id, workspaceID); err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// ListSignals returns signals matching f, newest first, and the total count.
func ListSignals(ctx context.Context, q Querier, f SignalFilter) ([]*model.Signal, int, error) {
	where := []string{"workspace_id = ?"}
	args := []any{f.WorkspaceID}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ConversationID != "" {
		where = append(where, "conversation_id = ?")
		args = append(args, f.ConversationID)
	}
	if f.AIPriority != "" {
		where = append(where, "ai_priority = ?")
		args = append(args, string(f.AIPriority))
	}
	if f.HumanPriority != "" {
		where = append(where, "human_priority = ?")
		args = append(args, string(f.HumanPriority))
	}
	if f.Since > 0 {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until > 0 {
		where = append(where, "created_at < ?")
		args = append(args, f.Until)
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		where = append(where, `content LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(kw))+"%")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+signalColumns+`
		FROM signals
		WHERE `+clause+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	out, err := collectSignals(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// CountSignalsByStatus returns the number of signals per status. Every
// known status is present in the result.
func CountSignalsByStatus(ctx context.Context, q Querier, workspaceID string) (map[model.SignalStatus]int, error) {
	counts := map[model.SignalStatus]int{
		model.SignalOpen:      0,
		model.SignalResolved:  0,
		model.SignalDismissed: 0,
	}
	rows, err := q.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM signals WHERE workspace_id = ? GROUP BY status
	`, workspaceID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status model.SignalStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.NewInternal(err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return counts, nil
}

// ListUnprocessedSignals returns signals no synthesis commit has consumed,
// oldest first.
func ListUnprocessedSignals(ctx context.Context, q Querier, workspaceID string, limit int) ([]*model.Signal, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+signalColumns+`
		FROM signals s
		WHERE s.workspace_id = ?
		  AND NOT EXISTS (
		    SELECT 1 FROM synthesis_commit_signals cs WHERE cs.signal_id = s.id
		  )
		ORDER BY s.created_at ASC, s.id ASC
		LIMIT ?
	`, workspaceID, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return collectSignals(rows)
}

// SearchSignals ranks workspace signals by cosine distance to vec.
func SearchSignals(ctx context.Context, q Querier, workspaceID string, vec []float32, limit int) ([]SignalHit, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+signalColumns+`, `+DistanceFunc+`(embedding, ?) AS distance
		FROM signals
		WHERE workspace_id = ? AND embedding IS NOT NULL
		ORDER BY distance ASC, id ASC
		LIMIT ?
	`, EncodeVector(vec), workspaceID, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var hits []SignalHit
	for rows.Next() {
		var distance float64
		s, err := scanSignalWith(rows, &distance)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		hits = append(hits, SignalHit{Signal: s, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return hits, nil
}

func collectSignals(rows *sql.Rows) ([]*model.Signal, error) {
	defer rows.Close()
	var out []*model.Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

func scanSignal(row rowScanner) (*model.Signal, error) {
	return scanSignalWith(row)
}

func scanSignalWith(row rowScanner, extra ...any) (*model.Signal, error) {
	var (
		s              model.Signal
		conversationID sql.NullString
		messageID      sql.NullString
		embedding      []byte
		aiPriority     sql.NullString
		humanPriority  sql.NullString
		reviewedAt     sql.NullInt64
	)
	dest := []any{
		&s.ID, &s.WorkspaceID, &s.UserID, &conversationID, &messageID, &s.Content, &embedding,
		&aiPriority, &humanPriority, &reviewedAt, &s.Status, &s.Source, &s.CreatedAt, &s.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	s.ConversationID = fromNullString(conversationID)
	s.MessageID = fromNullString(messageID)
	s.AIPriority = priorityFromNull(aiPriority)
	s.HumanPriority = priorityFromNull(humanPriority)
	s.ReviewedAt = fromNullInt64(reviewedAt)
	var err error
	if s.Embedding, err = DecodeVector(embedding); err != nil {
		return nil, err
	}
	return &s, nil
}

func priorityArg(p *model.Priority) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p), Valid: true}
}

func priorityFromNull(ns sql.NullString) *model.Priority {
	if !ns.Valid {
		return nil
	}
	p := model.Priority(ns.String)
	return &p
}
