package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

const documentColumns = `id, workspace_id, owner_id, kind, title, content, embedding, created_at, updated_at`

// visibleTo restricts personal kinds to their owner. It binds one argument,
// the viewer's user id.
const visibleTo = `(kind NOT IN ('brain', 'session') OR owner_id = ?)`

// DocumentFilter narrows ListDocuments. Viewer is required; personal
// documents of other users are never returned.
type DocumentFilter struct {
	WorkspaceID string
	Viewer      string
	Kinds       []model.DocumentKind
	Limit       int
	Offset      int
}

// DocumentHit is a document ranked by cosine distance to a query vector.
type DocumentHit struct {
	Document *model.Document
	Distance float64
}

// InsertDocument stores a new document.
func InsertDocument(ctx context.Context, q Querier, d *model.Document) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.WorkspaceID, toNullString(d.OwnerID), string(d.Kind), d.Title, d.Content,
		EncodeVector(d.Embedding), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetDocument retrieves a document the viewer may see.
func GetDocument(ctx context.Context, q Querier, workspaceID, viewer, id string) (*model.Document, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id = ? AND workspace_id = ? AND `+visibleTo,
		id, workspaceID, viewer)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("document", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return d, nil
}

// UpdateDocument writes title, content and updated_at. The embedding is
// written only when writeEmbedding is set.
func UpdateDocument(ctx context.Context, q Querier, d *model.Document, writeEmbedding bool) error {
	query := `UPDATE documents SET title = ?, content = ?, updated_at = ?`
	args := []any{d.Title, d.Content, d.UpdatedAt}
	if writeEmbedding {
		query += `, embedding = ?`
		args = append(args, EncodeVector(d.Embedding))
	}
	query += ` WHERE id = ? AND workspace_id = ?`
	args = append(args, d.ID, d.WorkspaceID)

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound("document", d.ID)
	}
	return nil
}

// DeleteDocument removes a document the viewer may see and returns it.
func DeleteDocument(ctx context.Context, q Querier, workspaceID, viewer, id string) (*model.Document, error) {
	d, err := GetDocument(ctx, q, workspaceID, viewer, id)
	if err != nil {
		return nil, err
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM documents WHERE id = ? AND workspace_id = ?`, id, workspaceID); err != nil {
		return nil, errors.NewInternal(err)
	}
	return d, nil
}

// ListDocuments returns visible documents matching f, most recently
// updated first, and the total count.
func ListDocuments(ctx context.Context, q Querier, f DocumentFilter) ([]*model.Document, int, error) {
	clause, args := documentWhere(f.WorkspaceID, f.Viewer, f.Kinds)

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE `+clause+`
		ORDER BY updated_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []*model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return out, total, nil
}

// SearchDocuments ranks visible documents of the given kinds by cosine
// distance to vec. An empty kinds list searches every kind.
func SearchDocuments(ctx context.Context, q Querier, workspaceID, viewer string, kinds []model.DocumentKind, vec []float32, limit int) ([]DocumentHit, error) {
	clause, args := documentWhere(workspaceID, viewer, kinds)
	args = append([]any{EncodeVector(vec)}, args...)
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, `
		SELECT `+documentColumns+`, `+DistanceFunc+`(embedding, ?) AS distance
		FROM documents
		WHERE `+clause+` AND embedding IS NOT NULL
		ORDER BY distance ASC, id ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var hits []DocumentHit
	for rows.Next() {
		var distance float64
		d, err := scanDocumentWith(rows, &distance)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		hits = append(hits, DocumentHit{Document: d, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return hits, nil
}

func documentWhere(workspaceID, viewer string, kinds []model.DocumentKind) (string, []any) {
	where := []string{"workspace_id = ?", visibleTo}
	args := []any{workspaceID, viewer}
	if len(kinds) > 0 {
		where = append(where, "kind IN ("+placeholders(len(kinds))+")")
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	return strings.Join(where, " AND "), args
}

func scanDocument(row rowScanner) (*model.Document, error) {
	return scanDocumentWith(row)
}

func scanDocumentWith(row rowScanner, extra ...any) (*model.Document, error) {
	var (
		d         model.Document
		ownerID   sql.NullString
		embedding []byte
	)
	dest := []any{&d.ID, &d.WorkspaceID, &ownerID, &d.Kind, &d.Title, &d.Content, &embedding, &d.CreatedAt, &d.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	d.OwnerID = fromNullString(ownerID)
	var err error
	if d.Embedding, err = DecodeVector(embedding); err != nil {
		return nil, err
	}
	return &d, nil
}
