package ops

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/llm"
	"github.com/nelsonng/tensient/internal/markdown"
	"github.com/nelsonng/tensient/internal/model"
)

// MaxTitleChars bounds document titles.
const MaxTitleChars = 200

// DocumentSummary is a document without its content, for listings.
type DocumentSummary struct {
	ID        string             `json:"id"`
	Kind      model.DocumentKind `json:"kind"`
	Title     string             `json:"title"`
	OwnerID   *string            `json:"owner_id,omitempty"`
	CreatedAt int64              `json:"created_at"`
	UpdatedAt int64              `json:"updated_at"`
}

func summarize(d *model.Document) DocumentSummary {
	return DocumentSummary{
		ID:        d.ID,
		Kind:      d.Kind,
		Title:     d.Title,
		OwnerID:   d.OwnerID,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func summarizeAll(docs []*model.Document) []DocumentSummary {
	out := make([]DocumentSummary, len(docs))
	for i, d := range docs {
		out[i] = summarize(d)
	}
	return out
}

// embedDocument embeds the plain text of a markdown document body. An
// empty body has no embedding.
func embedDocument(ctx context.Context, e llm.Embedder, content string) ([]float32, error) {
	text := strings.TrimSpace(markdown.PlainText(content))
	if text == "" {
		return nil, nil
	}
	vec, err := e.Embed(ctx, text)
	if err != nil {
		return nil, errors.NewProviderFailure("embedding", err)
	}
	return vec, nil
}

// ListDocumentsInput contains parameters for the ListDocuments operation.
type ListDocumentsInput struct {
	Scope
	Kinds  []model.DocumentKind `json:"kinds,omitempty"` // default: every kind
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

// ListDocumentsOutput contains the result of the ListDocuments operation.
type ListDocumentsOutput struct {
	Items      []DocumentSummary `json:"items"`
	Pagination Pagination        `json:"pagination"`
	Sort       string            `json:"sort"`
}

// ListDocuments returns the documents the caller may see, most recently
// updated first. Other users' brain and session documents are excluded.
func ListDocuments(ctx context.Context, deps Deps, input ListDocumentsInput) (*ListDocumentsOutput, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	for _, k := range input.Kinds {
		if !k.Valid() {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown document kind %q", k))
		}
	}
	limit := clampLimit(input.Limit, DefaultListLimit, MaxListLimit)
	offset := max(input.Offset, 0)

	docs, total, err := db.ListDocuments(ctx, deps.DB, db.DocumentFilter{
		WorkspaceID: input.WorkspaceID,
		Viewer:      input.UserID,
		Kinds:       input.Kinds,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		return nil, err
	}
	return &ListDocumentsOutput{
		Items:      summarizeAll(docs),
		Pagination: paginate(limit, offset, len(docs), total),
		Sort:       "updated_at_desc",
	}, nil
}

// GetDocument returns one document the caller may see, with content.
func GetDocument(ctx context.Context, deps Deps, scope Scope, id string) (*model.Document, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	return db.GetDocument(ctx, deps.DB, scope.WorkspaceID, scope.UserID, id)
}

// UpsertDocumentInput contains parameters for the UpsertDocument operation.
// Without ID a new document is created and Kind and Title are required.
// With ID only the supplied fields change; Kind cannot change.
type UpsertDocumentInput struct {
	Scope
	ID      string             `json:"id,omitempty"`
	Kind    model.DocumentKind `json:"kind,omitempty"`
	Title   *string            `json:"title,omitempty"`
	Content *string            `json:"content,omitempty"`
}

// UpsertDocumentOutput contains the result of the UpsertDocument operation.
type UpsertDocumentOutput struct {
	Document   *model.Document `json:"document"`
	Created    bool            `json:"created"`
	Reembedded bool            `json:"reembedded"`
}

// UpsertDocument creates or updates a knowledge document. Brain and
// session documents belong to the caller. A content change re-embeds the
// document; a title-only change does not.
func UpsertDocument(ctx context.Context, deps Deps, input UpsertDocumentInput) (*UpsertDocumentOutput, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if input.Title != nil {
		t := strings.TrimSpace(*input.Title)
		if t == "" {
			return nil, errors.NewInvalidRequest("title must not be empty")
		}
		if len([]rune(t)) > MaxTitleChars {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("title exceeds %d characters", MaxTitleChars))
		}
		input.Title = &t
	}
	if input.Content != nil && len([]rune(*input.Content)) > MaxContentChars {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("content exceeds %d characters", MaxContentChars))
	}

	if strings.TrimSpace(input.ID) == "" {
		return createDocument(ctx, deps, input)
	}
	return updateDocument(ctx, deps, input)
}

func createDocument(ctx context.Context, deps Deps, input UpsertDocumentInput) (*UpsertDocumentOutput, error) {
	if !input.Kind.Valid() {
		return nil, errors.NewInvalidRequest("kind must be one of: brain, canon, synthesis, session")
	}
	if input.Title == nil {
		return nil, errors.NewInvalidRequest("title is required")
	}
	content := ""
	if input.Content != nil {
		content = *input.Content
	}

	d, err := newDocument(ctx, deps, input.Scope, input.Kind, *input.Title, content)
	if err != nil {
		return nil, err
	}
	if err := db.InsertDocument(ctx, deps.DB, d); err != nil {
		return nil, err
	}
	return &UpsertDocumentOutput{Document: d, Created: true, Reembedded: d.Embedding != nil}, nil
}

// newDocument builds and embeds an unsaved document owned per its kind.
func newDocument(ctx context.Context, deps Deps, scope Scope, kind model.DocumentKind, title, content string) (*model.Document, error) {
	vec, err := embedDocument(ctx, deps.Embedder, content)
	if err != nil {
		return nil, err
	}
	id, err := model.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	var owner *string
	if kind.Personal() {
		u := scope.UserID
		owner = &u
	}
	now := deps.now().Unix()
	return &model.Document{
		ID:          id,
		WorkspaceID: scope.WorkspaceID,
		OwnerID:     owner,
		Kind:        kind,
		Title:       title,
		Content:     content,
		Embedding:   vec,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func updateDocument(ctx context.Context, deps Deps, input UpsertDocumentInput) (*UpsertDocumentOutput, error) {
	if input.Title == nil && input.Content == nil {
		return nil, errors.NewInvalidRequest("at least one of title or content must be provided")
	}
	d, err := db.GetDocument(ctx, deps.DB, input.WorkspaceID, input.UserID, strings.TrimSpace(input.ID))
	if err != nil {
		return nil, err
	}
	if input.Kind != "" && input.Kind != d.Kind {
		return nil, errors.NewInvalidRequest("kind cannot be changed")
	}

	if input.Title != nil {
		d.Title = *input.Title
	}
	reembed := input.Content != nil && *input.Content != d.Content
	if reembed {
		d.Content = *input.Content
		vec, err := embedDocument(ctx, deps.Embedder, d.Content)
		if err != nil {
			return nil, err
		}
		d.Embedding = vec
	}
	d.UpdatedAt = deps.now().Unix()
	if err := db.UpdateDocument(ctx, deps.DB, d, reembed); err != nil {
		return nil, err
	}
	return &UpsertDocumentOutput{Document: d, Reembedded: reembed}, nil
}

// DeleteDocument hard-deletes a document the caller may see.
func DeleteDocument(ctx context.Context, deps Deps, scope Scope, id string) (*DeleteOutput, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	d, err := db.DeleteDocument(ctx, deps.DB, scope.WorkspaceID, scope.UserID, id)
	if err != nil {
		return nil, err
	}
	deps.logger().Info("document deleted",
		zap.String("workspace_id", d.WorkspaceID),
		zap.String("document_id", d.ID),
		zap.String("kind", string(d.Kind)),
		zap.String("user_id", scope.UserID))
	return &DeleteOutput{ID: d.ID, Kind: "document", WorkspaceID: d.WorkspaceID, Deleted: true}, nil
}
