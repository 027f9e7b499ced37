package capture

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

// CanonInput contains parameters for the CreateCanon operation.
type CanonInput struct {
	WorkspaceID string
	Content     string
	RawInput    string // optional: the text the Canon was distilled from
	Pillars     []model.Pillar
}

// CreateCanon embeds and stores a new Canon. Canons are append-only; the new
// row becomes the workspace's current strategy.
func (p *Processor) CreateCanon(ctx context.Context, input CanonInput) (*model.Canon, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, errors.NewInvalidRequest("content is required")
	}
	if strings.TrimSpace(input.WorkspaceID) == "" {
		return nil, errors.NewInvalidRequest("workspace_id is required")
	}

	seen := make(map[string]bool, len(input.Pillars))
	pillars := make([]model.Pillar, 0, len(input.Pillars))
	for _, pl := range input.Pillars {
		title := strings.TrimSpace(pl.Title)
		if title == "" {
			return nil, errors.NewInvalidRequest("pillar title must not be empty")
		}
		if seen[title] {
			return nil, errors.NewInvalidRequest("duplicate pillar title: " + title)
		}
		seen[title] = true
		pillars = append(pillars, model.Pillar{Title: title, Health: strings.TrimSpace(pl.Health)})
	}

	vec, err := p.embedder.Embed(ctx, content)
	if err != nil {
		return nil, errors.NewProviderFailure("embedding", err)
	}

	id, err := model.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	c := &model.Canon{
		ID:          id,
		WorkspaceID: input.WorkspaceID,
		Content:     content,
		RawInput:    input.RawInput,
		Pillars:     pillars,
		Embedding:   vec,
		CreatedAt:   p.now().Unix(),
	}
	if err := db.InsertCanon(ctx, p.db, c); err != nil {
		return nil, err
	}
	p.logger.Info("canon created",
		zap.String("workspace_id", c.WorkspaceID),
		zap.String("canon_id", c.ID),
		zap.Int("pillars", len(pillars)))
	return c, nil
}
