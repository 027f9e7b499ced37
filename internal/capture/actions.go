package capture

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nelsonng/tensient/internal/calibrate"
	"github.com/nelsonng/tensient/internal/model"
	"github.com/nelsonng/tensient/internal/schema"
)

// maxActionEmbeds bounds concurrent per-action embedding calls.
const maxActionEmbeds = 4

// priorityFor maps an extracted status to the action's priority tier.
func priorityFor(status model.ActionStatus) model.Priority {
	switch status {
	case model.ActionBlocked:
		return model.PriorityHigh
	case model.ActionDone:
		return model.PriorityLow
	default:
		return model.PriorityMedium
	}
}

// buildActions turns extracted items into Action rows for artifact. With a
// Canon, each task is embedded independently and compared against it; an
// action whose raw similarity exceeds the goal-link threshold is linked to
// the Canon. Items with a blank task are dropped.
func (p *Processor) buildActions(ctx context.Context, userID, workspaceID string, artifact *model.Artifact, items []schema.ExtractedAction, canon *model.Canon, now int64) ([]*model.Action, error) {
	actions := make([]*model.Action, 0, len(items))
	for _, item := range items {
		task := strings.TrimSpace(item.Task)
		if task == "" {
			continue
		}
		id, err := model.NewID()
		if err != nil {
			return nil, err
		}
		actions = append(actions, &model.Action{
			ID:              id,
			WorkspaceID:     workspaceID,
			UserID:          userID,
			ArtifactID:      artifact.ID,
			Title:           task,
			Status:          item.Status,
			ExtractedStatus: item.Status,
			Priority:        priorityFor(item.Status),
			Position:        len(actions),
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	artifact.ActionItems = make([]model.ActionItem, len(actions))
	for i, a := range actions {
		artifact.ActionItems[i] = model.ActionItem{ActionID: a.ID, Task: a.Title, Status: a.ExtractedStatus}
	}

	reference := canonEmbedding(canon)
	if len(reference) == 0 || len(actions) == 0 {
		return actions, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxActionEmbeds)
	for _, a := range actions {
		g.Go(func() error {
			vec, err := p.embedder.Embed(gctx, a.Title)
			if err != nil {
				return err
			}
			raw, err := calibrate.Cosine(vec, reference)
			if err != nil {
				return err
			}
			a.GoalAlignmentScore = &raw
			if raw > p.goalLink {
				goal := canon.ID
				a.GoalID = &goal
				a.GoalPillar = artifact.GoalPillar
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return actions, nil
}
