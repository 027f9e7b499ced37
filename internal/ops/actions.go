package ops

import (
	"context"
	"strings"
	"time"

	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

// ListActionsInput contains parameters for the ListActions operation.
type ListActionsInput struct {
	Scope
	Mine   bool               `json:"mine,omitempty"` // only the caller's actions
	Status model.ActionStatus `json:"status,omitempty"`
	Since  *time.Time         `json:"since,omitempty"`
	Limit  int                `json:"limit,omitempty"`
	Offset int                `json:"offset,omitempty"`
}

// ListActionsOutput contains the result of the ListActions operation.
type ListActionsOutput struct {
	Items      []*model.Action `json:"items"`
	Pagination Pagination      `json:"pagination"`
	Sort       string          `json:"sort"`
}

// ListActions returns workspace actions, newest first.
func ListActions(ctx context.Context, deps Deps, input ListActionsInput) (*ListActionsOutput, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if input.Status != "" && !input.Status.Valid() {
		return nil, errors.NewInvalidRequest("status must be one of: open, in_progress, blocked, done")
	}
	limit := clampLimit(input.Limit, DefaultListLimit, MaxListLimit)
	offset := max(input.Offset, 0)

	f := db.ActionFilter{
		WorkspaceID: input.WorkspaceID,
		Status:      input.Status,
		Limit:       limit,
		Offset:      offset,
	}
	if input.Mine {
		f.UserID = input.UserID
	}
	if input.Since != nil {
		f.Since = input.Since.Unix()
	}
	items, total, err := db.ListActions(ctx, deps.DB, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*model.Action{}
	}
	return &ListActionsOutput{
		Items:      items,
		Pagination: paginate(limit, offset, len(items), total),
		Sort:       "created_at_desc",
	}, nil
}

// UpdateActionInput contains parameters for the UpdateAction operation.
type UpdateActionInput struct {
	Scope
	ID     string             `json:"id"`
	Status model.ActionStatus `json:"status"`
}

// UpdateAction sets an action's status. The artifact's view keeps the
// status as extracted, and gamification state is untouched.
func UpdateAction(ctx context.Context, deps Deps, input UpdateActionInput) (*model.Action, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	if !input.Status.Valid() {
		return nil, errors.NewInvalidRequest("status must be one of: open, in_progress, blocked, done")
	}
	if err := db.UpdateActionStatus(ctx, deps.DB, input.WorkspaceID, id, input.Status, deps.now().Unix()); err != nil {
		return nil, err
	}
	return db.GetAction(ctx, deps.DB, input.WorkspaceID, id)
}
