package ops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

// DefaultSignalSource labels signals written through the tool server.
const DefaultSignalSource = "agent"

// CreateSignalInput contains parameters for the CreateSignal operation.
type CreateSignalInput struct {
	Scope
	Content        string          `json:"content"`
	ConversationID *string         `json:"conversation_id,omitempty"`
	MessageID      *string         `json:"message_id,omitempty"`
	AIPriority     *model.Priority `json:"ai_priority,omitempty"`
	Source         string          `json:"source,omitempty"`
}

// CreateSignal embeds and stores a signal. Conversation linkage is
// all-or-nothing: a conversation id without a message id, or the reverse,
// is rejected, and a supplied pair must name a message of that
// conversation in the caller's workspace.
func CreateSignal(ctx context.Context, deps Deps, input CreateSignalInput) (*model.Signal, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, errors.NewInvalidRequest("content is required")
	}
	if len([]rune(content)) > MaxContentChars {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("content exceeds %d characters", MaxContentChars))
	}

	convID := cleanOptionalString(input.ConversationID)
	msgID := cleanOptionalString(input.MessageID)
	if (convID == nil) != (msgID == nil) {
		return nil, errors.NewInvalidRequest("conversation_id and message_id must be provided together").
			WithDetail("field", missingLinkField(convID))
	}
	if input.AIPriority != nil && !input.AIPriority.Valid() {
		return nil, errors.NewInvalidRequest("ai_priority must be one of: critical, high, medium, low")
	}
	if convID != nil {
		ok, err := db.MessageInConversation(ctx, deps.DB, input.WorkspaceID, *convID, *msgID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.NewNotFound("message", *msgID)
		}
	}

	source := strings.TrimSpace(input.Source)
	if source == "" {
		source = DefaultSignalSource
	}

	vec, err := deps.Embedder.Embed(ctx, content)
	if err != nil {
		return nil, errors.NewProviderFailure("embedding", err)
	}

	id, err := model.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	now := deps.now().Unix()
	s := &model.Signal{
		ID:             id,
		WorkspaceID:    input.WorkspaceID,
		UserID:         input.UserID,
		ConversationID: convID,
		MessageID:      msgID,
		Content:        content,
		Embedding:      vec,
		AIPriority:     input.AIPriority,
		Status:         model.SignalOpen,
		Source:         source,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.InsertSignal(ctx, deps.DB, s); err != nil {
		return nil, err
	}
	return s, nil
}

func missingLinkField(convID *string) string {
	if convID == nil {
		return "conversation_id"
	}
	return "message_id"
}

// ListSignalsInput contains parameters for the ListSignals operation.
type ListSignalsInput struct {
	Scope
	ConversationID string             `json:"conversation_id,omitempty"`
	Status         model.SignalStatus `json:"status,omitempty"`
	AIPriority     model.Priority     `json:"ai_priority,omitempty"`
	HumanPriority  model.Priority     `json:"human_priority,omitempty"`
	Since          *time.Time         `json:"since,omitempty"`
	Until          *time.Time         `json:"until,omitempty"`
	Keyword        string             `json:"keyword,omitempty"`
	Limit          int                `json:"limit,omitempty"`
	Offset         int                `json:"offset,omitempty"`
}

// ListSignalsOutput contains the result of the ListSignals operation.
type ListSignalsOutput struct {
	Items      []*model.Signal `json:"items"`
	Pagination Pagination      `json:"pagination"`
	Sort       string          `json:"sort"`
}

// ListSignals returns workspace signals, newest first.
func ListSignals(ctx context.Context, deps Deps, input ListSignalsInput) (*ListSignalsOutput, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if input.Status != "" && !input.Status.Valid() {
		return nil, errors.NewInvalidRequest("status must be one of: open, resolved, dismissed")
	}
	if input.AIPriority != "" && !input.AIPriority.Valid() {
		return nil, errors.NewInvalidRequest("ai_priority must be one of: critical, high, medium, low")
	}
	if input.HumanPriority != "" && !input.HumanPriority.Valid() {
		return nil, errors.NewInvalidRequest("human_priority must be one of: critical, high, medium, low")
	}

	limit := clampLimit(input.Limit, DefaultListLimit, MaxListLimit)
	offset := max(input.Offset, 0)
	f := db.SignalFilter{
		WorkspaceID:    input.WorkspaceID,
		Status:         input.Status,
		ConversationID: strings.TrimSpace(input.ConversationID),
		AIPriority:     input.AIPriority,
		HumanPriority:  input.HumanPriority,
		Keyword:        input.Keyword,
		Limit:          limit,
		Offset:         offset,
	}
	if input.Since != nil {
		f.Since = input.Since.Unix()
	}
	if input.Until != nil {
		f.Until = input.Until.Unix()
	}

	items, total, err := db.ListSignals(ctx, deps.DB, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*model.Signal{}
	}
	return &ListSignalsOutput{
		Items:      items,
		Pagination: paginate(limit, offset, len(items), total),
		Sort:       "created_at_desc",
	}, nil
}

// UpdateSignalInput contains parameters for the UpdateSignal operation.
// HumanPriority is tri-state: absent leaves it alone, null clears it and a
// value sets it.
type UpdateSignalInput struct {
	Scope
	ID            string                   `json:"id"`
	Status        *model.SignalStatus      `json:"status,omitempty"`
	HumanPriority Optional[model.Priority] `json:"human_priority"`
}

// UpdateSignal changes a signal's status and/or human priority. Every
// status may move to every other. Setting a human priority stamps
// reviewed_at; clearing it clears the stamp.
func UpdateSignal(ctx context.Context, deps Deps, input UpdateSignalInput) (*model.Signal, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	if input.Status == nil && !input.HumanPriority.Set {
		return nil, errors.NewInvalidRequest("at least one of status or human_priority must be provided")
	}
	if input.Status != nil && !input.Status.Valid() {
		return nil, errors.NewInvalidRequest("status must be one of: open, resolved, dismissed")
	}
	if input.HumanPriority.Set && !input.HumanPriority.Null && !input.HumanPriority.Value.Valid() {
		return nil, errors.NewInvalidRequest("human_priority must be one of: critical, high, medium, low, or null")
	}

	s, err := db.GetSignal(ctx, deps.DB, input.WorkspaceID, id)
	if err != nil {
		return nil, err
	}
	now := deps.now().Unix()
	if input.Status != nil {
		s.Status = *input.Status
	}
	if input.HumanPriority.Set {
		if input.HumanPriority.Null {
			s.HumanPriority = nil
			s.ReviewedAt = nil
		} else {
			p := input.HumanPriority.Value
			s.HumanPriority = &p
			s.ReviewedAt = &now
		}
	}
	s.UpdatedAt = now
	if err := db.UpdateSignal(ctx, deps.DB, s); err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteOutput identifies a hard-deleted row for the caller's audit log.
type DeleteOutput struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	WorkspaceID string `json:"workspace_id"`
	Deleted     bool   `json:"deleted"`
}

// DeleteSignal hard-deletes a signal.
func DeleteSignal(ctx context.Context, deps Deps, scope Scope, id string) (*DeleteOutput, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	s, err := db.DeleteSignal(ctx, deps.DB, scope.WorkspaceID, id)
	if err != nil {
		return nil, err
	}
	deps.logger().Info("signal deleted", zap.String("workspace_id", s.WorkspaceID), zap.String("signal_id", s.ID), zap.String("user_id", scope.UserID))
	return &DeleteOutput{ID: s.ID, Kind: "signal", WorkspaceID: s.WorkspaceID, Deleted: true}, nil
}
