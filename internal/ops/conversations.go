package ops

import (
	"context"
	"strings"

	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

// Message roles accepted by AppendMessage.
var messageRoles = map[string]bool{"user": true, "assistant": true, "system": true}

// ListConversationsInput contains parameters for the ListConversations operation.
type ListConversationsInput struct {
	Scope
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ListConversationsOutput contains the result of the ListConversations operation.
type ListConversationsOutput struct {
	Items      []*model.Conversation `json:"items"`
	Pagination Pagination            `json:"pagination"`
	Sort       string                `json:"sort"`
}

// ListConversations returns the caller's conversations, most recently
// active first.
func ListConversations(ctx context.Context, deps Deps, input ListConversationsInput) (*ListConversationsOutput, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	limit := clampLimit(input.Limit, DefaultListLimit, MaxListLimit)
	offset := max(input.Offset, 0)

	items, total, err := db.ListConversations(ctx, deps.DB, input.WorkspaceID, input.UserID, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*model.Conversation{}
	}
	return &ListConversationsOutput{
		Items:      items,
		Pagination: paginate(limit, offset, len(items), total),
		Sort:       "updated_at_desc",
	}, nil
}

// ConversationOutput is a conversation with its full message history.
type ConversationOutput struct {
	Conversation *model.Conversation `json:"conversation"`
	Messages     []*model.Message    `json:"messages"`
}

// GetConversation returns one of the caller's conversations and every
// message in it, oldest first.
func GetConversation(ctx context.Context, deps Deps, scope Scope, id string) (*ConversationOutput, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	c, err := db.GetConversation(ctx, deps.DB, scope.WorkspaceID, scope.UserID, id)
	if err != nil {
		return nil, err
	}
	msgs, err := db.ListMessages(ctx, deps.DB, c.ID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	return &ConversationOutput{Conversation: c, Messages: msgs}, nil
}

// CreateConversation starts a conversation owned by the caller.
func CreateConversation(ctx context.Context, deps Deps, scope Scope, title string) (*model.Conversation, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled conversation"
	}
	id, err := model.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	now := deps.now().Unix()
	c := &model.Conversation{
		ID:          id,
		WorkspaceID: scope.WorkspaceID,
		UserID:      scope.UserID,
		Title:       title,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.InsertConversation(ctx, deps.DB, c); err != nil {
		return nil, err
	}
	return c, nil
}

// AppendMessageInput contains parameters for the AppendMessage operation.
type AppendMessageInput struct {
	Scope
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
}

// AppendMessage adds a message to one of the caller's conversations.
func AppendMessage(ctx context.Context, deps Deps, input AppendMessageInput) (*model.Message, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	role := strings.ToLower(strings.TrimSpace(input.Role))
	if !messageRoles[role] {
		return nil, errors.NewInvalidRequest("role must be one of: user, assistant, system")
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, errors.NewInvalidRequest("content is required")
	}
	c, err := db.GetConversation(ctx, deps.DB, input.WorkspaceID, input.UserID, strings.TrimSpace(input.ConversationID))
	if err != nil {
		return nil, err
	}
	id, err := model.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	m := &model.Message{
		ID:             id,
		ConversationID: c.ID,
		Role:           role,
		Content:        input.Content,
		CreatedAt:      deps.now().Unix(),
	}
	if err := db.InsertMessage(ctx, deps.DB, m); err != nil {
		return nil, err
	}
	return m, nil
}
