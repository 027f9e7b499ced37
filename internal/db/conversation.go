package db

import (
	"context"
	"database/sql"

	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

// InsertConversation stores a new conversation thread.
func InsertConversation(ctx context.Context, q Querier, c *model.Conversation) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO conversations (id, workspace_id, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.WorkspaceID, c.UserID, c.Title, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetConversation retrieves a conversation owned by userID in workspaceID.
// Threads belonging to another user report NOT_FOUND.
func GetConversation(ctx context.Context, q Querier, workspaceID, userID, id string) (*model.Conversation, error) {
	var c model.Conversation
	err := q.QueryRowContext(ctx, `
		SELECT id, workspace_id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE id = ? AND workspace_id = ? AND user_id = ?
	`, id, workspaceID, userID).Scan(&c.ID, &c.WorkspaceID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("conversation", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &c, nil
}

// ListConversations returns the user's conversations, most recently active
// first, and the total count.
func ListConversations(ctx context.Context, q Querier, workspaceID, userID string, limit, offset int) ([]*model.Conversation, int, error) {
	var total int
	if err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversations WHERE workspace_id = ? AND user_id = ?
	`, workspaceID, userID).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, workspace_id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE workspace_id = ? AND user_id = ?
		ORDER BY updated_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, workspaceID, userID, limit, offset)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []*model.Conversation
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return out, total, nil
}

// InsertMessage appends a message and bumps the conversation's updated_at.
func InsertMessage(ctx context.Context, q Querier, m *model.Message) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.ID, m.ConversationID, m.Role, m.Content, m.CreatedAt); err != nil {
		return errors.NewInternal(err)
	}
	if _, err := q.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ? AND updated_at < ?
	`, m.CreatedAt, m.ConversationID, m.CreatedAt); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListMessages returns a conversation's messages in order.
func ListMessages(ctx context.Context, q Querier, conversationID string) ([]*model.Message, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// MessageInConversation checks that messageID belongs to a conversation in
// workspaceID.
func MessageInConversation(ctx context.Context, q Querier, workspaceID, conversationID, messageID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.id = ? AND m.conversation_id = ? AND c.workspace_id = ?
	`, messageID, conversationID, workspaceID).Scan(&n)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return n > 0, nil
}
