package model

// SignalStatus is a free cycle: every status may move to every other.
type SignalStatus string

const (
	SignalOpen      SignalStatus = "open"
	SignalResolved  SignalStatus = "resolved"
	SignalDismissed SignalStatus = "dismissed"
)

// Valid reports whether s is a known status.
func (s SignalStatus) Valid() bool {
	switch s {
	case SignalOpen, SignalResolved, SignalDismissed:
		return true
	}
	return false
}

// Signal is an atomic insight in the agent-facing knowledge layer.
// ConversationID and MessageID are both set or both nil.
type Signal struct {
	ID             string       `json:"id"`
	WorkspaceID    string       `json:"workspace_id"`
	UserID         string       `json:"user_id"`
	ConversationID *string      `json:"conversation_id,omitempty"`
	MessageID      *string      `json:"message_id,omitempty"`
	Content        string       `json:"content"`
	Embedding      []float32    `json:"-"`
	AIPriority     *Priority    `json:"ai_priority,omitempty"`
	HumanPriority  *Priority    `json:"human_priority,omitempty"`
	ReviewedAt     *int64       `json:"reviewed_at,omitempty"`
	Status         SignalStatus `json:"status"`
	Source         string       `json:"source"`
	CreatedAt      int64        `json:"created_at"`
	UpdatedAt      int64        `json:"updated_at"`
}

// DocumentKind separates personal, shared, synthesized and session documents.
type DocumentKind string

const (
	DocumentBrain     DocumentKind = "brain"     // personal, owned by one user
	DocumentCanon     DocumentKind = "canon"     // shared across the workspace
	DocumentSynthesis DocumentKind = "synthesis" // written by synthesis runs
	DocumentSession   DocumentKind = "session"   // agent session logs, owned by one user
)

// Valid reports whether k is a known kind.
func (k DocumentKind) Valid() bool {
	switch k {
	case DocumentBrain, DocumentCanon, DocumentSynthesis, DocumentSession:
		return true
	}
	return false
}

// Personal reports whether documents of this kind belong to a single owner.
func (k DocumentKind) Personal() bool {
	return k == DocumentBrain || k == DocumentSession
}

// Document is a knowledge document. Its embedding tracks Content only.
type Document struct {
	ID          string       `json:"id"`
	WorkspaceID string       `json:"workspace_id"`
	OwnerID     *string      `json:"owner_id,omitempty"`
	Kind        DocumentKind `json:"kind"`
	Title       string       `json:"title"`
	Content     string       `json:"content,omitempty"`
	Embedding   []float32    `json:"-"`
	CreatedAt   int64        `json:"created_at"`
	UpdatedAt   int64        `json:"updated_at"`
}

// DocumentChange is one document touched by a synthesis commit.
type DocumentChange struct {
	DocumentID string `json:"document_id"`
	Change     string `json:"change"` // "created" or "updated"
	Title      string `json:"title"`
	Patch      string `json:"patch,omitempty"`
}

// Commit is one immutable fold of signals into synthesis documents.
// ParentID is nil only for a workspace's first commit.
type Commit struct {
	ID          string           `json:"id"`
	WorkspaceID string           `json:"workspace_id"`
	ParentID    *string          `json:"parent_id,omitempty"`
	Summary     string           `json:"summary"`
	SignalIDs   []string         `json:"signal_ids"`
	Changes     []DocumentChange `json:"changes"`
	CreatedBy   string           `json:"created_by"`
	CreatedAt   int64            `json:"created_at"`
}

// Conversation is a chat thread owned by one user in a workspace.
type Conversation struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Message is one turn in a conversation.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	CreatedAt      int64  `json:"created_at"`
}
