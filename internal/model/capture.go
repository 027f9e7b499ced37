package model

// Capture is one raw submission. Only ProcessedAt changes after creation.
type Capture struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Content     string `json:"content"`
	Source      string `json:"source"`
	CreatedAt   int64  `json:"created_at"`
	ProcessedAt *int64 `json:"processed_at,omitempty"`
}

// ActionStatus is the lifecycle state of an extracted action.
type ActionStatus string

const (
	ActionOpen       ActionStatus = "open"
	ActionInProgress ActionStatus = "in_progress"
	ActionBlocked    ActionStatus = "blocked"
	ActionDone       ActionStatus = "done"
)

// Valid reports whether s is a status a human may set.
func (s ActionStatus) Valid() bool {
	switch s {
	case ActionOpen, ActionInProgress, ActionBlocked, ActionDone:
		return true
	}
	return false
}

// Extractable reports whether s may come out of the analysis model.
func (s ActionStatus) Extractable() bool {
	return s == ActionOpen || s == ActionBlocked || s == ActionDone
}

// ActionItem is the artifact-facing view of an Action row: the task and the
// status as extracted.
type ActionItem struct {
	ActionID string       `json:"action_id,omitempty"`
	Task     string       `json:"task"`
	Status   ActionStatus `json:"status"`
}

// CoachingQuestion is one lens-attributed question in an artifact.
type CoachingQuestion struct {
	Coach    string `json:"coach"`
	Question string `json:"question"`
}

// Artifact is one processed version of a Capture. A Capture owns many
// Artifacts; the latest by creation is current and none are ever edited.
type Artifact struct {
	ID                   string             `json:"id"`
	CaptureID            string             `json:"capture_id"`
	CanonID              *string            `json:"canon_id,omitempty"`
	ParentArtifactID     *string            `json:"parent_artifact_id,omitempty"`
	Iteration            int                `json:"iteration"`
	AlignmentScore       float64            `json:"alignment_score"`
	DriftScore           float64            `json:"drift_score"`
	SentimentScore       float64            `json:"sentiment_score"`
	Synthesis            string             `json:"synthesis"`
	Feedback             string             `json:"feedback"`
	AlignmentExplanation string             `json:"alignment_explanation,omitempty"`
	CoachingQuestions    []CoachingQuestion `json:"coaching_questions,omitempty"`
	GoalPillar           *string            `json:"goal_pillar,omitempty"`
	ActionItems          []ActionItem       `json:"action_items"`
	Embedding            []float32          `json:"-"`
	CreatedAt            int64              `json:"created_at"`
}

// Action is a first-class extracted task.
type Action struct {
	ID                 string       `json:"id"`
	WorkspaceID        string       `json:"workspace_id"`
	UserID             string       `json:"user_id"`
	ArtifactID         string       `json:"artifact_id"`
	GoalID             *string      `json:"goal_id,omitempty"`
	Title              string       `json:"title"`
	Status             ActionStatus `json:"status"`
	ExtractedStatus    ActionStatus `json:"-"`
	Priority           Priority     `json:"priority"`
	GoalAlignmentScore *float64     `json:"goal_alignment_score,omitempty"`
	GoalPillar         *string      `json:"goal_pillar,omitempty"`
	Position           int          `json:"-"`
	CreatedAt          int64        `json:"created_at"`
	UpdatedAt          int64        `json:"updated_at"`
}

// Membership is a (user, workspace) pair's gamification state.
// Streak and Traction are written only by the gamification updater.
type Membership struct {
	UserID        string  `json:"user_id"`
	WorkspaceID   string  `json:"workspace_id"`
	Role          string  `json:"role"`
	LastCaptureAt *int64  `json:"last_capture_at,omitempty"`
	Streak        int     `json:"streak"`
	Traction      float64 `json:"traction"`
	Version       int64   `json:"-"`
}
