package model

// DigestItem is one ranked entry of a weekly Top 5.
type DigestItem struct {
	Rank       int      `json:"rank"`
	Title      string   `json:"title"`
	Detail     string   `json:"detail"`
	GoalPillar *string  `json:"goalPillar"`
	Priority   Priority `json:"priority"`
}

// Digest is one generated Top 5 for a (workspace, week start). Regenerating a
// week appends a new row.
type Digest struct {
	ID          string       `json:"id"`
	WorkspaceID string       `json:"workspace_id"`
	WeekStart   int64        `json:"week_start"`
	Summary     string       `json:"summary"`
	Items       []DigestItem `json:"items"`
	CreatedAt   int64        `json:"created_at"`
}

// UsageEvent records the token cost of one provider call.
type UsageEvent struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	WorkspaceID  string `json:"workspace_id"`
	Operation    string `json:"operation"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	CreatedAt    int64  `json:"created_at"`
}
