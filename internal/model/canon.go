package model

// Pillar is one strategic goal in a Canon's structured breakdown.
type Pillar struct {
	Title  string `json:"title"`
	Health string `json:"health,omitempty"`
}

// Canon is a workspace's reference strategy. Rows are never edited; the
// most recently created Canon is the current one.
type Canon struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Content     string    `json:"content"`
	RawInput    string    `json:"raw_input,omitempty"`
	Pillars     []Pillar  `json:"pillars,omitempty"`
	Embedding   []float32 `json:"-"`
	CreatedAt   int64     `json:"created_at"`
}

// PillarTitles returns the pillar titles in their stored order.
func (c *Canon) PillarTitles() []string {
	if c == nil {
		return nil
	}
	titles := make([]string, 0, len(c.Pillars))
	for _, p := range c.Pillars {
		if p.Title != "" {
			titles = append(titles, p.Title)
		}
	}
	return titles
}

// MatchPillar returns label when it exactly equals one of the pillar titles,
// and nil otherwise. No fuzzy correction is applied.
func MatchPillar(label *string, titles []string) *string {
	if label == nil {
		return nil
	}
	for _, t := range titles {
		if t == *label {
			matched := t
			return &matched
		}
	}
	return nil
}
