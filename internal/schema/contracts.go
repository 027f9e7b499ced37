package schema

import "github.com/nelsonng/tensient/internal/model"

// Field limits enforced on received digests.
const (
	DigestItemCount      = 5
	DigestTitleMaxLength = 80
	DigestDetailMax      = 280
	DigestSummaryMax     = 600
)

// AnalysisResult is the decoded output of the analysis and refinement
// contracts.
type AnalysisResult struct {
	SentimentScore       float64                  `json:"sentiment_score"`
	ActionItems          []ExtractedAction        `json:"action_items"`
	Synthesis            string                   `json:"synthesis"`
	Feedback             string                   `json:"feedback"`
	CoachingQuestions    []model.CoachingQuestion `json:"coaching_questions"`
	AlignmentExplanation string                   `json:"alignment_explanation"`
	GoalPillar           *string                  `json:"goal_pillar"`
}

// ExtractedAction is one action item as the model reports it.
type ExtractedAction struct {
	Task   string             `json:"task"`
	Status model.ActionStatus `json:"status"`
}

// DigestResult is the decoded output of the digest contract.
type DigestResult struct {
	Summary string             `json:"summary"`
	Items   []model.DigestItem `json:"items"`
}

// SynthesisResult is the decoded output of the synthesis contract.
type SynthesisResult struct {
	Summary   string                `json:"summary"`
	Documents []SynthesizedDocument `json:"documents"`
}

// SynthesizedDocument is one document the synthesis run wants written. A
// nil DocumentID asks for a new document.
type SynthesizedDocument struct {
	DocumentID *string `json:"document_id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
}

// Analysis is the contract for processing a capture. Coaching questions
// may only name the given coaches. The goal pillar is a free nullable
// string; callers keep it only on an exact match against the pillar list.
func Analysis(coaches []string) Contract {
	return Contract{Name: "capture_analysis", Definition: analysisDefinition(coaches)}
}

// Refinement is the contract for refining an artifact. It has the same
// shape as Analysis.
func Refinement(coaches []string) Contract {
	return Contract{Name: "artifact_refinement", Definition: analysisDefinition(coaches)}
}

func analysisDefinition(coaches []string) map[string]any {
	coachingItems := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"coach", "question"},
		"properties": map[string]any{
			"coach":    map[string]any{"type": "string", "enum": append([]string{}, coaches...)},
			"question": map[string]any{"type": "string"},
		},
	}
	coaching := map[string]any{"type": "array", "items": coachingItems}
	if len(coaches) == 0 {
		coaching["maxItems"] = 0
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required": []string{
			"sentiment_score", "action_items", "synthesis", "feedback",
			"coaching_questions", "alignment_explanation", "goal_pillar",
		},
		"properties": map[string]any{
			"sentiment_score": map[string]any{"type": "number", "minimum": -1, "maximum": 1},
			"action_items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"task", "status"},
					"properties": map[string]any{
						"task":   map[string]any{"type": "string"},
						"status": map[string]any{"type": "string", "enum": []string{"open", "blocked", "done"}},
					},
				},
			},
			"synthesis":             map[string]any{"type": "string"},
			"feedback":              map[string]any{"type": "string"},
			"coaching_questions":    coaching,
			"alignment_explanation": map[string]any{"type": "string"},
			"goal_pillar":           map[string]any{"type": []string{"string", "null"}},
		},
	}
}

// Digest is the contract for a weekly Top 5.
func Digest() Contract {
	priorities := make([]string, len(model.Priorities))
	for i, p := range model.Priorities {
		priorities[i] = string(p)
	}
	return Contract{
		Name: "weekly_digest",
		Definition: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"summary", "items"},
			"properties": map[string]any{
				"summary": map[string]any{"type": "string", "maxLength": DigestSummaryMax},
				"items": map[string]any{
					"type":     "array",
					"minItems": DigestItemCount,
					"maxItems": DigestItemCount,
					"items": map[string]any{
						"type":                 "object",
						"additionalProperties": false,
						"required":             []string{"rank", "title", "detail", "goalPillar", "priority"},
						"properties": map[string]any{
							"rank":       map[string]any{"type": "integer", "minimum": 1, "maximum": DigestItemCount},
							"title":      map[string]any{"type": "string", "maxLength": DigestTitleMaxLength},
							"detail":     map[string]any{"type": "string", "maxLength": DigestDetailMax},
							"goalPillar": map[string]any{"type": []string{"string", "null"}},
							"priority":   map[string]any{"type": "string", "enum": priorities},
						},
					},
				},
			},
		},
	}
}

// Synthesis is the contract for folding signals into synthesis documents.
func Synthesis() Contract {
	return Contract{
		Name: "signal_synthesis",
		Definition: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"summary", "documents"},
			"properties": map[string]any{
				"summary": map[string]any{"type": "string"},
				"documents": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":                 "object",
						"additionalProperties": false,
						"required":             []string{"document_id", "title", "content"},
						"properties": map[string]any{
							"document_id": map[string]any{"type": []string{"string", "null"}},
							"title":       map[string]any{"type": "string", "maxLength": 200},
							"content":     map[string]any{"type": "string"},
						},
					},
				},
			},
		},
	}
}
