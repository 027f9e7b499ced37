package ops

import (
	"context"

	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/model"
)

// DefaultOrientLimit caps each list in an orientation.
const DefaultOrientLimit = 10

// OrientInput contains parameters for the Orient operation.
type OrientInput struct {
	Scope
	Limit int `json:"limit,omitempty"` // per list
}

// OrientOutput is a one-round-trip overview of the knowledge layer.
type OrientOutput struct {
	SignalCounts   map[model.SignalStatus]int `json:"signal_counts"`
	LastCommitAt   *int64                     `json:"last_commit_at"`
	LastCommitID   *string                    `json:"last_commit_id,omitempty"`
	DocumentCount  int                        `json:"document_count"`
	OpenSignals    []*model.Signal            `json:"open_signals"`
	SynthesisDocs  []DocumentSummary          `json:"synthesis_documents"`
	RecentSessions []DocumentSummary          `json:"recent_sessions"`
}

// Orient aggregates signal status counts, the latest commit, the number of
// documents the caller can see, and capped pages of open signals, synthesis
// documents and the caller's recent session logs.
func Orient(ctx context.Context, deps Deps, input OrientInput) (*OrientOutput, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	limit := clampLimit(input.Limit, DefaultOrientLimit, MaxListLimit)
	ws := input.WorkspaceID

	counts, err := db.CountSignalsByStatus(ctx, deps.DB, ws)
	if err != nil {
		return nil, err
	}
	out := &OrientOutput{SignalCounts: counts}

	commit, err := db.LatestCommit(ctx, deps.DB, ws)
	if err != nil {
		return nil, err
	}
	if commit != nil {
		out.LastCommitAt = &commit.CreatedAt
		out.LastCommitID = &commit.ID
	}

	_, out.DocumentCount, err = db.ListDocuments(ctx, deps.DB, db.DocumentFilter{
		WorkspaceID: ws,
		Viewer:      input.UserID,
		Limit:       1,
	})
	if err != nil {
		return nil, err
	}

	open, _, err := db.ListSignals(ctx, deps.DB, db.SignalFilter{WorkspaceID: ws, Status: model.SignalOpen, Limit: limit})
	if err != nil {
		return nil, err
	}
	if open == nil {
		open = []*model.Signal{}
	}
	out.OpenSignals = open

	synth, _, err := db.ListDocuments(ctx, deps.DB, db.DocumentFilter{
		WorkspaceID: ws,
		Viewer:      input.UserID,
		Kinds:       []model.DocumentKind{model.DocumentSynthesis},
		Limit:       limit,
	})
	if err != nil {
		return nil, err
	}
	out.SynthesisDocs = summarizeAll(synth)

	sessions, _, err := db.ListDocuments(ctx, deps.DB, db.DocumentFilter{
		WorkspaceID: ws,
		Viewer:      input.UserID,
		Kinds:       []model.DocumentKind{model.DocumentSession},
		Limit:       limit,
	})
	if err != nil {
		return nil, err
	}
	out.RecentSessions = summarizeAll(sessions)
	return out, nil
}
