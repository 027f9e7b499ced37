package ops

import (
	"context"
	"sort"
	"strings"

	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

// SearchScope selects which part of the knowledge layer a search covers.
type SearchScope string

const (
	ScopeSignals   SearchScope = "signals"
	ScopePersonal  SearchScope = "personal"  // the caller's brain and session documents
	ScopeShared    SearchScope = "shared"    // canon documents
	ScopeSynthesis SearchScope = "synthesis" // synthesis documents
	ScopeAll       SearchScope = "all"
)

// Valid reports whether s is a known scope.
func (s SearchScope) Valid() bool {
	switch s {
	case ScopeSignals, ScopePersonal, ScopeShared, ScopeSynthesis, ScopeAll:
		return true
	}
	return false
}

// documentKinds returns the kinds searched for s; nil means no documents.
func (s SearchScope) documentKinds() []model.DocumentKind {
	switch s {
	case ScopePersonal:
		return []model.DocumentKind{model.DocumentBrain, model.DocumentSession}
	case ScopeShared:
		return []model.DocumentKind{model.DocumentCanon}
	case ScopeSynthesis:
		return []model.DocumentKind{model.DocumentSynthesis}
	case ScopeAll:
		return []model.DocumentKind{model.DocumentBrain, model.DocumentSession, model.DocumentCanon, model.DocumentSynthesis}
	}
	return nil
}

func (s SearchScope) includesSignals() bool {
	return s == ScopeSignals || s == ScopeAll
}

// SearchInput contains parameters for the Search operation.
type SearchInput struct {
	Scope
	Query       string      `json:"query"`
	SearchScope SearchScope `json:"scope,omitempty"` // default: all
	Limit       int         `json:"limit,omitempty"`
}

// SearchHit is one ranked result. Type is "signal" or "document".
type SearchHit struct {
	Type     string             `json:"type"`
	ID       string             `json:"id"`
	Kind     model.DocumentKind `json:"kind,omitempty"`
	Title    string             `json:"title,omitempty"`
	Status   model.SignalStatus `json:"status,omitempty"`
	Snippet  string             `json:"snippet"`
	Distance float64            `json:"distance"`
}

// SearchOutput contains the result of the Search operation.
type SearchOutput struct {
	Query string      `json:"query"`
	Scope SearchScope `json:"scope"`
	Items []SearchHit `json:"items"`
}

// Search embeds the query and ranks signals and/or documents by cosine
// distance, nearest first. Documents the caller may not see are never
// candidates.
func Search(ctx context.Context, deps Deps, input SearchInput) (*SearchOutput, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, errors.NewInvalidRequest("query is required")
	}
	scope := input.SearchScope
	if scope == "" {
		scope = ScopeAll
	}
	if !scope.Valid() {
		return nil, errors.NewInvalidRequest("scope must be one of: signals, personal, shared, synthesis, all")
	}
	limit := clampLimit(input.Limit, DefaultSearchLimit, MaxSearchLimit)

	vec, err := deps.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.NewProviderFailure("embedding", err)
	}

	hits := []SearchHit{}
	if scope.includesSignals() {
		found, err := db.SearchSignals(ctx, deps.DB, input.WorkspaceID, vec, limit)
		if err != nil {
			return nil, err
		}
		for _, h := range found {
			hits = append(hits, SearchHit{
				Type:     "signal",
				ID:       h.Signal.ID,
				Status:   h.Signal.Status,
				Snippet:  snippet(h.Signal.Content),
				Distance: h.Distance,
			})
		}
	}
	if kinds := scope.documentKinds(); kinds != nil {
		found, err := db.SearchDocuments(ctx, deps.DB, input.WorkspaceID, input.UserID, kinds, vec, limit)
		if err != nil {
			return nil, err
		}
		for _, h := range found {
			hits = append(hits, SearchHit{
				Type:     "document",
				ID:       h.Document.ID,
				Kind:     h.Document.Kind,
				Title:    h.Document.Title,
				Snippet:  snippet(h.Document.Content),
				Distance: h.Distance,
			})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return &SearchOutput{Query: query, Scope: scope, Items: hits}, nil
}
