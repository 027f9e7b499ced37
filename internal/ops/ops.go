// Package ops implements the knowledge-layer operations shared by the tool
// server, the CLI and the web API: signals, documents, conversations,
// semantic search, session logs, orientation and synthesis runs, plus the
// human-facing action and canon reads.
package ops

import (
	"database/sql"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nelsonng/tensient/internal/config"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/llm"
	"github.com/nelsonng/tensient/internal/usage"
)

// Pagination limits
const (
	DefaultListLimit   = 20
	MaxListLimit       = 100
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
	MaxSnippetChars    = 300
	MaxContentChars    = 50000
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

func paginate(limit, offset, returned, total int) Pagination {
	return Pagination{
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+returned < total,
		Total:   total,
	}
}

// Deps carries the collaborators an operation may need. Operations that
// only touch the store use DB alone.
type Deps struct {
	DB        *sql.DB
	Embedder  llm.Embedder
	Generator llm.Generator
	Meter     *usage.Meter
	Config    *config.Config
	Logger    *zap.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) temperature() float64 {
	if d.Config != nil {
		return d.Config.GenerationTemperature
	}
	return 0
}

func (d Deps) logger() *zap.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return zap.NewNop()
}

// Scope is the (workspace, user) pair every operation runs as.
// Authentication is external; both values are trusted as given.
type Scope struct {
	WorkspaceID string `json:"-"`
	UserID      string `json:"-"`
}

func (s Scope) validate() error {
	if strings.TrimSpace(s.WorkspaceID) == "" || strings.TrimSpace(s.UserID) == "" {
		return errors.NewInvalidRequest("workspace and user scope are required")
	}
	return nil
}

// clampLimit applies the default and upper bound to a requested limit.
func clampLimit(limit, def, upper int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, upper)
}

// cleanOptionalString trims whitespace and returns nil for empty strings.
func cleanOptionalString(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// snippet returns the first MaxSnippetChars runes of s on one line.
func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= MaxSnippetChars {
		return s
	}
	return string(r[:MaxSnippetChars]) + "..."
}
