package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nelsonng/tensient/internal/errors"
)

// decode unmarshals MCP request arguments into a typed struct by round
// tripping them through JSON, so explicit nulls survive for tri-state fields.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return result, fmt.Errorf("marshal args: %w", err)
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, fmt.Errorf("unmarshal args: %w", err)
	}
	return result, nil
}

// idRequest is the argument shape of the single-id tools.
type idRequest struct {
	ID string `json:"id"`
}

// weekRequest is the argument shape of the digest tools.
type weekRequest struct {
	WeekOf string `json:"week_of,omitempty"`
}

// parseWeekOf accepts a bare date or an RFC 3339 timestamp. Empty means
// no week was given.
func parseWeekOf(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, errors.NewInvalidRequest("week_of must be YYYY-MM-DD or RFC 3339").WithDetail("week_of", s)
}
