package llm

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/nelsonng/tensient/internal/schema"
)

// ErrSchemaViolation marks a generation whose output broke its contract.
var ErrSchemaViolation = stderrors.New("generation violated schema")

// GenerateStructured calls g, strips markdown fences, validates the result
// against req.Schema and decodes it into out. Any violation is an error;
// nothing partial is decoded.
func GenerateStructured(ctx context.Context, g Generator, req *GenerateRequest, out any) (*GenerateResponse, error) {
	resp, err := g.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	cleaned := stripFences(string(resp.Raw))
	var doc any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return resp, fmt.Errorf("%w: JSON parse failed (body: %s): %v", ErrSchemaViolation, truncate(cleaned, 200), err)
	}
	if err := schema.Validate(req.Schema.Definition, doc); err != nil {
		return resp, fmt.Errorf("%w: %s: %v", ErrSchemaViolation, req.Schema.Name, err)
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return resp, fmt.Errorf("%w: decode %s: %v", ErrSchemaViolation, req.Schema.Name, err)
	}
	resp.Raw = json.RawMessage(cleaned)
	return resp, nil
}

// stripFences removes leading/trailing markdown code fences (```json ... ``` or ``` ... ```).
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		// Remove first line (the fence opener)
		idx := strings.Index(s, "\n")
		if idx >= 0 {
			s = s[idx+1:]
		}
	}
	if strings.HasSuffix(s, "```") {
		idx := strings.LastIndex(s, "\n```")
		if idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
