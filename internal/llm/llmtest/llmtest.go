// Package llmtest provides scripted providers for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nelsonng/tensient/internal/llm"
)

// Embedder returns Vectors[text] when present, otherwise Default. Err, when
// set, fails every call. Safe for concurrent use.
type Embedder struct {
	Vectors map[string][]float32
	Default []float32
	Err     error

	mu    sync.Mutex
	calls []string
}

// Embed implements llm.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls = append(e.calls, text)
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Err != nil {
		return nil, e.Err
	}
	if v, ok := e.Vectors[text]; ok {
		return append([]float32(nil), v...), nil
	}
	if e.Default == nil {
		return nil, fmt.Errorf("llmtest: no vector for %q", text)
	}
	return append([]float32(nil), e.Default...), nil
}

// Calls returns the texts embedded so far.
func (e *Embedder) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Generator replays Responses in order. Fn, when set, takes precedence.
// Each value is marshaled to JSON unless it is already a string.
type Generator struct {
	Responses    []any
	Fn           func(req *llm.GenerateRequest) (any, error)
	Err          error
	InputTokens  int
	OutputTokens int

	mu       sync.Mutex
	requests []*llm.GenerateRequest
}

// Generate implements llm.Generator.
func (g *Generator) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	n := len(g.requests)
	g.mu.Unlock()

	if g.Err != nil {
		return nil, g.Err
	}

	var (
		value any
		err   error
	)
	switch {
	case g.Fn != nil:
		value, err = g.Fn(req)
		if err != nil {
			return nil, err
		}
	case n <= len(g.Responses):
		value = g.Responses[n-1]
	default:
		return nil, fmt.Errorf("llmtest: no scripted response for call %d", n)
	}

	var raw []byte
	if s, ok := value.(string); ok {
		raw = []byte(s)
	} else if raw, err = json.Marshal(value); err != nil {
		return nil, err
	}
	return &llm.GenerateResponse{
		Raw:          raw,
		InputTokens:  g.InputTokens,
		OutputTokens: g.OutputTokens,
		Model:        "llmtest",
	}, nil
}

// Requests returns the requests received so far.
func (g *Generator) Requests() []*llm.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*llm.GenerateRequest(nil), g.requests...)
}

// Calls returns how many generations were requested.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}
