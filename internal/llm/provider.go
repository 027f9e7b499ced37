// Package llm defines the embedding and structured-generation providers
// the pipeline calls, with OpenAI and Google GenAI implementations.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/nelsonng/tensient/internal/config"
	"github.com/nelsonng/tensient/internal/schema"
)

// sharedHTTPClient is used by the HTTP providers; generation can be slow.
var sharedHTTPClient = &http.Client{
	Timeout: 2 * time.Minute,
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GenerateRequest holds the parameters for one structured generation.
type GenerateRequest struct {
	System      string
	Prompt      string
	Schema      schema.Contract
	Temperature float64
}

// GenerateResponse is the raw JSON the model produced plus its token cost.
type GenerateResponse struct {
	Raw          json.RawMessage
	InputTokens  int
	OutputTokens int
	Model        string
}

// Generator produces JSON constrained by a schema. Implementations return
// the model's text; GenerateStructured validates and decodes it.
type Generator interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// NewEmbedder builds the configured embedding provider. A missing API key
// yields an Unavailable provider so read-only commands still work.
func NewEmbedder(ctx context.Context, cfg *config.Config) (Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return Unavailable{Reason: "OPENAI_API_KEY environment variable not set"}, nil
		}
		return &OpenAIEmbedder{apiKey: apiKey, model: cfg.EmbeddingModel, dims: cfg.EmbeddingDimensions}, nil
	case "genai":
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return Unavailable{Reason: "GEMINI_API_KEY environment variable not set"}, nil
		}
		return NewGenAIEmbedder(ctx, apiKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q: supported providers are openai, genai", cfg.EmbeddingProvider)
	}
}

// NewGenerator builds the configured generation provider.
func NewGenerator(ctx context.Context, cfg *config.Config) (Generator, error) {
	switch cfg.GenerationProvider {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return Unavailable{Reason: "OPENAI_API_KEY environment variable not set"}, nil
		}
		return &OpenAIGenerator{apiKey: apiKey, model: cfg.GenerationModel}, nil
	case "genai":
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return Unavailable{Reason: "GEMINI_API_KEY environment variable not set"}, nil
		}
		return NewGenAIGenerator(ctx, apiKey, cfg.GenerationModel)
	default:
		return nil, fmt.Errorf("unknown generation provider %q: supported providers are openai, genai", cfg.GenerationProvider)
	}
}

// Unavailable fails every call. It stands in when no credentials are set.
type Unavailable struct {
	Reason string
}

func (u Unavailable) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embedding provider unavailable: %s", u.Reason)
}

func (u Unavailable) Generate(context.Context, *GenerateRequest) (*GenerateResponse, error) {
	return nil, fmt.Errorf("generation provider unavailable: %s", u.Reason)
}

// checkDimensions rejects vectors whose length differs from the configured
// dimensionality.
func checkDimensions(v []float32, want int) error {
	if len(v) == 0 {
		return fmt.Errorf("empty embedding returned")
	}
	if want > 0 && len(v) != want {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(v), want)
	}
	return nil
}

// truncate limits a string to maxLen runes, appending "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
