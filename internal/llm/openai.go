package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// openaiAPIBase is a var to allow test overrides via httptest.
var openaiAPIBase = "https://api.openai.com/v1"

// SetOpenAIAPIBase overrides the OpenAI API base URL.
// Intended for use in tests only.
func SetOpenAIAPIBase(u string) { openaiAPIBase = strings.TrimSuffix(u, "/") }

// OpenAIAPIBase returns the current OpenAI API base URL.
func OpenAIAPIBase() string { return openaiAPIBase }

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// OpenAIEmbedder calls the embeddings endpoint.
type OpenAIEmbedder struct {
	apiKey string // unexported; never serialized by encoding/json
	model  string
	dims   int
}

type openaiEmbeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type openaiEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *openaiError `json:"error"`
}

// Embed returns the embedding for text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body := openaiEmbeddingRequest{Model: e.model, Input: text}
	// Only the text-embedding-3 family accepts a dimensions override.
	if strings.HasPrefix(e.model, "text-embedding-3") {
		body.Dimensions = e.dims
	}

	var out openaiEmbeddingResponse
	if err := postJSON(ctx, e.apiKey, "/embeddings", body, &out, func() *openaiError { return out.Error }); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("openai: empty data in embedding response")
	}
	vec := out.Data[0].Embedding
	if err := checkDimensions(vec, e.dims); err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	return vec, nil
}

// OpenAIGenerator calls chat completions with a strict json_schema
// response format.
type OpenAIGenerator struct {
	apiKey string
	model  string
}

type openaiChatRequest struct {
	Model          string               `json:"model"`
	Messages       []openaiMessage      `json:"messages"`
	Temperature    *float64             `json:"temperature,omitempty"`
	ResponseFormat openaiResponseFormat `json:"response_format"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponseFormat struct {
	Type       string           `json:"type"`
	JSONSchema openaiJSONSchema `json:"json_schema"`
}

type openaiJSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type openaiChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string  `json:"content"`
			Refusal *string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
	Usage openaiUsage  `json:"usage"`
	Error *openaiError `json:"error"`
}

// Generate runs one chat completion constrained to req.Schema.
func (g *OpenAIGenerator) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	// Only include system message when non-empty to avoid unnecessary token usage.
	var messages []openaiMessage
	if req.System != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: req.Prompt})

	body := openaiChatRequest{
		Model:    g.model,
		Messages: messages,
		ResponseFormat: openaiResponseFormat{
			Type: "json_schema",
			JSONSchema: openaiJSONSchema{
				Name:   req.Schema.Name,
				Strict: true,
				Schema: req.Schema.Definition,
			},
		},
	}
	if req.Temperature != 0 {
		t := req.Temperature
		body.Temperature = &t
	}

	var out openaiChatResponse
	if err := postJSON(ctx, g.apiKey, "/chat/completions", body, &out, func() *openaiError { return out.Error }); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}
	msg := out.Choices[0].Message
	if msg.Refusal != nil && *msg.Refusal != "" {
		return nil, fmt.Errorf("openai: model refused: %s", truncate(*msg.Refusal, 200))
	}

	return &GenerateResponse{
		Raw:          json.RawMessage(msg.Content),
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
		Model:        fmt.Sprintf("openai:%s", out.Model),
	}, nil
}

// postJSON sends body to the OpenAI endpoint at path and decodes the reply
// into out. apiErr reads the structured error field after decoding.
func postJSON(ctx context.Context, apiKey, path string, body, out any, apiErr func() *openaiError) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, openaiAPIBase+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := sharedHTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	const maxBodyBytes = 10 * 1024 * 1024 // 10 MiB
	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	respStr := string(respBytes)

	if err := json.Unmarshal(respBytes, out); err != nil {
		return fmt.Errorf("parsing response JSON (HTTP %d, body: %s): %w", resp.StatusCode, truncate(respStr, 200), err)
	}

	// Check status code first, then structured error field.
	if resp.StatusCode != http.StatusOK {
		if e := apiErr(); e != nil {
			return fmt.Errorf("openai: %s: %s", e.Type, e.Message)
		}
		return fmt.Errorf("openai: HTTP %d: %s", resp.StatusCode, truncate(respStr, 200))
	}
	return nil
}
