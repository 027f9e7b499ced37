package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nelsonng/tensient/internal/capture"
	"github.com/nelsonng/tensient/internal/config"
	"github.com/nelsonng/tensient/internal/digest"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers. Every call acts as
// the configured user in the configured workspace.
type Handlers struct {
	deps Deps
	cfg  *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps, cfg *config.Config) *Handlers {
	if deps.Ops.Config == nil {
		deps.Ops.Config = cfg
	}
	return &Handlers{deps: deps, cfg: cfg}
}

func (h *Handlers) scope() ops.Scope {
	return ops.Scope{WorkspaceID: h.cfg.WorkspaceID, UserID: h.cfg.UserID}
}

// HandleSignalList handles the signal_list tool.
func (h *Handlers) HandleSignalList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.ListSignalsInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	input.Scope = h.scope()

	result, err := ops.ListSignals(ctx, h.deps.Ops, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSignalCreate handles the signal_create tool.
func (h *Handlers) HandleSignalCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.CreateSignalInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	input.Scope = h.scope()

	result, err := ops.CreateSignal(ctx, h.deps.Ops, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSignalUpdate handles the signal_update tool.
func (h *Handlers) HandleSignalUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.UpdateSignalInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	input.Scope = h.scope()

	result, err := ops.UpdateSignal(ctx, h.deps.Ops, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSignalDelete handles the signal_delete tool.
func (h *Handlers) HandleSignalDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[idRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.DeleteSignal(ctx, h.deps.Ops, h.scope(), input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDocumentList handles the document_list tool.
func (h *Handlers) HandleDocumentList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.ListDocumentsInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	input.Scope = h.scope()

	result, err := ops.ListDocuments(ctx, h.deps.Ops, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDocumentGet handles the document_get tool.
func (h *Handlers) HandleDocumentGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[idRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.GetDocument(ctx, h.deps.Ops, h.scope(), input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDocumentUpsert handles the document_upsert tool.
func (h *Handlers) HandleDocumentUpsert(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.UpsertDocumentInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	input.Scope = h.scope()

	result, err := ops.UpsertDocument(ctx, h.deps.Ops, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDocumentDelete handles the document_delete tool.
func (h *Handlers) HandleDocumentDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[idRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.DeleteDocument(ctx, h.deps.Ops, h.scope(), input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleConversationList handles the conversation_list tool.
func (h *Handlers) HandleConversationList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.ListConversationsInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	input.Scope = h.scope()

	result, err := ops.ListConversations(ctx, h.deps.Ops, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleConversationGet handles the conversation_get tool.
func (h *Handlers) HandleConversationGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[idRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.GetConversation(ctx, h.deps.Ops, h.scope(), input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleKnowledgeSearch handles the knowledge_search tool.
func (h *Handlers) HandleKnowledgeSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.SearchInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	input.Scope = h.scope()

	result, err := ops.Search(ctx, h.deps.Ops, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSessionEnd handles the session_end tool.
func (h *Handlers) HandleSessionEnd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.EndSessionInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	input.Scope = h.scope()

	result, err := ops.EndSession(ctx, h.deps.Ops, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSessionOrient handles the session_orient tool.
func (h *Handlers) HandleSessionOrient(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.OrientInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	input.Scope = h.scope()

	result, err := ops.Orient(ctx, h.deps.Ops, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSynthesisRun handles the synthesis_run tool.
func (h *Handlers) HandleSynthesisRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.RunSynthesisInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	input.Scope = h.scope()

	result, err := ops.RunSynthesis(ctx, h.deps.Ops, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// CaptureSubmitRequest represents the arguments for capture_submit.
type CaptureSubmitRequest struct {
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}

// HandleCaptureSubmit handles the capture_submit tool.
func (h *Handlers) HandleCaptureSubmit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CaptureSubmitRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.deps.Processor.Process(ctx, capture.SubmitInput{
		UserID:      h.cfg.UserID,
		WorkspaceID: h.cfg.WorkspaceID,
		Content:     input.Content,
		Source:      input.Source,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// CaptureRefineRequest represents the arguments for capture_refine.
type CaptureRefineRequest struct {
	ArtifactID string `json:"artifact_id"`
	Feedback   string `json:"feedback"`
}

// HandleCaptureRefine handles the capture_refine tool.
func (h *Handlers) HandleCaptureRefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CaptureRefineRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.deps.Processor.Refine(ctx, capture.RefineInput{
		UserID:      h.cfg.UserID,
		WorkspaceID: h.cfg.WorkspaceID,
		ArtifactID:  input.ArtifactID,
		Feedback:    input.Feedback,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// CaptureHistoryRequest represents the arguments for capture_history.
type CaptureHistoryRequest struct {
	CaptureID string `json:"capture_id"`
}

// HandleCaptureHistory handles the capture_history tool.
func (h *Handlers) HandleCaptureHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CaptureHistoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.deps.Processor.History(ctx, h.cfg.WorkspaceID, input.CaptureID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleActionList handles the action_list tool.
func (h *Handlers) HandleActionList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.ListActionsInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	input.Scope = h.scope()

	result, err := ops.ListActions(ctx, h.deps.Ops, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleActionUpdate handles the action_update tool.
func (h *Handlers) HandleActionUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.UpdateActionInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	input.Scope = h.scope()

	result, err := ops.UpdateAction(ctx, h.deps.Ops, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDigestGenerate handles the digest_generate tool.
func (h *Handlers) HandleDigestGenerate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[weekRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	week, err := parseWeekOf(input.WeekOf)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.deps.Digests.Generate(ctx, digest.GenerateInput{
		UserID:      h.cfg.UserID,
		WorkspaceID: h.cfg.WorkspaceID,
		WeekStart:   week,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDigestLatest handles the digest_latest tool.
func (h *Handlers) HandleDigestLatest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[weekRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	week, err := parseWeekOf(input.WeekOf)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.deps.Digests.Latest(ctx, h.cfg.WorkspaceID, week)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCanonGet handles the canon_get tool.
func (h *Handlers) HandleCanonGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[idRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.GetCanon(ctx, h.deps.Ops, h.scope(), input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// errorResult creates an MCP error result from an error.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if appErr := errors.As(err); appErr != nil {
		msg := appErr.Message
		// Keep any context added by wrapping, minus the code prefix
		if full := err.Error(); full != appErr.Error() {
			msg = strings.TrimSuffix(full, appErr.Error()) + appErr.Message
		}
		errorObj := map[string]any{
			"code":    appErr.Code,
			"message": msg,
			"status":  appErr.Status,
		}
		// Internal details may carry file paths or SQL text
		if appErr.Code != errors.ErrInternal && appErr.Details != nil {
			errorObj["details"] = appErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
