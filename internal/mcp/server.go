package mcp

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nelsonng/tensient/internal/capture"
	"github.com/nelsonng/tensient/internal/config"
	"github.com/nelsonng/tensient/internal/digest"
	"github.com/nelsonng/tensient/internal/ops"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{
	"signal", "document", "conversation", "knowledge", "session",
	"synthesis", "capture", "action", "digest", "canon",
}

const instructions = `Tensient is the team's knowledge layer.
Start a session with session_orient. Record insights with signal_create as you learn them, ` +
	`and finish with session_end. synthesis_run folds unprocessed signals into shared documents.`

// Deps carries the services the tool handlers call.
type Deps struct {
	Ops       ops.Deps
	Processor *capture.Processor
	Digests   *digest.Generator
}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"signal_list": {
		def:     signalListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSignalList },
	},
	"signal_create": {
		def:     signalCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSignalCreate },
	},
	"signal_update": {
		def:     signalUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSignalUpdate },
	},
	"signal_delete": {
		def:     signalDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSignalDelete },
	},
	"document_list": {
		def:     documentListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDocumentList },
	},
	"document_get": {
		def:     documentGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDocumentGet },
	},
	"document_upsert": {
		def:     documentUpsertToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDocumentUpsert },
	},
	"document_delete": {
		def:     documentDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDocumentDelete },
	},
	"conversation_list": {
		def:     conversationListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleConversationList },
	},
	"conversation_get": {
		def:     conversationGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleConversationGet },
	},
	"knowledge_search": {
		def:     knowledgeSearchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleKnowledgeSearch },
	},
	"session_end": {
		def:     sessionEndToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionEnd },
	},
	"session_orient": {
		def:     sessionOrientToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionOrient },
	},
	"synthesis_run": {
		def:     synthesisRunToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSynthesisRun },
	},
	"capture_submit": {
		def:     captureSubmitToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaptureSubmit },
	},
	"capture_refine": {
		def:     captureRefineToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaptureRefine },
	},
	"capture_history": {
		def:     captureHistoryToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaptureHistory },
	},
	"action_list": {
		def:     actionListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleActionList },
	},
	"action_update": {
		def:     actionUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleActionUpdate },
	},
	"digest_generate": {
		def:     digestGenerateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDigestGenerate },
	},
	"digest_latest": {
		def:     digestLatestToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDigestLatest },
	},
	"canon_get": {
		def:     canonGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCanonGet },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "signal_create" → "signal").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates a new MCP server with the knowledge-layer tools
// registered. Tools listed in cfg.DisabledTools or belonging to
// cfg.DisabledTypes are excluded from registration, as are capture and
// digest tools when their service is not configured.
func NewServer(deps Deps, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"tensient",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	h := NewHandlers(deps, cfg)

	// Expand types first, then add individual tools
	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}
	if deps.Processor == nil {
		for _, tool := range ExpandTypesToTools([]string{"capture"}) {
			disabled[tool] = true
		}
	}
	if deps.Digests == nil {
		for _, tool := range ExpandTypesToTools([]string{"digest"}) {
			disabled[tool] = true
		}
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(deps Deps, cfg *config.Config, version string) error {
	s := NewServer(deps, cfg, version)
	return server.ServeStdio(s)
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
