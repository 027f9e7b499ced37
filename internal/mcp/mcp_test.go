package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nelsonng/tensient/internal/capture"
	"github.com/nelsonng/tensient/internal/config"
	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/digest"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/lens"
	"github.com/nelsonng/tensient/internal/llm/llmtest"
	"github.com/nelsonng/tensient/internal/model"
	"github.com/nelsonng/tensient/internal/ops"
	"github.com/nelsonng/tensient/internal/schema"
	"github.com/nelsonng/tensient/internal/usage"
)

const toolCount = 22

type testEnv struct {
	deps Deps
	cfg  *config.Config
	gen  *llmtest.Generator
	h    *Handlers
}

// testSetup creates a temporary database, fake model clients and config
// for testing.
func testSetup(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.WorkspaceID = "ws1"
	cfg.UserID = "u1"

	emb := &llmtest.Embedder{Vectors: map[string][]float32{}, Default: []float32{0, 0, 1}}
	gen := &llmtest.Generator{InputTokens: 100, OutputTokens: 50}
	meter := usage.NewMeter(database, 0)
	lenses := lens.Static(lens.Defaults())

	proc, err := capture.New(capture.Deps{
		DB:        database,
		Embedder:  emb,
		Generator: gen,
		Lenses:    lenses,
		Meter:     meter,
	}, cfg)
	if err != nil {
		t.Fatalf("failed to build processor: %v", err)
	}

	deps := Deps{
		Ops: ops.Deps{
			DB:        database,
			Embedder:  emb,
			Generator: gen,
			Meter:     meter,
			Config:    cfg,
		},
		Processor: proc,
		Digests:   digest.New(database, gen, lenses, meter, cfg, nil),
	}
	return &testEnv{deps: deps, cfg: cfg, gen: gen, h: NewHandlers(deps, cfg)}
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

type handlerCase struct {
	name      string
	args      map[string]any
	wantError bool
	errorCode string
}

func runCases(t *testing.T, handler ToolHandlerFunc, tests []handlerCase) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := handler(context.Background(), makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}

			if tt.wantError {
				if !result.IsError {
					t.Errorf("expected error result, got success")
				}
				if tt.errorCode != "" {
					assertErrorCode(t, result, tt.errorCode)
				}
			} else if result.IsError {
				t.Errorf("expected success, got error: %v", extractErrorMessage(result))
			}
		})
	}
}

func TestHandleSignalCreate(t *testing.T) {
	env := testSetup(t)

	runCases(t, env.h.HandleSignalCreate, []handlerCase{
		{
			name: "unlinked signal",
			args: map[string]any{"content": "Checkout p99 doubled after the deploy", "ai_priority": "high"},
		},
		{
			name:      "missing content",
			args:      map[string]any{"ai_priority": "high"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "half a linkage",
			args:      map[string]any{"content": "x", "conversation_id": "01ABC"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "linkage to a missing message",
			args:      map[string]any{"content": "x", "conversation_id": "01ABC", "message_id": "01DEF"},
			wantError: true,
			errorCode: "NOT_FOUND",
		},
		{
			name:      "unknown priority",
			args:      map[string]any{"content": "x", "ai_priority": "urgent"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "wrong argument type",
			args:      map[string]any{"content": 42},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
	})
}

func TestHandleSignalUpdate_ClearsPriorityWithNull(t *testing.T) {
	env := testSetup(t)
	ctx := context.Background()

	created := parseOutput(t, call(t, env.h.HandleSignalCreate, map[string]any{"content": "Flaky deploys on Fridays"}))
	id := created["id"].(string)

	reviewed := parseOutput(t, call(t, env.h.HandleSignalUpdate, map[string]any{"id": id, "human_priority": "critical", "status": "resolved"}))
	if reviewed["human_priority"] != "critical" {
		t.Errorf("human_priority = %v, want critical", reviewed["human_priority"])
	}
	if reviewed["status"] != "resolved" {
		t.Errorf("status = %v, want resolved", reviewed["status"])
	}
	if _, ok := reviewed["reviewed_at"]; !ok {
		t.Error("expected reviewed_at to be stamped")
	}

	cleared := parseOutput(t, call(t, env.h.HandleSignalUpdate, map[string]any{"id": id, "human_priority": nil}))
	if _, ok := cleared["human_priority"]; ok {
		t.Errorf("expected human_priority to be cleared, got %v", cleared["human_priority"])
	}
	if _, ok := cleared["reviewed_at"]; ok {
		t.Error("expected reviewed_at to be cleared")
	}

	result, err := env.h.HandleSignalDelete(ctx, makeRequest(map[string]any{"id": id}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	deleted := parseOutput(t, result)
	if deleted["deleted"] != true {
		t.Errorf("deleted = %v, want true", deleted["deleted"])
	}

	result, _ = env.h.HandleSignalUpdate(ctx, makeRequest(map[string]any{"id": id, "status": "open"}))
	assertErrorCode(t, result, "NOT_FOUND")
}

func TestHandleSignalList(t *testing.T) {
	env := testSetup(t)
	for _, c := range []string{"alpha signal", "beta signal", "gamma note"} {
		call(t, env.h.HandleSignalCreate, map[string]any{"content": c})
	}

	out := parseOutput(t, call(t, env.h.HandleSignalList, map[string]any{"keyword": "SIGNAL", "limit": 1}))
	items := out["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	pagination := out["pagination"].(map[string]any)
	if pagination["total"] != float64(2) || pagination["has_more"] != true {
		t.Errorf("pagination = %v, want total 2 with more", pagination)
	}

	runCases(t, env.h.HandleSignalList, []handlerCase{
		{name: "bad status", args: map[string]any{"status": "closed"}, wantError: true, errorCode: "INVALID_REQUEST"},
		{name: "bad since", args: map[string]any{"since": "yesterday"}, wantError: true, errorCode: "INVALID_REQUEST"},
		{name: "rfc3339 window", args: map[string]any{"since": "2020-01-01T00:00:00Z", "until": "2999-01-01T00:00:00Z"}},
	})
}

func TestHandleDocumentLifecycle(t *testing.T) {
	env := testSetup(t)

	created := parseOutput(t, call(t, env.h.HandleDocumentUpsert, map[string]any{
		"kind": "brain", "title": "Working notes", "content": "# Notes\n\nThe queue is the bottleneck.",
	}))
	if created["created"] != true {
		t.Fatalf("created = %v, want true", created["created"])
	}
	id := created["document"].(map[string]any)["id"].(string)

	updated := parseOutput(t, call(t, env.h.HandleDocumentUpsert, map[string]any{"id": id, "title": "Queue notes"}))
	if updated["reembedded"] != false {
		t.Errorf("title-only update should not re-embed")
	}

	got := parseOutput(t, call(t, env.h.HandleDocumentGet, map[string]any{"id": id}))
	if got["title"] != "Queue notes" {
		t.Errorf("title = %v, want Queue notes", got["title"])
	}
	if !strings.Contains(got["content"].(string), "bottleneck") {
		t.Errorf("content = %v, want original body", got["content"])
	}

	list := parseOutput(t, call(t, env.h.HandleDocumentList, map[string]any{"kinds": []any{"brain"}}))
	items := list["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if _, ok := items[0].(map[string]any)["content"]; ok {
		t.Error("list items should not carry content")
	}

	runCases(t, env.h.HandleDocumentUpsert, []handlerCase{
		{name: "create without kind", args: map[string]any{"title": "x"}, wantError: true, errorCode: "INVALID_REQUEST"},
		{name: "change kind", args: map[string]any{"id": id, "kind": "canon", "title": "x"}, wantError: true, errorCode: "INVALID_REQUEST"},
		{name: "unknown id", args: map[string]any{"id": "01NOPE", "title": "x"}, wantError: true, errorCode: "NOT_FOUND"},
	})

	deleted := parseOutput(t, call(t, env.h.HandleDocumentDelete, map[string]any{"id": id}))
	if deleted["id"] != id {
		t.Errorf("deleted id = %v, want %v", deleted["id"], id)
	}
	result, _ := env.h.HandleDocumentGet(context.Background(), makeRequest(map[string]any{"id": id}))
	assertErrorCode(t, result, "NOT_FOUND")
}

func TestHandleConversationGet(t *testing.T) {
	env := testSetup(t)
	ctx := context.Background()

	scope := ops.Scope{WorkspaceID: env.cfg.WorkspaceID, UserID: env.cfg.UserID}
	conv, err := ops.CreateConversation(ctx, env.deps.Ops, scope, "Payments sync")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, err := ops.AppendMessage(ctx, env.deps.Ops, ops.AppendMessageInput{Scope: scope, ConversationID: conv.ID, Role: "user", Content: "Where are we on payments?"}); err != nil {
		t.Fatalf("append message: %v", err)
	}

	out := parseOutput(t, call(t, env.h.HandleConversationGet, map[string]any{"id": conv.ID}))
	if msgs := out["messages"].([]any); len(msgs) != 1 {
		t.Errorf("messages = %d, want 1", len(msgs))
	}

	list := parseOutput(t, call(t, env.h.HandleConversationList, map[string]any{}))
	if items := list["items"].([]any); len(items) != 1 {
		t.Errorf("items = %d, want 1", len(items))
	}

	runCases(t, env.h.HandleConversationGet, []handlerCase{
		{name: "missing id", args: map[string]any{}, wantError: true, errorCode: "INVALID_REQUEST"},
		{name: "unknown id", args: map[string]any{"id": "01NOPE"}, wantError: true, errorCode: "NOT_FOUND"},
	})
}

func TestHandleKnowledgeSearch(t *testing.T) {
	env := testSetup(t)
	call(t, env.h.HandleSignalCreate, map[string]any{"content": "Search indexing lags behind writes"})

	out := parseOutput(t, call(t, env.h.HandleKnowledgeSearch, map[string]any{"query": "indexing lag", "scope": "signals"}))
	items := out["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0].(map[string]any)["type"] != "signal" {
		t.Errorf("type = %v, want signal", items[0].(map[string]any)["type"])
	}

	runCases(t, env.h.HandleKnowledgeSearch, []handlerCase{
		{name: "blank query", args: map[string]any{"query": " "}, wantError: true, errorCode: "INVALID_REQUEST"},
		{name: "unknown scope", args: map[string]any{"query": "x", "scope": "galaxy"}, wantError: true, errorCode: "INVALID_REQUEST"},
	})
}

func TestHandleSessionEndAndOrient(t *testing.T) {
	env := testSetup(t)

	ended := parseOutput(t, call(t, env.h.HandleSessionEnd, map[string]any{
		"title":        "Queue migration",
		"summary":      "Moved webhooks to the queue.",
		"decisions":    []any{"Keep the old endpoint for a week"},
		"debt_added":   []any{"No dead-letter queue yet"},
		"observations": []any{"Mondays are busiest"},
	}))
	if signals := ended["signals"].([]any); len(signals) != 3 {
		t.Errorf("signals = %d, want 3", len(signals))
	}

	orient := parseOutput(t, call(t, env.h.HandleSessionOrient, map[string]any{}))
	counts := orient["signal_counts"].(map[string]any)
	if counts["open"] != float64(3) {
		t.Errorf("open count = %v, want 3", counts["open"])
	}
	if sessions := orient["recent_sessions"].([]any); len(sessions) != 1 {
		t.Errorf("recent_sessions = %d, want 1", len(sessions))
	}
	if orient["last_commit_at"] != nil {
		t.Errorf("last_commit_at = %v, want null", orient["last_commit_at"])
	}

	runCases(t, env.h.HandleSessionEnd, []handlerCase{
		{name: "missing summary", args: map[string]any{"decisions": []any{"x"}}, wantError: true, errorCode: "INVALID_REQUEST"},
	})
}

func TestHandleSynthesisRun(t *testing.T) {
	env := testSetup(t)

	skipped := parseOutput(t, call(t, env.h.HandleSynthesisRun, map[string]any{}))
	if skipped["skipped"] != true {
		t.Fatalf("skipped = %v, want true", skipped["skipped"])
	}

	call(t, env.h.HandleSignalCreate, map[string]any{"content": "Refunds take five days"})
	env.gen.Responses = []any{schema.SynthesisResult{
		Summary:   "Started a refunds log.",
		Documents: []schema.SynthesizedDocument{{Title: "Refunds", Content: "- Refunds take five days\n"}},
	}}

	ran := parseOutput(t, call(t, env.h.HandleSynthesisRun, map[string]any{}))
	commit := ran["commit"].(map[string]any)
	if ids := commit["signal_ids"].([]any); len(ids) != 1 {
		t.Errorf("signal_ids = %d, want 1", len(ids))
	}
	if docs := ran["documents"].([]any); len(docs) != 1 {
		t.Errorf("documents = %d, want 1", len(docs))
	}
}

func TestHandleCaptureFlow(t *testing.T) {
	env := testSetup(t)
	env.gen.Responses = []any{
		schema.AnalysisResult{
			SentimentScore:       0.2,
			ActionItems:          []schema.ExtractedAction{{Task: "Unblock payments", Status: model.ActionBlocked}},
			Synthesis:            "Login fix shipped; payments blocked.",
			Feedback:             "Name the blocker.",
			CoachingQuestions:    []model.CoachingQuestion{{Coach: "Operator", Question: "Who owns payments?"}},
			AlignmentExplanation: "No strategy yet.",
		},
	}

	submitted := parseOutput(t, call(t, env.h.HandleCaptureSubmit, map[string]any{"content": "Shipped the login fix, blocked on payments"}))
	captureID := submitted["capture"].(map[string]any)["id"].(string)
	if actions := submitted["actions"].([]any); len(actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(actions))
	}

	listed := parseOutput(t, call(t, env.h.HandleActionList, map[string]any{"mine": true, "status": "blocked"}))
	items := listed["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	actionID := items[0].(map[string]any)["id"].(string)

	updated := parseOutput(t, call(t, env.h.HandleActionUpdate, map[string]any{"id": actionID, "status": "done"}))
	if updated["status"] != "done" {
		t.Errorf("status = %v, want done", updated["status"])
	}

	history := parseOutput(t, call(t, env.h.HandleCaptureHistory, map[string]any{"capture_id": captureID}))
	if artifacts := history["artifacts"].([]any); len(artifacts) != 1 {
		t.Errorf("artifacts = %d, want 1", len(artifacts))
	}

	runCases(t, env.h.HandleCaptureSubmit, []handlerCase{
		{name: "blank content", args: map[string]any{"content": "  "}, wantError: true, errorCode: "INVALID_REQUEST"},
	})
	runCases(t, env.h.HandleCaptureHistory, []handlerCase{
		{name: "unknown capture", args: map[string]any{"capture_id": "01NOPE"}, wantError: true, errorCode: "NOT_FOUND"},
	})
	runCases(t, env.h.HandleActionUpdate, []handlerCase{
		{name: "bad status", args: map[string]any{"id": actionID, "status": "cancelled"}, wantError: true, errorCode: "INVALID_REQUEST"},
	})
}

func TestHandleDigestAndCanon(t *testing.T) {
	env := testSetup(t)

	runCases(t, env.h.HandleDigestLatest, []handlerCase{
		{name: "no digest yet", args: map[string]any{}, wantError: true, errorCode: "NOT_FOUND"},
		{name: "bad week", args: map[string]any{"week_of": "next week"}, wantError: true, errorCode: "INVALID_REQUEST"},
		{name: "date week", args: map[string]any{"week_of": "2026-03-04"}, wantError: true, errorCode: "NOT_FOUND"},
	})
	runCases(t, env.h.HandleCanonGet, []handlerCase{
		{name: "no canon yet", args: map[string]any{}, wantError: true, errorCode: "NOT_FOUND"},
	})

	canon, err := env.deps.Processor.CreateCanon(context.Background(), capture.CanonInput{
		WorkspaceID: env.cfg.WorkspaceID,
		Content:     "Ship payments",
		Pillars:     []model.Pillar{{Title: "Ship payments integration"}},
	})
	if err != nil {
		t.Fatalf("create canon: %v", err)
	}
	got := parseOutput(t, call(t, env.h.HandleCanonGet, map[string]any{}))
	if got["id"] != canon.ID {
		t.Errorf("canon id = %v, want %v", got["id"], canon.ID)
	}
}

func TestParseWeekOf(t *testing.T) {
	tests := []struct {
		in      string
		want    *time.Time
		wantErr bool
	}{
		{in: "", want: nil},
		{in: "2026-03-04", want: ptrTime(time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC))},
		{in: "2026-03-04T10:30:00Z", want: ptrTime(time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC))},
		{in: "03/04/2026", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseWeekOf(tt.in)
			if tt.wantErr {
				if !errors.Is(err, errors.ErrInvalidRequest) {
					t.Fatalf("err = %v, want INVALID_REQUEST", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (got == nil) != (tt.want == nil) || (got != nil && !got.Equal(*tt.want)) {
				t.Errorf("parseWeekOf(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestServerRegistration(t *testing.T) {
	env := testSetup(t)

	s := NewServer(env.deps, env.cfg, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	if len(tools) != toolCount {
		t.Errorf("registered tool count = %d, want %d", len(tools), toolCount)
	}

	for _, name := range AllToolNames() {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	env := testSetup(t)

	env.cfg.DisabledTools = []string{"signal_delete", "document_delete"}
	env.cfg.DisabledTypes = []string{"digest"}
	s := NewServer(env.deps, env.cfg, "test")
	tools := s.ListTools()

	if len(tools) != toolCount-4 {
		t.Errorf("registered tool count = %d, want %d", len(tools), toolCount-4)
	}

	for _, name := range []string{"signal_delete", "document_delete", "digest_generate", "digest_latest"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}

	for _, name := range []string{"signal_create", "session_orient", "knowledge_search"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("core tool %q should be registered", name)
		}
	}
}

func TestServerRegistration_WithoutOptionalServices(t *testing.T) {
	env := testSetup(t)

	deps := env.deps
	deps.Processor = nil
	deps.Digests = nil
	tools := NewServer(deps, env.cfg, "test").ListTools()

	if len(tools) != toolCount-5 {
		t.Errorf("registered tool count = %d, want %d", len(tools), toolCount-5)
	}
	if _, ok := tools["capture_submit"]; ok {
		t.Error("capture tools need a processor")
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	env := testSetup(t)

	env.cfg.DisabledTools = AllToolNames()
	tools := NewServer(env.deps, env.cfg, "test").ListTools()

	if len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabled(t *testing.T) {
	tests := []struct {
		name     string
		validate func([]string) []string
		input    []string
		wantLen  int
	}{
		{name: "valid tools", validate: ValidateDisabledTools, input: []string{"signal_delete", "synthesis_run"}, wantLen: 0},
		{name: "one unknown tool", validate: ValidateDisabledTools, input: []string{"signal_delete", "capsule_store"}, wantLen: 1},
		{name: "empty tools", validate: ValidateDisabledTools, input: []string{}, wantLen: 0},
		{name: "valid types", validate: ValidateDisabledTypes, input: []string{"capture", "digest"}, wantLen: 0},
		{name: "unknown types", validate: ValidateDisabledTypes, input: []string{"capsule", "widget"}, wantLen: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if unknown := tt.validate(tt.input); len(unknown) != tt.wantLen {
				t.Errorf("returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestToolNamesMatchKnownTypes(t *testing.T) {
	names := AllToolNames()
	if len(names) != toolCount {
		t.Errorf("AllToolNames() returned %d names, want %d", len(names), toolCount)
	}

	var types []string
	for _, name := range names {
		types = append(types, GetTypeForTool(name))
	}
	if unknown := ValidateDisabledTypes(types); len(unknown) != 0 {
		t.Errorf("tools with unknown types: %v", unknown)
	}
	for _, typ := range KnownTypes {
		if len(ExpandTypesToTools([]string{typ})) == 0 {
			t.Errorf("type %q has no tools", typ)
		}
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")).WithDetail("path", "/tmp/secret.db"))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	errObj := errorPayload(t, r)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrappedErr := fmt.Errorf("documents[2]: %w", errors.NewInvalidRequest("title is required"))

	errObj := errorPayload(t, errorResult(wrappedErr))
	if errObj["code"] != string(errors.ErrInvalidRequest) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrInvalidRequest)
	}
	if msg := errObj["message"].(string); msg != "documents[2]: title is required" {
		t.Errorf("message = %q, want wrapper context without the code", msg)
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	errObj := errorPayload(t, errorResult(errors.NewNotFound("signal", "abc")))
	if errObj["code"] != string(errors.ErrNotFound) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if _, ok := errObj["details"]; !ok {
		t.Fatal("expected non-INTERNAL errors to include details when present")
	}
}

func TestErrorResult_PlainErrorIsInternal(t *testing.T) {
	errObj := errorPayload(t, errorResult(fmt.Errorf("boom")))
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if errObj["message"] != "an internal error occurred" {
		t.Errorf("message = %v, want the generic message", errObj["message"])
	}
}

// Helper functions

func call(t *testing.T, handler ToolHandlerFunc, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := handler(context.Background(), makeRequest(args))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return result
}

func ptrTime(t time.Time) *time.Time { return &t }

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func errorPayload(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in payload: %v", payload)
	}
	return errObj
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if len(result.Content) == 0 {
		t.Errorf("no content in error result")
		return
	}
	if !result.IsError {
		t.Errorf("expected error result, got %s", extractErrorMessage(result))
		return
	}
	if code, _ := errorPayload(t, result)["code"].(string); code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}

	return text.Text
}
