package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nelsonng/tensient/internal/capture"
	"github.com/nelsonng/tensient/internal/config"
	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/digest"
	"github.com/nelsonng/tensient/internal/lens"
	"github.com/nelsonng/tensient/internal/llm/llmtest"
	"github.com/nelsonng/tensient/internal/model"
	"github.com/nelsonng/tensient/internal/ops"
	"github.com/nelsonng/tensient/internal/schema"
	"github.com/nelsonng/tensient/internal/usage"
)

const (
	testUser      = "u1"
	otherUser     = "u2"
	testWorkspace = "ws1"
)

type testEnv struct {
	handler http.Handler
	deps    Deps
	gen     *llmtest.Generator
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
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
		t.Fatalf("capture.New: %v", err)
	}

	deps := Deps{
		Ops:       ops.Deps{DB: database, Embedder: emb, Generator: gen, Meter: meter, Config: cfg},
		Processor: proc,
		Digests:   digest.New(database, gen, lenses, meter, cfg, nil),
	}
	srv := NewServer(deps, cfg, "test", "127.0.0.1", 0)
	return &testEnv{handler: srv.Handler, deps: deps, gen: gen}
}

// do sends a request as user in testWorkspace. An empty user sends no
// identity headers.
func (e *testEnv) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set("X-User-ID", user)
		req.Header.Set("X-Workspace-ID", testWorkspace)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response %q: %v", w.Body.String(), err)
	}
	return out
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	errObj, ok := decodeJSON(t, w)["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error envelope in %s", w.Body.String())
	}
	if errObj["code"] != code {
		t.Errorf("code = %v, want %s", errObj["code"], code)
	}
}

func analysis() schema.AnalysisResult {
	return schema.AnalysisResult{
		SentimentScore:       0.1,
		ActionItems:          []schema.ExtractedAction{{Task: "Unblock payments", Status: model.ActionBlocked}},
		Synthesis:            "Login fix shipped; payments blocked.",
		Feedback:             "Name the blocker.",
		CoachingQuestions:    []model.CoachingQuestion{{Coach: "Operator", Question: "Who owns payments?"}},
		AlignmentExplanation: "No strategy yet.",
	}
}

func TestIndex_NoIdentityNeeded(t *testing.T) {
	e := setupTest(t)
	w := e.do(t, http.MethodGet, "/", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := decodeJSON(t, w)["version"]; got != "test" {
		t.Errorf("version = %v, want test", got)
	}
}

func TestIdentityHeadersRequired(t *testing.T) {
	e := setupTest(t)
	w := e.do(t, http.MethodPost, "/conversations", "", `{"title":"x"}`)
	assertError(t, w, http.StatusBadRequest, "INVALID_REQUEST")

	req := httptest.NewRequest(http.MethodGet, "/actions", nil)
	req.Header.Set("X-User-ID", testUser)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assertError(t, rec, http.StatusBadRequest, "INVALID_REQUEST")
}

func TestSecurityHeaders(t *testing.T) {
	e := setupTest(t)
	w := e.do(t, http.MethodGet, "/", "", "")

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if w.Header().Get("Content-Security-Policy") == "" {
		t.Error("expected a Content-Security-Policy header")
	}
}

func TestConversationsAndMessages(t *testing.T) {
	e := setupTest(t)

	w := e.do(t, http.MethodPost, "/conversations", testUser, `{"title":"Payments sync"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}
	convID := decodeJSON(t, w)["id"].(string)

	w = e.do(t, http.MethodPost, "/conversations/"+convID+"/messages", testUser, `{"role":"user","content":"Where are we?"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}
	if got := decodeJSON(t, w)["conversation_id"]; got != convID {
		t.Errorf("conversation_id = %v, want %s", got, convID)
	}

	tests := []struct {
		name   string
		user   string
		body   string
		status int
		code   string
	}{
		{"bad role", testUser, `{"role":"tool","content":"x"}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"empty content", testUser, `{"role":"user","content":" "}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown field", testUser, `{"role":"user","content":"x","extra":1}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"malformed body", testUser, `{"role":`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"other user", otherUser, `{"role":"user","content":"x"}`, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/conversations/"+convID+"/messages", tt.user, tt.body)
			assertError(t, w, tt.status, tt.code)
		})
	}

	w = e.do(t, http.MethodPost, "/conversations", testUser, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("empty body should create an untitled conversation, got %d", w.Code)
	}
	if got := decodeJSON(t, w)["title"]; got != "Untitled conversation" {
		t.Errorf("title = %v, want Untitled conversation", got)
	}
}

func TestDocumentFormats(t *testing.T) {
	e := setupTest(t)
	scope := ops.Scope{WorkspaceID: testWorkspace, UserID: testUser}
	title, content := "Strategy", "Ship **payments** this quarter."
	out, err := ops.UpsertDocument(context.Background(), e.deps.Ops, ops.UpsertDocumentInput{
		Scope: scope, Kind: model.DocumentBrain, Title: &title, Content: &content,
	})
	if err != nil {
		t.Fatalf("seed document: %v", err)
	}
	path := "/documents/" + out.Document.ID

	w := e.do(t, http.MethodGet, path, testUser, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("Content-Type = %q, want text/markdown", ct)
	}
	if w.Body.String() != content {
		t.Errorf("body = %q, want raw markdown", w.Body.String())
	}

	w = e.do(t, http.MethodGet, path+"?format=html", testUser, "")
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	for _, want := range []string{"<title>Strategy</title>", "<strong>payments</strong>"} {
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("HTML body missing %q: %s", want, w.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-User-ID", testUser)
	req.Header.Set("X-Workspace-ID", testWorkspace)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if got := decodeJSON(t, rec)["kind"]; got != string(model.DocumentBrain) {
		t.Errorf("kind = %v, want brain", got)
	}

	assertError(t, e.do(t, http.MethodGet, path, otherUser, ""), http.StatusNotFound, "NOT_FOUND")
	assertError(t, e.do(t, http.MethodGet, "/documents/01NOPE", testUser, ""), http.StatusNotFound, "NOT_FOUND")
}

func TestCaptureLifecycle(t *testing.T) {
	e := setupTest(t)
	e.gen.Responses = []any{analysis(), analysis()}

	w := e.do(t, http.MethodPost, "/captures", testUser, `{"content":"Shipped the login fix, blocked on payments","source":"web"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}
	res := decodeJSON(t, w)
	captureID := res["capture"].(map[string]any)["id"].(string)
	artifactID := res["artifact"].(map[string]any)["id"].(string)

	w = e.do(t, http.MethodPost, "/artifacts/"+artifactID+"/refine", testUser, `{"feedback":"Say who owns the blocker"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("refine status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}
	refined := decodeJSON(t, w)["artifact"].(map[string]any)
	if refined["iteration"] != float64(1) {
		t.Errorf("iteration = %v, want 1", refined["iteration"])
	}
	if refined["parent_artifact_id"] != artifactID {
		t.Errorf("parent_artifact_id = %v, want %s", refined["parent_artifact_id"], artifactID)
	}

	w = e.do(t, http.MethodGet, "/captures/"+captureID+"/artifacts", testUser, "")
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d, want 200", w.Code)
	}
	if artifacts := decodeJSON(t, w)["artifacts"].([]any); len(artifacts) != 2 {
		t.Errorf("artifacts = %d, want 2", len(artifacts))
	}

	w = e.do(t, http.MethodGet, "/actions?mine=true&status=blocked", testUser, "")
	if w.Code != http.StatusOK {
		t.Fatalf("actions status = %d, want 200", w.Code)
	}
	items := decodeJSON(t, w)["items"].([]any)
	if len(items) == 0 {
		t.Fatal("expected extracted actions")
	}
	actionID := items[0].(map[string]any)["id"].(string)

	w = e.do(t, http.MethodPatch, "/actions/"+actionID, testUser, `{"status":"done"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	if got := decodeJSON(t, w)["status"]; got != "done" {
		t.Errorf("status = %v, want done", got)
	}

	assertError(t, e.do(t, http.MethodPatch, "/actions/"+actionID, testUser, `{"status":"cancelled"}`), http.StatusBadRequest, "INVALID_REQUEST")
	assertError(t, e.do(t, http.MethodGet, "/actions?since=yesterday", testUser, ""), http.StatusBadRequest, "INVALID_REQUEST")
	assertError(t, e.do(t, http.MethodPost, "/captures", testUser, `{"content":"  "}`), http.StatusBadRequest, "INVALID_REQUEST")
	assertError(t, e.do(t, http.MethodGet, "/captures/01NOPE/artifacts", testUser, ""), http.StatusNotFound, "NOT_FOUND")
}

func TestCanons(t *testing.T) {
	e := setupTest(t)

	assertError(t, e.do(t, http.MethodGet, "/canons/current", testUser, ""), http.StatusNotFound, "NOT_FOUND")

	w := e.do(t, http.MethodPost, "/canons", testUser, `{"content":"Ship payments","pillars":[{"title":"Ship payments integration"}]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}
	id := decodeJSON(t, w)["id"].(string)

	w = e.do(t, http.MethodGet, "/canons/current", otherUser, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := decodeJSON(t, w)["id"]; got != id {
		t.Errorf("current canon = %v, want %s", got, id)
	}
}

func TestDigests(t *testing.T) {
	e := setupTest(t)

	assertError(t, e.do(t, http.MethodGet, "/digests/latest", testUser, ""), http.StatusNotFound, "NOT_FOUND")
	assertError(t, e.do(t, http.MethodGet, "/digests/latest?week_of=soon", testUser, ""), http.StatusBadRequest, "INVALID_REQUEST")
	assertError(t, e.do(t, http.MethodPost, "/digests", testUser, `{"week_of":"03/04/2026"}`), http.StatusBadRequest, "INVALID_REQUEST")

	// An empty week is rejected before any provider call
	assertError(t, e.do(t, http.MethodPost, "/digests", testUser, `{"week_of":"2026-03-04"}`), http.StatusBadRequest, "INVALID_REQUEST")
	if n := e.gen.Calls(); n != 0 {
		t.Errorf("generator calls = %d, want 0", n)
	}
}

func TestOptionalRoutesNeedTheirService(t *testing.T) {
	e := setupTest(t)
	deps := e.deps
	deps.Processor = nil
	deps.Digests = nil
	h := NewServer(deps, config.DefaultConfig(), "test", "127.0.0.1", 0).Handler

	for _, path := range []string{"/captures", "/digests"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		req.Header.Set("X-User-ID", testUser)
		req.Header.Set("X-Workspace-ID", testWorkspace)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("POST %s = %d, want 404", path, w.Code)
		}
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=abc", 20},
		{"limit=-1", -1},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/actions?"+tt.query, nil)
		if got := parseIntParam(r, "limit", 20); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestParseBoolParam(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"", false},
		{"mine=true", true},
		{"mine=1", true},
		{"mine=false", false},
		{"mine=yes", false},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/actions?"+tt.query, nil)
		if got := parseBoolParam(r, "mine"); got != tt.want {
			t.Errorf("parseBoolParam(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestParseTimeParam(t *testing.T) {
	tests := []struct {
		query   string
		wantNil bool
		wantErr bool
	}{
		{query: "", wantNil: true},
		{query: "since=2026-03-04"},
		{query: "since=2026-03-04T10:00:00Z"},
		{query: "since=tomorrow", wantErr: true},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/actions?"+tt.query, nil)
		got, err := parseTimeParam(r, "since")
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTimeParam(%q) err = %v, wantErr %v", tt.query, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && (got == nil) != tt.wantNil {
			t.Errorf("parseTimeParam(%q) = %v, wantNil %v", tt.query, got, tt.wantNil)
		}
	}
}
