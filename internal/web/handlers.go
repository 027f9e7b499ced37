package web

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nelsonng/tensient/internal/capture"
	"github.com/nelsonng/tensient/internal/config"
	"github.com/nelsonng/tensient/internal/digest"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
	"github.com/nelsonng/tensient/internal/ops"
)

// Handlers contains HTTP route handlers for the JSON API.
type Handlers struct {
	deps    Deps
	cfg     *config.Config
	version string
}

var documentPage = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<article data-kind="{{.Kind}}">
<h1>{{.Title}}</h1>
{{.Body}}
</article>
</body>
</html>
`))

// HandleIndex handles GET / and reports the service version.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{"service": "tensient", "version": h.version})
}

// CaptureRequest is the body of POST /captures.
type CaptureRequest struct {
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}

// HandleCaptureSubmit handles POST /captures.
func (h *Handlers) HandleCaptureSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[CaptureRequest](w, r)
	if err != nil {
		renderError(w, err)
		return
	}
	scope := scopeFrom(r)

	result, err := h.deps.Processor.Process(r.Context(), capture.SubmitInput{
		UserID:      scope.UserID,
		WorkspaceID: scope.WorkspaceID,
		Content:     body.Content,
		Source:      body.Source,
	})
	if err != nil {
		h.logFailure("capture submit", err)
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, result)
}

// HandleCaptureReprocess handles POST /captures/{id}/reprocess.
func (h *Handlers) HandleCaptureReprocess(w http.ResponseWriter, r *http.Request) {
	result, err := h.deps.Processor.Reprocess(r.Context(), scopeFrom(r).WorkspaceID, r.PathValue("id"))
	if err != nil {
		h.logFailure("capture reprocess", err)
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleCaptureHistory handles GET /captures/{id}/artifacts.
func (h *Handlers) HandleCaptureHistory(w http.ResponseWriter, r *http.Request) {
	result, err := h.deps.Processor.History(r.Context(), scopeFrom(r).WorkspaceID, r.PathValue("id"))
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// RefineRequest is the body of POST /artifacts/{id}/refine.
type RefineRequest struct {
	Feedback string `json:"feedback"`
}

// HandleArtifactRefine handles POST /artifacts/{id}/refine.
func (h *Handlers) HandleArtifactRefine(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[RefineRequest](w, r)
	if err != nil {
		renderError(w, err)
		return
	}
	scope := scopeFrom(r)

	result, err := h.deps.Processor.Refine(r.Context(), capture.RefineInput{
		UserID:      scope.UserID,
		WorkspaceID: scope.WorkspaceID,
		ArtifactID:  r.PathValue("id"),
		Feedback:    body.Feedback,
	})
	if err != nil {
		h.logFailure("artifact refine", err)
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, result)
}

// HandleActionList handles GET /actions.
func (h *Handlers) HandleActionList(w http.ResponseWriter, r *http.Request) {
	input := ops.ListActionsInput{
		Scope:  scopeFrom(r),
		Mine:   parseBoolParam(r, "mine"),
		Status: model.ActionStatus(r.URL.Query().Get("status")),
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	}
	since, err := parseTimeParam(r, "since")
	if err != nil {
		renderError(w, err)
		return
	}
	input.Since = since

	result, err := ops.ListActions(r.Context(), h.deps.Ops, input)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// ActionUpdateRequest is the body of PATCH /actions/{id}.
type ActionUpdateRequest struct {
	Status model.ActionStatus `json:"status"`
}

// HandleActionUpdate handles PATCH /actions/{id}.
func (h *Handlers) HandleActionUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[ActionUpdateRequest](w, r)
	if err != nil {
		renderError(w, err)
		return
	}

	result, err := ops.UpdateAction(r.Context(), h.deps.Ops, ops.UpdateActionInput{
		Scope:  scopeFrom(r),
		ID:     r.PathValue("id"),
		Status: body.Status,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// CanonRequest is the body of POST /canons.
type CanonRequest struct {
	Content  string         `json:"content"`
	RawInput string         `json:"raw_input,omitempty"`
	Pillars  []model.Pillar `json:"pillars,omitempty"`
}

// HandleCanonCreate handles POST /canons.
func (h *Handlers) HandleCanonCreate(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[CanonRequest](w, r)
	if err != nil {
		renderError(w, err)
		return
	}

	canon, err := h.deps.Processor.CreateCanon(r.Context(), capture.CanonInput{
		WorkspaceID: scopeFrom(r).WorkspaceID,
		Content:     body.Content,
		RawInput:    body.RawInput,
		Pillars:     body.Pillars,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, canon)
}

// HandleCanonCurrent handles GET /canons/current.
func (h *Handlers) HandleCanonCurrent(w http.ResponseWriter, r *http.Request) {
	canon, err := ops.GetCanon(r.Context(), h.deps.Ops, scopeFrom(r), "")
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, canon)
}

// DigestRequest is the body of POST /digests.
type DigestRequest struct {
	WeekOf string `json:"week_of,omitempty"`
}

// HandleDigestGenerate handles POST /digests.
func (h *Handlers) HandleDigestGenerate(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[DigestRequest](w, r)
	if err != nil {
		renderError(w, err)
		return
	}
	week, err := parseTime("week_of", body.WeekOf)
	if err != nil {
		renderError(w, err)
		return
	}
	scope := scopeFrom(r)

	d, err := h.deps.Digests.Generate(r.Context(), digest.GenerateInput{
		UserID:      scope.UserID,
		WorkspaceID: scope.WorkspaceID,
		WeekStart:   week,
	})
	if err != nil {
		h.logFailure("digest generate", err)
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, d)
}

// HandleDigestLatest handles GET /digests/latest.
func (h *Handlers) HandleDigestLatest(w http.ResponseWriter, r *http.Request) {
	weekOf, err := parseTimeParam(r, "week_of")
	if err != nil {
		renderError(w, err)
		return
	}

	d, err := h.deps.Digests.Latest(r.Context(), scopeFrom(r).WorkspaceID, weekOf)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, d)
}

// ConversationRequest is the body of POST /conversations.
type ConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// HandleConversationCreate handles POST /conversations.
func (h *Handlers) HandleConversationCreate(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[ConversationRequest](w, r)
	if err != nil {
		renderError(w, err)
		return
	}

	c, err := ops.CreateConversation(r.Context(), h.deps.Ops, scopeFrom(r), body.Title)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, c)
}

// MessageRequest is the body of POST /conversations/{id}/messages.
type MessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HandleMessageAppend handles POST /conversations/{id}/messages.
func (h *Handlers) HandleMessageAppend(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody[MessageRequest](w, r)
	if err != nil {
		renderError(w, err)
		return
	}

	m, err := ops.AppendMessage(r.Context(), h.deps.Ops, ops.AppendMessageInput{
		Scope:          scopeFrom(r),
		ConversationID: r.PathValue("id"),
		Role:           body.Role,
		Content:        body.Content,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, m)
}

// HandleDocument handles GET /documents/{id}. The body is raw markdown
// unless HTML or JSON is requested via ?format= or Accept.
func (h *Handlers) HandleDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := ops.GetDocument(r.Context(), h.deps.Ops, scopeFrom(r), r.PathValue("id"))
	if err != nil {
		renderError(w, err)
		return
	}

	switch {
	case wantsJSON(r):
		renderJSON(w, http.StatusOK, doc)
	case wantsHTML(r):
		var buf bytes.Buffer
		err := documentPage.Execute(&buf, map[string]any{
			"Title": doc.Title,
			"Kind":  string(doc.Kind),
			"Body":  renderMarkdown(doc.Content),
		})
		if err != nil {
			renderError(w, errors.NewInternal(err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	default:
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(doc.Content))
	}
}

func (h *Handlers) logFailure(op string, err error) {
	if appErr := errors.As(err); appErr != nil && appErr.Status < 500 {
		return
	}
	h.deps.Logger.Warn(op+" failed", zap.Error(err))
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}

// parseTimeParam parses a YYYY-MM-DD or RFC 3339 query parameter. Absent
// means nil.
func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	return parseTime(name, r.URL.Query().Get(name))
}

func parseTime(name, s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, errors.NewInvalidRequest(name + " must be YYYY-MM-DD or RFC 3339").WithDetail(name, s)
}
