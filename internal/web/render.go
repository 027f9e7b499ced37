package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/markdown"
	"github.com/nelsonng/tensient/internal/ops"
)

type scopeKey struct{}

// withIdentity reads the caller from X-User-ID and X-Workspace-ID.
// Authentication happens upstream; the headers are trusted as given.
func withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := ops.Scope{
			UserID:      strings.TrimSpace(r.Header.Get("X-User-ID")),
			WorkspaceID: strings.TrimSpace(r.Header.Get("X-Workspace-ID")),
		}
		if scope.UserID == "" || scope.WorkspaceID == "" {
			renderError(w, errors.NewInvalidRequest("X-User-ID and X-Workspace-ID headers are required"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), scopeKey{}, scope)))
	})
}

func scopeFrom(r *http.Request) ops.Scope {
	s, _ := r.Context().Value(scopeKey{}).(ops.Scope)
	return s
}

// decodeBody decodes a JSON request body into T. Unknown fields are rejected.
// An empty body decodes to the zero value.
func decodeBody[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil && err != io.EOF {
		return v, errors.NewInvalidRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return v, nil
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderError writes the error envelope. Non-application errors become a
// generic INTERNAL so nothing from the cause leaks.
func renderError(w http.ResponseWriter, err error) {
	appErr := errors.As(err)
	if appErr == nil {
		appErr = errors.NewInternal(err)
	}

	errorObj := map[string]any{
		"code":    string(appErr.Code),
		"message": appErr.Message,
		"status":  appErr.Status,
	}
	if appErr.Code != errors.ErrInternal && appErr.Details != nil {
		errorObj["details"] = appErr.Details
	}
	renderJSON(w, appErr.Status, map[string]any{"error": errorObj})
}

// renderMarkdown converts markdown text to HTML, falling back to escaped
// text if conversion fails.
func renderMarkdown(md string) template.HTML {
	html, err := markdown.ToHTML(md)
	if err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(html)
}

// wantsHTML reports whether the client asked for HTML by query or Accept.
func wantsHTML(r *http.Request) bool {
	if f := r.URL.Query().Get("format"); f != "" {
		return f == "html"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// wantsJSON reports whether the client asked for JSON by query or Accept.
func wantsJSON(r *http.Request) bool {
	if f := r.URL.Query().Get("format"); f != "" {
		return f == "json"
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
