package web

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nelsonng/tensient/internal/capture"
	"github.com/nelsonng/tensient/internal/config"
	"github.com/nelsonng/tensient/internal/digest"
	"github.com/nelsonng/tensient/internal/ops"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// Deps carries the services the HTTP handlers call. Capture and digest
// routes are registered only when their service is set.
type Deps struct {
	Ops       ops.Deps
	Processor *capture.Processor
	Digests   *digest.Generator
	Logger    *zap.Logger
}

// NewServer creates and configures the HTTP server for the Tensient JSON API.
func NewServer(deps Deps, cfg *config.Config, version, bind string, port int) *http.Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Ops.Config == nil {
		deps.Ops.Config = cfg
	}
	h := &Handlers{deps: deps, cfg: cfg, version: version}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.HandleIndex)

	api := http.NewServeMux()
	if deps.Processor != nil {
		api.HandleFunc("POST /captures", h.HandleCaptureSubmit)
		api.HandleFunc("POST /captures/{id}/reprocess", h.HandleCaptureReprocess)
		api.HandleFunc("GET /captures/{id}/artifacts", h.HandleCaptureHistory)
		api.HandleFunc("POST /artifacts/{id}/refine", h.HandleArtifactRefine)
		api.HandleFunc("POST /canons", h.HandleCanonCreate)
	}
	if deps.Digests != nil {
		api.HandleFunc("POST /digests", h.HandleDigestGenerate)
		api.HandleFunc("GET /digests/latest", h.HandleDigestLatest)
	}
	api.HandleFunc("GET /actions", h.HandleActionList)
	api.HandleFunc("PATCH /actions/{id}", h.HandleActionUpdate)
	api.HandleFunc("GET /canons/current", h.HandleCanonCurrent)
	api.HandleFunc("POST /conversations", h.HandleConversationCreate)
	api.HandleFunc("POST /conversations/{id}/messages", h.HandleMessageAppend)
	api.HandleFunc("GET /documents/{id}", h.HandleDocument)

	// Every other route needs a caller identity
	mux.Handle("/", withIdentity(api))

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           securityHeaders(requestLog(deps.Logger, mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// requestLog logs one line per request at debug level.
func requestLog(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM
// or when ctx is cancelled.
func Run(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("Tensient API listening", zap.String("addr", "http://"+srv.Addr))

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
