// Package http exposes the motivation profiling and group formation
// commands as a JSON REST API, plus health and readiness probes.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/arcs-classroom/motivation-hub/config"
	"github.com/arcs-classroom/motivation-hub/internal/application/command"
	"github.com/arcs-classroom/motivation-hub/internal/application/query"
	"github.com/arcs-classroom/motivation-hub/internal/interface/http/handlers"
	"github.com/arcs-classroom/motivation-hub/pkg/logger"
)

const (
	maxHeaderBytes   = 1 << 20
	maxJSONBodyBytes = 1 << 20

	// multipartSlack is the envelope allowance on top of the upload limit.
	// The ingest command enforces the exact file limit.
	multipartSlack = 64 << 10
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies are the application handlers the routes call into.
type Dependencies struct {
	IngestARCSCSV       *command.IngestARCSCSVHandler
	SubmitQuestionnaire *command.SubmitQuestionnaireHandler
	ReclusterAll        *command.ReclusterAllHandler
	FormGroups          *command.FormGroupsHandler

	AnalyzeClass      *query.AnalyzeClassHandler
	GetGroups         *query.GetGroupsHandler
	ExportGroupReport *query.ExportGroupReportHandler

	Logger        *logger.Logger
	HealthChecker handlers.HealthChecker
	Version       string
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the REST transport.
type Server struct {
	config  config.HTTPConfig
	deps    Dependencies
	log     *logger.Logger
	handler http.Handler
	http    *http.Server

	mu      sync.Mutex
	started time.Time
	serving bool
}

// NewServer builds the routes and middleware. It does not listen.
func NewServer(cfg config.HTTPConfig, deps Dependencies) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	s := &Server{
		config: cfg,
		deps:   deps,
		log:    log.With(logger.Component("http")),
	}

	mux := http.NewServeMux()
	s.routes(mux)
	s.handler = handlers.Chain(mux,
		handlers.RequestID(s.log),
		handlers.AccessLog(),
		handlers.Recover(func(w http.ResponseWriter, r *http.Request) {
			writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
		}),
		handlers.CORS(cfg.AllowedOrigins),
		handlers.RateLimit(handlers.NewLimiter(cfg.RateLimit, time.Minute), func(w http.ResponseWriter, r *http.Request) {
			writeJSONError(w, r, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later")
		}),
		handlers.APIHeaders(),
		handlers.Deadline(cfg.RequestDeadline),
	)

	s.http = &http.Server{
		Addr:           cfg.Addr(),
		Handler:        s.handler,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
		ErrorLog:       s.log.StdLogger(logger.LevelWarn),
	}
	return s
}

// Handler returns the wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes(mux *http.ServeMux) {
	// ─────────────────────────────────────────────────────────────────────────
	// Probes
	// ─────────────────────────────────────────────────────────────────────────
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /live", s.handleLive)

	// ─────────────────────────────────────────────────────────────────────────
	// Profiles
	// ─────────────────────────────────────────────────────────────────────────
	upload := handlers.BodyLimit(s.uploadLimit()+multipartSlack, func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
	})
	mux.Handle("POST /api/v1/arcs/import", upload(http.HandlerFunc(s.handleImportARCS)))
	mux.HandleFunc("POST /api/v1/students/{id}/questionnaire", s.handleSubmitQuestionnaire)
	mux.HandleFunc("POST /api/v1/profiles/recluster", s.handleRecluster)

	// ─────────────────────────────────────────────────────────────────────────
	// Materials
	// ─────────────────────────────────────────────────────────────────────────
	mux.HandleFunc("GET /api/v1/materials/{id}/analysis", s.handleAnalyzeClass)
	mux.HandleFunc("POST /api/v1/materials/{id}/groups", s.handleFormGroups)
	mux.HandleFunc("GET /api/v1/materials/{id}/groups", s.handleGetGroups)
	mux.HandleFunc("GET /api/v1/materials/{id}/groups/report", s.handleExportReport)
}

func (s *Server) uploadLimit() int64 {
	if s.config.MaxUploadBytes > 0 {
		return s.config.MaxUploadBytes
	}
	return command.DefaultMaxCSVBytes
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Run listens on the configured address and serves until ctx ends, then
// drains in-flight requests for at most grace.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln, grace)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, grace time.Duration) error {
	s.mu.Lock()
	if s.serving {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("http: server already running")
	}
	s.serving = true
	s.started = time.Now()
	s.mu.Unlock()

	s.log.Info("HTTP server listening", logger.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case err := <-errCh:
		s.markStopped()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	<-errCh
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
// It is a no-op when the server is not serving.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.markStopped() {
		return nil
	}
	s.log.Info("shutting down HTTP server")
	return s.http.Shutdown(ctx)
}

func (s *Server) markStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.serving
	s.serving = false
	return was
}

// Uptime is the time since Serve started, or zero when not serving.
func (s *Server) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.serving {
		return 0
	}
	return time.Since(s.started)
}
