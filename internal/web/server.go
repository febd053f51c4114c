// Package web serves the merge engine over HTTP: data source upload, session
// editing, generation control with SSE progress, downloads and run history.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/mailmerge/internal/config"
	"github.com/JonMunkholm/mailmerge/internal/core"
	"github.com/JonMunkholm/mailmerge/internal/storage"
	"github.com/JonMunkholm/mailmerge/internal/web/middleware"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 8 << 20

// Downloads serves outputs kept by the memory sink.
type Downloads interface {
	Open(nameOrLocation string) (storage.Object, bool)
	List(prefix string) []string
}

// HealthCheck reports the state of a dependency.
type HealthCheck func(ctx context.Context) error

// Options configures a Server.
type Options struct {
	Service   *core.Service
	Config    *config.Config
	Downloads Downloads                    // optional
	Supports  func(core.OutputFormat) bool // optional
	Health    map[string]HealthCheck       // optional
}

// Server is the HTTP server of the merge engine.
type Server struct {
	service   *core.Service
	cfg       *config.Config
	downloads Downloads
	supports  func(core.OutputFormat) bool
	health    map[string]HealthCheck
	router    *chi.Mux
	server    *http.Server
}

// NewServer builds the router.
func NewServer(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, errors.New("web server requires a service")
	}
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadFrom(func(string) string { return "" }); err != nil {
			return nil, err
		}
	}

	s := &Server{
		service:   opts.Service,
		cfg:       cfg,
		downloads: opts.Downloads,
		supports:  opts.Supports,
		health:    opts.Health,
		router:    chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(s.securityHeaders)
	if s.cfg.Rate.Enabled {
		s.router.Use(middleware.NewRateLimiter(s.cfg.Rate.RequestsPerMinute).Middleware)
	}
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Get("/healthz", s.handleHealth)

	// Pages and fragments
	r.Get("/runs/{runID}", s.handleRunPage)
	r.Get("/runs/{runID}/progress", s.handleRunFragment)
	r.Get("/history", s.handleHistoryFragment)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.Security))

		// Streams stay open past the request timeout.
		r.Get("/runs/{runID}/events", s.handleRunEvents)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))

			r.With(s.uploadLimit()).Post("/source", s.handleUploadSource)
			r.Get("/source", s.handleGetSource)
			r.Delete("/source", s.handleDisconnect)

			r.Get("/fields", s.handleListFields)
			r.Put("/fields/{name}", s.handleUpdateField)
			r.Get("/records", s.handleRecords)
			r.Get("/validation", s.handleValidation)

			r.Get("/template", s.handleGetTemplate)
			r.Put("/template", s.handleSetTemplate)
			r.Get("/filters", s.handleGetFilters)
			r.Put("/filters", s.handleSetFilters)
			r.Get("/sorts", s.handleGetSorts)
			r.Put("/sorts", s.handleSetSorts)
			r.Get("/rules", s.handleGetRules)
			r.Put("/rules", s.handleSetRules)

			r.Get("/formats", s.handleFormats)
			r.Post("/generate", s.handleGenerate)
			r.Get("/runs", s.handleHistory)
			r.Get("/runs/active", s.handleActiveRun)
			r.Get("/runs/{runID}", s.handleGetRun)
			r.Post("/runs/{runID}/pause", s.handlePause)
			r.Post("/runs/{runID}/resume", s.handleResume)
			r.Post("/runs/{runID}/cancel", s.handleCancel)
			r.Get("/runs/{runID}/download", s.handleDownload)
		})
	})
}

func (s *Server) uploadLimit() func(http.Handler) http.Handler {
	if !s.cfg.Rate.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.NewRateLimiter(s.cfg.Rate.UploadLimit).Middleware
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	slog.Info("starting server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if s.cfg.Security.EnableCSP {
			h.Set("Content-Security-Policy", "default-src 'self'; script-src 'self' https://unpkg.com; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.health))
	for name, check := range s.health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status": http.StatusText(status),
		"checks": checks,
		"loads":  s.service.Limiter().Status(),
	})
}

// writeJSON encodes v with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// decodeJSON reads a JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &requestError{msg: "request body is empty"}
		}
		return &requestError{msg: "invalid JSON body", err: err}
	}
	return nil
}
