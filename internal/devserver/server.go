// Package devserver is a local stand-in for the hosted analytics API. It
// serves the same login, profile, health, summary and operator endpoints over
// generated sample logs so the report pipeline can run end to end offline.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"volaiops/internal/config"
	apierrors "volaiops/internal/errors"
	"volaiops/internal/infrastructure"
	"volaiops/internal/middleware"
)

// Version is reported by / and the OpenAPI document
const Version = "0.3.0"

// Server holds the dev API state
type Server struct {
	cfg      config.DevServerConfig
	logger   *slog.Logger
	auth     *Authenticator
	validate *validator.Validate
	metrics  *infrastructure.PipelineMetrics
	promHTTP http.Handler
	now      func() time.Time

	mu      sync.Mutex
	openapi map[string]any
	router  chi.Router
}

// Option customises a Server
type Option func(*Server)

// WithClock fixes the server clock, mostly for sample data in tests
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithTelemetry wires the request metrics and a Prometheus handler
func WithTelemetry(metrics *infrastructure.PipelineMetrics, promHTTP http.Handler) Option {
	return func(s *Server) {
		s.metrics = metrics
		s.promHTTP = promHTTP
	}
}

// New builds the server and its router
func New(cfg config.DevServerConfig, logger *slog.Logger, opts ...Option) (*Server, error) {
	auth, err := NewAuthenticator(cfg.Email, cfg.Password, cfg.SecretKey, time.Hour)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		logger:   infrastructure.WithComponent(logger, "devserver"),
		auth:     auth,
		validate: newValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	auth.now = s.now
	if s.promHTTP == nil {
		s.promHTTP = promhttp.Handler()
	}
	s.router = s.routes()
	s.rebuildOpenAPI()
	return s, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Telemetry(s.metrics))
	r.Use(middleware.StructuredLogger(s.logger))
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.SecurityHeaders)

	r.Handle("/metrics", s.promHTTP)

	r.Group(func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(middleware.NewRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst, s.logger).Handler)
		}
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/", s.handleRoot)
		r.Get("/health", s.handleHealth)
		r.Get("/openapi.json", s.handleOpenAPI)
		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(middleware.BearerAuth(s.auth.Verify, s.logger))
			r.Get("/me", s.handleMe)
		})

		r.Route("/predict", func(r chi.Router) {
			r.Get("/logs", s.handleLogs)
			r.Get("/logs/summary", s.handleSummary)
		})

		r.Route("/ops", func(r chi.Router) {
			r.Use(middleware.AdminToken(s.cfg.AdminToken))
			r.Get("/openapi/refresh", s.handleRefreshOpenAPI)
			r.Post("/openapi/refresh", s.handleRefreshOpenAPI)
		})
	})
	return r
}

// ListenAndServe serves on the configured port until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort("", strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return apierrors.PortBusy(s.cfg.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.InfoContext(ctx, "dev server listening",
		slog.String("address", "http://"+ln.Addr().String()),
		slog.String("email", s.cfg.Email))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.InfoContext(ctx, "dev server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"service": "volai-api (dev)",
		"version": Version,
		"ok":      true,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{"ok": true})
}

// LoginRequest is the /login body
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Bind implements render.Binder
func (l *LoginRequest) Bind(*http.Request) error {
	l.Email = strings.TrimSpace(l.Email)
	return nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := render.Bind(r, &req); err != nil {
		s.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.renderError(w, r, validationError(err))
		return
	}

	token, err := s.auth.Login(req.Email, req.Password)
	if err != nil {
		s.logger.WarnContext(r.Context(), "login rejected", slog.String("email", req.Email))
		s.renderError(w, r, apierrors.ErrInvalidLogin)
		return
	}
	render.JSON(w, r, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"id":         1,
		"email":      middleware.Subject(r.Context()),
		"created_at": nil,
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n := s.sampleSize()
	for _, name := range []string{"limit", "n"} {
		if v := r.URL.Query().Get(name); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 1 || parsed > 2000 {
				s.renderError(w, r, apierrors.ErrValidation(name, "must be an integer between 1 and 2000"))
				return
			}
			n = parsed
			break
		}
	}
	render.JSON(w, r, SampleLogs(s.now(), n, r.URL.Query().Get("owner")))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	params, err := ParseSummaryParams(r.URL.Query(), s.sampleSize())
	if err != nil {
		s.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := s.validate.Struct(params); err != nil {
		s.renderError(w, r, validationError(err))
		return
	}
	rows := Summarize(SampleLogs(s.now(), params.Limit, params.Owner), params)
	render.JSON(w, r, rows)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	s.mu.Lock()
	doc := s.openapi
	s.mu.Unlock()
	render.JSON(w, r, doc)
}

func (s *Server) handleRefreshOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc := s.rebuildOpenAPI()
	s.logger.InfoContext(r.Context(), "openapi schema rebuilt", slog.Int("paths", len(doc["paths"].(map[string]any))))
	render.JSON(w, r, doc)
}

// rebuildOpenAPI walks the router and regenerates a minimal path listing
func (s *Server) rebuildOpenAPI() map[string]any {
	paths := map[string]any{}
	_ = chi.Walk(s.router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if route == "/metrics" || strings.HasPrefix(route, "/ops/") {
			return nil
		}
		route = strings.TrimSuffix(route, "/")
		if route == "" {
			route = "/"
		}
		ops, _ := paths[route].(map[string]any)
		if ops == nil {
			ops = map[string]any{}
			paths[route] = ops
		}
		ops[strings.ToLower(method)] = map[string]any{"operationId": operationID(method, route)}
		return nil
	})

	now := s.now().UTC()
	doc := map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "volai-api (dev)",
			"version": Version,
		},
		"paths":        paths,
		"x-refreshed":  now.Format(time.RFC3339),
		"x-path-count": len(paths),
	}
	s.mu.Lock()
	s.openapi = doc
	s.mu.Unlock()
	return doc
}

func operationID(method, route string) string {
	parts := strings.FieldsFunc(route, func(r rune) bool { return r == '/' || r == '.' })
	return strings.ToLower(method) + "_" + strings.Join(parts, "_")
}

func (s *Server) sampleSize() int {
	if s.cfg.SampleSize > 0 {
		return s.cfg.SampleSize
	}
	return 500
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, apiErr *apierrors.APIError) {
	if apiErr.StatusCode >= 500 {
		s.logger.ErrorContext(r.Context(), "request failed", slog.String("error", apiErr.Message))
	}
	_ = render.Render(w, r, apierrors.NewErrorResponse(apiErr))
}

func validationError(err error) *apierrors.APIError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apierrors.InvalidRequestWithError(err)
	}
	out := make([]apierrors.ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, apierrors.ValidationError{
			Field:   fe.Field(),
			Message: fmt.Sprintf("failed %q check", fe.Tag()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return apierrors.NewValidationErrors(out)
}
