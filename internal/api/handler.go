package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rajasatyajit/stripemirror/config"
	"github.com/rajasatyajit/stripemirror/internal/actions"
	"github.com/rajasatyajit/stripemirror/internal/auth"
	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
	"github.com/rajasatyajit/stripemirror/internal/logger"
	middlewares "github.com/rajasatyajit/stripemirror/internal/middleware"
	"github.com/rajasatyajit/stripemirror/internal/store"
	"github.com/rajasatyajit/stripemirror/internal/syncer"
)

const maxRequestBytes = 1 << 20

// Deps are the components the HTTP surface exposes.
type Deps struct {
	Config       config.Configuration
	Store        *store.Dispatcher
	Actions      *actions.Service
	Orchestrator *syncer.Orchestrator
	Keys         *auth.KeyStore
	Webhook      http.Handler
	Redirect     http.Handler

	AdminSecret string
	RateLimiter middlewares.RateChecker // nil keeps the window in process
	ActionRPM   int
	CORSOrigins []string

	// RequestTimeout bounds every route except /v1/admin, which gets AdminTimeout so a
	// full sync is not cut short. Zero disables either.
	RequestTimeout time.Duration
	AdminTimeout   time.Duration
}

// Handler handles HTTP requests for the API
type Handler struct {
	deps      Deps
	version   string
	buildTime string
	gitCommit string
	startTime time.Time
}

// NewHandler creates a new API handler
func NewHandler(deps Deps, version, buildTime, gitCommit string) *Handler {
	return &Handler{
		deps:      deps,
		version:   version,
		buildTime: buildTime,
		gitCommit: gitCommit,
		startTime: time.Now(),
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	cfg := h.deps.Config

	r.Group(func(r chi.Router) {
		if h.deps.RequestTimeout > 0 {
			r.Use(middleware.Timeout(h.deps.RequestTimeout))
		}

		// Provider callbacks answer plain text.
		r.Post(cfg.Webhook.Path, h.deps.Webhook.ServeHTTP)
		r.Get(cfg.Redirect.PathPrefix+"/{origin}", h.deps.Redirect.ServeHTTP)

		// Health check endpoints
		r.Get("/v1/health", h.healthHandler)
		r.Get("/v1/health/ready", h.readinessHandler)
		r.Get("/v1/health/live", h.livenessHandler)

		// System info
		r.Get("/v1/version", h.versionHandler)

		r.Route("/v1/actions", func(r chi.Router) {
			if len(h.deps.CORSOrigins) > 0 {
				r.Use(middlewares.CORS(h.deps.CORSOrigins))
			}
			r.Use(middlewares.APIKeyAuth(h.deps.Keys, h.deps.AdminSecret))
			r.Use(middlewares.RateLimit(h.deps.RateLimiter, h.deps.ActionRPM))

			r.Post("/pay", action(h, h.deps.Actions.Pay))
			r.Post("/subscribe", action(h, h.deps.Actions.Subscribe))
			r.Post("/portal", action(h, h.deps.Actions.Portal))
			r.Post("/customers", action(h, h.deps.Actions.CreateCustomer))
			r.Post("/accounts", action(h, h.deps.Actions.CreateAccount))
			r.Post("/account-links", action(h, h.deps.Actions.CreateAccountLink))
		})

		r.Get("/health", h.healthHandler)
	})

	// Admin routes (protected by shared secret middleware)
	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(middlewares.AdminSecret(h.deps.AdminSecret))
		if h.deps.AdminTimeout > 0 {
			r.Use(extendWriteDeadline(h.deps.AdminTimeout))
			r.Use(middleware.Timeout(h.deps.AdminTimeout))
		}
		r.Post("/sync", h.adminSync)
		r.Post("/webhook-endpoint", h.adminWebhookEndpoint)
		r.Post("/portal-configuration", h.adminPortalConfiguration)
		r.Post("/entities/{entity_id}/keys", h.adminCreateKey)
		r.Post("/keys/{key_id}/revoke", h.adminRevokeKey)
	})
}

// extendWriteDeadline lifts the server's WriteTimeout for long admin calls. Writers
// that cannot set deadlines keep the server default.
func extendWriteDeadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(d)); err != nil {
				logger.WithContext(r.Context()).Debug("Write deadline not extended", "error", err)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// healthHandler provides basic health check
func (h *Handler) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   h.version,
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// readinessHandler checks if the application is ready to serve traffic
func (h *Handler) readinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	checks := map[string]string{
		"store": "ok",
	}

	statusCode := http.StatusOK

	if err := h.deps.Store.Backend().Health(ctx); err != nil {
		logger.WithContext(ctx).Error("Store health check failed", "error", err)
		checks["store"] = "error"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	}

	h.writeJSONResponse(w, statusCode, response)
}

// livenessHandler checks if the application is alive
func (h *Handler) livenessHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// versionHandler returns version information
func (h *Handler) versionHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"version":    h.version,
		"build_time": h.buildTime,
		"git_commit": h.gitCommit,
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// writeJSONResponse writes a JSON response
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeErrorResponse writes a standardized error response
func (h *Handler) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	response := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   message,
		Timestamp: time.Now().UTC(),
		RequestID: r.Header.Get("X-Request-ID"),
	}

	h.writeJSONResponse(w, statusCode, response)
}

// writeError maps a domain error to a status. Unexpected errors are logged and hidden
// from the caller.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		h.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrUnauthorized):
		h.writeErrorResponse(w, r, http.StatusForbidden, "not allowed for this entity")
	case errors.Is(err, apperrors.ErrNotFound):
		h.writeErrorResponse(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		h.writeErrorResponse(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, apperrors.ErrNotConfigured):
		logger.WithContext(r.Context()).Error("Request needs missing configuration", "path", r.URL.Path, "error", err)
		h.writeErrorResponse(w, r, http.StatusServiceUnavailable, "service not configured")
	default:
		logger.WithContext(r.Context()).Error("Request failed", "path", r.URL.Path, "error", err)
		h.writeErrorResponse(w, r, http.StatusInternalServerError, "Internal server error")
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}
