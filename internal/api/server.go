// Package api implements the docuchat HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"

	"docuchat/internal/auth"
	"docuchat/internal/auth/oidc"
	"docuchat/internal/blob"
	"docuchat/internal/chat"
	"docuchat/internal/extract"
	"docuchat/internal/observability"
	"docuchat/internal/storage"
)

type apiError struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// CookieConfig controls the session cookie the server issues.
type CookieConfig struct {
	Name   string
	Secure bool
}

// Server carries the HTTP handlers and their dependencies.
type Server struct {
	mux       *http.ServeMux
	logger    observability.Logger
	metrics   *observability.Metrics
	users     auth.UserStore
	store     storage.Store
	blobs     *blob.Client
	extractor extract.Extractor
	answerer  *chat.Answerer
	provider  *oidc.Provider
	tokens    *auth.TokenService
	mapper    *auth.Mapper
	cookie    CookieConfig
}

// Options bundles the server dependencies.
type Options struct {
	Logger    observability.Logger
	Metrics   *observability.Metrics
	Users     auth.UserStore
	Store     storage.Store
	Blobs     *blob.Client
	Extractor extract.Extractor
	Answerer  *chat.Answerer
	Provider  *oidc.Provider
	Tokens    *auth.TokenService
	Mapper    *auth.Mapper
	Cookie    CookieConfig
}

// NewServer creates the HTTP server. Logger defaults when nil; metrics may
// be nil to disable collection.
func NewServer(mux *http.ServeMux, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.DefaultConfig())
	}
	if opts.Cookie.Name == "" {
		opts.Cookie.Name = "docuchat_session"
	}
	if opts.Extractor == nil {
		opts.Extractor = extract.New()
	}
	return &Server{
		mux:       mux,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		users:     opts.Users,
		store:     opts.Store,
		blobs:     opts.Blobs,
		extractor: opts.Extractor,
		answerer:  opts.Answerer,
		provider:  opts.Provider,
		tokens:    opts.Tokens,
		mapper:    opts.Mapper,
		cookie:    opts.Cookie,
	}
}

func (s *Server) writeErr(ctx context.Context, w http.ResponseWriter, code int, msg string, detail string) {
	fields := []any{
		"status", code,
		"error", msg,
	}
	if detail != "" {
		fields = append(fields, "detail", detail)
	}
	fields = appendRequestID(ctx, fields)
	if code >= 500 {
		s.logger.ErrorContext(ctx, "request failed", fields...)
		sentry.CaptureMessage(fmt.Sprintf("HTTP %d: %s (detail: %s)", code, msg, detail))
	} else {
		s.logger.WarnContext(ctx, "request failed", fields...)
	}
	writeJSON(w, code, apiError{Error: msg, Detail: detail})
}

// writeStoreErr maps a storage-layer error to the appropriate HTTP status
// code, falling back to 500 for unknown errors.
func (s *Server) writeStoreErr(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeErr(ctx, w, http.StatusNotFound, "not found", "")
	case errors.Is(err, storage.ErrConflict):
		s.writeErr(ctx, w, http.StatusConflict, "conflict", "")
	case errors.Is(err, storage.ErrValidation):
		s.writeErr(ctx, w, http.StatusBadRequest, err.Error(), "")
	default:
		s.writeErr(ctx, w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) { s.status = code; s.ResponseWriter.WriteHeader(code) }

// Unwrap supports http.ResponseController.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// RegisterRoutes wires all HTTP routes. Auth endpoints and health checks
// are public; everything else requires a session and the appropriate
// role-derived permission.
func (s *Server) RegisterRoutes() {
	// Public endpoints.
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /readyz", s.handleReady)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.mux.HandleFunc("GET /api/v1/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/v1/auth/callback", s.handleCallback)
	s.mux.HandleFunc("POST /api/v1/auth/logout", s.handleLogout)

	// Session-holding endpoints.
	sessionMW := SessionAuthMiddleware(s.tokens, s.users, s.cookie.Name, true, s.logger, s.metrics)

	s.mux.Handle("GET /api/v1/auth/me", sessionMW(http.HandlerFunc(s.handleMe)))
	s.mux.Handle("POST /api/v1/auth/refresh", sessionMW(http.HandlerFunc(s.handleRefresh)))

	servicesRead := RequirePermissionMiddleware(auth.ResourceServices, auth.ActionRead, s.logger, s.metrics)
	servicesList := RequirePermissionMiddleware(auth.ResourceServices, auth.ActionList, s.logger, s.metrics)
	servicesCreate := RequirePermissionMiddleware(auth.ResourceServices, auth.ActionCreate, s.logger, s.metrics)
	servicesUpdate := RequirePermissionMiddleware(auth.ResourceServices, auth.ActionUpdate, s.logger, s.metrics)
	servicesDelete := RequirePermissionMiddleware(auth.ResourceServices, auth.ActionDelete, s.logger, s.metrics)

	s.mux.Handle("GET /api/v1/services", sessionMW(servicesList(http.HandlerFunc(s.handleListServices))))
	s.mux.Handle("POST /api/v1/services", sessionMW(servicesCreate(http.HandlerFunc(s.handleCreateService))))
	s.mux.Handle("GET /api/v1/services/{id}", sessionMW(servicesRead(http.HandlerFunc(s.handleGetService))))
	s.mux.Handle("PATCH /api/v1/services/{id}", sessionMW(servicesUpdate(http.HandlerFunc(s.handleUpdateService))))
	s.mux.Handle("DELETE /api/v1/services/{id}", sessionMW(servicesDelete(http.HandlerFunc(s.handleDeleteService))))

	docsRead := RequirePermissionMiddleware(auth.ResourceDocuments, auth.ActionRead, s.logger, s.metrics)
	docsList := RequirePermissionMiddleware(auth.ResourceDocuments, auth.ActionList, s.logger, s.metrics)
	docsCreate := RequirePermissionMiddleware(auth.ResourceDocuments, auth.ActionCreate, s.logger, s.metrics)
	docsDelete := RequirePermissionMiddleware(auth.ResourceDocuments, auth.ActionDelete, s.logger, s.metrics)

	s.mux.Handle("GET /api/v1/services/{id}/documents", sessionMW(docsList(http.HandlerFunc(s.handleListDocuments))))
	s.mux.Handle("POST /api/v1/services/{id}/documents", sessionMW(docsCreate(http.HandlerFunc(s.handleUploadDocument))))
	s.mux.Handle("GET /api/v1/documents/{id}", sessionMW(docsRead(http.HandlerFunc(s.handleGetDocument))))
	s.mux.Handle("GET /api/v1/documents/{id}/download", sessionMW(docsRead(http.HandlerFunc(s.handleDownloadDocument))))
	s.mux.Handle("DELETE /api/v1/documents/{id}", sessionMW(docsDelete(http.HandlerFunc(s.handleDeleteDocument))))

	chatAsk := RequirePermissionMiddleware(auth.ResourceChat, auth.ActionAsk, s.logger, s.metrics)
	s.mux.Handle("POST /api/v1/chat", sessionMW(chatAsk(http.HandlerFunc(s.handleChat))))

	// User administration requires both users:list/users:update, admin-only
	// via the permission table.
	usersList := RequirePermissionMiddleware(auth.ResourceUsers, auth.ActionList, s.logger, s.metrics)
	usersUpdate := RequireAllPermissionsMiddleware([]auth.Permission{
		{Resource: auth.ResourceUsers, Action: auth.ActionRead},
		{Resource: auth.ResourceUsers, Action: auth.ActionUpdate},
	}, s.logger, s.metrics)

	s.mux.Handle("GET /api/v1/users", sessionMW(usersList(http.HandlerFunc(s.handleListUsers))))
	s.mux.Handle("PATCH /api/v1/users/{id}", sessionMW(usersUpdate(http.HandlerFunc(s.handleUpdateUser))))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.users != nil {
		if _, err := s.users.GetByID(ctx, "readiness-probe"); err != nil {
			s.logger.ErrorContext(ctx, "readiness check failed", appendRequestID(ctx, []any{
				"error", err.Error(),
			})...)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
