// Package api implements the HTTP API for the translation key service.
package api

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/keyloom/keyloom/internal/auth"
	"github.com/keyloom/keyloom/internal/config"
	"github.com/keyloom/keyloom/internal/events"
	"github.com/keyloom/keyloom/internal/logging"
	"github.com/keyloom/keyloom/internal/metrics"
	"github.com/keyloom/keyloom/internal/store/postgres"
	"github.com/keyloom/keyloom/pkg/protocol"
)

// Server handles HTTP API requests.
type Server struct {
	store       *postgres.Store
	auth        *auth.Auth
	broadcaster *events.Broadcaster
	cfg         *config.Config
}

// NewServer creates an API server.
func NewServer(store *postgres.Store, authHandler *auth.Auth, broadcaster *events.Broadcaster, cfg *config.Config) *Server {
	return &Server{
		store:       store,
		auth:        authHandler,
		broadcaster: broadcaster,
		cfg:         cfg,
	}
}

// Pool gzip writers to reduce allocations on the children endpoint.
var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// Handler returns the HTTP handler with auth and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/token", s.auth.HandleLogin)

	// Protected endpoints
	protected := http.NewServeMux()

	// Key tree endpoints
	protected.HandleFunc("GET /api/v1/keys/children",
		auth.RequirePermission(auth.PermKeysRead, s.handleChildren))
	protected.HandleFunc("GET /api/v1/keys/search",
		auth.RequirePermission(auth.PermKeysRead, s.handleSearch))
	protected.HandleFunc("POST /api/v1/keys",
		auth.RequirePermission(auth.PermKeysWrite, s.handleCreateKey))
	protected.HandleFunc("DELETE /api/v1/keys/{path}",
		auth.RequirePermission(auth.PermKeysWrite, s.handleDeleteKeys))

	// Variant endpoints
	protected.HandleFunc("GET /api/v1/keys/{path}/variants",
		auth.RequirePermission(auth.PermKeysRead, s.handleListVariants))
	protected.HandleFunc("PUT /api/v1/keys/{path}/variants",
		auth.RequirePermission(auth.PermVariantsWrite, s.handleSetVariant))

	// Language endpoints
	protected.HandleFunc("GET /api/v1/languages",
		auth.RequirePermission(auth.PermKeysRead, s.handleListLanguages))
	protected.HandleFunc("POST /api/v1/languages",
		auth.RequirePermission(auth.PermLanguagesWrite, s.handleCreateLanguage))
	protected.HandleFunc("PUT /api/v1/languages/{id}",
		auth.RequirePermission(auth.PermLanguagesWrite, s.handleUpdateLanguage))
	protected.HandleFunc("DELETE /api/v1/languages/{id}",
		auth.RequirePermission(auth.PermLanguagesWrite, s.handleDeleteLanguage))

	// Jurisdiction endpoints
	protected.HandleFunc("GET /api/v1/jurisdictions",
		auth.RequirePermission(auth.PermKeysRead, s.handleListJurisdictions))
	protected.HandleFunc("POST /api/v1/jurisdictions",
		auth.RequirePermission(auth.PermLanguagesWrite, s.handleCreateJurisdiction))
	protected.HandleFunc("DELETE /api/v1/jurisdictions/{id}",
		auth.RequirePermission(auth.PermLanguagesWrite, s.handleDeleteJurisdiction))

	// SSE endpoint
	protected.HandleFunc("GET /api/v1/events",
		auth.RequirePermission(auth.PermKeysRead, s.handleEvents))

	// Token management
	protected.HandleFunc("DELETE /api/v1/auth/token", s.handleRevokeCurrentToken)

	// Admin endpoints
	protected.HandleFunc("GET /api/v1/admin/users",
		auth.RequirePermission(auth.PermAdmin, s.handleListUsers))
	protected.HandleFunc("POST /api/v1/admin/users",
		auth.RequirePermission(auth.PermAdmin, s.handleCreateUser))
	protected.HandleFunc("DELETE /api/v1/admin/users/{id}",
		auth.RequirePermission(auth.PermAdmin, s.handleDeleteUser))
	protected.HandleFunc("PUT /api/v1/admin/users/{id}/password",
		auth.RequirePermission(auth.PermAdmin, s.handleChangePassword))
	protected.HandleFunc("GET /api/v1/admin/roles",
		auth.RequirePermission(auth.PermAdmin, s.handleListRoles))
	protected.HandleFunc("POST /api/v1/admin/roles",
		auth.RequirePermission(auth.PermAdmin, s.handleCreateRole))
	protected.HandleFunc("PUT /api/v1/admin/roles/{id}",
		auth.RequirePermission(auth.PermAdmin, s.handleUpdateRole))
	protected.HandleFunc("DELETE /api/v1/admin/roles/{id}",
		auth.RequirePermission(auth.PermAdmin, s.handleDeleteRole))
	protected.HandleFunc("GET /api/v1/admin/stats",
		auth.RequirePermission(auth.PermAdmin, s.handleStats))

	mux.Handle("/api/v1/", s.auth.Middleware(protected))

	// Apply logging and metrics middleware
	return metrics.Middleware(logging.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.0"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// publishEvent publishes an event to the broadcaster if available.
func (s *Server) publishEvent(eventType, path, language, jurisdiction string) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(events.Event{
		Type:         eventType,
		Path:         path,
		Language:     language,
		Jurisdiction: jurisdiction,
	})
}

func (s *Server) handleRevokeCurrentToken(w http.ResponseWriter, r *http.Request) {
	tokenStr := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if tokenStr == "" {
		s.sendError(w, http.StatusBadRequest, "no token to revoke")
		return
	}
	if err := s.auth.RevokeToken(r.Context(), tokenStr); err != nil {
		s.sendError(w, http.StatusInternalServerError, "revoke failed: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("encode response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, protocol.ErrorResponse{Error: message, Code: code})
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}
