// Package httpapi exposes the notification operations over HTTP. The
// API sits behind the platform's auth proxy: the acting identity arrives
// in trusted headers, and the taxonomy errors map onto HTTP statuses.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/talimy/notify"
	"github.com/talimy/notify/dlq"
	"github.com/talimy/notify/notification"
)

// Identity headers set by the upstream auth proxy.
const (
	HeaderActorID  = "X-Actor-Id"
	HeaderTenantID = "X-Tenant-Id"
	HeaderRoles    = "X-Actor-Roles"
)

// Server wires the notification service, the websocket gateway, and the
// operator endpoints into one router.
type Server struct {
	notifications *notification.Service
	ws            http.Handler
	deadLetters   *dlq.Service
	logger        *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithWebsocket mounts the realtime gateway at GET /ws.
func WithWebsocket(h http.Handler) ServerOption {
	return func(s *Server) { s.ws = h }
}

// WithDeadLetters mounts the operator dead-letter endpoints.
func WithDeadLetters(d *dlq.Service) ServerOption {
	return func(s *Server) { s.deadLetters = d }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates an HTTP server over the notification service.
func NewServer(notifications *notification.Service, opts ...ServerOption) *Server {
	s := &Server{
		notifications: notifications,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Route("/notifications", func(r chi.Router) {
		r.Use(s.requireActor)
		r.Post("/send", s.handleSend)
		r.Get("/", s.handleList)
		r.Get("/unread-count", s.handleUnreadCount)
		r.Patch("/{id}/read", s.handleMarkRead)
	})

	if s.deadLetters != nil {
		r.Route("/queue/dead-letters", func(r chi.Router) {
			r.Get("/", s.handleListDeadLetters)
			r.Get("/{id}", s.handleGetDeadLetter)
		})
	}

	if s.ws != nil {
		r.Get("/ws", s.ws.ServeHTTP)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

type actorKey struct{}

// requireActor builds the acting identity from the trusted upstream
// headers and rejects requests without one.
func (s *Server) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorID := r.Header.Get(HeaderActorID)
		if actorID == "" {
			writeErrorMessage(w, http.StatusUnauthorized, "missing actor identity")
			return
		}
		var roles []string
		for _, role := range strings.Split(r.Header.Get(HeaderRoles), ",") {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
		actor := notify.Actor{
			ID:       actorID,
			TenantID: r.Header.Get(HeaderTenantID),
			Roles:    roles,
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, notify.ErrForbidden):
		writeErrorMessage(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, notify.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, notify.ErrInvalidInput):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, notify.ErrUnavailable), errors.Is(err, notify.ErrNoQueue):
		writeErrorMessage(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		s.logger.Error("request failed", slog.String("error", err.Error()))
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}
