package realtime

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/talimy/notify/notification"
)

// Event names pushed to clients.
const (
	EventNotificationCreated = "notification-created"
	EventUnreadCountUpdated  = "unread-count-updated"
)

// Gateway upgrades handshake requests to websocket connections and
// implements notification.Gateway for the service's realtime pushes.
type Gateway struct {
	auth     Authenticator
	registry *Registry
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayLogger sets the gateway logger.
func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// WithCheckOrigin overrides the websocket origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) GatewayOption {
	return func(g *Gateway) { g.upgrader.CheckOrigin = fn }
}

// NewGateway creates a realtime gateway.
func NewGateway(auth Authenticator, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		auth:     auth,
		registry: NewRegistry(),
		logger:   slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ServeHTTP handles the websocket handshake. Authentication failures are
// rejected before the upgrade so clients get a plain HTTP status.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := ExtractToken(r)
	if token == "" {
		http.Error(w, "missing access token", http.StatusUnauthorized)
		return
	}
	ident, err := g.auth.Authenticate(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return
	}
	if ident.UserID == "" || ident.TenantID == "" {
		http.Error(w, "incomplete identity", http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		g.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newConnection(ws, ident)
	g.registry.Join(c, TenantRoom(ident.TenantID), UserRoom(ident.TenantID, ident.UserID))
	g.logger.Info("websocket connected",
		slog.String("connection_id", c.ID.String()),
		slog.String("tenant_id", ident.TenantID),
		slog.String("user_id", ident.UserID),
	)

	go c.writePump()
	go c.readPump(func() {
		g.registry.Leave(c)
		g.logger.Info("websocket disconnected",
			slog.String("connection_id", c.ID.String()),
			slog.String("user_id", ident.UserID),
		)
	})
}

// NotificationCreated pushes a new notification to the recipient's room.
func (g *Gateway) NotificationCreated(tenantID, userID string, n *notification.Notification) {
	g.registry.Broadcast(UserRoom(tenantID, userID), Event{
		Event: EventNotificationCreated,
		Data:  n,
	})
}

// UnreadCountUpdated pushes a fresh unread count to the recipient's room.
func (g *Gateway) UnreadCountUpdated(tenantID, userID string, count int64) {
	g.registry.Broadcast(UserRoom(tenantID, userID), Event{
		Event: EventUnreadCountUpdated,
		Data:  map[string]int64{"count": count},
	})
}

// BroadcastToTenant pushes an event to every connection in a tenant.
func (g *Gateway) BroadcastToTenant(tenantID string, event string, data any) int {
	return g.registry.Broadcast(TenantRoom(tenantID), Event{Event: event, Data: data})
}

// Registry exposes room membership, mainly for tests and diagnostics.
func (g *Gateway) Registry() *Registry { return g.registry }
