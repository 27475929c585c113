// Package realtime pushes notification events to connected websocket
// clients. Connections join a tenant room and a per-user room at
// handshake; pushes are best-effort and never block the sender.
package realtime

import (
	"context"
	"net/http"
	"strings"
)

// Identity is the authenticated principal behind a connection.
type Identity struct {
	UserID   string
	TenantID string
}

// Authenticator resolves an access token to an identity. Token issuing
// and verification live in the auth layer; the gateway only consumes it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, token string) (Identity, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}

// ExtractToken pulls the access token from a handshake request. Lookup
// order: token / accessToken query params, Authorization bearer header,
// X-Access-Token header. Returns "" when nothing is present.
func ExtractToken(r *http.Request) string {
	q := r.URL.Query()
	if t := q.Get("token"); t != "" {
		return t
	}
	if t := q.Get("accessToken"); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return r.Header.Get("X-Access-Token")
}

// Room keys for a tenant and for one user within a tenant.
func TenantRoom(tenantID string) string {
	return "tenant:" + tenantID
}

func UserRoom(tenantID, userID string) string {
	return "tenant:" + tenantID + ":user:" + userID
}
