// Package notification implements tenant-scoped user notifications:
// fan-out to in-app rows with realtime pushes, plus best-effort email
// and sms dispatch.
package notification

import (
	"time"

	"github.com/talimy/notify/id"
)

// Type classifies a notification for presentation.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	switch t {
	case TypeInfo, TypeSuccess, TypeWarning, TypeError:
		return true
	}
	return false
}

// Channel is a delivery channel for a send request.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelSMS:
		return true
	}
	return false
}

// Notification is a single in-app notification row belonging to one user
// in one tenant. Rows are soft-deleted; read state flips via MarkRead.
type Notification struct {
	ID        id.NotificationID `json:"id"`
	TenantID  string            `json:"tenant_id"`
	UserID    string            `json:"user_id"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Type      Type              `json:"type"`
	IsRead    bool              `json:"is_read"`
	Data      map[string]any    `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	DeletedAt *time.Time        `json:"deleted_at,omitempty"`
}
