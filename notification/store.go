package notification

import (
	"context"
	"time"

	"github.com/talimy/notify/id"
)

// Sort field names accepted by ListQuery.
const (
	SortCreatedAt = "created_at"
	SortUpdatedAt = "updated_at"
)

// ListQuery filters and pages a notification listing. TenantID and UserID
// are mandatory for non-admin actors; the service fills and enforces them.
type ListQuery struct {
	TenantID   string
	UserID     string
	Type       Type
	UnreadOnly bool
	// Search matches title or message, case-insensitive substring.
	Search string
	// SortBy is created_at (default) or updated_at.
	SortBy string
	// SortAsc flips the default newest-first ordering.
	SortAsc bool
	// Page is 1-based. Zero means first page.
	Page int
	// Limit is capped at MaxPageSize. Zero means DefaultPageSize.
	Limit int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize applies paging defaults and caps in place.
func (q *ListQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	if q.SortBy != SortUpdatedAt {
		q.SortBy = SortCreatedAt
	}
}

// Store defines persistence for notification rows. Soft-deleted rows are
// invisible to every method.
type Store interface {
	// InsertBatch persists the given rows in one operation.
	InsertBatch(ctx context.Context, ns []*Notification) error

	// List returns matching rows plus the total match count before paging.
	List(ctx context.Context, q ListQuery) ([]*Notification, int64, error)

	// GetScoped retrieves a row by ID, constrained to the given tenant and
	// user when non-empty. A row outside the scope reads as absent.
	GetScoped(ctx context.Context, ntfID id.NotificationID, tenantID, userID string) (*Notification, error)

	// SetRead updates the read flag on a row.
	SetRead(ctx context.Context, ntfID id.NotificationID, read bool) error

	// CountUnread counts non-deleted unread rows for a tenant, optionally
	// narrowed to one user.
	CountUnread(ctx context.Context, tenantID, userID string) (int64, error)
}

// Recipient is a deliverable user resolved from the tenant directory.
// Email or Phone may be empty; fan-out skips the channel for that user.
type Recipient struct {
	ID       string
	TenantID string
	Email    string
	Phone    string

	// DeletedAt marks a deactivated user. Deactivated users never
	// resolve as recipients.
	DeletedAt *time.Time
}

// Directory resolves user IDs to recipients within a tenant. IDs outside
// the tenant, and deactivated users, are omitted from the result, never
// returned.
type Directory interface {
	Recipients(ctx context.Context, tenantID string, userIDs []string) ([]*Recipient, error)
}

// Gateway pushes realtime events to connected clients. Implementations
// are best-effort: no error returns, a disconnected user just misses the
// push and catches up via List.
type Gateway interface {
	NotificationCreated(tenantID, userID string, n *Notification)
	UnreadCountUpdated(tenantID, userID string, count int64)
}

// EmailSender delivers a notification email to the given addresses.
// Implementations either enqueue a background job or call the provider
// inline; missing provider credentials surface as notify.ErrUnavailable.
type EmailSender interface {
	SendNotificationEmail(ctx context.Context, tenantID string, to []string, title, message string) error
}

// SMSSender delivers a notification text to the given phone numbers.
type SMSSender interface {
	SendNotificationSMS(ctx context.Context, tenantID string, to []string, message string) error
}
