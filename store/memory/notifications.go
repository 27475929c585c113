package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/talimy/notify"
	"github.com/talimy/notify/id"
	"github.com/talimy/notify/notification"
)

// NotificationStore is an in-memory implementation of notification.Store.
type NotificationStore struct {
	mu   sync.Mutex
	rows map[id.NotificationID]*notification.Notification
}

// NewNotificationStore creates an empty in-memory notification store.
func NewNotificationStore() *NotificationStore {
	return &NotificationStore{rows: make(map[id.NotificationID]*notification.Notification)}
}

func (s *NotificationStore) InsertBatch(ctx context.Context, ns []*notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, n := range ns {
		cp := *n
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		if cp.UpdatedAt.IsZero() {
			cp.UpdatedAt = now
		}
		s.rows[cp.ID] = &cp
	}
	return nil
}

func (s *NotificationStore) List(ctx context.Context, q notification.ListQuery) ([]*notification.Notification, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*notification.Notification
	for _, n := range s.rows {
		if n.DeletedAt != nil {
			continue
		}
		if q.TenantID != "" && n.TenantID != q.TenantID {
			continue
		}
		if q.UserID != "" && n.UserID != q.UserID {
			continue
		}
		if q.Type != "" && n.Type != q.Type {
			continue
		}
		if q.UnreadOnly && n.IsRead {
			continue
		}
		if q.Search != "" {
			needle := strings.ToLower(q.Search)
			if !strings.Contains(strings.ToLower(n.Title), needle) &&
				!strings.Contains(strings.ToLower(n.Message), needle) {
				continue
			}
		}
		cp := *n
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, k int) bool {
		a, b := matched[i], matched[k]
		var ta, tb time.Time
		if q.SortBy == notification.SortUpdatedAt {
			ta, tb = a.UpdatedAt, b.UpdatedAt
		} else {
			ta, tb = a.CreatedAt, b.CreatedAt
		}
		if q.SortAsc {
			return ta.Before(tb)
		}
		return ta.After(tb)
	})

	total := int64(len(matched))
	start := (q.Page - 1) * q.Limit
	if start < 0 {
		start = 0
	}
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + q.Limit
	if q.Limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (s *NotificationStore) GetScoped(ctx context.Context, ntfID id.NotificationID, tenantID, userID string) (*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[ntfID]
	if !ok || n.DeletedAt != nil {
		return nil, notify.ErrNotFound
	}
	if tenantID != "" && n.TenantID != tenantID {
		return nil, notify.ErrNotFound
	}
	if userID != "" && n.UserID != userID {
		return nil, notify.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *NotificationStore) SetRead(ctx context.Context, ntfID id.NotificationID, read bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[ntfID]
	if !ok || n.DeletedAt != nil {
		return notify.ErrNotFound
	}
	n.IsRead = read
	n.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *NotificationStore) CountUnread(ctx context.Context, tenantID, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.rows {
		if n.DeletedAt != nil || n.IsRead {
			continue
		}
		if tenantID != "" && n.TenantID != tenantID {
			continue
		}
		if userID != "" && n.UserID != userID {
			continue
		}
		count++
	}
	return count, nil
}

// Directory is an in-memory notification.Directory for tests and local
// development.
type Directory struct {
	mu    sync.Mutex
	users map[string]*notification.Recipient
}

// NewDirectory creates an empty in-memory directory.
func NewDirectory() *Directory {
	return &Directory{users: make(map[string]*notification.Recipient)}
}

// AddRecipient registers a deliverable user.
func (d *Directory) AddRecipient(r notification.Recipient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[r.ID] = &r
}

// Recipients returns the registered recipients matching the given IDs
// within the tenant. Unknown, cross-tenant and deactivated IDs are
// omitted.
func (d *Directory) Recipients(ctx context.Context, tenantID string, userIDs []string) ([]*notification.Recipient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*notification.Recipient, 0, len(userIDs))
	for _, uid := range userIDs {
		r, ok := d.users[uid]
		if !ok || r.TenantID != tenantID || r.DeletedAt != nil {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}
