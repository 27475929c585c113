package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/talimy/notify"
	"github.com/talimy/notify/id"
	"github.com/talimy/notify/notification"
)

const notificationColumns = `id, tenant_id, user_id, title, message, type, is_read, data, created_at, updated_at, deleted_at`

func scanNotification(row pgx.Row) (*notification.Notification, error) {
	var (
		n       notification.Notification
		rawData []byte
	)
	err := row.Scan(&n.ID, &n.TenantID, &n.UserID, &n.Title, &n.Message, &n.Type,
		&n.IsRead, &rawData, &n.CreatedAt, &n.UpdatedAt, &n.DeletedAt)
	if err != nil {
		return nil, err
	}
	if len(rawData) > 0 {
		if err := json.Unmarshal(rawData, &n.Data); err != nil {
			return nil, fmt.Errorf("notify/postgres: decode data for %s: %w", n.ID, err)
		}
	}
	return &n, nil
}

// InsertBatch persists the rows in one round trip.
func (s *Store) InsertBatch(ctx context.Context, ns []*notification.Notification) error {
	if len(ns) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, n := range ns {
		var rawData []byte
		if n.Data != nil {
			var err error
			rawData, err = json.Marshal(n.Data)
			if err != nil {
				return fmt.Errorf("notify/postgres: encode data for %s: %w", n.ID, err)
			}
		}
		createdAt := n.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		batch.Queue(`
			INSERT INTO notifications (id, tenant_id, user_id, title, message, type, is_read, data, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
			n.ID, n.TenantID, n.UserID, n.Title, n.Message, n.Type, n.IsRead, rawData, createdAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range ns {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("notify/postgres: insert notifications: %w", err)
		}
	}
	return nil
}

// List returns matching rows plus the total match count before paging.
func (s *Store) List(ctx context.Context, q notification.ListQuery) ([]*notification.Notification, int64, error) {
	where := []string{"deleted_at IS NULL"}
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.TenantID != "" {
		where = append(where, "tenant_id = "+arg(q.TenantID))
	}
	if q.UserID != "" {
		where = append(where, "user_id = "+arg(q.UserID))
	}
	if q.Type != "" {
		where = append(where, "type = "+arg(string(q.Type)))
	}
	if q.UnreadOnly {
		where = append(where, "is_read = FALSE")
	}
	if q.Search != "" {
		p := arg("%" + q.Search + "%")
		where = append(where, fmt.Sprintf("(title ILIKE %s OR message ILIKE %s)", p, p))
	}
	whereClause := strings.Join(where, " AND ")

	var total int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM notifications WHERE "+whereClause, args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("notify/postgres: count notifications: %w", err)
	}

	sortCol := "created_at"
	if q.SortBy == notification.SortUpdatedAt {
		sortCol = "updated_at"
	}
	direction := "DESC"
	if q.SortAsc {
		direction = "ASC"
	}
	query := fmt.Sprintf(
		"SELECT %s FROM notifications WHERE %s ORDER BY %s %s LIMIT %s OFFSET %s",
		notificationColumns, whereClause, sortCol, direction,
		arg(q.Limit), arg((q.Page-1)*q.Limit),
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("notify/postgres: list notifications: %w", err)
	}
	defer rows.Close()

	var out []*notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("notify/postgres: scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("notify/postgres: list notifications: %w", err)
	}
	return out, total, nil
}

// GetScoped retrieves a row by ID within the optional tenant/user scope.
func (s *Store) GetScoped(ctx context.Context, ntfID id.NotificationID, tenantID, userID string) (*notification.Notification, error) {
	query := "SELECT " + notificationColumns + " FROM notifications WHERE id = $1 AND deleted_at IS NULL"
	args := []any{ntfID}
	if tenantID != "" {
		args = append(args, tenantID)
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if userID != "" {
		args = append(args, userID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}

	n, err := scanNotification(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notify.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notify/postgres: get notification %s: %w", ntfID, err)
	}
	return n, nil
}

// SetRead updates the read flag on a row.
func (s *Store) SetRead(ctx context.Context, ntfID id.NotificationID, read bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET is_read = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		ntfID, read,
	)
	if err != nil {
		return fmt.Errorf("notify/postgres: set read %s: %w", ntfID, err)
	}
	if tag.RowsAffected() == 0 {
		return notify.ErrNotFound
	}
	return nil
}

// CountUnread counts non-deleted unread rows for a tenant, optionally
// narrowed to one user.
func (s *Store) CountUnread(ctx context.Context, tenantID, userID string) (int64, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE deleted_at IS NULL AND is_read = FALSE AND tenant_id = $1`
	args := []any{tenantID}
	if userID != "" {
		args = append(args, userID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("notify/postgres: count unread: %w", err)
	}
	return count, nil
}

// Recipients resolves user IDs to deliverable recipients within the
// tenant. Unknown, cross-tenant and deactivated IDs are omitted.
func (s *Store) Recipients(ctx context.Context, tenantID string, userIDs []string) ([]*notification.Recipient, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, COALESCE(email, ''), COALESCE(phone, '')
		 FROM users WHERE tenant_id = $1 AND id = ANY($2) AND deleted_at IS NULL`,
		tenantID, userIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("notify/postgres: resolve recipients: %w", err)
	}
	defer rows.Close()

	var out []*notification.Recipient
	for rows.Next() {
		var r notification.Recipient
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Email, &r.Phone); err != nil {
			return nil, fmt.Errorf("notify/postgres: scan recipient: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify/postgres: resolve recipients: %w", err)
	}
	return out, nil
}
