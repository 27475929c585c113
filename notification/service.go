package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/talimy/notify"
	"github.com/talimy/notify/id"
)

// SendInput is a fan-out request: one title/message delivered to a set of
// recipients over one or more channels.
type SendInput struct {
	// TenantID is the target tenant. Empty defaults to the actor's tenant.
	TenantID     string         `json:"tenant_id,omitempty"`
	RecipientIDs []string       `json:"recipient_ids"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Type         Type           `json:"type,omitempty"`
	Channels     []Channel      `json:"channels,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// SendResult summarizes what a Send actually did.
type SendResult struct {
	// Recipients is the number of distinct recipients after de-duplication.
	Recipients int `json:"recipients"`
	// Channels is the resolved channel set, de-duplicated, defaults applied.
	Channels []Channel `json:"channels"`
	// Created is the number of in-app rows inserted.
	Created int `json:"created"`
	// EmailDispatched counts recipients with a usable email address.
	EmailDispatched int `json:"email_dispatched"`
	// SmsDispatched counts recipients with a usable phone number.
	SmsDispatched int `json:"sms_dispatched"`
}

// UnreadScope narrows an unread count. Non-admin actors are bound to
// their own tenant and user regardless of what they pass.
type UnreadScope struct {
	TenantID string
	UserID   string
}

// MarkReadInput controls the target read state. Read defaults to true.
// TenantID is scope-checked like every other operation: a non-admin
// naming another tenant is Forbidden.
type MarkReadInput struct {
	TenantID string `json:"tenant_id,omitempty"`
	Read     *bool  `json:"read,omitempty"`
}

// ListResult is one page of notifications plus the total match count.
type ListResult struct {
	Items []*Notification `json:"items"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

// Service implements notification operations with actor scope checks.
// Gateway, email and sms senders are optional; a nil dependency turns the
// corresponding push or dispatch into a no-op while counts stay accurate.
type Service struct {
	store     Store
	directory Directory
	gateway   Gateway
	email     EmailSender
	sms       SMSSender
	logger    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithGateway sets the realtime gateway used for pushes.
func WithGateway(g Gateway) ServiceOption {
	return func(s *Service) { s.gateway = g }
}

// WithEmailSender sets the email dispatch path.
func WithEmailSender(e EmailSender) ServiceOption {
	return func(s *Service) { s.email = e }
}

// WithSMSSender sets the sms dispatch path.
func WithSMSSender(m SMSSender) ServiceOption {
	return func(s *Service) { s.sms = m }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a notification service.
func NewService(store Store, directory Directory, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		directory: directory,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send fans a notification out to recipients over the resolved channels.
// Requires a sending role; non-admin actors may only target their own
// tenant. All scope and validation failures happen before any side effect.
func (s *Service) Send(ctx context.Context, actor notify.Actor, in SendInput) (*SendResult, error) {
	if !actor.CanSend() {
		return nil, fmt.Errorf("send notification: %w", notify.ErrForbidden)
	}

	tenantID := in.TenantID
	if tenantID == "" {
		tenantID = actor.TenantID
	}
	if !actor.IsPlatformAdmin() && tenantID != actor.TenantID {
		return nil, fmt.Errorf("send notification to tenant %s: %w", tenantID, notify.ErrForbidden)
	}

	if err := uuid.Validate(tenantID); err != nil {
		return nil, fmt.Errorf("send notification: tenant id %q: %w", tenantID, notify.ErrInvalidInput)
	}

	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Message) == "" {
		return nil, fmt.Errorf("send notification: title and message required: %w", notify.ErrInvalidInput)
	}
	ntype := in.Type
	if ntype == "" {
		ntype = TypeInfo
	}
	if !ntype.Valid() {
		return nil, fmt.Errorf("send notification: unknown type %q: %w", ntype, notify.ErrInvalidInput)
	}
	channels, err := resolveChannels(in.Channels)
	if err != nil {
		return nil, err
	}

	recipientIDs := dedupeStrings(in.RecipientIDs)
	result := &SendResult{Channels: channels}
	if len(recipientIDs) == 0 {
		return result, nil
	}
	result.Recipients = len(recipientIDs)

	// Tenant and user columns are UUID typed; reject malformed ids here
	// instead of surfacing a driver error.
	for _, rid := range recipientIDs {
		if err := uuid.Validate(rid); err != nil {
			return nil, fmt.Errorf("send notification: recipient id %q: %w", rid, notify.ErrInvalidInput)
		}
	}

	recipients, err := s.directory.Recipients(ctx, tenantID, recipientIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	if len(recipients) != len(recipientIDs) {
		return nil, fmt.Errorf("send notification: %d of %d recipients not found in tenant: %w",
			len(recipientIDs)-len(recipients), len(recipientIDs), notify.ErrNotFound)
	}

	for _, ch := range channels {
		switch ch {
		case ChannelInApp:
			created, err := s.fanOutInApp(ctx, tenantID, recipients, ntype, in)
			if err != nil {
				return nil, err
			}
			result.Created = created
		case ChannelEmail:
			result.EmailDispatched = s.dispatchEmail(ctx, tenantID, recipients, in)
		case ChannelSMS:
			result.SmsDispatched = s.dispatchSMS(ctx, tenantID, recipients, in)
		}
	}

	s.logger.Info("notification sent",
		slog.String("tenant_id", tenantID),
		slog.Int("recipients", result.Recipients),
		slog.Int("created", result.Created),
		slog.Int("email_dispatched", result.EmailDispatched),
		slog.Int("sms_dispatched", result.SmsDispatched),
	)
	return result, nil
}

func (s *Service) fanOutInApp(ctx context.Context, tenantID string, recipients []*Recipient, ntype Type, in SendInput) (int, error) {
	rows := make([]*Notification, 0, len(recipients))
	for _, r := range recipients {
		rows = append(rows, &Notification{
			ID:       id.NewNotificationID(),
			TenantID: tenantID,
			UserID:   r.ID,
			Title:    in.Title,
			Message:  in.Message,
			Type:     ntype,
			Data:     in.Data,
		})
	}
	if err := s.store.InsertBatch(ctx, rows); err != nil {
		return 0, fmt.Errorf("insert notifications: %w", err)
	}

	if s.gateway != nil {
		for _, n := range rows {
			s.gateway.NotificationCreated(n.TenantID, n.UserID, n)
			s.pushUnreadCount(ctx, n.TenantID, n.UserID)
		}
	}
	return len(rows), nil
}

// dispatchEmail counts recipients with a usable address and hands them to
// the email sender. Recipients without an address are skipped silently;
// sender failures (including missing provider credentials) are logged but
// never fail the send.
func (s *Service) dispatchEmail(ctx context.Context, tenantID string, recipients []*Recipient, in SendInput) int {
	var to []string
	for _, r := range recipients {
		if r.Email != "" {
			to = append(to, r.Email)
		}
	}
	if len(to) == 0 {
		return 0
	}
	if s.email != nil {
		if err := s.email.SendNotificationEmail(ctx, tenantID, to, in.Title, in.Message); err != nil {
			s.logDispatchErr("email", tenantID, len(to), err)
		}
	}
	return len(to)
}

func (s *Service) dispatchSMS(ctx context.Context, tenantID string, recipients []*Recipient, in SendInput) int {
	var to []string
	for _, r := range recipients {
		if r.Phone != "" {
			to = append(to, r.Phone)
		}
	}
	if len(to) == 0 {
		return 0
	}
	if s.sms != nil {
		if err := s.sms.SendNotificationSMS(ctx, tenantID, to, in.Message); err != nil {
			s.logDispatchErr("sms", tenantID, len(to), err)
		}
	}
	return len(to)
}

func (s *Service) logDispatchErr(channel, tenantID string, count int, err error) {
	level := slog.LevelWarn
	if errors.Is(err, notify.ErrUnavailable) {
		level = slog.LevelDebug
	}
	s.logger.Log(context.Background(), level, "channel dispatch failed",
		slog.String("channel", channel),
		slog.String("tenant_id", tenantID),
		slog.Int("recipients", count),
		slog.String("error", err.Error()),
	)
}

// List returns a page of notifications within the actor's scope.
func (s *Service) List(ctx context.Context, actor notify.Actor, q ListQuery) (*ListResult, error) {
	if err := s.applyScope(actor, &q.TenantID, &q.UserID); err != nil {
		return nil, err
	}
	q.Normalize()
	if q.Type != "" && !q.Type.Valid() {
		return nil, fmt.Errorf("list notifications: unknown type %q: %w", q.Type, notify.ErrInvalidInput)
	}

	items, total, err := s.store.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	if items == nil {
		items = []*Notification{}
	}
	return &ListResult{Items: items, Total: total, Page: q.Page, Limit: q.Limit}, nil
}

// UnreadCount returns the number of unread notifications in scope.
func (s *Service) UnreadCount(ctx context.Context, actor notify.Actor, scope UnreadScope) (int64, error) {
	if err := s.applyScope(actor, &scope.TenantID, &scope.UserID); err != nil {
		return 0, err
	}
	count, err := s.store.CountUnread(ctx, scope.TenantID, scope.UserID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// MarkRead flips the read flag on one notification. The row must exist
// within the actor's scope; afterwards a fresh unread count is pushed to
// the row's user.
func (s *Service) MarkRead(ctx context.Context, actor notify.Actor, ntfID id.NotificationID, in MarkReadInput) (*Notification, error) {
	tenantID, userID := in.TenantID, ""
	if err := s.applyScope(actor, &tenantID, &userID); err != nil {
		return nil, err
	}

	n, err := s.store.GetScoped(ctx, ntfID, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("mark read %s: %w", ntfID, err)
	}

	read := true
	if in.Read != nil {
		read = *in.Read
	}
	if n.IsRead != read {
		if err := s.store.SetRead(ctx, ntfID, read); err != nil {
			return nil, fmt.Errorf("mark read %s: %w", ntfID, err)
		}
		n.IsRead = read
	}

	if s.gateway != nil {
		s.pushUnreadCount(ctx, n.TenantID, n.UserID)
	}
	return n, nil
}

func (s *Service) pushUnreadCount(ctx context.Context, tenantID, userID string) {
	count, err := s.store.CountUnread(ctx, tenantID, userID)
	if err != nil {
		s.logger.Debug("unread count push skipped",
			slog.String("tenant_id", tenantID),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.gateway.UnreadCountUpdated(tenantID, userID, count)
}

// applyScope enforces the shared scope rule: platform admins pass through
// untouched, everyone else is pinned to their own tenant and user id.
// Asking for someone else's scope is Forbidden, with zero side effects.
func (s *Service) applyScope(actor notify.Actor, tenantID, userID *string) error {
	if actor.IsPlatformAdmin() {
		return nil
	}
	if *tenantID == "" {
		*tenantID = actor.TenantID
	}
	if *userID == "" {
		*userID = actor.ID
	}
	if *tenantID != actor.TenantID || *userID != actor.ID {
		return fmt.Errorf("scope check: %w", notify.ErrForbidden)
	}
	return nil
}

// resolveChannels de-duplicates and validates the channel set, defaulting
// to in-app only. Order-insensitive: the result is always in the fixed
// in_app, email, sms order.
func resolveChannels(channels []Channel) ([]Channel, error) {
	if len(channels) == 0 {
		return []Channel{ChannelInApp}, nil
	}
	seen := make(map[Channel]bool, len(channels))
	for _, ch := range channels {
		if !ch.Valid() {
			return nil, fmt.Errorf("unknown channel %q: %w", ch, notify.ErrInvalidInput)
		}
		seen[ch] = true
	}
	out := make([]Channel, 0, len(seen))
	for _, ch := range []Channel{ChannelInApp, ChannelEmail, ChannelSMS} {
		if seen[ch] {
			out = append(out, ch)
		}
	}
	return out, nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
