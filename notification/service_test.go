package notification_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/talimy/notify"
	"github.com/talimy/notify/notification"
	"github.com/talimy/notify/store/memory"
)

const (
	tenantA = "11111111-1111-4111-8111-111111111111"
	tenantB = "22222222-2222-4222-8222-222222222222"
	userU1  = "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"
	userU2  = "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb"
	userU3  = "cccccccc-cccc-4ccc-8ccc-cccccccccccc"
)

// fakeGateway records realtime pushes.
type fakeGateway struct {
	mu      sync.Mutex
	created []string // "tenant/user"
	counts  map[string]int64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{counts: make(map[string]int64)}
}

func (g *fakeGateway) NotificationCreated(tenantID, userID string, n *notification.Notification) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, tenantID+"/"+userID)
}

func (g *fakeGateway) UnreadCountUpdated(tenantID, userID string, count int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counts[tenantID+"/"+userID] = count
}

// fakeSender records dispatch calls and can return a canned error.
type fakeSender struct {
	mu     sync.Mutex
	emails [][]string
	phones [][]string
	err    error
}

func (f *fakeSender) SendNotificationEmail(ctx context.Context, tenantID string, to []string, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails = append(f.emails, to)
	return f.err
}

func (f *fakeSender) SendNotificationSMS(ctx context.Context, tenantID string, to []string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phones = append(f.phones, to)
	return f.err
}

type fixture struct {
	svc     *notification.Service
	store   *memory.NotificationStore
	dir     *memory.Directory
	gateway *fakeGateway
	sender  *fakeSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewNotificationStore()
	dir := memory.NewDirectory()
	gateway := newFakeGateway()
	sender := &fakeSender{}

	dir.AddRecipient(notification.Recipient{ID: userU1, TenantID: tenantA, Email: "u1@school.example", Phone: "+15550001111"})
	dir.AddRecipient(notification.Recipient{ID: userU2, TenantID: tenantA, Email: "u2@school.example"}) // no phone
	dir.AddRecipient(notification.Recipient{ID: userU3, TenantID: tenantB, Email: "u3@other.example", Phone: "+15550003333"})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := notification.NewService(store, dir,
		notification.WithGateway(gateway),
		notification.WithEmailSender(sender),
		notification.WithSMSSender(sender),
		notification.WithLogger(logger),
	)
	return &fixture{svc: svc, store: store, dir: dir, gateway: gateway, sender: sender}
}

func adminActor() notify.Actor {
	return notify.Actor{ID: userU1, TenantID: tenantA, Roles: []string{notify.RoleSchoolAdmin}}
}

func teacherActor(userID string) notify.Actor {
	return notify.Actor{ID: userID, TenantID: tenantA, Roles: []string{notify.RoleTeacher}}
}

func TestSendEmptyRecipients(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Send(context.Background(), adminActor(), notification.SendInput{
		Title:   "Term starts",
		Message: "Classes resume Monday",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Recipients != 0 || res.Created != 0 || res.EmailDispatched != 0 || res.SmsDispatched != 0 {
		t.Errorf("got %+v, want all-zero result", res)
	}
	if len(f.gateway.created) != 0 {
		t.Error("gateway received pushes for empty send")
	}
}

func TestSendDefaultChannelIsInApp(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Send(context.Background(), adminActor(), notification.SendInput{
		RecipientIDs: []string{userU1},
		Title:        "Hello",
		Message:      "World",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(res.Channels) != 1 || res.Channels[0] != notification.ChannelInApp {
		t.Errorf("Channels = %v, want [in_app]", res.Channels)
	}
	if res.Created != 1 {
		t.Errorf("Created = %d, want 1", res.Created)
	}
	if res.EmailDispatched != 0 || res.SmsDispatched != 0 {
		t.Errorf("email/sms dispatched on default channels: %+v", res)
	}
}

func TestSendDuplicateChannelsResolveOnce(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Send(context.Background(), adminActor(), notification.SendInput{
		RecipientIDs: []string{userU1},
		Title:        "Hello",
		Message:      "World",
		Channels: []notification.Channel{
			notification.ChannelEmail,
			notification.ChannelInApp,
			notification.ChannelEmail,
			notification.ChannelInApp,
		},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(res.Channels) != 2 {
		t.Fatalf("Channels = %v, want 2 distinct", res.Channels)
	}
	if res.Created != 1 {
		t.Errorf("Created = %d, want 1 (in_app resolved once)", res.Created)
	}
	if len(f.sender.emails) != 1 {
		t.Errorf("email dispatch called %d times, want 1", len(f.sender.emails))
	}
}

func TestSendUnknownChannelRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Send(context.Background(), adminActor(), notification.SendInput{
		RecipientIDs: []string{userU1},
		Title:        "Hello",
		Message:      "World",
		Channels:     []notification.Channel{"push"},
	})
	if !errors.Is(err, notify.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}

func TestSendDeactivatedRecipientNotFound(t *testing.T) {
	f := newFixture(t)

	deactivated := "dddddddd-dddd-4ddd-8ddd-dddddddddddd"
	gone := time.Now().UTC()
	f.dir.AddRecipient(notification.Recipient{
		ID: deactivated, TenantID: tenantA, Email: "left@school.example", DeletedAt: &gone,
	})

	_, err := f.svc.Send(context.Background(), adminActor(), notification.SendInput{
		RecipientIDs: []string{deactivated},
		Title:        "Hello",
		Message:      "World",
	})
	if !errors.Is(err, notify.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if len(f.gateway.created) != 0 {
		t.Error("gateway received pushes for deactivated recipient")
	}
}

func TestSendMalformedRecipientIDRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Send(context.Background(), adminActor(), notification.SendInput{
		RecipientIDs: []string{"not-a-uuid"},
		Title:        "Hello",
		Message:      "World",
	})
	if !errors.Is(err, notify.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
	if len(f.gateway.created) != 0 {
		t.Error("gateway received pushes for rejected send")
	}
}

func TestSendCrossTenantForbiddenNoSideEffects(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Send(context.Background(), adminActor(), notification.SendInput{
		TenantID:     tenantB,
		RecipientIDs: []string{userU3},
		Title:        "Hello",
		Message:      "World",
	})
	if !errors.Is(err, notify.ErrForbidden) {
		t.Fatalf("got %v, want ErrForbidden", err)
	}

	count, err := f.store.CountUnread(context.Background(), tenantB, "")
	if err != nil {
		t.Fatalf("CountUnread: %v", err)
	}
	if count != 0 {
		t.Errorf("cross-tenant send left %d rows behind", count)
	}
	if len(f.gateway.created) != 0 || len(f.sender.emails) != 0 {
		t.Error("cross-tenant send had dispatch side effects")
	}
}

func TestSendPlatformAdminCrossesTenants(t *testing.T) {
	f := newFixture(t)
	platform := notify.Actor{ID: userU1, TenantID: tenantA, Roles: []string{notify.RolePlatformAdmin}}

	res, err := f.svc.Send(context.Background(), platform, notification.SendInput{
		TenantID:     tenantB,
		RecipientIDs: []string{userU3},
		Title:        "Maintenance",
		Message:      "Planned downtime tonight",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Created != 1 {
		t.Errorf("Created = %d, want 1", res.Created)
	}
}

func TestSendWithoutSendingRole(t *testing.T) {
	f := newFixture(t)
	student := notify.Actor{ID: userU1, TenantID: tenantA, Roles: []string{"student"}}

	_, err := f.svc.Send(context.Background(), student, notification.SendInput{
		RecipientIDs: []string{userU2},
		Title:        "Hello",
		Message:      "World",
	})
	if !errors.Is(err, notify.ErrForbidden) {
		t.Fatalf("got %v, want ErrForbidden", err)
	}
}

func TestSendUnknownRecipientNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Send(context.Background(), adminActor(), notification.SendInput{
		RecipientIDs: []string{userU1, "dddddddd-dddd-4ddd-8ddd-dddddddddddd"},
		Title:        "Hello",
		Message:      "World",
	})
	if !errors.Is(err, notify.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSendAllChannelsCountsEligibleRecipients(t *testing.T) {
	// U1 has email+phone, U2 has email only: created=2, email=2, sms=1.
	f := newFixture(t)

	res, err := f.svc.Send(context.Background(), adminActor(), notification.SendInput{
		RecipientIDs: []string{userU1, userU2},
		Title:        "Fee reminder",
		Message:      "Term fees are due Friday",
		Channels: []notification.Channel{
			notification.ChannelInApp,
			notification.ChannelEmail,
			notification.ChannelSMS,
		},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Created != 2 {
		t.Errorf("Created = %d, want 2", res.Created)
	}
	if res.EmailDispatched != 2 {
		t.Errorf("EmailDispatched = %d, want 2", res.EmailDispatched)
	}
	if res.SmsDispatched != 1 {
		t.Errorf("SmsDispatched = %d, want 1", res.SmsDispatched)
	}
}

func TestSendCountsSurviveSenderUnavailable(t *testing.T) {
	f := newFixture(t)
	f.sender.err = notify.ErrUnavailable

	res, err := f.svc.Send(context.Background(), adminActor(), notification.SendInput{
		RecipientIDs: []string{userU1, userU2},
		Title:        "Fee reminder",
		Message:      "Term fees are due Friday",
		Channels: []notification.Channel{
			notification.ChannelInApp,
			notification.ChannelEmail,
			notification.ChannelSMS,
		},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Created != 2 || res.EmailDispatched != 2 || res.SmsDispatched != 1 {
		t.Errorf("got %+v, want created=2 email=2 sms=1 despite unavailable providers", res)
	}
}

func TestSendDeduplicatesRecipients(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Send(context.Background(), adminActor(), notification.SendInput{
		RecipientIDs: []string{userU1, userU1, userU1},
		Title:        "Hello",
		Message:      "World",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Recipients != 1 || res.Created != 1 {
		t.Errorf("got recipients=%d created=%d, want 1/1", res.Recipients, res.Created)
	}
}

func TestSendEmitsRealtimeEvents(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Send(context.Background(), adminActor(), notification.SendInput{
		RecipientIDs: []string{userU1, userU2},
		Title:        "Hello",
		Message:      "World",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(f.gateway.created) != 2 {
		t.Fatalf("got %d notification-created pushes, want 2", len(f.gateway.created))
	}
	if got := f.gateway.counts[tenantA+"/"+userU1]; got != 1 {
		t.Errorf("unread push for u1 = %d, want 1", got)
	}
}

func TestDuplicateReplayCreatesDuplicateRows(t *testing.T) {
	// At-least-once delivery means a replayed fan-out runs twice; two rows
	// and an unread count of 2 is the accepted outcome.
	f := newFixture(t)
	ctx := context.Background()
	in := notification.SendInput{
		RecipientIDs: []string{userU1},
		Title:        "Grade posted",
		Message:      "Math midterm grades are out",
	}

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Send(ctx, adminActor(), in); err != nil {
			t.Fatalf("Send #%d: %v", i+1, err)
		}
	}

	count, err := f.svc.UnreadCount(ctx, teacherActor(userU1), notification.UnreadScope{})
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if count != 2 {
		t.Errorf("unread = %d, want 2", count)
	}

	res, err := f.svc.List(ctx, teacherActor(userU1), notification.ListQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 2 {
		t.Errorf("Total = %d, want 2", res.Total)
	}
}

func TestListScopedToOwnUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Send(ctx, adminActor(), notification.SendInput{
		RecipientIDs: []string{userU1, userU2},
		Title:        "Hello",
		Message:      "World",
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	res, err := f.svc.List(ctx, teacherActor(userU2), notification.ListQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("Total = %d, want 1", res.Total)
	}
	if res.Items[0].UserID != userU2 {
		t.Errorf("listed a row belonging to %s", res.Items[0].UserID)
	}
}

func TestListCrossUserForbidden(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.List(context.Background(), teacherActor(userU2), notification.ListQuery{UserID: userU1})
	if !errors.Is(err, notify.ErrForbidden) {
		t.Fatalf("got %v, want ErrForbidden", err)
	}
}

func TestUnreadCountCrossTenantForbidden(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.UnreadCount(context.Background(), teacherActor(userU1), notification.UnreadScope{TenantID: tenantB})
	if !errors.Is(err, notify.ErrForbidden) {
		t.Fatalf("got %v, want ErrForbidden", err)
	}
}

func TestListFiltersAndPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, in := range []notification.SendInput{
		{RecipientIDs: []string{userU1}, Title: "Exam schedule", Message: "Finals next week", Type: notification.TypeInfo},
		{RecipientIDs: []string{userU1}, Title: "Payment failed", Message: "Card declined", Type: notification.TypeError},
		{RecipientIDs: []string{userU1}, Title: "Welcome", Message: "Glad to have you", Type: notification.TypeSuccess},
	} {
		if _, err := f.svc.Send(ctx, adminActor(), in); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	res, err := f.svc.List(ctx, teacherActor(userU1), notification.ListQuery{Type: notification.TypeError})
	if err != nil {
		t.Fatalf("List by type: %v", err)
	}
	if res.Total != 1 || res.Items[0].Title != "Payment failed" {
		t.Errorf("type filter returned %d rows", res.Total)
	}

	res, err = f.svc.List(ctx, teacherActor(userU1), notification.ListQuery{Search: "finals"})
	if err != nil {
		t.Fatalf("List by search: %v", err)
	}
	if res.Total != 1 || res.Items[0].Title != "Exam schedule" {
		t.Errorf("search filter returned %d rows", res.Total)
	}

	res, err = f.svc.List(ctx, teacherActor(userU1), notification.ListQuery{Limit: 2})
	if err != nil {
		t.Fatalf("List paged: %v", err)
	}
	if res.Total != 3 || len(res.Items) != 2 {
		t.Errorf("paging: total=%d items=%d, want 3/2", res.Total, len(res.Items))
	}
}

func TestMarkReadRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Send(ctx, adminActor(), notification.SendInput{
		RecipientIDs: []string{userU1},
		Title:        "Hello",
		Message:      "World",
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	actor := teacherActor(userU1)
	res, err := f.svc.List(ctx, actor, notification.ListQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	ntfID := res.Items[0].ID

	n, err := f.svc.MarkRead(ctx, actor, ntfID, notification.MarkReadInput{})
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !n.IsRead {
		t.Error("IsRead = false after MarkRead with default input")
	}

	count, err := f.svc.UnreadCount(ctx, actor, notification.UnreadScope{})
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if count != 0 {
		t.Errorf("unread = %d after mark read, want 0", count)
	}

	// Marking read again is idempotent.
	if _, err := f.svc.MarkRead(ctx, actor, ntfID, notification.MarkReadInput{}); err != nil {
		t.Fatalf("MarkRead again: %v", err)
	}
	count, _ = f.svc.UnreadCount(ctx, actor, notification.UnreadScope{})
	if count != 0 {
		t.Errorf("unread = %d after repeat mark read, want 0", count)
	}

	// Flip back to unread.
	unread := false
	if _, err := f.svc.MarkRead(ctx, actor, ntfID, notification.MarkReadInput{Read: &unread}); err != nil {
		t.Fatalf("MarkRead(false): %v", err)
	}
	count, _ = f.svc.UnreadCount(ctx, actor, notification.UnreadScope{})
	if count != 1 {
		t.Errorf("unread = %d after unmark, want 1", count)
	}
}

func TestMarkReadCrossUserNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Send(ctx, adminActor(), notification.SendInput{
		RecipientIDs: []string{userU1},
		Title:        "Hello",
		Message:      "World",
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	res, err := f.svc.List(ctx, teacherActor(userU1), notification.ListQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	_, err = f.svc.MarkRead(ctx, teacherActor(userU2), res.Items[0].ID, notification.MarkReadInput{})
	if !errors.Is(err, notify.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestMarkReadCrossTenantForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Send(ctx, adminActor(), notification.SendInput{
		RecipientIDs: []string{userU1},
		Title:        "Hello",
		Message:      "World",
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	res, err := f.svc.List(ctx, teacherActor(userU1), notification.ListQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	// Naming another tenant in the payload is Forbidden even on the
	// actor's own row, and the row stays untouched.
	read := true
	_, err = f.svc.MarkRead(ctx, teacherActor(userU1), res.Items[0].ID, notification.MarkReadInput{
		TenantID: tenantB,
		Read:     &read,
	})
	if !errors.Is(err, notify.ErrForbidden) {
		t.Fatalf("got %v, want ErrForbidden", err)
	}
	count, err := f.svc.UnreadCount(ctx, teacherActor(userU1), notification.UnreadScope{})
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if count != 1 {
		t.Errorf("unread = %d after forbidden mark read, want 1", count)
	}
}
