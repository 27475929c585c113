package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/talimy/notify"
	"github.com/talimy/notify/dlq"
	"github.com/talimy/notify/httpapi"
	"github.com/talimy/notify/job"
	"github.com/talimy/notify/notification"
	"github.com/talimy/notify/store/memory"
)

const (
	tenantA = "11111111-1111-4111-8111-111111111111"
	tenantB = "22222222-2222-4222-8222-222222222222"
	userU1  = "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"
	userU2  = "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*httptest.Server, *dlq.Service) {
	t.Helper()
	store := memory.NewNotificationStore()
	dir := memory.NewDirectory()
	dir.AddRecipient(notification.Recipient{ID: userU1, TenantID: tenantA, Email: "u1@school.example"})
	dir.AddRecipient(notification.Recipient{ID: userU2, TenantID: tenantA})
	svc := notification.NewService(store, dir, notification.WithLogger(discardLogger()))

	deadLetters := dlq.NewService(memory.NewDLQStore(), discardLogger())
	srv := httpapi.NewServer(svc,
		httpapi.WithDeadLetters(deadLetters),
		httpapi.WithLogger(discardLogger()),
	)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, deadLetters
}

func doRequest(t *testing.T, method, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func adminHeaders() map[string]string {
	return map[string]string{
		httpapi.HeaderActorID:  userU1,
		httpapi.HeaderTenantID: tenantA,
		httpapi.HeaderRoles:    notify.RoleSchoolAdmin,
	}
}

func teacherHeaders(userID string) map[string]string {
	return map[string]string{
		httpapi.HeaderActorID:  userID,
		httpapi.HeaderTenantID: tenantA,
		httpapi.HeaderRoles:    notify.RoleTeacher,
	}
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestSendEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	body := `{"recipient_ids":["` + userU1 + `","` + userU2 + `"],"title":"Hello","message":"World"}`
	resp := doRequest(t, http.MethodPost, ts.URL+"/notifications/send", body, adminHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var res notification.SendResult
	decodeBody(t, resp, &res)
	if res.Created != 2 {
		t.Errorf("Created = %d, want 2", res.Created)
	}
}

func TestSendRequiresActor(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPost, ts.URL+"/notifications/send", `{}`, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestSendErrorMapping(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name    string
		body    string
		headers map[string]string
		want    int
	}{
		{
			name:    "cross tenant forbidden",
			body:    `{"tenant_id":"` + tenantB + `","recipient_ids":["` + userU1 + `"],"title":"x","message":"y"}`,
			headers: adminHeaders(),
			want:    http.StatusForbidden,
		},
		{
			name:    "missing title invalid",
			body:    `{"recipient_ids":["` + userU1 + `"],"message":"y"}`,
			headers: adminHeaders(),
			want:    http.StatusBadRequest,
		},
		{
			name:    "unknown recipient not found",
			body:    `{"recipient_ids":["cccccccc-cccc-4ccc-8ccc-cccccccccccc"],"title":"x","message":"y"}`,
			headers: adminHeaders(),
			want:    http.StatusNotFound,
		},
		{
			name:    "malformed body",
			body:    `{not-json`,
			headers: adminHeaders(),
			want:    http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, ts.URL+"/notifications/send", tt.body, tt.headers)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestListAndUnreadCountEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	body := `{"recipient_ids":["` + userU1 + `"],"title":"Exam schedule","message":"Finals next week"}`
	resp := doRequest(t, http.MethodPost, ts.URL+"/notifications/send", body, adminHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send status = %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/notifications/?unreadOnly=true", "", teacherHeaders(userU1))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var list notification.ListResult
	decodeBody(t, resp, &list)
	if list.Total != 1 {
		t.Errorf("Total = %d, want 1", list.Total)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/notifications/unread-count", "", teacherHeaders(userU1))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unread-count status = %d", resp.StatusCode)
	}
	var count map[string]int64
	decodeBody(t, resp, &count)
	if count["count"] != 1 {
		t.Errorf("count = %d, want 1", count["count"])
	}

	// Cross-user scope is forbidden.
	resp = doRequest(t, http.MethodGet, ts.URL+"/notifications/?userId="+userU1, "", teacherHeaders(userU2))
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("cross-user list status = %d, want 403", resp.StatusCode)
	}
}

func TestMarkReadEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	body := `{"recipient_ids":["` + userU1 + `"],"title":"Hello","message":"World"}`
	resp := doRequest(t, http.MethodPost, ts.URL+"/notifications/send", body, adminHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send status = %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/notifications/", "", teacherHeaders(userU1))
	var list notification.ListResult
	decodeBody(t, resp, &list)
	if len(list.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(list.Items))
	}
	ntfID := list.Items[0].ID.String()

	resp = doRequest(t, http.MethodPatch, ts.URL+"/notifications/"+ntfID+"/read", "", teacherHeaders(userU1))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark read status = %d", resp.StatusCode)
	}
	var n notification.Notification
	decodeBody(t, resp, &n)
	if !n.IsRead {
		t.Error("IsRead = false after mark read")
	}

	// Another user's row reads as absent.
	resp = doRequest(t, http.MethodPatch, ts.URL+"/notifications/"+ntfID+"/read", "", teacherHeaders(userU2))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cross-user mark read status = %d, want 404", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodPatch, ts.URL+"/notifications/not-a-typeid/read", "", teacherHeaders(userU1))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", resp.StatusCode)
	}
}

func TestDeadLetterEndpoints(t *testing.T) {
	ts, deadLetters := newTestServer(t)

	j := job.New(job.QueueEmails, "email.send", tenantA, []byte(`{}`))
	j.LastError = "smtp timeout"
	entry, err := deadLetters.Archive(context.Background(), j, errors.New("smtp timeout"))
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}

	resp := doRequest(t, http.MethodGet, ts.URL+"/queue/dead-letters/", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var list struct {
		Items []*dlq.Entry `json:"items"`
		Total int64        `json:"total"`
	}
	decodeBody(t, resp, &list)
	if list.Total != 1 || len(list.Items) != 1 {
		t.Fatalf("got %d/%d entries, want 1/1", list.Total, len(list.Items))
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/queue/dead-letters/"+entry.ID.String(), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var got dlq.Entry
	decodeBody(t, resp, &got)
	if got.Error != "smtp timeout" {
		t.Errorf("Error = %q", got.Error)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
