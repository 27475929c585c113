package id_test

import (
	"strings"
	"testing"

	"github.com/talimy/notify/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"NotificationID", id.NewNotificationID, "ntf_"},
		{"JobID", id.NewJobID, "job_"},
		{"DLQID", id.NewDLQID, "dlq_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
		{"ConnectionID", id.NewConnectionID, "conn_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	orig := id.NewJobID()
	parsed, err := id.ParseJobID(orig.String())
	if err != nil {
		t.Fatalf("ParseJobID(%q) error: %v", orig, err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip mismatch: %q != %q", parsed, orig)
	}
}

func TestParseWithPrefix_Mismatch(t *testing.T) {
	n := id.NewNotificationID()
	if _, err := id.ParseJobID(n.String()); err == nil {
		t.Error("expected prefix mismatch error")
	}
}

func TestParse_Empty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero value should be nil")
	}
	if i.String() != "" {
		t.Errorf("nil ID should stringify empty, got %q", i)
	}
}

func TestMarshalText_RoundTrip(t *testing.T) {
	orig := id.NewNotificationID()
	data, err := orig.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText error: %v", err)
	}

	var back id.ID
	if err := back.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText error: %v", err)
	}
	if back.String() != orig.String() {
		t.Errorf("round trip mismatch: %q != %q", back, orig)
	}
}

func TestScan(t *testing.T) {
	orig := id.NewJobID()

	var scanned id.ID
	if err := scanned.Scan(orig.String()); err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if scanned.String() != orig.String() {
		t.Errorf("scan mismatch: %q != %q", scanned, orig)
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error: %v", err)
	}
	if !fromNil.IsNil() {
		t.Error("Scan(nil) should produce nil ID")
	}
}
