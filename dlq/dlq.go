// Package dlq implements the dead letter queue. Jobs that exhaust their
// retries are archived here rather than silently dropped, so operators
// can inspect failures and decide whether to replay them.
package dlq

import (
	"context"
	"time"

	"github.com/talimy/notify/id"
	"github.com/talimy/notify/job"
)

// Entry is an archived record of a job that permanently failed.
type Entry struct {
	ID         id.DLQID  `json:"id"`
	JobID      id.JobID  `json:"job_id"`
	JobName    string    `json:"job_name"`
	Queue      string    `json:"queue"`
	TenantID   string    `json:"tenant_id"`
	Payload    []byte    `json:"payload"`
	Error      string    `json:"error"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	FailedAt   time.Time `json:"failed_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListOpts controls filtering and paging for dead letter listings.
type ListOpts struct {
	// Queue filters by the originating queue. Empty means all queues.
	Queue string
	// Limit bounds the number of entries returned. Zero means the store
	// default (100).
	Limit int
	// Offset skips that many entries, newest first.
	Offset int
}

// Store defines persistence for dead letter entries.
type Store interface {
	// PushDLQ archives an entry.
	PushDLQ(ctx context.Context, e *Entry) error

	// ListDLQ returns entries newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves a single entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// PurgeDLQ deletes entries older than the given time and returns how
	// many were removed.
	PurgeDLQ(ctx context.Context, olderThan time.Time) (int64, error)

	// CountDLQ returns the number of entries, optionally scoped to a queue.
	CountDLQ(ctx context.Context, queue string) (int64, error)
}

// NewEntry builds a dead letter entry from a permanently failed job.
func NewEntry(j *job.Job, jobErr error) *Entry {
	now := time.Now().UTC()
	errMsg := ""
	if jobErr != nil {
		errMsg = jobErr.Error()
	} else if j.LastError != "" {
		errMsg = j.LastError
	}
	return &Entry{
		ID:         id.NewDLQID(),
		JobID:      j.ID,
		JobName:    j.Name,
		Queue:      j.Queue,
		TenantID:   j.TenantID,
		Payload:    j.Payload,
		Error:      errMsg,
		RetryCount: j.RetryCount,
		MaxRetries: j.MaxRetries,
		FailedAt:   now,
		CreatedAt:  now,
	}
}
