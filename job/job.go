package job

import (
	"time"

	"github.com/talimy/notify/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be picked up by a worker.
	StatePending State = "pending"
	// StateRunning means a worker is currently executing the job.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job exhausted its retries and will not run again.
	StateFailed State = "failed"
	// StateRetrying means the job failed but is scheduled for retry.
	StateRetrying State = "retrying"
)

// Named queues consumed by the worker role. One queue per job kind so
// that a slow kind (provider latency, LLM calls) never blocks the others.
const (
	QueueEmails        = "emails"
	QueueSMS           = "sms"
	QueueNotifications = "notifications"
	QueueReports       = "reports"
)

// Queues lists every queue the worker role polls.
func Queues() []string {
	return []string{QueueEmails, QueueSMS, QueueNotifications, QueueReports}
}

// Job is a unit of background work. Every job carries the tenant it acts
// on behalf of; the producer API requires it, so cross-tenant leakage is
// prevented by construction rather than caller discipline.
type Job struct {
	ID         id.JobID  `json:"id"`
	Name       string    `json:"name"`
	Queue      string    `json:"queue"`
	TenantID   string    `json:"tenant_id"`
	Payload    []byte    `json:"payload"`
	State      State     `json:"state"`
	Priority   int       `json:"priority"`
	MaxRetries int       `json:"max_retries"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error,omitempty"`
	WorkerID   id.WorkerID `json:"worker_id,omitempty"`

	// RemoveOnComplete / RemoveOnFail bound how many terminal job records
	// the store retains per queue. Zero keeps everything.
	RemoveOnComplete int `json:"remove_on_complete,omitempty"`
	RemoveOnFail     int `json:"remove_on_fail,omitempty"`

	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// New builds a pending job for the given queue, name, and tenant with the
// supplied options applied.
func New(queue, name, tenantID string, payload []byte, opts ...Option) *Job {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	now := time.Now().UTC()
	runAt := o.RunAt
	if runAt.IsZero() {
		runAt = now
	}

	return &Job{
		ID:               id.NewJobID(),
		Name:             name,
		Queue:            queue,
		TenantID:         tenantID,
		Payload:          payload,
		State:            StatePending,
		Priority:         o.Priority,
		MaxRetries:       o.MaxRetries,
		RemoveOnComplete: o.RemoveOnComplete,
		RemoveOnFail:     o.RemoveOnFail,
		RunAt:            runAt,
		CreatedAt:        now,
		UpdatedAt:        now,
		Timeout:          o.Timeout,
	}
}
