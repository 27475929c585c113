package job

import (
	"context"
	"time"

	"github.com/talimy/notify/id"
)

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs. Delivery is
// at-least-once: a job claimed by a crashed worker is reclaimed by
// ReapStaleJobs and delivered again.
type Store interface {
	// EnqueueJob persists a new job in pending state.
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJobs atomically claims up to limit due pending/retrying jobs
	// from the given queues, sets them to running, and returns them.
	// Ordering is priority (descending) then RunAt (ascending).
	DequeueJobs(ctx context.Context, queues []string, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// CompleteJob marks the job completed and trims completed records in
	// its queue down to the job's RemoveOnComplete bound (zero keeps all).
	CompleteJob(ctx context.Context, j *Job) error

	// FailJob marks the job failed and trims failed records in its queue
	// down to the job's RemoveOnFail bound (zero keeps all).
	FailJob(ctx context.Context, j *Job) error

	// HeartbeatJob records that the worker executing the job is alive.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns running jobs whose last heartbeat is older
	// than the threshold, indicating the worker may have crashed.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
