package job

import "time"

// Options configures per-job behaviour such as retries and retention.
type Options struct {
	// MaxRetries is the maximum number of retry attempts before the job
	// is archived to the dead letter queue.
	MaxRetries int

	// Priority determines dequeue ordering. Higher values run first.
	Priority int

	// Timeout is the maximum duration a job may run before being cancelled.
	Timeout time.Duration

	// RunAt schedules the job for future execution. Zero means immediate.
	RunAt time.Time

	// RemoveOnComplete bounds how many completed job records the store
	// retains per queue. Zero keeps everything.
	RemoveOnComplete int

	// RemoveOnFail bounds how many failed job records the store retains
	// per queue. Zero keeps everything.
	RemoveOnFail int
}

// DefaultOptions returns the defaults applied to every produced job:
// three attempts, five minute timeout, and the retention bounds the
// queue has always used.
func DefaultOptions() Options {
	return Options{
		MaxRetries:       3,
		Timeout:          5 * time.Minute,
		RemoveOnComplete: 100,
		RemoveOnFail:     100,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

// WithPriority sets the job priority. Higher values run first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) { o.RunAt = t }
}

// WithRemoveOnComplete bounds completed-job retention for this job's queue.
func WithRemoveOnComplete(n int) Option {
	return func(o *Options) { o.RemoveOnComplete = n }
}

// WithRemoveOnFail bounds failed-job retention for this job's queue.
func WithRemoveOnFail(n int) Option {
	return func(o *Options) { o.RemoveOnFail = n }
}
