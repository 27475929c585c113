// Package worker runs queue consumers: a Pool of goroutines that dequeue
// jobs, an Executor that applies middleware, retry with backoff, and dead
// letter archival, plus heartbeat and stale-job reaper loops.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/talimy/notify"
	"github.com/talimy/notify/backoff"
	"github.com/talimy/notify/dlq"
	"github.com/talimy/notify/job"
	"github.com/talimy/notify/middleware"
)

// Executor runs a single job through the middleware chain and the
// registered handler, then settles its outcome: complete, retry with
// backoff, or archive to the dead letter queue.
type Executor struct {
	registry *job.Registry
	store    job.Store
	dlq      *dlq.Service
	backoff  backoff.Strategy
	chain    middleware.Middleware
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBackoff sets the retry backoff strategy.
func WithBackoff(s backoff.Strategy) ExecutorOption {
	return func(e *Executor) { e.backoff = s }
}

// WithMiddleware sets the middleware applied around every handler call.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.chain = middleware.Chain(mws...) }
}

// WithExecutorLogger sets the executor logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an executor. The dlq service may be nil, in which
// case exhausted jobs are only marked failed.
func NewExecutor(registry *job.Registry, store job.Store, dlqSvc *dlq.Service, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		store:    store,
		dlq:      dlqSvc,
		backoff:  backoff.DefaultStrategy(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the job to a settled state. The returned error is the
// handler error, if any; settlement itself (retry scheduling, DLQ
// archival) is handled internally.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Name)
	if !ok {
		err := fmt.Errorf("worker: no handler registered for job %q: %w", j.Name, notify.ErrInvalidState)
		e.settleFailure(ctx, j, err)
		return err
	}

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	run := func(ctx context.Context) error {
		return handler(ctx, j)
	}
	var err error
	if e.chain != nil {
		err = e.chain(ctx, j, run)
	} else {
		err = run(ctx)
	}

	if err != nil {
		e.settleFailure(ctx, j, err)
		return err
	}

	if cerr := e.store.CompleteJob(ctx, j); cerr != nil {
		e.logger.Error("completing job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", cerr.Error()),
		)
	}
	return nil
}

// settleFailure decides between a backoff-delayed retry and permanent
// failure with DLQ archival.
func (e *Executor) settleFailure(ctx context.Context, j *job.Job, jobErr error) {
	j.LastError = jobErr.Error()

	if j.RetryCount < j.MaxRetries {
		j.RetryCount++
		delay := e.backoff.Delay(j.RetryCount)
		j.State = job.StateRetrying
		j.RunAt = time.Now().UTC().Add(delay)

		if err := e.store.UpdateJob(ctx, j); err != nil {
			e.logger.Error("scheduling retry failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		e.logger.Warn("job scheduled for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Int("attempt", j.RetryCount),
			slog.Int("max_retries", j.MaxRetries),
			slog.Duration("delay", delay),
		)
		return
	}

	if err := e.store.FailJob(ctx, j); err != nil {
		e.logger.Error("failing job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	if e.dlq != nil {
		if _, err := e.dlq.Archive(ctx, j, jobErr); err != nil {
			e.logger.Error("dead letter archive failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}
