package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/talimy/notify/id"
	"github.com/talimy/notify/job"
	"github.com/talimy/notify/queue"
)

// Pool dequeues jobs from a set of queues and executes them on a bounded
// set of goroutines. It runs three loops: dequeue, heartbeat, and the
// stale-job reaper that redelivers work claimed by crashed workers.
type Pool struct {
	id       id.WorkerID
	store    job.Store
	executor *Executor
	manager  *queue.Manager
	queues   []string
	logger   *slog.Logger

	concurrency       int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	reapInterval      time.Duration
	staleThreshold    time.Duration

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight sync.WaitGroup
	slots    chan struct{}

	activeMu sync.Mutex
	active   map[id.JobID]id.WorkerID
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the maximum number of jobs executing at once.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPollInterval sets how often the pool polls for due jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithHeartbeatInterval sets how often in-flight jobs are heartbeated.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.heartbeatInterval = d
		}
	}
}

// WithReapInterval sets how often the stale-job reaper runs.
func WithReapInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.reapInterval = d
		}
	}
}

// WithStaleThreshold sets how long a running job may go without a
// heartbeat before the reaper reclaims it.
func WithStaleThreshold(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.staleThreshold = d
		}
	}
}

// WithQueueManager sets the per-queue/per-tenant throttle manager.
func WithQueueManager(m *queue.Manager) PoolOption {
	return func(p *Pool) { p.manager = m }
}

// WithPoolLogger sets the pool logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a worker pool consuming the given queues.
func NewPool(store job.Store, executor *Executor, queues []string, opts ...PoolOption) *Pool {
	p := &Pool{
		id:                id.NewWorkerID(),
		store:             store,
		executor:          executor,
		queues:            queues,
		logger:            slog.Default(),
		concurrency:       10,
		pollInterval:      time.Second,
		heartbeatInterval: 15 * time.Second,
		reapInterval:      30 * time.Second,
		staleThreshold:    2 * time.Minute,
		active:            make(map[id.JobID]id.WorkerID),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.slots = make(chan struct{}, p.concurrency)
	return p
}

// ID returns the pool's worker identity.
func (p *Pool) ID() id.WorkerID { return p.id }

// Start launches the dequeue, heartbeat, and reaper loops. It returns
// immediately; Stop shuts the loops down and drains in-flight jobs.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(3)
	go p.dequeueLoop(ctx)
	go p.heartbeatLoop(ctx)
	go p.reaperLoop(ctx)

	p.logger.Info("worker pool started",
		slog.String("worker_id", p.id.String()),
		slog.Any("queues", p.queues),
		slog.Int("concurrency", p.concurrency),
	)
	return nil
}

// Stop halts dequeueing and waits for in-flight jobs to finish, up to
// the context deadline.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("worker pool stopped", slog.String("worker_id", p.id.String()))
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool stopped with jobs still in flight",
			slog.String("worker_id", p.id.String()),
		)
		return ctx.Err()
	}
}

func (p *Pool) dequeueLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Pool) pollOnce(ctx context.Context) {
	free := p.concurrency - len(p.slots)
	if free <= 0 {
		return
	}

	jobs, err := p.store.DequeueJobs(ctx, p.queues, free)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("dequeue failed", slog.String("error", err.Error()))
		}
		return
	}

	for _, j := range jobs {
		if p.manager != nil && !p.manager.Acquire(j.Queue, j.TenantID) {
			// Throttled: push the job back to pending so another poll
			// (or another worker) picks it up.
			j.State = job.StatePending
			if err := p.store.UpdateJob(ctx, j); err != nil {
				p.logger.Error("requeue of throttled job failed",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		select {
		case p.slots <- struct{}{}:
		case <-ctx.Done():
			if p.manager != nil {
				p.manager.Release(j.Queue, j.TenantID)
			}
			return
		}

		p.inflight.Add(1)
		p.trackJob(j.ID)
		go func(j *job.Job) {
			defer func() {
				p.untrackJob(j.ID)
				if p.manager != nil {
					p.manager.Release(j.Queue, j.TenantID)
				}
				<-p.slots
				p.inflight.Done()
			}()
			j.WorkerID = p.id
			// Executor settles the job; handler errors are already
			// logged by the middleware chain.
			_ = p.executor.Execute(context.WithoutCancel(ctx), j)
		}(j)
	}
}

func (p *Pool) heartbeatLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, jobID := range p.activeJobs() {
				if err := p.store.HeartbeatJob(ctx, jobID, p.id); err != nil && ctx.Err() == nil {
					p.logger.Debug("heartbeat failed",
						slog.String("job_id", jobID.String()),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

func (p *Pool) reaperLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapOnce(ctx)
		}
	}
}

// reapOnce reclaims running jobs whose worker stopped heartbeating. The
// job goes back to pending and is delivered again, possibly producing a
// duplicate execution: that is the at-least-once contract.
func (p *Pool) reapOnce(ctx context.Context) {
	stale, err := p.store.ReapStaleJobs(ctx, p.staleThreshold)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("reaper scan failed", slog.String("error", err.Error()))
		}
		return
	}
	for _, j := range stale {
		if p.isLocal(j.ID) {
			continue
		}
		j.State = job.StatePending
		j.WorkerID = id.Nil
		j.HeartbeatAt = nil
		if err := p.store.UpdateJob(ctx, j); err != nil {
			p.logger.Error("reclaiming stale job failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.logger.Warn("reclaimed stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("queue", j.Queue),
		)
	}
}

func (p *Pool) trackJob(jobID id.JobID) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	p.active[jobID] = p.id
}

func (p *Pool) untrackJob(jobID id.JobID) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	delete(p.active, jobID)
}

func (p *Pool) activeJobs() []id.JobID {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	out := make([]id.JobID, 0, len(p.active))
	for jobID := range p.active {
		out = append(out, jobID)
	}
	return out
}

func (p *Pool) isLocal(jobID id.JobID) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	_, ok := p.active[jobID]
	return ok
}
