// Package topology decides which queue roles a process runs. The same
// codebase serves two deployments: the API process (producer always,
// consumers governed by the QUEUE_WORKERS_ENABLED toggle) and the
// dedicated worker process (consumers only).
package topology

import (
	"context"
	"log/slog"
	"time"

	"github.com/talimy/notify"
	"github.com/talimy/notify/backoff"
	"github.com/talimy/notify/dlq"
	"github.com/talimy/notify/job"
	"github.com/talimy/notify/jobs"
	"github.com/talimy/notify/middleware"
	"github.com/talimy/notify/queue"
	"github.com/talimy/notify/worker"

	redisstore "github.com/talimy/notify/store/redis"
)

// Broker bundles the two store contracts a broker backend provides.
type Broker interface {
	job.Store
	dlq.Store
}

// Controller owns the broker connection and the consumer lifecycle for
// one process.
type Controller struct {
	cfg    notify.Config
	logger *slog.Logger

	broker Broker
	owned  *redisstore.Store

	workersEnabled bool
	manager        *queue.Manager
	pool           *worker.Pool
	poolOpts       []worker.PoolOption
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithBroker injects a broker backend instead of connecting to Redis.
// Used by tests and embedded setups.
func WithBroker(b Broker) Option {
	return func(c *Controller) { c.broker = b }
}

// WithQueueManager sets the per-queue/per-tenant throttle manager used
// by the consumer pool.
func WithQueueManager(m *queue.Manager) Option {
	return func(c *Controller) { c.manager = m }
}

// WithPoolOptions forwards extra options to the consumer pool.
func WithPoolOptions(opts ...worker.PoolOption) Option {
	return func(c *Controller) { c.poolOpts = opts }
}

// NewController resolves the process topology from configuration. The
// decision is logged exactly once here:
//   - toggle off: consumers stay down, the broker is never touched
//   - toggle on but no broker reachable: one warning, consumers stay
//     down, enqueues become no-ops; the process runs on, never crash-loops
func NewController(ctx context.Context, cfg notify.Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:            cfg,
		logger:         slog.Default(),
		workersEnabled: cfg.WorkersEnabled,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.manager == nil {
		c.manager = defaultQueueManager()
	}

	if !c.workersEnabled {
		c.logger.Info("queue workers disabled by configuration")
	}

	if c.broker == nil && cfg.RedisURL != "" {
		store, err := c.connectBroker(ctx, cfg.RedisURL)
		if err != nil {
			c.logger.Warn("broker unreachable, queue dispatch and consumers disabled",
				slog.String("error", err.Error()),
			)
		} else {
			c.broker = store
			c.owned = store
		}
	} else if c.broker == nil {
		c.logger.Warn("no broker configured, queue dispatch and consumers disabled")
	}

	return c
}

func (c *Controller) connectBroker(ctx context.Context, redisURL string) (*redisstore.Store, error) {
	store, err := redisstore.Open(redisURL, redisstore.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Client().Ping(pingCtx).Err(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// defaultConcurrency caps how many jobs from one queue run at once when
// no explicit manager is injected.
const defaultConcurrency = 10

// defaultQueueManager throttles each named queue so one queue cannot
// monopolize the pool.
func defaultQueueManager() *queue.Manager {
	configs := make([]queue.Config, 0, len(job.Queues()))
	for _, name := range job.Queues() {
		configs = append(configs, queue.Config{Name: name, MaxConcurrency: defaultConcurrency})
	}
	return queue.NewManager(configs...)
}

// QueueAvailable reports whether a broker is attached.
func (c *Controller) QueueAvailable() bool { return c.broker != nil }

// QueueManager returns the throttle manager the consumer pool runs with.
func (c *Controller) QueueManager() *queue.Manager { return c.manager }

// ConsumersEnabled reports whether this process will run consumers:
// the toggle must allow it and a broker must be attached.
func (c *Controller) ConsumersEnabled() bool {
	return c.workersEnabled && c.broker != nil
}

// Broker returns the attached broker, or nil when degraded.
func (c *Controller) Broker() Broker { return c.broker }

// Producer returns a producer over the broker. Without a broker it is
// the disabled no-op variant: enqueues fail with notify.ErrNoQueue and
// fan-out dispatch falls back to its inline path.
func (c *Controller) Producer() *jobs.Producer {
	var store job.Store
	if c.broker != nil {
		store = c.broker
	}
	return jobs.NewProducer(store, jobs.WithProducerLogger(c.logger))
}

// DLQ returns the dead letter service, or nil when degraded.
func (c *Controller) DLQ() *dlq.Service {
	if c.broker == nil {
		return nil
	}
	return dlq.NewService(c.broker, c.logger)
}

// StartConsumers launches the worker pool over the given registry. It
// is a no-op (with the reason already logged by NewController) when
// consumers are not enabled for this process.
func (c *Controller) StartConsumers(ctx context.Context, registry *job.Registry) error {
	if !c.ConsumersEnabled() {
		return nil
	}

	executor := worker.NewExecutor(registry, c.broker, c.DLQ(),
		worker.WithBackoff(backoff.DefaultStrategy()),
		worker.WithExecutorLogger(c.logger),
		worker.WithMiddleware(
			middleware.Recover(c.logger),
			middleware.Logging(c.logger),
			middleware.Metrics(),
			middleware.Tracing(),
		),
	)

	poolOpts := []worker.PoolOption{
		worker.WithPoolLogger(c.logger),
		worker.WithQueueManager(c.manager),
	}
	poolOpts = append(poolOpts, c.poolOpts...)

	c.pool = worker.NewPool(c.broker, executor, job.Queues(), poolOpts...)
	return c.pool.Start(ctx)
}

// Stop drains the consumer pool (if running) and releases the broker
// connection this controller opened.
func (c *Controller) Stop(ctx context.Context) error {
	var err error
	if c.pool != nil {
		err = c.pool.Stop(ctx)
		c.pool = nil
	}
	if c.owned != nil {
		if cerr := c.owned.Close(); cerr != nil && err == nil {
			err = cerr
		}
		c.owned = nil
	}
	return err
}
