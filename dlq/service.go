package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/talimy/notify/id"
	"github.com/talimy/notify/job"
)

// Service provides dead letter operations over a Store.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a dead letter service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Archive records a permanently failed job. The original payload is kept
// verbatim so the job can be replayed once the underlying fault is fixed.
func (s *Service) Archive(ctx context.Context, j *job.Job, jobErr error) (*Entry, error) {
	e := NewEntry(j, jobErr)
	if err := s.store.PushDLQ(ctx, e); err != nil {
		return nil, fmt.Errorf("archive job %s: %w", j.ID, err)
	}

	s.logger.Warn("job moved to dead letter queue",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("queue", j.Queue),
		slog.String("tenant_id", j.TenantID),
		slog.Int("retry_count", j.RetryCount),
		slog.String("error", e.Error),
	)
	return e, nil
}

// List returns archived entries, newest first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Get retrieves a single entry.
func (s *Service) Get(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	return s.store.GetDLQ(ctx, entryID)
}

// Replay re-enqueues the archived job as a fresh pending job on its
// original queue. The entry itself is kept for audit.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID, jobs job.Store) (*job.Job, error) {
	e, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	j := job.New(e.Queue, e.JobName, e.TenantID, e.Payload,
		job.WithMaxRetries(e.MaxRetries),
	)
	if err := jobs.EnqueueJob(ctx, j); err != nil {
		return nil, fmt.Errorf("replay entry %s: %w", entryID, err)
	}

	s.logger.Info("dead letter entry replayed",
		slog.String("entry_id", entryID.String()),
		slog.String("new_job_id", j.ID.String()),
		slog.String("queue", j.Queue),
	)
	return j, nil
}

// Purge removes entries older than the retention window.
func (s *Service) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	n, err := s.store.PurgeDLQ(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged dead letter entries",
			slog.Int64("count", n),
			slog.Time("older_than", cutoff),
		)
	}
	return n, nil
}

// Count returns the number of archived entries for a queue. Empty queue
// counts everything.
func (s *Service) Count(ctx context.Context, queue string) (int64, error) {
	return s.store.CountDLQ(ctx, queue)
}
