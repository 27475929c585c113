package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/talimy/notify"
	"github.com/talimy/notify/id"
	"github.com/talimy/notify/job"
)

func (s *Store) saveJob(ctx context.Context, j *job.Job) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("redis: encode job %s: %w", j.ID, err)
	}
	if err := s.client.Set(ctx, jobKey(j.ID.String()), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis: save job %s: %w", j.ID, err)
	}
	return nil
}

func (s *Store) loadJob(ctx context.Context, jobID string) (*job.Job, error) {
	raw, err := s.client.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notify.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: load job %s: %w", jobID, err)
	}
	var j job.Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("redis: decode job %s: %w", jobID, err)
	}
	return &j, nil
}

// EnqueueJob persists the job and indexes it on its queue's due set.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	exists, err := s.client.Exists(ctx, jobKey(j.ID.String())).Result()
	if err != nil {
		return fmt.Errorf("redis: enqueue job %s: %w", j.ID, err)
	}
	if exists > 0 {
		return notify.ErrJobAlreadyExists
	}
	if err := s.saveJob(ctx, j); err != nil {
		return err
	}
	score := float64(j.RunAt.UnixMilli())
	if err := s.client.ZAdd(ctx, queueKey(j.Queue), redis.Z{Score: score, Member: j.ID.String()}).Err(); err != nil {
		return fmt.Errorf("redis: index job %s: %w", j.ID, err)
	}
	return nil
}

// DequeueJobs claims up to limit due jobs across the given queues.
// A job is claimed by atomically removing its id from the due set, so
// concurrent workers never double-claim.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	maxScore := fmt.Sprintf("%d", now.UnixMilli())

	// Over-fetch candidates so priority ordering can be applied across
	// the due window before claiming.
	var candidates []*job.Job
	for _, q := range queues {
		ids, err := s.client.ZRangeByScore(ctx, queueKey(q), &redis.ZRangeBy{
			Min: "-inf", Max: maxScore, Count: int64(limit * 4),
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: scan queue %s: %w", q, err)
		}
		for _, jobID := range ids {
			j, err := s.loadJob(ctx, jobID)
			if errors.Is(err, notify.ErrJobNotFound) {
				// Orphaned index entry: the job value was trimmed.
				s.client.ZRem(ctx, queueKey(q), jobID)
				continue
			}
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, j)
		}
	}

	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].RunAt.Before(candidates[k].RunAt)
	})

	var claimed []*job.Job
	for _, j := range candidates {
		if len(claimed) >= limit {
			break
		}
		removed, err := s.client.ZRem(ctx, queueKey(j.Queue), j.ID.String()).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: claim job %s: %w", j.ID, err)
		}
		if removed == 0 {
			// Another worker got there first.
			continue
		}
		j.State = job.StateRunning
		j.StartedAt = &now
		j.UpdatedAt = now
		if err := s.saveJob(ctx, j); err != nil {
			return nil, err
		}
		if err := s.client.ZAdd(ctx, runningKey, redis.Z{
			Score: float64(now.UnixMilli()), Member: j.ID.String(),
		}).Err(); err != nil {
			return nil, fmt.Errorf("redis: track running job %s: %w", j.ID, err)
		}
		claimed = append(claimed, j)
	}
	return claimed, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.loadJob(ctx, jobID.String())
}

// UpdateJob persists changes to an existing job. A job moved back to
// pending or retrying is re-indexed on its queue's due set.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	exists, err := s.client.Exists(ctx, jobKey(j.ID.String())).Result()
	if err != nil {
		return fmt.Errorf("redis: update job %s: %w", j.ID, err)
	}
	if exists == 0 {
		return notify.ErrJobNotFound
	}

	j.UpdatedAt = time.Now().UTC()
	if err := s.saveJob(ctx, j); err != nil {
		return err
	}

	switch j.State {
	case job.StatePending, job.StateRetrying:
		s.client.ZRem(ctx, runningKey, j.ID.String())
		if err := s.client.ZAdd(ctx, queueKey(j.Queue), redis.Z{
			Score: float64(j.RunAt.UnixMilli()), Member: j.ID.String(),
		}).Err(); err != nil {
			return fmt.Errorf("redis: reindex job %s: %w", j.ID, err)
		}
	}
	return nil
}

// CompleteJob marks the job completed and applies completed-retention.
func (s *Store) CompleteJob(ctx context.Context, j *job.Job) error {
	now := time.Now().UTC()
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
	if err := s.saveJob(ctx, j); err != nil {
		return err
	}
	s.client.ZRem(ctx, runningKey, j.ID.String())
	if err := s.client.ZAdd(ctx, queueDoneKey(j.Queue), redis.Z{
		Score: float64(now.UnixMilli()), Member: j.ID.String(),
	}).Err(); err != nil {
		return fmt.Errorf("redis: archive completed job %s: %w", j.ID, err)
	}
	s.trimTerminal(ctx, queueDoneKey(j.Queue), j.RemoveOnComplete)
	return nil
}

// FailJob marks the job failed and applies failed-retention.
func (s *Store) FailJob(ctx context.Context, j *job.Job) error {
	now := time.Now().UTC()
	j.State = job.StateFailed
	j.CompletedAt = &now
	j.UpdatedAt = now
	if err := s.saveJob(ctx, j); err != nil {
		return err
	}
	s.client.ZRem(ctx, runningKey, j.ID.String())
	if err := s.client.ZAdd(ctx, queueDeadKey(j.Queue), redis.Z{
		Score: float64(now.UnixMilli()), Member: j.ID.String(),
	}).Err(); err != nil {
		return fmt.Errorf("redis: archive failed job %s: %w", j.ID, err)
	}
	s.trimTerminal(ctx, queueDeadKey(j.Queue), j.RemoveOnFail)
	return nil
}

// trimTerminal drops the oldest terminal records beyond the retention
// bound, deleting their job values along with the index entries.
func (s *Store) trimTerminal(ctx context.Context, key string, keep int) {
	if keep <= 0 {
		return
	}
	size, err := s.client.ZCard(ctx, key).Result()
	if err != nil || size <= int64(keep) {
		return
	}
	excess := size - int64(keep)
	old, err := s.client.ZPopMin(ctx, key, excess).Result()
	if err != nil {
		s.logger.Warn("terminal retention trim failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, z := range old {
		if jobID, ok := z.Member.(string); ok {
			s.client.Del(ctx, jobKey(jobID))
		}
	}
}

// HeartbeatJob refreshes the running job's liveness timestamp.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	j, err := s.loadJob(ctx, jobID.String())
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	j.WorkerID = workerID
	j.UpdatedAt = now
	if err := s.saveJob(ctx, j); err != nil {
		return err
	}
	return s.client.ZAdd(ctx, runningKey, redis.Z{
		Score: float64(now.UnixMilli()), Member: jobID.String(),
	}).Err()
}

// ReapStaleJobs returns running jobs whose liveness timestamp is older
// than the threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold).UnixMilli()
	ids, err := s.client.ZRangeByScore(ctx, runningKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", cutoff),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: scan running jobs: %w", err)
	}

	var stale []*job.Job
	for _, jobID := range ids {
		j, err := s.loadJob(ctx, jobID)
		if errors.Is(err, notify.ErrJobNotFound) {
			s.client.ZRem(ctx, runningKey, jobID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if j.State == job.StateRunning {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// CountJobs counts jobs matching the options. Queue-scoped counts use
// the queue indexes; unscoped counts scan job values.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	if opts.Queue != "" {
		switch opts.State {
		case job.StateCompleted:
			return s.client.ZCard(ctx, queueDoneKey(opts.Queue)).Result()
		case job.StateFailed:
			return s.client.ZCard(ctx, queueDeadKey(opts.Queue)).Result()
		case job.StatePending, job.StateRetrying:
			// Both live on the due set; fall through to the scan when the
			// caller wants only one of them.
		}
	}

	var count int64
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, jobKeyPrefix+"*", 200).Result()
		if err != nil {
			return 0, fmt.Errorf("redis: count jobs: %w", err)
		}
		for _, key := range keys {
			j, err := s.loadJob(ctx, key[len(jobKeyPrefix):])
			if errors.Is(err, notify.ErrJobNotFound) {
				continue
			}
			if err != nil {
				return 0, err
			}
			if opts.Queue != "" && j.Queue != opts.Queue {
				continue
			}
			if opts.State != "" && j.State != opts.State {
				continue
			}
			count++
		}
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}
