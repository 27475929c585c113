package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/talimy/notify"
	"github.com/talimy/notify/dlq"
	"github.com/talimy/notify/id"
)

// PushDLQ archives a dead letter entry, indexed by failure time.
func (s *Store) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis: encode dlq entry %s: %w", e.ID, err)
	}
	if err := s.client.Set(ctx, dlqEntryKey(e.ID.String()), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis: save dlq entry %s: %w", e.ID, err)
	}
	if err := s.client.ZAdd(ctx, dlqIndexKey, redis.Z{
		Score: float64(e.FailedAt.UnixMilli()), Member: e.ID.String(),
	}).Err(); err != nil {
		return fmt.Errorf("redis: index dlq entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *Store) loadDLQ(ctx context.Context, entryID string) (*dlq.Entry, error) {
	raw, err := s.client.Get(ctx, dlqEntryKey(entryID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notify.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: load dlq entry %s: %w", entryID, err)
	}
	var e dlq.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("redis: decode dlq entry %s: %w", entryID, err)
	}
	return &e, nil
}

// ListDLQ returns entries newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	ids, err := s.client.ZRevRange(ctx, dlqIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list dlq: %w", err)
	}

	var out []*dlq.Entry
	skipped := 0
	for _, entryID := range ids {
		if len(out) >= limit {
			break
		}
		e, err := s.loadDLQ(ctx, entryID)
		if errors.Is(err, notify.ErrNotFound) {
			s.client.ZRem(ctx, dlqIndexKey, entryID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// GetDLQ retrieves a single entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.loadDLQ(ctx, entryID.String())
}

// PurgeDLQ deletes entries older than the given time.
func (s *Store) PurgeDLQ(ctx context.Context, olderThan time.Time) (int64, error) {
	maxScore := fmt.Sprintf("(%d", olderThan.UnixMilli())
	ids, err := s.client.ZRangeByScore(ctx, dlqIndexKey, &redis.ZRangeBy{
		Min: "-inf", Max: maxScore,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: purge dlq: %w", err)
	}

	var purged int64
	for _, entryID := range ids {
		s.client.Del(ctx, dlqEntryKey(entryID))
		if removed, err := s.client.ZRem(ctx, dlqIndexKey, entryID).Result(); err == nil {
			purged += removed
		}
	}
	return purged, nil
}

// CountDLQ counts entries, optionally scoped to one queue.
func (s *Store) CountDLQ(ctx context.Context, queue string) (int64, error) {
	if queue == "" {
		return s.client.ZCard(ctx, dlqIndexKey).Result()
	}
	ids, err := s.client.ZRange(ctx, dlqIndexKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count dlq: %w", err)
	}
	var count int64
	for _, entryID := range ids {
		e, err := s.loadDLQ(ctx, entryID)
		if errors.Is(err, notify.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if e.Queue == queue {
			count++
		}
	}
	return count, nil
}
