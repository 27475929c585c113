package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/talimy/notify"
	"github.com/talimy/notify/dlq"
	"github.com/talimy/notify/id"
)

// DLQStore is an in-memory implementation of dlq.Store.
type DLQStore struct {
	mu      sync.Mutex
	entries map[id.DLQID]*dlq.Entry
}

// NewDLQStore creates an empty in-memory dead letter store.
func NewDLQStore() *DLQStore {
	return &DLQStore{entries: make(map[id.DLQID]*dlq.Entry)}
}

func (s *DLQStore) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.entries[e.ID] = &cp
	return nil
}

func (s *DLQStore) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*dlq.Entry
	for _, e := range s.entries {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		cp := *e
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, k int) bool {
		return all[i].FailedAt.After(all[k].FailedAt)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if opts.Offset >= len(all) {
		return nil, nil
	}
	all = all[opts.Offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *DLQStore) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return nil, notify.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *DLQStore) PurgeDLQ(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for eid, e := range s.entries {
		if e.FailedAt.Before(olderThan) {
			delete(s.entries, eid)
			n++
		}
	}
	return n, nil
}

func (s *DLQStore) CountDLQ(ctx context.Context, queue string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entries {
		if queue != "" && e.Queue != queue {
			continue
		}
		n++
	}
	return n, nil
}
