// Package memory provides in-memory store implementations backed by maps
// and mutexes. Intended for tests and local development; state is lost on
// process exit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/talimy/notify"
	"github.com/talimy/notify/id"
	"github.com/talimy/notify/job"
)

// JobStore is an in-memory implementation of job.Store.
type JobStore struct {
	mu   sync.Mutex
	jobs map[id.JobID]*job.Job
}

// NewJobStore creates an empty in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[id.JobID]*job.Job)}
}

func (s *JobStore) EnqueueJob(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return notify.ErrJobAlreadyExists
	}
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *JobStore) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(queues))
	for _, q := range queues {
		wanted[q] = true
	}

	now := time.Now().UTC()
	var due []*job.Job
	for _, j := range s.jobs {
		if !wanted[j.Queue] {
			continue
		}
		if j.State != job.StatePending && j.State != job.StateRetrying {
			continue
		}
		if j.RunAt.After(now) {
			continue
		}
		due = append(due, j)
	}

	sort.Slice(due, func(i, k int) bool {
		if due[i].Priority != due[k].Priority {
			return due[i].Priority > due[k].Priority
		}
		return due[i].RunAt.Before(due[k].RunAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*job.Job, 0, len(due))
	for _, j := range due {
		j.State = job.StateRunning
		j.StartedAt = &now
		j.UpdatedAt = now
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (s *JobStore) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, notify.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *JobStore) UpdateJob(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; !ok {
		return notify.ErrJobNotFound
	}
	j.UpdatedAt = time.Now().UTC()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *JobStore) CompleteJob(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[j.ID]
	if !ok {
		return notify.ErrJobNotFound
	}

	now := time.Now().UTC()
	stored.State = job.StateCompleted
	stored.CompletedAt = &now
	stored.UpdatedAt = now

	s.trimTerminal(stored.Queue, job.StateCompleted, j.RemoveOnComplete)
	return nil
}

func (s *JobStore) FailJob(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[j.ID]
	if !ok {
		return notify.ErrJobNotFound
	}

	now := time.Now().UTC()
	stored.State = job.StateFailed
	stored.LastError = j.LastError
	stored.RetryCount = j.RetryCount
	stored.CompletedAt = &now
	stored.UpdatedAt = now

	s.trimTerminal(stored.Queue, job.StateFailed, j.RemoveOnFail)
	return nil
}

// trimTerminal drops the oldest terminal records of the given state in a
// queue until at most keep remain. Called with the lock held.
func (s *JobStore) trimTerminal(queue string, state job.State, keep int) {
	if keep <= 0 {
		return
	}
	var terminal []*job.Job
	for _, j := range s.jobs {
		if j.Queue == queue && j.State == state {
			terminal = append(terminal, j)
		}
	}
	if len(terminal) <= keep {
		return
	}
	sort.Slice(terminal, func(i, k int) bool {
		return terminal[i].UpdatedAt.Before(terminal[k].UpdatedAt)
	})
	for _, j := range terminal[:len(terminal)-keep] {
		delete(s.jobs, j.ID)
	}
}

func (s *JobStore) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return notify.ErrJobNotFound
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	j.WorkerID = workerID
	j.UpdatedAt = now
	return nil
}

func (s *JobStore) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, j := range s.jobs {
		if j.State != job.StateRunning {
			continue
		}
		last := j.StartedAt
		if j.HeartbeatAt != nil {
			last = j.HeartbeatAt
		}
		if last != nil && last.Before(cutoff) {
			cp := *j
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

func (s *JobStore) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		n++
	}
	return n, nil
}
