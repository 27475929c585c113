// Package queue provides per-queue and per-tenant throttling for the
// worker pool. A noisy tenant blasting notification fan-outs cannot
// starve other tenants' jobs on the same queue.
package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines behaviour for a single named queue.
type Config struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string

	// MaxConcurrency limits how many jobs from this queue may run
	// simultaneously across the local worker pool. Zero means no
	// queue-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second dequeued from
	// this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket limiter.
	// Defaults to 1 when RateLimit is set and RateBurst is zero.
	RateBurst int
}

// TenantConfig defines limits for a specific tenant on a specific queue.
type TenantConfig struct {
	QueueName      string
	TenantID       string
	RateLimit      float64
	RateBurst      int
	MaxConcurrency int
}

type slotState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func newSlotState(rateLimit float64, burst, maxConcurrency int) *slotState {
	s := &slotState{maxConcurrency: maxConcurrency}
	if rateLimit > 0 {
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rateLimit), burst)
	}
	return s
}

func (s *slotState) allow() bool {
	if s.limiter != nil && !s.limiter.Allow() {
		return false
	}
	if s.maxConcurrency > 0 && s.active >= s.maxConcurrency {
		return false
	}
	return true
}

// Manager controls per-queue and per-tenant rate limiting and
// concurrency. It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	queues  map[string]*slotState
	tenants map[string]*slotState
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues:  make(map[string]*slotState, len(configs)),
		tenants: make(map[string]*slotState),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newSlotState(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	}
	return m
}

// SetTenantConfig configures limits for a tenant on a queue. Calling it
// again for the same queue+tenant replaces the previous configuration
// but preserves the current active count.
func (m *Manager) SetTenantConfig(cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantKey(cfg.QueueName, cfg.TenantID)
	s := newSlotState(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if existing := m.tenants[key]; existing != nil {
		s.active = existing.active
	}
	m.tenants[key] = s
}

// Acquire checks rate limits and concurrency for the queue/tenant pair.
// If the job may proceed it increments the active counters and returns
// true. The caller MUST call Release when the job completes.
func (m *Manager) Acquire(queue, tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs != nil && !qs.allow() {
		return false
	}

	var ts *slotState
	if tenantID != "" {
		ts = m.tenants[tenantKey(queue, tenantID)]
		if ts != nil && !ts.allow() {
			return false
		}
	}

	if qs != nil {
		qs.active++
	}
	if ts != nil {
		ts.active++
	}
	return true
}

// Release decrements the active job count for the queue and tenant.
func (m *Manager) Release(queue, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
	if tenantID != "" {
		if ts := m.tenants[tenantKey(queue, tenantID)]; ts != nil && ts.active > 0 {
			ts.active--
		}
	}
}

// ActiveCount returns the current number of active jobs for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}

// TenantActiveCount returns the active count for a queue+tenant pair.
func (m *Manager) TenantActiveCount(queue, tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.tenants[tenantKey(queue, tenantID)]; ts != nil {
		return ts.active
	}
	return 0
}

func tenantKey(queue, tenantID string) string {
	return queue + ":" + tenantID
}
