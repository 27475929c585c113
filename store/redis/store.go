// Package redis provides the durable broker-backed store: jobs survive
// process restarts, and multiple workers can consume the same queues.
//
// Layout: each job is a JSON value at notify:job:{id}; each queue keeps
// a due-time sorted set of pending job ids plus bounded done/dead sets
// for terminal retention. Dead letter entries live under notify:dlq.
package redis

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix   = "notify:job:"
	queueKeyPrefix = "notify:queue:"
	runningKey     = "notify:running"
	dlqIndexKey    = "notify:dlq"
	dlqKeyPrefix   = "notify:dlq:"
)

func jobKey(id string) string          { return jobKeyPrefix + id }
func queueKey(queue string) string     { return queueKeyPrefix + queue }
func queueDoneKey(queue string) string { return queueKeyPrefix + queue + ":done" }
func queueDeadKey(queue string) string { return queueKeyPrefix + queue + ":dead" }
func dlqEntryKey(id string) string     { return dlqKeyPrefix + id }

// Store implements job.Store and dlq.Store on Redis.
type Store struct {
	client *redis.Client
	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// New creates a Redis store over an existing client.
func New(client *redis.Client, opts ...StoreOption) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the broker at the given URL (redis:// or rediss://)
// and returns a store over it.
func Open(redisURL string, opts ...StoreOption) (*Store, error) {
	cfg, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	return New(redis.NewClient(cfg), opts...), nil
}

// Client exposes the underlying connection for health checks.
func (s *Store) Client() *redis.Client { return s.client }

// Close releases the underlying connection.
func (s *Store) Close() error { return s.client.Close() }
