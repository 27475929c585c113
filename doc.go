// Package notify is the notification fan-out and background job subsystem
// of the Talimy school-management backend.
//
// It takes a "send notification" request, persists one in-app row per
// recipient, pushes the event live to connected clients, and dispatches
// the message across external channels (email, SMS, AI report generation)
// through a durable Redis-backed job queue consumed by a separate worker
// process.
//
// # Architecture
//
// The subsystem follows a composable store pattern: each concern (job,
// dlq, notification) defines its own store interface, and a backend
// implements the ones it serves. Jobs and the dead letter archive live in
// Redis (store/redis), notification rows live in Postgres
// (store/postgres), and store/memory implements everything for tests and
// development.
//
// Two process roles share this codebase: cmd/api serves requests and
// produces jobs, cmd/worker consumes them. The topology package decides
// at startup whether a given process runs consumers at all.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package notify
