// Package pgqueue implements a Transport on PostgreSQL tables.
//
// Every channel is a named queue: a row in coordinator_queues plus its
// messages in coordinator_queue_messages. Receive takes the oldest message of
// the coordinator's inbound queue and deletes it in the same statement
// (receive-and-delete); FOR UPDATE SKIP LOCKED lets several readers share a
// queue without blocking each other.
//
// Queues survive restarts, so stale inbound messages can be discarded with Drain.
package pgqueue
