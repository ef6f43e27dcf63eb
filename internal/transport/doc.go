// Package transport defines the minimal capability set the coordinator needs from
// its message transport: named outbound channels, send, and a blocking receive on
// the coordinator's single inbound channel.
//
// Implementations:
//   - memory: in-process queues (tests, single-binary runs)
//   - pgqueue: PostgreSQL-backed named queues
//   - wsgateway: one WebSocket connection per worker
//
// Transports do not retry. Errors are reported through the sentinels below so callers
// can classify them with errors.Is.
package transport
