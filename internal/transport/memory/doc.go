// Package memory implements an in-process Transport backed by growable buffers.
//
// Every channel, including the coordinator's inbound channel, is a
// queue.GrowableBuffer, so sends never block. Tests inject inbound traffic with
// Deliver and inspect outbound traffic with Outbox.
package memory
