// Package queue provides the unbounded FIFO used for in-process channels.
//
// A GrowableBuffer never blocks senders: it doubles its capacity when it reaches
// 70% full. Receivers block until an item arrives, the buffer is closed, or their
// context ends.
package queue
