// Package registry implements the Worker Registry.
//
// The registry:
//   - Maps each worker id to the outbound channel created for it
//   - Preserves registration order for round-robin distribution
//   - Rejects duplicate registrations (ErrDuplicateWorker), leaving the entry untouched
//   - Hands out copy-on-read snapshots so enumeration is never torn by a registration
package registry
