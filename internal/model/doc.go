// Package model defines the message and identity types shared by the coordinator and its workers.
//
// Conventions:
//   - Worker IDs: uuid.UUID (128-bit), text-marshalled in canonical form
//   - Message payloads: raw JSON, never inspected by routing
//   - Envelopes: content type + encoded body, as carried by a Transport
package model
