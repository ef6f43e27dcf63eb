// Package dispatcher implements the coordinator's inbound message pump.
//
// The Dispatcher:
//   - Receives envelopes from the transport's inbound channel, one at a time
//   - Decodes and classifies them by message type
//   - Registers the sender on Registration before any subscriber runs
//   - Invokes the subscribers of GoTo, Infect, Results, TickEnd and Registration
//   - Logs and drops undecodable or unsupported traffic without stopping
package dispatcher
