// Package coordinator assembles one coordinator node.
//
// A Coordinator owns, for a single transport:
//   - the worker Registry
//   - the Dispatcher pumping inbound traffic
//   - the Distributor for outbound traffic
//   - an optional TickDriver that steps the simulation once enough workers have joined
//
// Application code receives the instance explicitly; there is no package-level state.
package coordinator
