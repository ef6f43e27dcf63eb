// Package wsgateway implements a Transport over WebSocket connections.
//
// Each worker dials the Gateway at <path><workerID>. Every frame in either
// direction is a JSON Frame carrying one envelope. Frames from all workers feed
// a single inbound queue; a worker's channel is its live connection.
//
// Client is the worker side of the protocol.
package wsgateway
