// Package distributor implements the coordinator's outbound send strategies:
// targeted send, fan-out to every worker, and round-robin spread of a batch.
//
// Every operation works on a single registry snapshot, so a worker registering
// mid-call never changes the worker set that call uses.
package distributor
