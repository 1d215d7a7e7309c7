// Package worker runs the request-processing pool: a fixed set of
// goroutines that each execute one job end-to-end synchronously. The
// validator and crypto engines contain no suspension points; all
// concurrency lives here. Workers check for cancellation between jobs;
// a running job, bundle resources included, is not interrupted.
package worker
