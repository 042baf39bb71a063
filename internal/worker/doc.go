// Package worker implements the consumer side of the job queue: a poll
// loop that claims runnable jobs from the durable store, dispatches
// them to kind-specific handlers, and reports complete or fail with a
// backoff. Coordination between concurrent workers happens entirely
// through the store's claim operation.
package worker
