// Package engine provides the asynchronous job orchestration engine.
// It accepts job specifications, coalesces equivalent in-flight requests,
// queues work for a bounded pool of workers, tracks every job through the
// QUEUED -> STARTED -> FINISHED|FAILED|CANCELLED state machine, and gives
// runners access to the job data store for their input and output blobs.
package engine
