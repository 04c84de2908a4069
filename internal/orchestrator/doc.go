// Package orchestrator drives accepted jobs through the fetch, normalize, and
// transcribe stages.
//
// The Runner owns one goroutine per job. A driver submits the current stage to
// its downstream service, polls the remote status on an adaptive cadence, and
// applies the outcome through the pipeline state machine, persisting the job
// after every transition. Because the driver is the only writer of its job's
// record, no cross-goroutine locking of job state is needed.
//
// Cancellation is cooperative: an explicit cancel request cancels the driver's
// context, and the driver observes it at the top of its next poll iteration,
// marks the job cancelled, and exits. Runner shutdown cancels the same context
// but leaves the record untouched so the next process can resume the job.
package orchestrator
