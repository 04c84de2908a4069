// Package pipeline defines the job and stage data model plus the pure state
// machine that decides legal transitions. It performs no I/O; persistence and
// retries live elsewhere.
package pipeline
