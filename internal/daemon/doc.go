// Package daemon coordinates the long-running scribe process.
//
// It wires configuration, the job store, and the orchestrator into a single
// lifecycle with flock-based locking to prevent multiple instances, serves the
// HTTP API, and sweeps expired jobs on a timer. Keep coordination logic here:
// job processing lives in the orchestrator and everything the handlers return
// comes from the api package.
package daemon
