// Package remote implements the resilient clients for the downstream
// fetch/normalize/transcribe services. Each client wraps submit, poll, and
// health calls with a circuit check, a per-attempt timeout, and retry with
// exponential backoff; the orchestrator never talks to a service directly.
package remote
