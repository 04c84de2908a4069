// Package breaker implements a per-service circuit breaker with
// closed/open/half-open states. One long-lived instance exists per downstream
// service and is injected into every stage client for that service.
package breaker
