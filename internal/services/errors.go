package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks failures that are likely to succeed on retry
	// (connection resets, 5xx responses).
	ErrTransient = errors.New("transient failure")
	// ErrTimeout marks attempts that exceeded their per-call deadline.
	// Timeouts are retried like any other transient failure.
	ErrTimeout = errors.New("timeout")
	// ErrCircuitOpen marks calls rejected without a network attempt because
	// the service's circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrInvalidRequest marks requests the downstream service rejected as
	// malformed. Never retried.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnavailable marks persistence-layer failures. Must never be
	// conflated with job failure or not-found.
	ErrUnavailable = errors.New("store unavailable")
	// ErrNotFound marks lookups for records that do not exist.
	ErrNotFound = errors.New("not found")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether the stage client should retry after err.
// Circuit rejections and malformed requests are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrInvalidRequest) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
