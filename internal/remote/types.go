package remote

import "context"

// RemoteStatus is the lifecycle a downstream service reports for accepted work.
type RemoteStatus string

const (
	RemoteQueued     RemoteStatus = "queued"
	RemoteProcessing RemoteStatus = "processing"
	RemoteCompleted  RemoteStatus = "completed"
	RemoteFailed     RemoteStatus = "failed"
)

// SubmitRequest is the payload sent to a stage service's submit endpoint.
// JobID makes retried submits idempotent on the service side.
type SubmitRequest struct {
	JobID   string            `json:"job_id"`
	Input   string            `json:"input"`
	Options map[string]string `json:"options,omitempty"`
}

// PollResult is a single remote status snapshot. No waiting happens inside a poll.
type PollResult struct {
	Status   RemoteStatus `json:"status"`
	Progress float64      `json:"progress"`
	Output   string       `json:"output,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// Terminal reports whether the remote job reached a final state.
func (r PollResult) Terminal() bool {
	return r.Status == RemoteCompleted || r.Status == RemoteFailed
}

// StageClient is the contract the orchestrator drives each stage through.
// Implementations own timeout, retry, and circuit breaking; callers never
// talk to a downstream service directly.
type StageClient interface {
	Name() string
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Poll(ctx context.Context, remoteJobID string) (PollResult, error)
	Health(ctx context.Context) error
}
