package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// SubmitRequest is the body accepted by the job submission endpoint.
type SubmitRequest struct {
	InputRef string            `json:"input_ref"`
	Options  map[string]string `json:"options,omitempty"`
}

// SubmitResponse acknowledges an accepted job.
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// StageView describes one pipeline stage in a transport-friendly format.
type StageView struct {
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	RemoteJobID string  `json:"remote_job_id,omitempty"`
	Progress    float64 `json:"progress"`
	Output      string  `json:"output,omitempty"`
	Error       string  `json:"error,omitempty"`
	StartedAt   string  `json:"started_at,omitempty"`
	CompletedAt string  `json:"completed_at,omitempty"`
}

// JobErrorView is the structured failure reported for a failed job.
type JobErrorView struct {
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// JobView is the full job representation returned by the status endpoint.
type JobView struct {
	JobID           string            `json:"job_id"`
	InputRef        string            `json:"input_ref"`
	Options         map[string]string `json:"options,omitempty"`
	Status          string            `json:"status"`
	OverallProgress float64           `json:"overall_progress"`
	Stages          []StageView       `json:"stages"`
	Result          string            `json:"result,omitempty"`
	Error           *JobErrorView     `json:"error,omitempty"`
	ReceivedAt      string            `json:"received_at,omitempty"`
	StartedAt       string            `json:"started_at,omitempty"`
	CompletedAt     string            `json:"completed_at,omitempty"`
	UpdatedAt       string            `json:"updated_at,omitempty"`
}

// JobSummaryView is the condensed row returned by the listing endpoint.
type JobSummaryView struct {
	JobID      string  `json:"job_id"`
	InputRef   string  `json:"input_ref"`
	Status     string  `json:"status"`
	Progress   float64 `json:"progress"`
	ReceivedAt string  `json:"received_at,omitempty"`
	UpdatedAt  string  `json:"updated_at,omitempty"`
}

// JobListResponse wraps a collection of job summaries.
type JobListResponse struct {
	Jobs []JobSummaryView `json:"jobs"`
}

// ServiceHealth reports one downstream service's circuit state. Probed and
// Healthy are only populated when the caller requested a live probe.
type ServiceHealth struct {
	Name     string `json:"name"`
	Circuit  string `json:"circuit"`
	Failures int    `json:"failures"`
	Probed   bool   `json:"probed,omitempty"`
	Healthy  bool   `json:"healthy,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// StatusResponse aggregates daemon runtime information.
type StatusResponse struct {
	Running    bool            `json:"running"`
	ActiveJobs int             `json:"active_jobs"`
	JobStats   map[string]int  `json:"job_stats"`
	StoreOK    bool            `json:"store_ok"`
	StoreError string          `json:"store_error,omitempty"`
	Services   []ServiceHealth `json:"services"`
}

// ErrorResponse is the body returned for any non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
