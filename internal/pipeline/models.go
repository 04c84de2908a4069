package pipeline

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued            Status = "queued"
	StatusRunningFetch      Status = "running_fetch"
	StatusRunningNormalize  Status = "running_normalize"
	StatusRunningTranscribe Status = "running_transcribe"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
)

// CancelledReason is the error message recorded when a job is cancelled.
const CancelledReason = "Cancelled by request"

var allStatuses = []Status{
	StatusQueued,
	StatusRunningFetch,
	StatusRunningNormalize,
	StatusRunningTranscribe,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// StageName identifies one of the three fixed pipeline stages.
type StageName string

const (
	StageFetch      StageName = "fetch"
	StageNormalize  StageName = "normalize"
	StageTranscribe StageName = "transcribe"
)

// StageNames returns the fixed stage order.
func StageNames() []StageName {
	return []StageName{StageFetch, StageNormalize, StageTranscribe}
}

// StageCount is the fixed number of pipeline stages.
const StageCount = 3

var runningStatusByStage = map[StageName]Status{
	StageFetch:      StatusRunningFetch,
	StageNormalize:  StatusRunningNormalize,
	StageTranscribe: StatusRunningTranscribe,
}

// RunningStatus maps a stage name to the job status while that stage runs.
func RunningStatus(name StageName) Status {
	return runningStatusByStage[name]
}

// StageStatus represents the lifecycle of one stage record.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
	StageSkipped    StageStatus = "skipped"
)

// Stage is one unit of work delegated to a downstream service.
type Stage struct {
	Name        StageName   `json:"name"`
	Status      StageStatus `json:"status"`
	RemoteJobID string      `json:"remote_job_id,omitempty"`
	Progress    float64     `json:"progress"`
	Output      string      `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`
	ReceivedAt  time.Time   `json:"received_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// JobError is the structured failure recorded on a failed job.
type JobError struct {
	Stage     StageName `json:"stage"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// Job is one pipeline execution persisted in the job store.
type Job struct {
	ID          string            `json:"id"`
	InputRef    string            `json:"input_ref"`
	Options     map[string]string `json:"options,omitempty"`
	Status      Status            `json:"status"`
	Stages      []Stage           `json:"stages"`
	Result      string            `json:"result,omitempty"`
	Error       *JobError         `json:"error,omitempty"`
	ReceivedAt  time.Time         `json:"received_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NewJob constructs a queued job with all three stages pending.
func NewJob(id, inputRef string, options map[string]string, now time.Time) Job {
	now = now.UTC()
	stages := make([]Stage, 0, StageCount)
	for _, name := range StageNames() {
		stages = append(stages, Stage{
			Name:       name,
			Status:     StagePending,
			ReceivedAt: now,
		})
	}
	var opts map[string]string
	if len(options) > 0 {
		opts = make(map[string]string, len(options))
		for k, v := range options {
			opts[k] = v
		}
	}
	return Job{
		ID:         id,
		InputRef:   inputRef,
		Options:    opts,
		Status:     StatusQueued,
		Stages:     stages,
		ReceivedAt: now,
		UpdatedAt:  now,
	}
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// IsTerminal reports whether no further transition leaves the status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsRunning reports whether the status reflects an in-flight stage.
func (s Status) IsRunning() bool {
	switch s {
	case StatusRunningFetch, StatusRunningNormalize, StatusRunningTranscribe:
		return true
	default:
		return false
	}
}

// Clone returns a deep copy of the job.
func (j Job) Clone() Job {
	cp := j
	cp.Stages = make([]Stage, len(j.Stages))
	copy(cp.Stages, j.Stages)
	if j.Options != nil {
		cp.Options = make(map[string]string, len(j.Options))
		for k, v := range j.Options {
			cp.Options[k] = v
		}
	}
	if j.StartedAt != nil {
		started := *j.StartedAt
		cp.StartedAt = &started
	}
	if j.CompletedAt != nil {
		completed := *j.CompletedAt
		cp.CompletedAt = &completed
	}
	if j.Error != nil {
		errCopy := *j.Error
		cp.Error = &errCopy
	}
	for i, stage := range j.Stages {
		if stage.StartedAt != nil {
			started := *stage.StartedAt
			cp.Stages[i].StartedAt = &started
		}
		if stage.CompletedAt != nil {
			completed := *stage.CompletedAt
			cp.Stages[i].CompletedAt = &completed
		}
	}
	return cp
}

// StageIndex returns the position of the named stage, or -1.
func (j Job) StageIndex(name StageName) int {
	for i, stage := range j.Stages {
		if stage.Name == name {
			return i
		}
	}
	return -1
}

// CurrentStage returns the stage the running status refers to, or nil.
func (j *Job) CurrentStage() *Stage {
	for name, status := range runningStatusByStage {
		if j.Status == status {
			if idx := j.StageIndex(name); idx >= 0 {
				return &j.Stages[idx]
			}
		}
	}
	return nil
}

// OverallProgress aggregates per-stage progress into a 0-100 value.
func (j Job) OverallProgress() float64 {
	if j.Status == StatusCompleted {
		return 100
	}
	var total float64
	for _, stage := range j.Stages {
		switch stage.Status {
		case StageCompleted:
			total += 100
		case StageProcessing:
			total += stage.Progress
		}
	}
	return total / StageCount
}
