package store

import (
	"time"

	"github.com/google/uuid"
)

// Run outcomes.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// KernelRef identifies the kernel program a run executed.
type KernelRef struct {
	Path        string `json:"path"`
	Entry       string `json:"entry"`
	SourceBytes int    `json:"sourceBytes"`
}

// ImageRef describes an input or output image.
type ImageRef struct {
	Path   string `json:"path"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	// Checksum is the hex SHA-256 of the pixel data.
	Checksum string `json:"checksum,omitempty"`
}

// DeviceRef names the device a run was executed on.
type DeviceRef struct {
	Driver   string `json:"driver"`
	Platform string `json:"platform,omitempty"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type,omitempty"`
}

// RunRecord is the persisted summary of one offload pass.
type RunRecord struct {
	RunID string `json:"runId"`

	// Status is StatusSucceeded or StatusFailed.
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	Device     DeviceRef `json:"device"`
	Kernel     KernelRef `json:"kernel"`
	FilterSize int       `json:"filterSize"`
	Input      ImageRef  `json:"input"`
	Output     ImageRef  `json:"output"`

	// LastStage is the last stage reached before teardown.
	LastStage string `json:"lastStage"`

	// Error fields are set for failed runs. ExitCode is the process status.
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
	ExitCode  int    `json:"exitCode"`
}

// RunInfo is the listing view of a RunRecord.
type RunInfo struct {
	RunID     string        `json:"runId"`
	Status    string        `json:"status"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Device    string        `json:"device"`
	Entry     string        `json:"entry"`
	Input     string        `json:"input"`
	Pixels    int           `json:"pixels"`
	ErrorKind string        `json:"errorKind,omitempty"`
}

// NewRunID returns a fresh random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// NewRunRecord starts a record for runID at the current time.
func NewRunRecord(runID string) *RunRecord {
	return &RunRecord{
		RunID:     runID,
		StartedAt: time.Now(),
	}
}

// Duration is the wall time of the run.
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ToInfo converts a full RunRecord to RunInfo.
func (r *RunRecord) ToInfo() RunInfo {
	return RunInfo{
		RunID:     r.RunID,
		Status:    r.Status,
		StartedAt: r.StartedAt,
		Duration:  r.Duration(),
		Device:    r.Device.Name,
		Entry:     r.Kernel.Entry,
		Input:     r.Input.Path,
		Pixels:    r.Input.Width * r.Input.Height,
		ErrorKind: r.ErrorKind,
	}
}

// Validate checks if the record has valid data.
func (r *RunRecord) Validate() error {
	if r.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if _, err := uuid.Parse(r.RunID); err != nil {
		return &ValidationError{Field: "RunID", Reason: "must be a UUID"}
	}
	if r.Status != StatusSucceeded && r.Status != StatusFailed {
		return &ValidationError{Field: "Status", Reason: "must be succeeded or failed"}
	}
	if r.StartedAt.IsZero() {
		return &ValidationError{Field: "StartedAt", Reason: "cannot be zero"}
	}
	if !r.FinishedAt.IsZero() && r.FinishedAt.Before(r.StartedAt) {
		return &ValidationError{Field: "FinishedAt", Reason: "before StartedAt"}
	}
	if r.Status == StatusFailed && r.Error == "" {
		return &ValidationError{Field: "Error", Reason: "required for failed runs"}
	}
	if r.Status == StatusSucceeded && r.Output.Checksum == "" {
		return &ValidationError{Field: "Output.Checksum", Reason: "required for successful runs"}
	}
	return nil
}

// ValidationError represents a run record validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
