package history

import "time"

// Status is the lifecycle state of a recorded job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one recorded enhancement job.
type Run struct {
	JobID        string
	InputPath    string
	OutputPath   string
	MediaKind    string
	Status       Status
	FailedStage  string
	ErrorKind    string
	ErrorMessage string
	Segments     int
	AppliedGain  float64
	InputBytes   int64
	OutputBytes  int64
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Duration returns how long the job ran, or zero while it is still running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
