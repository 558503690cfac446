package enhance

import (
	"fmt"

	"hush/internal/services"
)

// Stage names, in execution order. validate, preflight and lock guard the job
// before a working directory exists.
const (
	StageValidate     = "validate"
	StagePreflight    = "preflight"
	StageLock         = "lock"
	StageProbe        = "probe"
	StageCanonicalize = "canonicalize"
	StageSegment      = "segment"
	StageFilter       = "filter"
	StageCombine      = "combine"
	StageNormalize    = "normalize"
	StageRemux        = "remux"
	StageMetadata     = "metadata"
	StageFinalize     = "finalize"
)

// StageError is returned by Enhance for every failed job.
type StageError struct {
	Stage string
	Kind  services.ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func newStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Kind: services.KindOf(err), Err: err}
}
