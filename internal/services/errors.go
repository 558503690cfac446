package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Stage markers. Each pipeline stage tags its failures with exactly one of
// these so callers can classify the failing step with errors.Is.
var (
	ErrProbe    = errors.New("probe error")
	ErrEncode   = errors.New("encode error")
	ErrFilter   = errors.New("filter error")
	ErrCombine  = errors.New("combine error")
	ErrMux      = errors.New("mux error")
	ErrMetadata = errors.New("metadata error")
	ErrCapacity = errors.New("capacity error")
)

// Generic markers shared by the tool runner, preflight and config code.
var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// ErrorKind is the short classification persisted in job history and logs.
type ErrorKind string

const (
	KindProbe         ErrorKind = "probe"
	KindEncode        ErrorKind = "encode"
	KindFilter        ErrorKind = "filter"
	KindCombine       ErrorKind = "combine"
	KindMux           ErrorKind = "mux"
	KindMetadata      ErrorKind = "metadata"
	KindCapacity      ErrorKind = "capacity"
	KindValidation    ErrorKind = "validation"
	KindConfiguration ErrorKind = "configuration"
	KindTimeout       ErrorKind = "timeout"
	KindExternalTool  ErrorKind = "external_tool"
	KindTransient     ErrorKind = "transient"
	KindCanceled      ErrorKind = "canceled"
	KindUnknown       ErrorKind = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
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

// ErrorDetails summarises an error for logging and persistence.
type ErrorDetails struct {
	Kind    ErrorKind
	Message string
	Hint    string
	Cause   error
}

// Details classifies err. Stage markers win over generic ones so a filter
// timeout is reported as a filter failure with a timeout hint.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	kind := KindOf(err)
	details := ErrorDetails{
		Kind:    kind,
		Message: strings.TrimSpace(err.Error()),
		Hint:    hintFor(kind),
		Cause:   errors.Unwrap(err),
	}
	if errors.Is(err, ErrTimeout) {
		details.Hint = "external tool exceeded its timeout; raise tools.timeout_seconds or check the tool is not hung"
	}
	return details
}

// KindOf returns the most specific kind carried by err. Cancellation wins
// over every marker because the stage did not fail on its own.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case isCanceled(err):
		return KindCanceled
	case errors.Is(err, ErrProbe):
		return KindProbe
	case errors.Is(err, ErrEncode):
		return KindEncode
	case errors.Is(err, ErrFilter):
		return KindFilter
	case errors.Is(err, ErrCombine):
		return KindCombine
	case errors.Is(err, ErrMux):
		return KindMux
	case errors.Is(err, ErrMetadata):
		return KindMetadata
	case errors.Is(err, ErrCapacity):
		return KindCapacity
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrExternalTool):
		return KindExternalTool
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindUnknown
	}
}

func hintFor(kind ErrorKind) string {
	switch kind {
	case KindProbe:
		return "verify the input is a readable media file with an audio stream"
	case KindEncode:
		return "inspect ffmpeg output; the input codec may be unsupported or corrupt"
	case KindFilter:
		return "check the deepFilter installation and that it wrote one file per segment"
	case KindCombine:
		return "filtered segments were missing or not canonical WAV"
	case KindMux:
		return "inspect ffmpeg output; the container may not accept the delivery codec"
	case KindMetadata:
		return "metadata extraction or injection failed; audio was processed correctly"
	case KindCapacity:
		return "input is too long for the segment layout; raise pipeline.segment_seconds or pipeline.ordinal_width"
	case KindValidation:
		return "input file rejected before processing"
	case KindConfiguration:
		return "run 'hush status' to check tools and staging directory"
	case KindCanceled:
		return "job interrupted"
	default:
		return "check logs for details"
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
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
