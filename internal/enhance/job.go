package enhance

import (
	"time"

	"hush/internal/staging"
)

// MediaKind distinguishes audio-only inputs from inputs carrying video.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Job is the mutable state of one enhancement run.
type Job struct {
	ID         string
	InputPath  string
	Kind       MediaKind
	SampleRate int
	Duration   time.Duration
	Ext        string
	InputBytes int64

	WorkDir  *staging.WorkDir
	Manifest *Manifest

	// Filled in as stages complete.
	Segments    int
	AppliedGain float64
}

// AudioStream is a PCM or encoded audio file with its stream layout.
type AudioStream struct {
	Path       string
	SampleRate int
	Channels   int
	Codec      string
}

// Segment is one fixed-length slice of the canonical stream. Ordinal order
// equals temporal order.
type Segment struct {
	Ordinal int
	Path    string
}

// FilteredSegment is the suppression tool's output for the Segment with the
// same ordinal.
type FilteredSegment struct {
	Ordinal int
	Path    string
}

// MediaInfo is the subset of probe output the pipeline acts on.
type MediaInfo struct {
	HasVideo   bool
	SampleRate int
	Channels   int
	Codec      string
	Duration   time.Duration
	Tags       map[string]string
}

// Kind returns the media kind implied by the probe.
func (m MediaInfo) Kind() MediaKind {
	if m.HasVideo {
		return MediaVideo
	}
	return MediaAudio
}
