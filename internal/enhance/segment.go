package enhance

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"hush/internal/logging"
	"hush/internal/services"
)

const segmentPrefix = "segment_"

// Segment splits stream into fixed-length segments named with zero-padded
// ordinals. The expected count is checked against the ordinal capacity both
// before and after the split.
func (p *Pipeline) Segment(ctx context.Context, job *Job, stream AudioStream, seconds int) ([]Segment, error) {
	if seconds <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, StageSegment, "plan", "segment length must be positive", nil)
	}
	width := p.cfg.Pipeline.OrdinalWidth
	capacity := ordinalCapacity(width)
	if job.Duration > 0 {
		expected := int(math.Ceil(job.Duration.Seconds() / float64(seconds)))
		if expected > capacity {
			return nil, services.Wrap(services.ErrCapacity, StageSegment, "plan",
				fmt.Sprintf("%s needs %d segments of %ds, ordinal width %d allows %d",
					job.Duration.Round(time.Second), expected, seconds, width, capacity), nil)
		}
	} else {
		p.log(ctx).Info("input duration unknown, capacity checked after split",
			logging.String(logging.FieldEventType, "capacity_precheck_skipped"),
			logging.Int("ordinal_capacity", capacity),
		)
	}

	dir := job.Manifest.Track(job.WorkDir.Join("segments"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrEncode, StageSegment, "mkdir", "", err)
	}
	pattern := filepath.Join(dir, fmt.Sprintf("%s%%0%dd.wav", segmentPrefix, width))
	args := append(ffmpegPrefix(),
		"-i", stream.Path,
		"-f", "segment",
		"-segment_time", strconv.Itoa(seconds),
		"-reset_timestamps", "1",
		"-c", "copy",
		pattern,
	)
	if _, err := p.runner.Run(ctx, p.ffmpeg(args)); err != nil {
		return nil, services.Wrap(services.ErrEncode, StageSegment, "ffmpeg", "", err)
	}

	segments, err := listSegments(dir, width)
	if err != nil {
		return nil, services.Wrap(services.ErrEncode, StageSegment, "list", "", err)
	}
	if len(segments) == 0 {
		return nil, services.Wrap(services.ErrEncode, StageSegment, "list", "segmenter produced no files", nil)
	}
	if len(segments) > capacity {
		return nil, services.Wrap(services.ErrCapacity, StageSegment, "list",
			fmt.Sprintf("segmenter produced %d files, ordinal width %d allows %d", len(segments), width, capacity), nil)
	}
	for i, segment := range segments {
		if segment.Ordinal != i {
			return nil, services.Wrap(services.ErrEncode, StageSegment, "list",
				fmt.Sprintf("segment ordinals not contiguous: expected %d, found %d", i, segment.Ordinal), nil)
		}
	}

	if err := job.Manifest.Remove(stream.Path); err != nil {
		p.log(ctx).Debug("canonical stream release failed", logging.Error(err))
	}
	return segments, nil
}

// listSegments returns the segment files in dir in ordinal order. Ordinals
// wider than width are accepted here so the capacity check can reject them.
func listSegments(dir string, width int) ([]Segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var segments []Segment
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, ".wav") {
			continue
		}
		ordinal, ok := parseOrdinal(strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), ".wav"), width)
		if !ok {
			return nil, fmt.Errorf("unexpected segment file %s", name)
		}
		segments = append(segments, Segment{Ordinal: ordinal, Path: filepath.Join(dir, name)})
	}
	slices.SortFunc(segments, func(a, b Segment) int { return a.Ordinal - b.Ordinal })
	return segments, nil
}

func parseOrdinal(digits string, width int) (int, bool) {
	if len(digits) < width {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	value, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return value, true
}

func ordinalCapacity(width int) int {
	capacity := 1
	for range width {
		capacity *= 10
	}
	return capacity
}

func formatOrdinal(ordinal, width int) string {
	return fmt.Sprintf("%0*d", width, ordinal)
}
