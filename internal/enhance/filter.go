package enhance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"hush/internal/logging"
	"hush/internal/services"
	"hush/internal/toolrun"
)

const filteredPrefix = "filtered_"

// FilterAll runs the suppression tool once over every segment and renames its
// outputs to filtered_NNN.wav. Each output must match exactly one segment by
// stem prefix.
func (p *Pipeline) FilterAll(ctx context.Context, job *Job, segments []Segment, outputDir string) ([]FilteredSegment, error) {
	if len(segments) == 0 {
		return nil, services.Wrap(services.ErrFilter, StageFilter, "plan", "no segments to filter", nil)
	}
	job.Manifest.Track(outputDir)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrFilter, StageFilter, "mkdir", "", err)
	}

	args := []string{"-a", strconv.Itoa(p.cfg.Pipeline.FilterAttenuationDB), "-o", outputDir}
	for _, segment := range segments {
		args = append(args, segment.Path)
	}
	cmd := toolrun.Command{
		Name:    p.cfg.Tools.DeepFilter,
		Args:    args,
		Timeout: time.Duration(p.cfg.Tools.FilterTimeoutSeconds) * time.Second,
	}
	if _, err := p.runner.Run(ctx, cmd); err != nil {
		return nil, services.Wrap(services.ErrFilter, StageFilter, "deepFilter", "", err)
	}

	produced, err := producedWAVs(outputDir)
	if err != nil {
		return nil, services.Wrap(services.ErrFilter, StageFilter, "list", "", err)
	}
	if len(produced) != len(segments) {
		return nil, services.Wrap(services.ErrFilter, StageFilter, "match",
			fmt.Sprintf("produced %d files for %d segments", len(produced), len(segments)), nil)
	}

	matches, err := matchFiltered(segments, outputDir, produced)
	if err != nil {
		return nil, services.Wrap(services.ErrFilter, StageFilter, "match", "", err)
	}

	width := p.cfg.Pipeline.OrdinalWidth
	filtered := make([]FilteredSegment, 0, len(segments))
	for _, segment := range segments {
		target := filepath.Join(outputDir, filteredPrefix+formatOrdinal(segment.Ordinal, width)+".wav")
		if err := os.Rename(matches[segment.Ordinal], target); err != nil {
			return nil, services.Wrap(services.ErrFilter, StageFilter, "rename", "", err)
		}
		filtered = append(filtered, FilteredSegment{Ordinal: segment.Ordinal, Path: target})
	}

	for _, segment := range segments {
		if err := os.Remove(segment.Path); err != nil && !os.IsNotExist(err) {
			logging.WarnWithContext(p.log(ctx), "segment cleanup failed", "segment_cleanup_failed",
				logging.String("path", segment.Path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "file removed with the job directory"),
			)
		}
	}
	return filtered, nil
}

func producedWAVs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// matchFiltered maps each segment ordinal to the produced file whose name
// starts with the segment stem. The character after the stem must not be a
// digit so segment_01 never claims segment_010's output.
func matchFiltered(segments []Segment, dir string, produced []string) (map[int]string, error) {
	matches := make(map[int]string, len(segments))
	claimed := make(map[string]int, len(produced))
	for _, segment := range segments {
		stem := strings.TrimSuffix(filepath.Base(segment.Path), filepath.Ext(segment.Path))
		for _, name := range produced {
			if !strings.HasPrefix(name, stem) {
				continue
			}
			if rest := name[len(stem):]; rest != "" && rest[0] >= '0' && rest[0] <= '9' {
				continue
			}
			if _, dup := matches[segment.Ordinal]; dup {
				return nil, fmt.Errorf("segment %s matched more than one output", stem)
			}
			if owner, taken := claimed[name]; taken {
				return nil, fmt.Errorf("output %s matched segments %d and %d", name, owner, segment.Ordinal)
			}
			matches[segment.Ordinal] = filepath.Join(dir, name)
			claimed[name] = segment.Ordinal
		}
		if _, ok := matches[segment.Ordinal]; !ok {
			return nil, fmt.Errorf("no output for segment %s", stem)
		}
	}
	return matches, nil
}
