package enhance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"hush/internal/logging"
	"hush/internal/services"
	"hush/internal/toolrun"
	"hush/internal/wavinfo"
)

// Combine concatenates filtered_*.wav from filteredDir in lexicographic order,
// which is ordinal order. Every input must still be canonical.
func (p *Pipeline) Combine(ctx context.Context, job *Job, filteredDir string) (AudioStream, error) {
	entries, err := os.ReadDir(filteredDir)
	if err != nil {
		return AudioStream{}, services.Wrap(services.ErrCombine, StageCombine, "list", "", err)
	}
	var inputs []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filteredPrefix) || filepath.Ext(name) != ".wav" {
			continue
		}
		inputs = append(inputs, filepath.Join(filteredDir, name))
	}
	slices.Sort(inputs)
	if len(inputs) == 0 {
		return AudioStream{}, services.Wrap(services.ErrCombine, StageCombine, "list", "no filtered segments", nil)
	}

	rate := p.cfg.Pipeline.CanonicalSampleRate
	for _, input := range inputs {
		info, err := wavinfo.Inspect(input)
		if err != nil {
			return AudioStream{}, services.Wrap(services.ErrCombine, StageCombine, "verify", filepath.Base(input), err)
		}
		if !info.Conforms(rate, canonicalChannels) {
			return AudioStream{}, services.Wrap(services.ErrCombine, StageCombine, "verify",
				fmt.Sprintf("%s is %d Hz %d ch, want %d Hz mono", filepath.Base(input), info.SampleRate, info.Channels, rate), nil)
		}
	}

	out := job.Manifest.Track(job.WorkDir.Join("combined.wav"))
	cmd := toolrun.Command{
		Name:    p.cfg.Tools.Sox,
		Args:    append(slices.Clone(inputs), out),
		Timeout: p.toolTimeout(),
	}
	if _, err := p.runner.Run(ctx, cmd); err != nil {
		return AudioStream{}, services.Wrap(services.ErrCombine, StageCombine, "sox", "", err)
	}

	if err := job.Manifest.Remove(filteredDir); err != nil {
		p.log(ctx).Debug("filtered segment release failed", logging.Error(err))
	}
	return AudioStream{Path: out, SampleRate: rate, Channels: canonicalChannels, Codec: "pcm_s16le"}, nil
}
