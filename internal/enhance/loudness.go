package enhance

import (
	"context"
	"math"
	"strconv"

	"hush/internal/logging"
	"hush/internal/services"
	"hush/internal/toolrun"
	"hush/internal/wavinfo"
)

// Normalize applies a linear gain to stream. With peak limiting on, the gain
// is reduced so the loudest sample stays at or below the configured ceiling.
// The applied gain is recorded on the job.
func (p *Pipeline) Normalize(ctx context.Context, job *Job, stream AudioStream, gain float64) (AudioStream, error) {
	applied := gain
	if p.cfg.Pipeline.LimitPeaks {
		peak, err := wavinfo.Peak(stream.Path)
		if err != nil {
			return AudioStream{}, services.Wrap(services.ErrEncode, StageNormalize, "measure peak", "", err)
		}
		applied = EffectiveGain(gain, peak, p.cfg.Pipeline.PeakCeiling)
		if applied < gain {
			p.log(ctx).Info("gain reduced to respect peak ceiling",
				logging.Float64("requested_gain", gain),
				logging.Float64("applied_gain", applied),
				logging.Float64("peak", peak),
			)
		}
	}

	out := job.Manifest.Track(job.WorkDir.Join("normalized.wav"))
	cmd := toolrun.Command{
		Name:    p.cfg.Tools.Sox,
		Args:    []string{stream.Path, out, "vol", strconv.FormatFloat(applied, 'g', -1, 64)},
		Timeout: p.toolTimeout(),
	}
	if _, err := p.runner.Run(ctx, cmd); err != nil {
		return AudioStream{}, services.Wrap(services.ErrEncode, StageNormalize, "sox", "", err)
	}
	job.AppliedGain = applied

	if err := job.Manifest.Remove(stream.Path); err != nil {
		p.log(ctx).Debug("combined stream release failed", logging.Error(err))
	}
	stream.Path = out
	return stream, nil
}

// EffectiveGain returns min(gain, ceiling/peak). Silence keeps the requested
// gain.
func EffectiveGain(gain, peak, ceiling float64) float64 {
	if peak <= 0 || math.IsNaN(peak) {
		return gain
	}
	return math.Min(gain, ceiling/peak)
}
