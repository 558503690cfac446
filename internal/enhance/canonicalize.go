package enhance

import (
	"context"
	"fmt"
	"strconv"

	"hush/internal/services"
	"hush/internal/toolrun"
	"hush/internal/wavinfo"
)

const canonicalChannels = 1

// Canonicalize decodes the first audio stream of the input to mono PCM s16le
// at the canonical rate.
func (p *Pipeline) Canonicalize(ctx context.Context, job *Job) (AudioStream, error) {
	rate := p.cfg.Pipeline.CanonicalSampleRate
	out := job.Manifest.Track(job.WorkDir.Join("canonical.wav"))
	args := append(ffmpegPrefix(),
		"-i", job.InputPath,
		"-map", "0:a:0",
		"-vn",
		"-ac", strconv.Itoa(canonicalChannels),
		"-ar", strconv.Itoa(rate),
		"-c:a", "pcm_s16le",
		out,
	)
	if _, err := p.runner.Run(ctx, p.ffmpeg(args)); err != nil {
		return AudioStream{}, services.Wrap(services.ErrEncode, StageCanonicalize, "ffmpeg", "", err)
	}

	info, err := wavinfo.Inspect(out)
	if err != nil {
		return AudioStream{}, services.Wrap(services.ErrEncode, StageCanonicalize, "verify", "", err)
	}
	if !info.Conforms(rate, canonicalChannels) {
		return AudioStream{}, services.Wrap(services.ErrEncode, StageCanonicalize, "verify",
			fmt.Sprintf("got %d Hz %d ch, want %d Hz mono", info.SampleRate, info.Channels, rate), nil)
	}
	return AudioStream{Path: out, SampleRate: rate, Channels: canonicalChannels, Codec: "pcm_s16le"}, nil
}

func ffmpegPrefix() []string {
	return []string{"-hide_banner", "-nostdin", "-y", "-loglevel", "error"}
}

func (p *Pipeline) ffmpeg(args []string) toolrun.Command {
	return toolrun.Command{Name: p.cfg.Tools.FFmpeg, Args: args, Timeout: p.toolTimeout()}
}
