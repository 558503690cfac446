package enhance

import (
	"context"
	"strconv"

	"hush/internal/logging"
	"hush/internal/services"
)

// Remux rebuilds a file in the input's container from the normalized stream.
// Video inputs keep their video streams byte-for-byte; audio-only inputs are
// re-encoded mono at no less than the configured minimum rate.
func (p *Pipeline) Remux(ctx context.Context, job *Job, stream AudioStream) (string, error) {
	if job.Kind == MediaVideo {
		return p.remuxVideo(ctx, job, stream)
	}
	return p.encodeAudio(ctx, job, stream)
}

func (p *Pipeline) remuxVideo(ctx context.Context, job *Job, stream AudioStream) (string, error) {
	codec, rate := p.cfg.CodecForContainer(job.Ext)
	delivery := job.Manifest.Track(job.WorkDir.Join("delivery" + deliveryExt(codec)))
	encodeArgs := append(ffmpegPrefix(),
		"-i", stream.Path,
		"-vn",
		"-ar", strconv.Itoa(rate),
		"-c:a", codec,
		delivery,
	)
	if _, err := p.runner.Run(ctx, p.ffmpeg(encodeArgs)); err != nil {
		return "", services.Wrap(services.ErrEncode, StageRemux, "encode delivery audio", codec, err)
	}

	out := job.Manifest.Track(job.WorkDir.Join("remuxed" + job.Ext))
	muxArgs := append(ffmpegPrefix(),
		"-i", job.InputPath,
		"-i", delivery,
		"-map", "0:v",
		"-map", "1:a:0",
		"-map_metadata", "-1",
		"-map_metadata:s", "-1",
		"-map_chapters", "-1",
		"-c:v", "copy",
		"-c:a", "copy",
		out,
	)
	if _, err := p.runner.Run(ctx, p.ffmpeg(muxArgs)); err != nil {
		return "", services.Wrap(services.ErrMux, StageRemux, "mux", "", err)
	}
	if err := job.Manifest.Remove(delivery); err != nil {
		p.log(ctx).Debug("delivery audio release failed", logging.Error(err))
	}
	return out, nil
}

func (p *Pipeline) encodeAudio(ctx context.Context, job *Job, stream AudioStream) (string, error) {
	rate := max(p.cfg.Pipeline.MinSampleRate, job.SampleRate)
	codec := audioOnlyCodec(job.Ext)
	if codec == "libopus" {
		rate = snapOpusRate(rate)
	}

	out := job.Manifest.Track(job.WorkDir.Join("encoded" + job.Ext))
	args := append(ffmpegPrefix(),
		"-i", stream.Path,
		"-ac", strconv.Itoa(canonicalChannels),
		"-ar", strconv.Itoa(rate),
	)
	if codec != "" {
		args = append(args, "-c:a", codec)
	}
	args = append(args, out)
	if _, err := p.runner.Run(ctx, p.ffmpeg(args)); err != nil {
		return "", services.Wrap(services.ErrEncode, StageRemux, "encode", "", err)
	}
	return out, nil
}
