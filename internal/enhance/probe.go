package enhance

import (
	"context"
	"fmt"
	"time"

	"hush/internal/media/ffprobe"
	"hush/internal/services"
)

// Probe inspects path and reports what the rest of the pipeline needs.
func (p *Pipeline) Probe(ctx context.Context, path string) (MediaInfo, error) {
	result, err := ffprobe.Inspect(ctx, p.runner, p.cfg.Tools.FFprobe, path, p.toolTimeout())
	if err != nil {
		return MediaInfo{}, services.Wrap(services.ErrProbe, StageProbe, "ffprobe", "", err)
	}
	audio, ok := result.FirstAudio()
	if !ok {
		return MediaInfo{}, services.Wrap(services.ErrProbe, StageProbe, "inspect", "no audio stream", nil)
	}
	rate := audio.SampleRateHz()
	if rate <= 0 {
		return MediaInfo{}, services.Wrap(services.ErrProbe, StageProbe, "inspect",
			fmt.Sprintf("audio stream %d reports no sample rate", audio.Index), nil)
	}

	// Streamed and browser-recorded files often carry no duration. Zero
	// leaves the segment capacity check to the post-split count.
	seconds := result.AudioDurationSeconds()
	return MediaInfo{
		HasVideo:   result.VideoStreamCount() > 0,
		SampleRate: rate,
		Channels:   audio.Channels,
		Codec:      audio.CodecName,
		Duration:   time.Duration(seconds * float64(time.Second)),
		Tags:       result.Format.Tags,
	}, nil
}
