package ffprobe

import (
	"context"
	"errors"
	"math"
	"testing"

	"hush/internal/toolrun"
)

type stubRunner struct {
	stdout string
	err    error
	got    toolrun.Command
}

func (s *stubRunner) Run(_ context.Context, cmd toolrun.Command) (toolrun.Result, error) {
	s.got = cmd
	return toolrun.Result{Stdout: s.stdout}, s.err
}

const audioWithCoverArt = `{
  "streams": [
    {"index": 0, "codec_name": "mp3", "codec_type": "audio", "sample_rate": "44100", "channels": 2, "duration": "61.5"},
    {"index": 1, "codec_name": "mjpeg", "codec_type": "video", "disposition": {"default": 0, "attached_pic": 1}}
  ],
  "format": {"duration": "61.500000", "size": "984000", "format_name": "mp3", "tags": {"title": "Lecture", "encoder": "LAME"}}
}`

func TestInspectParsesStreamsAndTags(t *testing.T) {
	runner := &stubRunner{stdout: audioWithCoverArt}
	result, err := Inspect(context.Background(), runner, "", "/media/talk.mp3", 0)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if runner.got.Name != "ffprobe" {
		t.Fatalf("expected default binary, got %q", runner.got.Name)
	}
	if last := runner.got.Args[len(runner.got.Args)-1]; last != "/media/talk.mp3" {
		t.Fatalf("expected path as final argument, got %q", last)
	}
	if result.VideoStreamCount() != 0 {
		t.Fatalf("cover art must not count as video, got %d", result.VideoStreamCount())
	}
	audio, ok := result.FirstAudio()
	if !ok || audio.SampleRateHz() != 44100 {
		t.Fatalf("unexpected first audio stream: %+v", audio)
	}
	if result.DurationSeconds() != 61.5 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if result.Format.Tags["title"] != "Lecture" {
		t.Fatalf("unexpected tags: %v", result.Format.Tags)
	}
}

func TestInspectPropagatesRunnerError(t *testing.T) {
	sentinel := errors.New("exit status 1")
	_, err := Inspect(context.Background(), &stubRunner{err: sentinel}, "ffprobe", "x.wav", 0)
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected runner error, got %v", err)
	}
}

func TestInspectRejectsGarbage(t *testing.T) {
	if _, err := Inspect(context.Background(), &stubRunner{stdout: "not json"}, "ffprobe", "x.wav", 0); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := Inspect(context.Background(), &stubRunner{}, "ffprobe", " ", 0); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestResultHelpers(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "video"},
			{CodecType: "audio", Duration: "9"},
			{CodecType: "audio"},
		},
		Format: Format{Size: "1000"},
	}
	if result.VideoStreamCount() != 1 {
		t.Fatalf("expected 1 video stream, got %d", result.VideoStreamCount())
	}
	if result.AudioStreamCount() != 2 {
		t.Fatalf("expected 2 audio streams, got %d", result.AudioStreamCount())
	}
	if result.DurationSeconds() != 9 {
		t.Fatalf("expected stream duration fallback, got %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 1000 {
		t.Fatalf("unexpected size: %d", result.SizeBytes())
	}
}

func TestResultHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{
		Streams: []Stream{{CodecType: "audio", SampleRate: "n/a"}},
		Format:  Format{Duration: "bad", Size: "-1"},
	}
	if !math.IsNaN(result.DurationSeconds()) {
		t.Fatalf("expected duration NaN, got %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 0 {
		t.Fatalf("expected size 0, got %d", result.SizeBytes())
	}
	if result.Streams[0].SampleRateHz() != 0 {
		t.Fatal("expected unparseable sample rate to be 0")
	}
}

func TestAudioDurationSeconds(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   float64
	}{
		{
			name: "audio stream shorter than container",
			result: Result{
				Streams: []Stream{{CodecType: "video", Duration: "12.0"}, {CodecType: "audio", Duration: "10.5"}},
				Format:  Format{Duration: "12.0"},
			},
			want: 10.5,
		},
		{
			name: "container only",
			result: Result{
				Streams: []Stream{{CodecType: "audio"}},
				Format:  Format{Duration: "7"},
			},
			want: 7,
		},
		{
			name:   "no durations",
			result: Result{Streams: []Stream{{CodecType: "audio"}}},
			want:   0,
		},
		{
			name: "malformed values",
			result: Result{
				Streams: []Stream{{CodecType: "audio", Duration: "N/A"}},
				Format:  Format{Duration: "bad"},
			},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.AudioDurationSeconds(); got != tt.want {
				t.Fatalf("AudioDurationSeconds() = %v, want %v", got, tt.want)
			}
		})
	}
}
