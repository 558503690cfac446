package enhance_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"testing"

	"hush/internal/config"
	"hush/internal/enhance"
	"hush/internal/history"
	"hush/internal/services"
	"hush/internal/staging"
	"hush/internal/testsupport"
	"hush/internal/toolrun"
)

type harness struct {
	cfg      *config.Config
	tools    *testsupport.FakeTools
	pipeline *enhance.Pipeline
	mediaDir string
}

func newHarness(t *testing.T, opts []testsupport.ConfigOption, pipelineOpts ...enhance.Option) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	tools := testsupport.NewFakeTools(cfg)
	return &harness{
		cfg:      cfg,
		tools:    tools,
		pipeline: enhance.New(cfg, tools, nil, pipelineOpts...),
		mediaDir: filepath.Join(testsupport.BaseDir(cfg), "media"),
	}
}

func (h *harness) input(t *testing.T, name string, media testsupport.Media) string {
	t.Helper()
	path := filepath.Join(h.mediaDir, name)
	testsupport.WriteMedia(t, path, media)
	return path
}

func (h *harness) assertNoJobDirs(t *testing.T) {
	t.Helper()
	dirs, err := staging.ListDirectories(h.cfg.Paths.StagingDir)
	if err != nil {
		t.Fatalf("ListDirectories: %v", err)
	}
	if len(dirs) != 0 {
		t.Fatalf("expected no job directories, found %v", dirs)
	}
}

func readBytes(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}

func podcast() testsupport.Media {
	return testsupport.Media{
		Codec:      "mp3",
		SampleRate: 44100,
		Channels:   2,
		Duration:   3.5,
		Tags: []testsupport.Tag{
			{Key: "TITLE", Value: "Episode 12"},
			{Key: "encoder", Value: "LAME3.100"},
			{Key: "Artist", Value: "The Hosts"},
			{Key: "publisher", Value: "Network"},
		},
	}
}

func TestEnhanceAudioOnlyReplacesInput(t *testing.T) {
	h := newHarness(t, nil)
	input := h.input(t, "episode.mp3", podcast())

	output, err := h.pipeline.Enhance(context.Background(), input)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if output != input {
		t.Fatalf("expected output at input path %s, got %s", input, output)
	}

	got := testsupport.ReadMedia(t, output)
	if got.Video {
		t.Fatal("audio-only input must not gain a video stream")
	}
	if got.Channels != 1 {
		t.Fatalf("expected mono output, got %d channels", got.Channels)
	}
	if got.SampleRate != 44100 {
		t.Fatalf("expected original 44100 Hz to be kept, got %d", got.SampleRate)
	}

	wantTags := []testsupport.Tag{{Key: "title", Value: "Episode 12"}, {Key: "artist", Value: "The Hosts"}}
	if !reflect.DeepEqual(got.Tags, wantTags) {
		t.Fatalf("unexpected tags %#v", got.Tags)
	}
	h.assertNoJobDirs(t)
}

func TestEnhancePreservesSegmentOrder(t *testing.T) {
	h := newHarness(t, nil)
	media := podcast()
	input := h.input(t, "episode.mp3", media)

	output, err := h.pipeline.Enhance(context.Background(), input)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}

	canonical := testsupport.FakeSamples(h.cfg.Pipeline.CanonicalSampleRate, media.Duration, media.Amplitude)
	want := testsupport.Digest(testsupport.ScaleSamples(canonical, h.cfg.Pipeline.Gain))
	got := testsupport.ReadMedia(t, output)
	if got.AudioSamples != len(canonical) {
		t.Fatalf("expected %d samples, got %d", len(canonical), got.AudioSamples)
	}
	if got.AudioDigest != want {
		t.Fatal("combined audio differs from the canonical stream; segments were reordered or altered")
	}

	filterCalls := h.tools.CommandsOf(testsupport.ToolFilter)
	if len(filterCalls) != 1 {
		t.Fatalf("expected one batch filter invocation, got %d", len(filterCalls))
	}
	args := filterCalls[0].Args
	if args[0] != "-a" || args[1] != "20" || args[2] != "-o" {
		t.Fatalf("unexpected filter args %v", args)
	}
	var names []string
	for _, arg := range args[4:] {
		names = append(names, filepath.Base(arg))
	}
	wantNames := []string{"segment_000.wav", "segment_001.wav", "segment_002.wav", "segment_003.wav"}
	if !reflect.DeepEqual(names, wantNames) {
		t.Fatalf("segments passed out of order: %v", names)
	}

	combine := h.tools.CommandsOf(testsupport.ToolCombine)
	if len(combine) != 1 {
		t.Fatalf("expected one combine call, got %d", len(combine))
	}
	inputs := combine[0].Args[:len(combine[0].Args)-1]
	for i, path := range inputs {
		if want := "filtered_00" + strconv.Itoa(i) + ".wav"; filepath.Base(path) != want {
			t.Fatalf("combine input %d is %s, want %s", i, filepath.Base(path), want)
		}
	}
}

func TestEnhanceHonoursOrdinalWidth(t *testing.T) {
	h := newHarness(t, []testsupport.ConfigOption{testsupport.WithOrdinalWidth(5)})
	input := h.input(t, "memo.wav", testsupport.Media{Codec: "pcm_s16le", SampleRate: 16000, Channels: 1, Duration: 2})

	if _, err := h.pipeline.Enhance(context.Background(), input); err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	segment := h.tools.CommandsOf(testsupport.ToolSegment)[0]
	if pattern := segment.Args[len(segment.Args)-1]; !strings.HasSuffix(pattern, "segment_%05d.wav") {
		t.Fatalf("unexpected segment pattern %s", pattern)
	}
	filter := h.tools.CommandsOf(testsupport.ToolFilter)[0]
	if got := filepath.Base(filter.Args[4]); got != "segment_00000.wav" {
		t.Fatalf("unexpected first segment %s", got)
	}
}

func TestEnhanceSampleRateFloor(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		original int
		want     int
		codec    string
	}{
		{"low rate raised to floor", "call.mp3", 8000, 16000, "default"},
		{"high rate kept", "music.flac", 96000, 96000, "default"},
		{"opus snapped up", "voice.opus", 22050, 24000, "libopus"},
		{"opus floor already valid", "note.opus", 12000, 16000, "libopus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.cfg.Pipeline.MinSampleRate = 16000
			input := h.input(t, tt.file, testsupport.Media{Codec: "x", SampleRate: tt.original, Channels: 1, Duration: 1.5})

			output, err := h.pipeline.Enhance(context.Background(), input)
			if err != nil {
				t.Fatalf("Enhance: %v", err)
			}
			got := testsupport.ReadMedia(t, output)
			if got.SampleRate != tt.want {
				t.Fatalf("expected %d Hz, got %d", tt.want, got.SampleRate)
			}
			if got.Codec != tt.codec {
				t.Fatalf("expected codec %s, got %s", tt.codec, got.Codec)
			}
			if filepath.Ext(output) != filepath.Ext(tt.file) {
				t.Fatalf("output extension changed: %s", output)
			}
		})
	}
}

func TestEnhanceVideoPassthrough(t *testing.T) {
	tests := []struct {
		file      string
		codec     string
		rate      int
		delivered string
	}{
		{"lecture.mp4", "aac", 44100, ".m4a"},
		{"lecture.mkv", "aac", 44100, ".m4a"},
		{"lecture.webm", "libopus", 48000, ".mka"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			h := newHarness(t, nil)
			input := h.input(t, tt.file, testsupport.Media{
				Video:        true,
				VideoPayload: "h264-frames-0xBEEF",
				Codec:        "aac",
				SampleRate:   48000,
				Channels:     2,
				Duration:     2.2,
				Tags:         []testsupport.Tag{{Key: "title", Value: "Lecture 3"}, {Key: "major_brand", Value: "isom"}},
			})

			output, err := h.pipeline.Enhance(context.Background(), input)
			if err != nil {
				t.Fatalf("Enhance: %v", err)
			}
			got := testsupport.ReadMedia(t, output)
			if !got.Video || got.VideoPayload != "h264-frames-0xBEEF" {
				t.Fatalf("video stream not carried through: %#v", got)
			}
			if got.Codec != tt.codec || got.SampleRate != tt.rate {
				t.Fatalf("expected %s at %d Hz, got %s at %d Hz", tt.codec, tt.rate, got.Codec, got.SampleRate)
			}
			if !reflect.DeepEqual(got.Tags, []testsupport.Tag{{Key: "title", Value: "Lecture 3"}}) {
				t.Fatalf("unexpected tags %#v", got.Tags)
			}

			mux := h.tools.CommandsOf(testsupport.ToolMux)
			if len(mux) != 1 {
				t.Fatalf("expected one mux call, got %d", len(mux))
			}
			if !strings.HasSuffix(mux[0].Args[slices.Index(mux[0].Args, "-i")+3], tt.delivered) {
				t.Fatalf("unexpected delivery file in %v", mux[0].Args)
			}
			for _, cmd := range h.tools.Commands() {
				for i, arg := range cmd.Args {
					if arg == "-c:v" && cmd.Args[i+1] != "copy" {
						t.Fatalf("video re-encoded by %s", cmd)
					}
				}
			}
			h.assertNoJobDirs(t)
		})
	}
}

func TestEnhanceDropsStreamTagsAndChapters(t *testing.T) {
	h := newHarness(t, nil)
	input := h.input(t, "meeting.mkv", testsupport.Media{
		Video:      true,
		Codec:      "aac",
		SampleRate: 48000,
		Channels:   2,
		Duration:   1.5,
		Tags:       []testsupport.Tag{{Key: "title", Value: "Standup"}, {Key: "ENCODER", Value: "OBS"}},
		StreamTags: []testsupport.Tag{{Key: "handler_name", Value: "VideoHandler"}, {Key: "language", Value: "eng"}},
		Chapters:   []testsupport.Tag{{Key: "0", Value: "Intro"}, {Key: "1", Value: "Roadmap"}},
	})
	// The container writer stamps its own stream tags onto the remuxed file.
	h.tools.Override(testsupport.ToolMux, func(ctx context.Context, cmd toolrun.Command) (toolrun.Result, error) {
		result, err := h.tools.Execute(ctx, cmd)
		if err != nil {
			return result, err
		}
		out := cmd.Args[len(cmd.Args)-1]
		media := testsupport.ReadMedia(t, out)
		media.StreamTags = append(media.StreamTags, testsupport.Tag{Key: "handler_name", Value: "SoundHandler"})
		testsupport.WriteMedia(t, out, media)
		return result, nil
	})

	output, err := h.pipeline.Enhance(context.Background(), input)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	got := testsupport.ReadMedia(t, output)
	if !reflect.DeepEqual(got.Tags, []testsupport.Tag{{Key: "title", Value: "Standup"}}) {
		t.Fatalf("unexpected global tags %#v", got.Tags)
	}
	if len(got.StreamTags) != 0 {
		t.Fatalf("expected no stream tags, got %#v", got.StreamTags)
	}
	if len(got.Chapters) != 0 {
		t.Fatalf("expected no chapters, got %#v", got.Chapters)
	}
	for _, kind := range []string{testsupport.ToolMux, testsupport.ToolMetadataInject} {
		cmds := h.tools.CommandsOf(kind)
		if len(cmds) != 1 {
			t.Fatalf("expected one %s call, got %d", kind, len(cmds))
		}
		args := strings.Join(cmds[0].Args, " ")
		for _, want := range []string{"-map_metadata:s -1", "-map_chapters -1"} {
			if !strings.Contains(args, want) {
				t.Fatalf("%s args %q missing %q", kind, args, want)
			}
		}
	}
}

func TestEnhanceCoverArtIsNotVideo(t *testing.T) {
	h := newHarness(t, nil)
	input := h.input(t, "album.m4a", testsupport.Media{CoverArt: true, Codec: "aac", SampleRate: 44100, Channels: 2, Duration: 1.2})

	output, err := h.pipeline.Enhance(context.Background(), input)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if len(h.tools.CommandsOf(testsupport.ToolMux)) != 0 {
		t.Fatal("attached picture must not route the job through the video path")
	}
	if testsupport.ReadMedia(t, output).Video {
		t.Fatal("unexpected video in output")
	}
}

func TestEnhanceSkipsInjectionWithoutAllowedTags(t *testing.T) {
	h := newHarness(t, nil)
	input := h.input(t, "raw.ogg", testsupport.Media{
		Codec: "vorbis", SampleRate: 48000, Channels: 2, Duration: 1,
		Tags: []testsupport.Tag{{Key: "encoder", Value: "Lavf"}, {Key: "ENCODED_BY", Value: "someone"}},
	})

	output, err := h.pipeline.Enhance(context.Background(), input)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if n := len(h.tools.CommandsOf(testsupport.ToolMetadataExtract)); n != 1 {
		t.Fatalf("expected one metadata extraction, got %d", n)
	}
	if n := len(h.tools.CommandsOf(testsupport.ToolMetadataInject)); n != 0 {
		t.Fatalf("expected no injection, got %d", n)
	}
	if tags := testsupport.ReadMedia(t, output).Tags; len(tags) != 0 {
		t.Fatalf("expected no tags, got %#v", tags)
	}
}

func TestEnhanceCustomAllowList(t *testing.T) {
	h := newHarness(t, []testsupport.ConfigOption{testsupport.WithAllowedTags("publisher")})
	input := h.input(t, "episode.mp3", podcast())

	output, err := h.pipeline.Enhance(context.Background(), input)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	want := []testsupport.Tag{{Key: "publisher", Value: "Network"}}
	if got := testsupport.ReadMedia(t, output).Tags; !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected tags %#v", got)
	}
}

func TestEnhancePeakLimiting(t *testing.T) {
	loud := testsupport.Media{Codec: "mp3", SampleRate: 44100, Channels: 1, Duration: 1, Amplitude: 0.9}
	samples := testsupport.FakeSamples(8000, loud.Duration, loud.Amplitude)
	maxAbs := 0
	for _, s := range samples {
		maxAbs = max(maxAbs, s, -s)
	}
	peak := float64(maxAbs) / 32768

	tests := []struct {
		name  string
		limit bool
		want  float64
	}{
		{"limited", true, 0.98 / peak},
		{"unlimited", false, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, []testsupport.ConfigOption{testsupport.WithGain(1.5, tt.limit)})
			input := h.input(t, "loud.mp3", loud)
			if _, err := h.pipeline.Enhance(context.Background(), input); err != nil {
				t.Fatalf("Enhance: %v", err)
			}
			gain := h.tools.CommandsOf(testsupport.ToolGain)
			if len(gain) != 1 {
				t.Fatalf("expected one gain call, got %d", len(gain))
			}
			applied, err := strconv.ParseFloat(gain[0].Args[3], 64)
			if err != nil {
				t.Fatalf("parse gain: %v", err)
			}
			if math.Abs(applied-tt.want) > 1e-9 {
				t.Fatalf("applied gain %v, want %v", applied, tt.want)
			}
			if tt.limit && applied*peak > 0.98+1e-9 {
				t.Fatalf("gain %v pushes peak above ceiling", applied)
			}
		})
	}
}

func TestEnhanceSiblingMode(t *testing.T) {
	h := newHarness(t, []testsupport.ConfigOption{testsupport.WithOutputMode(config.OutputModeSibling)})
	input := h.input(t, "episode.mp3", podcast())
	original := readBytes(t, input)

	output, err := h.pipeline.Enhance(context.Background(), input)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if output != filepath.Join(h.mediaDir, "episode.enhanced.mp3") {
		t.Fatalf("unexpected sibling output %s", output)
	}
	if !bytes.Equal(readBytes(t, input), original) {
		t.Fatal("sibling mode must leave the input untouched")
	}
}

func TestEnhanceIdempotentOnFreshCopies(t *testing.T) {
	h := newHarness(t, nil)
	first := h.input(t, "a/episode.mp3", podcast())
	second := h.input(t, "b/episode.mp3", podcast())

	for _, input := range []string{first, second} {
		if _, err := h.pipeline.Enhance(context.Background(), input); err != nil {
			t.Fatalf("Enhance %s: %v", input, err)
		}
	}
	if !bytes.Equal(readBytes(t, first), readBytes(t, second)) {
		t.Fatal("re-running on an identical copy produced a different result")
	}
	h.assertNoJobDirs(t)
}

func TestEnhanceCleansUpOnFailure(t *testing.T) {
	tests := []struct {
		kind   string
		stage  string
		marker error
		video  bool
	}{
		{testsupport.ToolProbe, enhance.StageProbe, services.ErrProbe, false},
		{testsupport.ToolCanonicalize, enhance.StageCanonicalize, services.ErrEncode, false},
		{testsupport.ToolSegment, enhance.StageSegment, services.ErrEncode, false},
		{testsupport.ToolFilter, enhance.StageFilter, services.ErrFilter, false},
		{testsupport.ToolCombine, enhance.StageCombine, services.ErrCombine, false},
		{testsupport.ToolGain, enhance.StageNormalize, services.ErrEncode, false},
		{testsupport.ToolEncode, enhance.StageRemux, services.ErrEncode, false},
		{testsupport.ToolEncode, enhance.StageRemux, services.ErrEncode, true},
		{testsupport.ToolMux, enhance.StageRemux, services.ErrMux, true},
		{testsupport.ToolMetadataExtract, enhance.StageMetadata, services.ErrMetadata, false},
		{testsupport.ToolMetadataInject, enhance.StageMetadata, services.ErrMetadata, true},
	}
	for _, tt := range tests {
		name := tt.kind
		if tt.video {
			name += "_video"
		}
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil)
			media := podcast()
			file := "episode.mp3"
			if tt.video {
				media.Video = true
				media.VideoPayload = "frames"
				file = "episode.mkv"
			}
			input := h.input(t, file, media)
			original := readBytes(t, input)
			h.tools.Fail(tt.kind, testsupport.Fault{ExitCode: 2, Stderr: "boom", Partial: true})

			output, err := h.pipeline.Enhance(context.Background(), input)
			if err == nil {
				t.Fatalf("expected failure, got output %s", output)
			}
			var stageErr *enhance.StageError
			if !errors.As(err, &stageErr) {
				t.Fatalf("expected *StageError, got %T: %v", err, err)
			}
			if stageErr.Stage != tt.stage {
				t.Fatalf("expected stage %s, got %s", tt.stage, stageErr.Stage)
			}
			if !errors.Is(err, tt.marker) {
				t.Fatalf("expected marker %v, got %v", tt.marker, err)
			}
			if !errors.Is(err, services.ErrExternalTool) {
				t.Fatalf("expected tool failure cause, got %v", err)
			}
			if !bytes.Equal(readBytes(t, input), original) {
				t.Fatal("input modified by a failed job")
			}
			entries, err := os.ReadDir(h.mediaDir)
			if err != nil {
				t.Fatalf("read media dir: %v", err)
			}
			if len(entries) != 1 {
				t.Fatalf("unexpected files next to input: %v", entries)
			}
			h.assertNoJobDirs(t)
		})
	}
}

func TestEnhanceFilterCountMismatch(t *testing.T) {
	h := newHarness(t, nil)
	input := h.input(t, "episode.mp3", podcast())
	h.tools.Override(testsupport.ToolFilter, func(ctx context.Context, cmd toolrun.Command) (toolrun.Result, error) {
		result, err := h.tools.Execute(ctx, cmd)
		if err != nil {
			return result, err
		}
		outDir := cmd.Args[3]
		victim := filepath.Join(outDir, "segment_002"+testsupport.FilterSuffix+".wav")
		if err := os.Remove(victim); err != nil {
			t.Errorf("remove %s: %v", victim, err)
		}
		return result, nil
	})

	_, err := h.pipeline.Enhance(context.Background(), input)
	var stageErr *enhance.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != enhance.StageFilter {
		t.Fatalf("expected filter stage error, got %v", err)
	}
	if stageErr.Kind != services.KindFilter {
		t.Fatalf("expected filter kind, got %s", stageErr.Kind)
	}
	if !strings.Contains(err.Error(), "produced 3 files for 4 segments") {
		t.Fatalf("unexpected message %v", err)
	}
	if len(h.tools.CommandsOf(testsupport.ToolCombine)) != 0 {
		t.Fatal("combine must not run after a filter mismatch")
	}
	h.assertNoJobDirs(t)
}

func TestEnhanceFilterUnmatchedOutput(t *testing.T) {
	h := newHarness(t, nil)
	input := h.input(t, "episode.mp3", podcast())
	h.tools.Override(testsupport.ToolFilter, func(ctx context.Context, cmd toolrun.Command) (toolrun.Result, error) {
		result, err := h.tools.Execute(ctx, cmd)
		if err != nil {
			return result, err
		}
		outDir := cmd.Args[3]
		from := filepath.Join(outDir, "segment_001"+testsupport.FilterSuffix+".wav")
		if err := os.Rename(from, filepath.Join(outDir, "mystery.wav")); err != nil {
			t.Errorf("rename: %v", err)
		}
		return result, nil
	})

	_, err := h.pipeline.Enhance(context.Background(), input)
	if !errors.Is(err, services.ErrFilter) {
		t.Fatalf("expected filter error, got %v", err)
	}
	h.assertNoJobDirs(t)
}

func TestEnhanceCombineRejectsNonCanonicalSegment(t *testing.T) {
	h := newHarness(t, nil)
	input := h.input(t, "episode.mp3", podcast())
	h.tools.Override(testsupport.ToolFilter, func(ctx context.Context, cmd toolrun.Command) (toolrun.Result, error) {
		result, err := h.tools.Execute(ctx, cmd)
		if err != nil {
			return result, err
		}
		outDir := cmd.Args[3]
		corrupt := filepath.Join(outDir, "segment_000"+testsupport.FilterSuffix+".wav")
		if err := os.WriteFile(corrupt, []byte("not a wav"), 0o644); err != nil {
			t.Errorf("corrupt: %v", err)
		}
		return result, nil
	})

	_, err := h.pipeline.Enhance(context.Background(), input)
	var stageErr *enhance.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != enhance.StageCombine {
		t.Fatalf("expected combine stage error, got %v", err)
	}
	if !errors.Is(err, services.ErrCombine) {
		t.Fatalf("expected combine marker, got %v", err)
	}
}

func TestEnhanceCapacityCheckedBeforeSegmenting(t *testing.T) {
	h := newHarness(t, []testsupport.ConfigOption{testsupport.WithOrdinalWidth(1)})
	input := h.input(t, "long.mp3", testsupport.Media{Codec: "mp3", SampleRate: 44100, Channels: 2, Duration: 10.5})

	_, err := h.pipeline.Enhance(context.Background(), input)
	if !errors.Is(err, services.ErrCapacity) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	var stageErr *enhance.StageError
	if !errors.As(err, &stageErr) || stageErr.Kind != services.KindCapacity {
		t.Fatalf("expected capacity kind, got %v", err)
	}
	if n := len(h.tools.CommandsOf(testsupport.ToolSegment)); n != 0 {
		t.Fatalf("segmenter should not run, ran %d times", n)
	}
	h.assertNoJobDirs(t)
}

func TestEnhanceCapacityCheckedAfterSegmenting(t *testing.T) {
	h := newHarness(t, []testsupport.ConfigOption{testsupport.WithOrdinalWidth(1)})
	input := h.input(t, "edge.mp3", testsupport.Media{Codec: "mp3", SampleRate: 44100, Channels: 2, Duration: 10})
	h.tools.Override(testsupport.ToolSegment, func(ctx context.Context, cmd toolrun.Command) (toolrun.Result, error) {
		result, err := h.tools.Execute(ctx, cmd)
		if err != nil {
			return result, err
		}
		// Rounding in the tool can spill one extra segment past the plan.
		extra := strings.Replace(cmd.Args[len(cmd.Args)-1], "%01d", "10", 1)
		if err := os.WriteFile(extra, []byte("spill"), 0o644); err != nil {
			t.Errorf("write extra: %v", err)
		}
		return result, nil
	})

	_, err := h.pipeline.Enhance(context.Background(), input)
	if !errors.Is(err, services.ErrCapacity) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if n := len(h.tools.CommandsOf(testsupport.ToolFilter)); n != 0 {
		t.Fatalf("filter should not run, ran %d times", n)
	}
}

// rewriteProbe edits the ffprobe JSON the fake tools report for every input.
func (h *harness) rewriteProbe(t *testing.T, edit func(payload map[string]any)) {
	t.Helper()
	h.tools.Override(testsupport.ToolProbe, func(ctx context.Context, cmd toolrun.Command) (toolrun.Result, error) {
		result, err := h.tools.Execute(ctx, cmd)
		if err != nil {
			return result, err
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(result.Stdout), &payload); err != nil {
			t.Errorf("decode probe output: %v", err)
			return result, nil
		}
		edit(payload)
		data, err := json.Marshal(payload)
		if err != nil {
			t.Errorf("encode probe output: %v", err)
			return result, nil
		}
		result.Stdout = string(data)
		return result, nil
	})
}

func dropDurations(payload map[string]any) {
	delete(payload["format"].(map[string]any), "duration")
	for _, stream := range payload["streams"].([]any) {
		delete(stream.(map[string]any), "duration")
	}
}

func TestEnhanceAcceptsInputWithoutDuration(t *testing.T) {
	h := newHarness(t, nil)
	h.rewriteProbe(t, dropDurations)
	input := h.input(t, "recording.webm", testsupport.Media{
		Video: true, VideoPayload: "vp8", Codec: "opus", SampleRate: 48000, Channels: 1, Duration: 2.5,
	})

	output, err := h.pipeline.Enhance(context.Background(), input)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	got := testsupport.ReadMedia(t, output)
	if !got.Video || got.VideoPayload != "vp8" {
		t.Fatalf("video stream not carried through: %#v", got)
	}
	if n := len(h.tools.CommandsOf(testsupport.ToolSegment)); n != 1 {
		t.Fatalf("expected segmenter to run once, ran %d times", n)
	}
	h.assertNoJobDirs(t)
}

func TestEnhanceCapacityWithoutDurationCheckedAfterSegmenting(t *testing.T) {
	h := newHarness(t, []testsupport.ConfigOption{testsupport.WithOrdinalWidth(1)})
	h.rewriteProbe(t, dropDurations)
	input := h.input(t, "stream.mkv", testsupport.Media{
		Video: true, Codec: "aac", SampleRate: 48000, Channels: 2, Duration: 12,
	})

	_, err := h.pipeline.Enhance(context.Background(), input)
	if !errors.Is(err, services.ErrCapacity) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if n := len(h.tools.CommandsOf(testsupport.ToolSegment)); n != 1 {
		t.Fatalf("expected segmenter to run once, ran %d times", n)
	}
	if n := len(h.tools.CommandsOf(testsupport.ToolFilter)); n != 0 {
		t.Fatalf("filter should not run, ran %d times", n)
	}
	h.assertNoJobDirs(t)
}

func TestEnhanceCapacityUsesAudioStreamDuration(t *testing.T) {
	h := newHarness(t, []testsupport.ConfigOption{testsupport.WithOrdinalWidth(1)})
	// The container runs far past the audio track.
	h.rewriteProbe(t, func(payload map[string]any) {
		payload["format"].(map[string]any)["duration"] = "3600.000000"
	})
	input := h.input(t, "talk.mp4", testsupport.Media{
		Video: true, Codec: "aac", SampleRate: 48000, Channels: 2, Duration: 2.5,
	})

	if _, err := h.pipeline.Enhance(context.Background(), input); err != nil {
		t.Fatalf("Enhance: %v", err)
	}
}

func TestEnhanceRejectsInvalidInputs(t *testing.T) {
	h := newHarness(t, nil)
	if err := os.MkdirAll(filepath.Join(h.mediaDir, "folder.mp3"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	notes := filepath.Join(h.mediaDir, "notes.txt")
	testsupport.WriteOpaque(t, notes, 16)

	for _, input := range []string{
		notes,
		filepath.Join(h.mediaDir, "missing.mp3"),
		filepath.Join(h.mediaDir, "folder.mp3"),
		"",
	} {
		_, err := h.pipeline.Enhance(context.Background(), input)
		var stageErr *enhance.StageError
		if !errors.As(err, &stageErr) || stageErr.Stage != enhance.StageValidate {
			t.Fatalf("%q: expected validate stage error, got %v", input, err)
		}
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("%q: expected validation marker, got %v", input, err)
		}
	}
	if n := len(h.tools.Commands()); n != 0 {
		t.Fatalf("no tool should run for invalid inputs, ran %d", n)
	}
}

func TestEnhanceProbeRejectsUnreadableInput(t *testing.T) {
	h := newHarness(t, nil)
	input := filepath.Join(h.mediaDir, "garbage.mp3")
	testsupport.WriteOpaque(t, input, 64)

	_, err := h.pipeline.Enhance(context.Background(), input)
	if !errors.Is(err, services.ErrProbe) {
		t.Fatalf("expected probe error, got %v", err)
	}
	h.assertNoJobDirs(t)
}

func TestEnhanceProbeRejectsMissingAudio(t *testing.T) {
	h := newHarness(t, nil)
	input := h.input(t, "silent.mp4", testsupport.Media{Video: true, NoAudio: true, Duration: 3})

	_, err := h.pipeline.Enhance(context.Background(), input)
	if !errors.Is(err, services.ErrProbe) || !strings.Contains(err.Error(), "no audio stream") {
		t.Fatalf("expected probe error for missing audio, got %v", err)
	}
}

func TestEnhancePreflightFailureStopsJob(t *testing.T) {
	var seen int64
	check := func(_ *config.Config, inputBytes int64) error {
		seen = inputBytes
		return services.Wrap(services.ErrConfiguration, "preflight", "verify", "deepFilter not found", nil)
	}
	h := newHarness(t, nil, enhance.WithPreflight(check))
	input := h.input(t, "episode.mp3", podcast())
	info, err := os.Stat(input)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	_, err = h.pipeline.Enhance(context.Background(), input)
	var stageErr *enhance.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != enhance.StagePreflight {
		t.Fatalf("expected preflight stage error, got %v", err)
	}
	if stageErr.Kind != services.KindConfiguration {
		t.Fatalf("expected configuration kind, got %s", stageErr.Kind)
	}
	if seen != info.Size() {
		t.Fatalf("preflight saw %d bytes, want %d", seen, info.Size())
	}
	if n := len(h.tools.Commands()); n != 0 {
		t.Fatalf("no tool should run after preflight failure, ran %d", n)
	}
	h.assertNoJobDirs(t)
}

func TestEnhanceCanceledContext(t *testing.T) {
	h := newHarness(t, nil)
	input := h.input(t, "episode.mp3", podcast())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.pipeline.Enhance(ctx, input)
	var stageErr *enhance.StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected *StageError, got %v", err)
	}
	if stageErr.Kind != services.KindCanceled {
		t.Fatalf("expected canceled kind, got %s", stageErr.Kind)
	}
	h.assertNoJobDirs(t)
}

func TestEnhanceCancelDuringFilter(t *testing.T) {
	h := newHarness(t, nil)
	input := h.input(t, "episode.mp3", podcast())
	original := readBytes(t, input)
	ctx, cancel := context.WithCancel(context.Background())
	h.tools.Override(testsupport.ToolFilter, func(ctx context.Context, cmd toolrun.Command) (toolrun.Result, error) {
		cancel()
		return toolrun.Result{ExitCode: -1}, ctx.Err()
	})

	_, err := h.pipeline.Enhance(ctx, input)
	var stageErr *enhance.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != enhance.StageFilter || stageErr.Kind != services.KindCanceled {
		t.Fatalf("expected canceled filter stage, got %v", err)
	}
	if !bytes.Equal(readBytes(t, input), original) {
		t.Fatal("input modified by a canceled job")
	}
	h.assertNoJobDirs(t)
}

func TestEnhanceRecordsHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	tools := testsupport.NewFakeTools(cfg)
	pipeline := enhance.New(cfg, tools, nil, enhance.WithRecorder(store))
	mediaDir := filepath.Join(testsupport.BaseDir(cfg), "media")

	good := filepath.Join(mediaDir, "good.mp3")
	testsupport.WriteMedia(t, good, podcast())
	if _, err := pipeline.Enhance(context.Background(), good); err != nil {
		t.Fatalf("Enhance: %v", err)
	}

	bad := filepath.Join(mediaDir, "bad.mp4")
	testsupport.WriteMedia(t, bad, testsupport.Media{Video: true, Codec: "aac", SampleRate: 48000, Channels: 2, Duration: 1})
	tools.Fail(testsupport.ToolMux, testsupport.Fault{Stderr: "Could not write header"})
	if _, err := pipeline.Enhance(context.Background(), bad); err == nil {
		t.Fatal("expected mux failure")
	}

	runs, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	byInput := map[string]history.Run{}
	for _, run := range runs {
		byInput[filepath.Base(run.InputPath)] = run
	}

	ok := byInput["good.mp3"]
	if ok.Status != history.StatusSucceeded || ok.Segments != 4 || ok.AppliedGain != 1.5 || ok.MediaKind != "audio" {
		t.Fatalf("unexpected success row %#v", ok)
	}
	if ok.OutputPath != good || ok.OutputBytes == 0 {
		t.Fatalf("unexpected output fields %#v", ok)
	}

	failed := byInput["bad.mp4"]
	if failed.Status != history.StatusFailed || failed.FailedStage != enhance.StageRemux || failed.ErrorKind != "mux" {
		t.Fatalf("unexpected failure row %#v", failed)
	}
	if !strings.Contains(failed.ErrorMessage, "Could not write header") {
		t.Fatalf("expected stderr in message, got %q", failed.ErrorMessage)
	}
}

type failingRecorder struct{}

func (failingRecorder) Begin(context.Context, history.Run) error  { return errors.New("disk full") }
func (failingRecorder) Finish(context.Context, history.Run) error { return errors.New("disk full") }

func TestEnhanceSurvivesRecorderFailure(t *testing.T) {
	h := newHarness(t, nil, enhance.WithRecorder(failingRecorder{}))
	input := h.input(t, "episode.mp3", podcast())
	if _, err := h.pipeline.Enhance(context.Background(), input); err != nil {
		t.Fatalf("history failures must not fail the job: %v", err)
	}
}
