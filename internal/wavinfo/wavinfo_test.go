package wavinfo_test

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hush/internal/wavinfo"
)

func TestInspectReportsLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	samples := make([]int, 48000/2)
	if err := wavinfo.WriteMono(path, 48000, samples); err != nil {
		t.Fatalf("WriteMono: %v", err)
	}
	info, err := wavinfo.Inspect(path)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.SampleRate != 48000 || info.Channels != 1 || info.BitDepth != 16 {
		t.Fatalf("unexpected layout: %+v", info)
	}
	if info.Frames != int64(len(samples)) {
		t.Fatalf("frames = %d, want %d", info.Frames, len(samples))
	}
	if info.Duration != 500*time.Millisecond {
		t.Fatalf("duration = %s", info.Duration)
	}
	if !info.Conforms(48000, 1) || info.Conforms(44100, 1) {
		t.Fatal("Conforms mismatch")
	}
}

func TestInspectRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.wav")
	if err := os.WriteFile(path, []byte("ID3 not a riff file at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := wavinfo.Inspect(path); !errors.Is(err, wavinfo.ErrNotWAV) {
		t.Fatalf("expected ErrNotWAV, got %v", err)
	}
	if _, err := wavinfo.Peak(path); !errors.Is(err, wavinfo.ErrNotWAV) {
		t.Fatalf("expected ErrNotWAV from Peak, got %v", err)
	}
}

func TestPeakFindsLargestMagnitude(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peak.wav")
	samples := make([]int, 20000)
	samples[100] = 8192
	samples[15000] = -16384
	if err := wavinfo.WriteMono(path, 48000, samples); err != nil {
		t.Fatalf("WriteMono: %v", err)
	}
	peak, err := wavinfo.Peak(path)
	if err != nil {
		t.Fatalf("Peak: %v", err)
	}
	if math.Abs(peak-0.5) > 1e-9 {
		t.Fatalf("peak = %v, want 0.5", peak)
	}
}

func TestReadSamplesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ramp.wav")
	samples := []int{0, 1, 2, 3, -4, 5}
	if err := wavinfo.WriteMono(path, 16000, samples); err != nil {
		t.Fatalf("WriteMono: %v", err)
	}
	info, got, err := wavinfo.ReadSamples(path)
	if err != nil {
		t.Fatalf("ReadSamples: %v", err)
	}
	if info.SampleRate != 16000 || len(got) != len(samples) {
		t.Fatalf("unexpected decode: %+v len=%d", info, len(got))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}
