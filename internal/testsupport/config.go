package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"hush/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Pipeline values are shrunk so fake media stays small: an 8 kHz canonical
// rate and one-second segments.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Pipeline.CanonicalSampleRate = 8000
	cfgVal.Pipeline.SegmentSeconds = 1
	cfgVal.Pipeline.MinSampleRate = 8000
	cfgVal.Tools.SpawnRetryDelayMs = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithSegmentSeconds overrides the segment length.
func WithSegmentSeconds(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.SegmentSeconds = seconds
	}
}

// WithOrdinalWidth overrides the segment ordinal width.
func WithOrdinalWidth(width int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.OrdinalWidth = width
	}
}

// WithGain sets the gain multiplier and peak limiting policy.
func WithGain(gain float64, limitPeaks bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Gain = gain
		b.cfg.Pipeline.LimitPeaks = limitPeaks
	}
}

// WithOutputMode selects replace or sibling delivery.
func WithOutputMode(mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Output.Mode = mode
	}
}

// WithAllowedTags replaces the metadata allow-list.
func WithAllowedTags(tags ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Metadata.AllowedTags = tags
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the configured tool binaries are
// stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{b.cfg.Tools.FFmpeg, b.cfg.Tools.FFprobe, b.cfg.Tools.DeepFilter, b.cfg.Tools.Sox}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
