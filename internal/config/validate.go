package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTools(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateOutput(); err != nil {
		return err
	}
	if c.Staging.StaleHours <= 0 {
		return errors.New("staging.stale_hours must be positive")
	}
	return nil
}

func (c *Config) validateTools() error {
	return ensurePositiveMap(map[string]int{
		"tools.timeout_seconds":        c.Tools.TimeoutSeconds,
		"tools.filter_timeout_seconds": c.Tools.FilterTimeoutSeconds,
	})
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if err := ensurePositiveMap(map[string]int{
		"pipeline.canonical_sample_rate":   p.CanonicalSampleRate,
		"pipeline.segment_seconds":         p.SegmentSeconds,
		"pipeline.filter_attenuation_db":   p.FilterAttenuationDB,
		"pipeline.min_sample_rate":         p.MinSampleRate,
		"pipeline.video_audio_sample_rate": p.VideoAudioSampleRate,
	}); err != nil {
		return err
	}
	if p.OrdinalWidth < 1 || p.OrdinalWidth > maxOrdinalWidth {
		return fmt.Errorf("pipeline.ordinal_width must be between 1 and %d", maxOrdinalWidth)
	}
	if p.Gain <= 0 {
		return errors.New("pipeline.gain must be positive")
	}
	if p.PeakCeiling <= 0 || p.PeakCeiling > 1 {
		return errors.New("pipeline.peak_ceiling must be in (0, 1]")
	}
	return nil
}

func (c *Config) validateOutput() error {
	switch c.Output.Mode {
	case OutputModeReplace, OutputModeSibling:
		return nil
	default:
		return fmt.Errorf("output.mode must be %q or %q, got %q", OutputModeReplace, OutputModeSibling, c.Output.Mode)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
