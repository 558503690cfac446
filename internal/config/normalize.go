package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTools()
	c.normalizePipeline()
	c.normalizeMetadata()
	c.normalizeOutput()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeTools() {
	c.Tools.FFmpeg = binaryOverride("HUSH_FFMPEG", c.Tools.FFmpeg, defaultFFmpeg)
	c.Tools.FFprobe = binaryOverride("HUSH_FFPROBE", c.Tools.FFprobe, defaultFFprobe)
	c.Tools.DeepFilter = binaryOverride("HUSH_DEEPFILTER", c.Tools.DeepFilter, defaultDeepFilter)
	c.Tools.Sox = binaryOverride("HUSH_SOX", c.Tools.Sox, defaultSox)
	if c.Tools.SpawnRetries < 0 {
		c.Tools.SpawnRetries = 0
	}
	if c.Tools.SpawnRetryDelayMs < 0 {
		c.Tools.SpawnRetryDelayMs = 0
	}
}

// binaryOverride resolves a tool binary: environment first, then the config
// value, then the default name.
func binaryOverride(envKey, configured, fallback string) string {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured
	}
	return fallback
}

func (c *Config) normalizePipeline() {
	c.Pipeline.VideoAudioCodec = strings.ToLower(strings.TrimSpace(c.Pipeline.VideoAudioCodec))
	if c.Pipeline.VideoAudioCodec == "" {
		c.Pipeline.VideoAudioCodec = defaultVideoAudioCodec
	}
	if len(c.Pipeline.ContainerCodecs) > 0 {
		codecs := make(map[string]string, len(c.Pipeline.ContainerCodecs))
		for ext, codec := range c.Pipeline.ContainerCodecs {
			ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
			codec = strings.ToLower(strings.TrimSpace(codec))
			if ext == "" || codec == "" {
				continue
			}
			codecs[ext] = codec
		}
		c.Pipeline.ContainerCodecs = codecs
	}
}

func (c *Config) normalizeMetadata() {
	if len(c.Metadata.AllowedTags) == 0 {
		c.Metadata.AllowedTags = append([]string(nil), DefaultAllowedTags...)
		return
	}
	tags := make([]string, 0, len(c.Metadata.AllowedTags))
	seen := make(map[string]struct{}, len(c.Metadata.AllowedTags))
	for _, tag := range c.Metadata.AllowedTags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		tags = append(tags, normalized)
	}
	c.Metadata.AllowedTags = tags
}

func (c *Config) normalizeOutput() {
	c.Output.Mode = strings.ToLower(strings.TrimSpace(c.Output.Mode))
	if c.Output.Mode == "" {
		c.Output.Mode = defaultOutputMode
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
