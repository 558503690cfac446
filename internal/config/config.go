package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
}

// Tools names the external processors and how they are invoked.
type Tools struct {
	FFmpeg               string `toml:"ffmpeg"`
	FFprobe              string `toml:"ffprobe"`
	DeepFilter           string `toml:"deep_filter"`
	Sox                  string `toml:"sox"`
	TimeoutSeconds       int    `toml:"timeout_seconds"`
	FilterTimeoutSeconds int    `toml:"filter_timeout_seconds"`
	SpawnRetries         int    `toml:"spawn_retries"`
	SpawnRetryDelayMs    int    `toml:"spawn_retry_delay_ms"`
}

// Pipeline holds the policy values applied by each enhancement stage.
type Pipeline struct {
	CanonicalSampleRate  int               `toml:"canonical_sample_rate"`
	SegmentSeconds       int               `toml:"segment_seconds"`
	OrdinalWidth         int               `toml:"ordinal_width"`
	FilterAttenuationDB  int               `toml:"filter_attenuation_db"`
	Gain                 float64           `toml:"gain"`
	LimitPeaks           bool              `toml:"limit_peaks"`
	PeakCeiling          float64           `toml:"peak_ceiling"`
	MinSampleRate        int               `toml:"min_sample_rate"`
	VideoAudioCodec      string            `toml:"video_audio_codec"`
	VideoAudioSampleRate int               `toml:"video_audio_sample_rate"`
	ContainerCodecs      map[string]string `toml:"container_codecs"`
}

// Metadata controls which container tags survive into the output.
type Metadata struct {
	AllowedTags []string `toml:"allowed_tags"`
}

// Output controls how the finished artifact is delivered.
type Output struct {
	// Mode is "replace" (overwrite the input) or "sibling" (write
	// <stem>.enhanced<ext> next to it).
	Mode string `toml:"mode"`
}

// History toggles the SQLite job ledger.
type History struct {
	Enabled bool `toml:"enabled"`
}

// Staging controls cleanup of abandoned job directories.
type Staging struct {
	StaleHours int `toml:"stale_hours"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for hush.
//
// Configuration sections by subsystem:
//   - Paths: staging (per-job working directories) and log/history location
//   - Tools: external processor binaries, timeouts and spawn retries
//   - Pipeline: sample rates, segment layout, filter strength and gain policy
//   - Metadata: tag allow-list
//   - Output: replace-in-place or sibling delivery
//   - History: job ledger toggle
//   - Staging: stale directory threshold
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Tools    Tools    `toml:"tools"`
	Pipeline Pipeline `toml:"pipeline"`
	Metadata Metadata `toml:"metadata"`
	Output   Output   `toml:"output"`
	History  History  `toml:"history"`
	Staging  Staging  `toml:"staging"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/hush/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("hush.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the staging and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// HistoryPath returns the job history database location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.LogDir, "history.db")
}

// LogFilePath returns the persistent log file location.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "hush.log")
}

// IsAllowedTag reports whether key is on the metadata allow-list. Matching is
// case-insensitive because Vorbis-comment containers report upper-case keys.
func (c *Config) IsAllowedTag(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, allowed := range c.Metadata.AllowedTags {
		if allowed == key {
			return true
		}
	}
	return false
}

// CodecForContainer returns the delivery audio codec and sample rate used for
// video remuxing into a container with the given extension.
func (c *Config) CodecForContainer(ext string) (string, int) {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if codec, ok := c.Pipeline.ContainerCodecs[ext]; ok && codec != "" {
		if codec == "libopus" || codec == "opus" {
			return codec, opusSampleRate
		}
		return codec, c.Pipeline.VideoAudioSampleRate
	}
	return c.Pipeline.VideoAudioCodec, c.Pipeline.VideoAudioSampleRate
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
