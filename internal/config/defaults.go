package config

const (
	defaultStagingDir           = "~/.local/share/hush/staging"
	defaultLogDir               = "~/.local/share/hush/logs"
	defaultFFmpeg               = "ffmpeg"
	defaultFFprobe              = "ffprobe"
	defaultDeepFilter           = "deepFilter"
	defaultSox                  = "sox"
	defaultToolTimeoutSeconds   = 600
	defaultFilterTimeoutSeconds = 3600
	defaultSpawnRetries         = 2
	defaultSpawnRetryDelayMs    = 200
	defaultCanonicalSampleRate  = 48000
	defaultSegmentSeconds       = 300
	defaultOrdinalWidth         = 3
	defaultFilterAttenuationDB  = 20
	defaultGain                 = 1.5
	defaultPeakCeiling          = 0.98
	defaultMinSampleRate        = 16000
	defaultVideoAudioCodec      = "aac"
	defaultVideoAudioSampleRate = 44100
	defaultOutputMode           = OutputModeReplace
	defaultStaleHours           = 24
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"

	opusSampleRate  = 48000
	maxOrdinalWidth = 6
)

// Output modes.
const (
	OutputModeReplace = "replace"
	OutputModeSibling = "sibling"
)

// DefaultAllowedTags is the metadata allow-list applied when none is configured.
var DefaultAllowedTags = []string{"title", "artist", "album", "track", "date", "comment"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
		},
		Tools: Tools{
			FFmpeg:               defaultFFmpeg,
			FFprobe:              defaultFFprobe,
			DeepFilter:           defaultDeepFilter,
			Sox:                  defaultSox,
			TimeoutSeconds:       defaultToolTimeoutSeconds,
			FilterTimeoutSeconds: defaultFilterTimeoutSeconds,
			SpawnRetries:         defaultSpawnRetries,
			SpawnRetryDelayMs:    defaultSpawnRetryDelayMs,
		},
		Pipeline: Pipeline{
			CanonicalSampleRate:  defaultCanonicalSampleRate,
			SegmentSeconds:       defaultSegmentSeconds,
			OrdinalWidth:         defaultOrdinalWidth,
			FilterAttenuationDB:  defaultFilterAttenuationDB,
			Gain:                 defaultGain,
			LimitPeaks:           true,
			PeakCeiling:          defaultPeakCeiling,
			MinSampleRate:        defaultMinSampleRate,
			VideoAudioCodec:      defaultVideoAudioCodec,
			VideoAudioSampleRate: defaultVideoAudioSampleRate,
			ContainerCodecs:      map[string]string{"webm": "libopus"},
		},
		Metadata: Metadata{
			AllowedTags: append([]string(nil), DefaultAllowedTags...),
		},
		Output: Output{
			Mode: defaultOutputMode,
		},
		History: History{
			Enabled: true,
		},
		Staging: Staging{
			StaleHours: defaultStaleHours,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
