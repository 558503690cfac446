package enhance

import (
	"path/filepath"
	"strings"
)

var audioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".aac":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".opus": true,
	".wma":  true,
}

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".webm": true,
}

// opusRates are the only sample rates libopus accepts.
var opusRates = []int{8000, 12000, 16000, 24000, 48000}

// Supported reports whether the file extension is one hush accepts.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return audioExtensions[ext] || videoExtensions[ext]
}

// SupportedExtensions lists accepted extensions, audio first.
func SupportedExtensions() []string {
	return []string{".wav", ".mp3", ".aac", ".m4a", ".flac", ".ogg", ".opus", ".wma", ".mp4", ".mkv", ".webm"}
}

// audioOnlyCodec returns the encoder forced for an audio-only output, or ""
// to let ffmpeg pick the container default.
func audioOnlyCodec(ext string) string {
	switch strings.ToLower(ext) {
	case ".opus", ".webm":
		return "libopus"
	}
	return ""
}

// snapOpusRate rounds rate up to the nearest rate libopus accepts.
func snapOpusRate(rate int) int {
	for _, candidate := range opusRates {
		if rate <= candidate {
			return candidate
		}
	}
	return opusRates[len(opusRates)-1]
}

// deliveryExt picks the intermediate container for a video-path audio codec.
func deliveryExt(codec string) string {
	if codec == "aac" {
		return ".m4a"
	}
	return ".mka"
}

// SiblingPath returns <stem>.enhanced<ext> next to input.
func SiblingPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + ".enhanced" + ext
}
