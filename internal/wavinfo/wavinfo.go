// Package wavinfo reads PCM WAV headers and samples so the pipeline can
// verify canonical segments and measure peaks without shelling out.
package wavinfo

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const readChunk = 8192

// ErrNotWAV reports a file without a valid RIFF/WAVE header.
var ErrNotWAV = errors.New("not a valid wav file")

// Info describes the stream layout of a WAV file.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int64
	Duration   time.Duration
}

// Conforms reports whether the file matches the expected rate and channel count.
func (i Info) Conforms(sampleRate, channels int) bool {
	return i.SampleRate == sampleRate && i.Channels == channels
}

// Inspect reads the WAV header at path.
func Inspect(path string) (Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open wav: %w", err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return Info{}, fmt.Errorf("%s: %w", path, ErrNotWAV)
	}
	if err := decoder.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("read wav header %s: %w", path, err)
	}
	info := Info{
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
	}
	if frameBytes := int64(info.Channels) * int64(info.BitDepth/8); frameBytes > 0 {
		info.Frames = int64(decoder.PCMSize) / frameBytes
	}
	if info.SampleRate > 0 {
		info.Duration = time.Duration(float64(info.Frames) / float64(info.SampleRate) * float64(time.Second))
	}
	return info, nil
}

// Peak returns the largest absolute sample value in the file as a fraction of
// full scale, in [0, 1].
func Peak(path string) (float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open wav: %w", err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return 0, fmt.Errorf("%s: %w", path, ErrNotWAV)
	}
	if err := decoder.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("read wav header %s: %w", path, err)
	}
	if decoder.BitDepth == 0 {
		return 0, fmt.Errorf("%s: zero bit depth", path)
	}

	buf := &audio.IntBuffer{Format: decoder.Format(), Data: make([]int, readChunk)}
	peak := 0
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("read samples %s: %w", path, err)
		}
		for _, sample := range buf.Data[:n] {
			if sample < 0 {
				sample = -sample
			}
			if sample > peak {
				peak = sample
			}
		}
		if n == 0 || err != nil {
			break
		}
	}
	fullScale := math.Exp2(float64(decoder.BitDepth - 1))
	return math.Min(float64(peak)/fullScale, 1), nil
}

// ReadSamples decodes every sample in the file (interleaved when multi-channel).
func ReadSamples(path string) (Info, []int, error) {
	info, err := Inspect(path)
	if err != nil {
		return Info{}, nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return Info{}, nil, fmt.Errorf("open wav: %w", err)
	}
	defer file.Close()

	buf, err := wav.NewDecoder(file).FullPCMBuffer()
	if err != nil {
		return Info{}, nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return info, buf.Data, nil
}

// WriteMono writes 16-bit mono PCM samples to path.
func WriteMono(path string, sampleRate int, samples []int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	encoder := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := encoder.Write(buf); err != nil {
		_ = file.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := encoder.Close(); err != nil {
		_ = file.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return file.Close()
}
