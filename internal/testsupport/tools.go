package testsupport

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"hush/internal/config"
	"hush/internal/services"
	"hush/internal/toolrun"
	"hush/internal/wavinfo"
)

// Media is a fake media file. Tests write these JSON descriptors in place of
// real containers; FakeTools probes, decodes and remuxes them while producing
// genuine WAV files for the intermediate PCM artifacts.
type Media struct {
	Video        bool    `json:"video,omitempty"`
	CoverArt     bool    `json:"cover_art,omitempty"`
	NoAudio      bool    `json:"no_audio,omitempty"`
	Codec        string  `json:"codec,omitempty"`
	SampleRate   int     `json:"sample_rate,omitempty"`
	Channels     int     `json:"channels,omitempty"`
	Duration     float64 `json:"duration,omitempty"`
	Amplitude    float64 `json:"amplitude,omitempty"`
	Tags         []Tag   `json:"tags,omitempty"`
	StreamTags   []Tag   `json:"stream_tags,omitempty"`
	Chapters     []Tag   `json:"chapters,omitempty"`
	VideoPayload string  `json:"video_payload,omitempty"`
	AudioDigest  string  `json:"audio_digest,omitempty"`
	AudioSamples int     `json:"audio_samples,omitempty"`
}

// Tag is one container metadata entry.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Tool kinds reported by FakeTools.Classify.
const (
	ToolProbe           = "probe"
	ToolCanonicalize    = "canonicalize"
	ToolSegment         = "segment"
	ToolFilter          = "filter"
	ToolCombine         = "combine"
	ToolGain            = "gain"
	ToolEncode          = "encode"
	ToolMux             = "mux"
	ToolMetadataExtract = "metadata_extract"
	ToolMetadataInject  = "metadata_inject"
	ToolUnknown         = "unknown"
)

const defaultAmplitude = 0.5

// FilterSuffix is appended to each segment stem by the fake suppression tool,
// mirroring DeepFilterNet's output naming.
const FilterSuffix = "_DeepFilterNet3"

// WriteMedia stores a media descriptor at path.
func WriteMedia(t testing.TB, path string, media Media) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	data, err := json.MarshalIndent(media, "", "  ")
	if err != nil {
		t.Fatalf("marshal media: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write media %s: %v", path, err)
	}
}

// ReadMedia loads a media descriptor written by WriteMedia or FakeTools.
func ReadMedia(t testing.TB, path string) Media {
	t.Helper()
	media, err := loadMedia(path)
	if err != nil {
		t.Fatalf("read media %s: %v", path, err)
	}
	return media
}

func loadMedia(path string) (Media, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Media{}, err
	}
	var media Media
	if err := json.Unmarshal(data, &media); err != nil {
		return Media{}, fmt.Errorf("not a media descriptor: %w", err)
	}
	return media, nil
}

func saveMedia(path string, media Media) error {
	data, err := json.MarshalIndent(media, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// FakeSamples returns the deterministic PCM the fake decoder produces for a
// source of the given duration.
func FakeSamples(sampleRate int, seconds, amplitude float64) []int {
	if amplitude <= 0 {
		amplitude = defaultAmplitude
	}
	n := int(math.Round(seconds * float64(sampleRate)))
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(math.Round(amplitude * 32767 * math.Sin(float64(i)*0.013)))
	}
	return samples
}

// ScaleSamples applies a linear gain with 16-bit clamping, as sox vol does.
func ScaleSamples(samples []int, gain float64) []int {
	out := make([]int, len(samples))
	for i, sample := range samples {
		scaled := math.Round(float64(sample) * gain)
		out[i] = int(math.Max(math.MinInt16, math.Min(math.MaxInt16, scaled)))
	}
	return out
}

// Digest fingerprints a sample sequence.
func Digest(samples []int) string {
	hasher := sha256.New()
	buf := make([]byte, 2)
	for _, sample := range samples {
		binary.LittleEndian.PutUint16(buf, uint16(int16(sample)))
		hasher.Write(buf)
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// Fault makes a tool invocation fail with the given exit code. When Partial is
// set the tool first leaves a truncated output behind.
type Fault struct {
	ExitCode int
	Stderr   string
	Partial  bool
}

// Handler replaces the fake behaviour for one tool kind.
type Handler func(ctx context.Context, cmd toolrun.Command) (toolrun.Result, error)

// FakeTools is a toolrun.Runner that emulates ffprobe, ffmpeg, deepFilter
// and sox on Media descriptors and real WAV files.
type FakeTools struct {
	FFmpeg     string
	FFprobe    string
	DeepFilter string
	Sox        string

	mu        sync.Mutex
	commands  []toolrun.Command
	faults    map[string]Fault
	overrides map[string]Handler
}

// NewFakeTools builds a fake runner answering to the binaries named in cfg.
func NewFakeTools(cfg *config.Config) *FakeTools {
	return &FakeTools{
		FFmpeg:     cfg.Tools.FFmpeg,
		FFprobe:    cfg.Tools.FFprobe,
		DeepFilter: cfg.Tools.DeepFilter,
		Sox:        cfg.Tools.Sox,
		faults:     make(map[string]Fault),
		overrides:  make(map[string]Handler),
	}
}

// Fail injects a failure for every invocation of the given kind.
func (f *FakeTools) Fail(kind string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fault.ExitCode == 0 {
		fault.ExitCode = 1
	}
	f.faults[kind] = fault
}

// Override installs a custom handler for the given kind. The handler may call
// Execute to get the default behaviour.
func (f *FakeTools) Override(kind string, handler Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides[kind] = handler
}

// Commands returns every command seen so far.
func (f *FakeTools) Commands() []toolrun.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.commands)
}

// CommandsOf returns the recorded commands of one kind.
func (f *FakeTools) CommandsOf(kind string) []toolrun.Command {
	var matched []toolrun.Command
	for _, cmd := range f.Commands() {
		if f.Classify(cmd) == kind {
			matched = append(matched, cmd)
		}
	}
	return matched
}

// Classify names the pipeline operation a command performs.
func (f *FakeTools) Classify(cmd toolrun.Command) string {
	args := cmd.Args
	switch cmd.Name {
	case f.FFprobe:
		return ToolProbe
	case f.DeepFilter:
		return ToolFilter
	case f.Sox:
		if slices.Contains(args, "vol") {
			return ToolGain
		}
		return ToolCombine
	case f.FFmpeg:
		switch {
		case hasPair(args, "-f", "segment"):
			return ToolSegment
		case hasPair(args, "-f", "ffmetadata"):
			return ToolMetadataExtract
		case hasPair(args, "-map_metadata", "1"):
			return ToolMetadataInject
		case hasPair(args, "-c:a", "pcm_s16le"):
			return ToolCanonicalize
		case hasPair(args, "-c:v", "copy"):
			return ToolMux
		default:
			return ToolEncode
		}
	}
	return ToolUnknown
}

// Run implements toolrun.Runner.
func (f *FakeTools) Run(ctx context.Context, cmd toolrun.Command) (toolrun.Result, error) {
	kind := f.Classify(cmd)
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	fault, failing := f.faults[kind]
	handler := f.overrides[kind]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return toolrun.Result{ExitCode: -1}, fmt.Errorf("%s: %w", cmd.Name, err)
	}
	if failing {
		if fault.Partial {
			f.writePartial(kind, cmd)
		}
		return failure(cmd, fault.ExitCode, fault.Stderr)
	}
	if handler != nil {
		return handler(ctx, cmd)
	}
	return f.Execute(ctx, cmd)
}

// Execute performs the default fake behaviour for cmd.
func (f *FakeTools) Execute(_ context.Context, cmd toolrun.Command) (toolrun.Result, error) {
	var (
		stdout string
		err    error
	)
	switch f.Classify(cmd) {
	case ToolProbe:
		stdout, err = fakeProbe(cmd.Args)
	case ToolCanonicalize:
		err = fakeCanonicalize(cmd.Args)
	case ToolSegment:
		err = fakeSegment(cmd.Args)
	case ToolFilter:
		err = fakeFilter(cmd.Args)
	case ToolCombine:
		err = fakeCombine(cmd.Args)
	case ToolGain:
		err = fakeGain(cmd.Args)
	case ToolEncode:
		err = fakeEncode(cmd.Args)
	case ToolMux:
		err = fakeMux(cmd.Args)
	case ToolMetadataExtract:
		err = fakeMetadataExtract(cmd.Args)
	case ToolMetadataInject:
		err = fakeMetadataInject(cmd.Args)
	default:
		err = fmt.Errorf("unknown command %s", cmd.Name)
	}
	if err != nil {
		return failure(cmd, 1, err.Error())
	}
	return toolrun.Result{Stdout: stdout}, nil
}

func failure(cmd toolrun.Command, code int, stderr string) (toolrun.Result, error) {
	if stderr == "" {
		stderr = "simulated failure"
	}
	result := toolrun.Result{ExitCode: code, Stderr: stderr}
	return result, services.Wrap(services.ErrExternalTool, "", cmd.Name,
		fmt.Sprintf("exit status %d: %s", code, toolrun.StderrTail(stderr)), nil)
}

func (f *FakeTools) writePartial(kind string, cmd toolrun.Command) {
	if len(cmd.Args) == 0 {
		return
	}
	target := cmd.Args[len(cmd.Args)-1]
	switch kind {
	case ToolProbe:
		return
	case ToolSegment:
		target = fmt.Sprintf(target, 0)
	case ToolFilter:
		dir, _ := argAfter(cmd.Args, "-o")
		if dir == "" {
			return
		}
		_ = os.MkdirAll(dir, 0o755)
		target = filepath.Join(dir, "partial"+FilterSuffix+".wav")
	}
	_ = os.WriteFile(target, []byte("partial"), 0o644)
}

func fakeProbe(args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("no input")
	}
	path := args[len(args)-1]
	media, err := loadMedia(path)
	if err != nil {
		return "", fmt.Errorf("%s: Invalid data found when processing input", path)
	}

	type stream struct {
		Index       int            `json:"index"`
		CodecName   string         `json:"codec_name"`
		CodecType   string         `json:"codec_type"`
		SampleRate  string         `json:"sample_rate,omitempty"`
		Channels    int            `json:"channels,omitempty"`
		Duration    string         `json:"duration,omitempty"`
		Disposition map[string]int `json:"disposition"`
	}
	var streams []stream
	if media.Video {
		streams = append(streams, stream{CodecName: "h264", CodecType: "video",
			Disposition: map[string]int{"default": 1, "attached_pic": 0}})
	}
	if !media.NoAudio {
		codec := media.Codec
		if codec == "" {
			codec = "mp3"
		}
		channels := media.Channels
		if channels == 0 {
			channels = 2
		}
		streams = append(streams, stream{
			CodecName:   codec,
			CodecType:   "audio",
			SampleRate:  strconv.Itoa(media.SampleRate),
			Channels:    channels,
			Duration:    strconv.FormatFloat(media.Duration, 'f', 6, 64),
			Disposition: map[string]int{"default": 1, "attached_pic": 0},
		})
	}
	if media.CoverArt {
		streams = append(streams, stream{CodecName: "mjpeg", CodecType: "video",
			Disposition: map[string]int{"default": 0, "attached_pic": 1}})
	}
	for i := range streams {
		streams[i].Index = i
	}

	tags := make(map[string]string, len(media.Tags))
	for _, tag := range media.Tags {
		tags[tag.Key] = tag.Value
	}
	info, _ := os.Stat(path)
	var size int64
	if info != nil {
		size = info.Size()
	}
	payload := map[string]any{
		"streams": streams,
		"format": map[string]any{
			"filename":    path,
			"nb_streams":  len(streams),
			"format_name": strings.TrimPrefix(filepath.Ext(path), "."),
			"duration":    strconv.FormatFloat(media.Duration, 'f', 6, 64),
			"size":        strconv.FormatInt(size, 10),
			"tags":        tags,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func fakeCanonicalize(args []string) error {
	input, _ := argAfter(args, "-i")
	rate, err := intArg(args, "-ar")
	if err != nil {
		return err
	}
	media, err := loadMedia(input)
	if err != nil {
		return fmt.Errorf("%s: Invalid data found when processing input", input)
	}
	if media.NoAudio {
		return errors.New("Output file does not contain any stream")
	}
	samples := FakeSamples(rate, media.Duration, media.Amplitude)
	return wavinfo.WriteMono(args[len(args)-1], rate, samples)
}

func fakeSegment(args []string) error {
	input, _ := argAfter(args, "-i")
	seconds, err := intArg(args, "-segment_time")
	if err != nil {
		return err
	}
	info, samples, err := wavinfo.ReadSamples(input)
	if err != nil {
		return err
	}
	pattern := args[len(args)-1]
	chunk := seconds * info.SampleRate
	if chunk <= 0 {
		return errors.New("invalid segment_time")
	}
	for index, start := 0, 0; start < len(samples); index, start = index+1, start+chunk {
		end := min(start+chunk, len(samples))
		if err := wavinfo.WriteMono(fmt.Sprintf(pattern, index), info.SampleRate, samples[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func fakeFilter(args []string) error {
	var (
		outDir string
		inputs []string
	)
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-a":
			i++
		case "-o":
			if i+1 < len(args) {
				outDir = args[i+1]
			}
			i++
		default:
			inputs = append(inputs, args[i])
		}
	}
	if outDir == "" || len(inputs) == 0 {
		return errors.New("usage: deepFilter [-a DB] -o DIR FILES...")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, input := range inputs {
		info, samples, err := wavinfo.ReadSamples(input)
		if err != nil {
			return err
		}
		stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		if err := wavinfo.WriteMono(filepath.Join(outDir, stem+FilterSuffix+".wav"), info.SampleRate, samples); err != nil {
			return err
		}
	}
	return nil
}

func fakeCombine(args []string) error {
	if len(args) < 2 {
		return errors.New("sox FAIL: not enough input filenames")
	}
	var (
		rate     int
		combined []int
	)
	for _, input := range args[:len(args)-1] {
		info, samples, err := wavinfo.ReadSamples(input)
		if err != nil {
			return fmt.Errorf("sox FAIL formats: can't open input file %q: %w", input, err)
		}
		if rate != 0 && info.SampleRate != rate {
			return errors.New("sox FAIL sox: Input files must have the same sample-rate")
		}
		rate = info.SampleRate
		combined = append(combined, samples...)
	}
	return wavinfo.WriteMono(args[len(args)-1], rate, combined)
}

func fakeGain(args []string) error {
	if len(args) != 4 {
		return errors.New("sox FAIL: usage sox in out vol gain")
	}
	gain, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return fmt.Errorf("sox FAIL vol: parameter `%s' invalid", args[3])
	}
	info, samples, err := wavinfo.ReadSamples(args[0])
	if err != nil {
		return err
	}
	return wavinfo.WriteMono(args[1], info.SampleRate, ScaleSamples(samples, gain))
}

func fakeEncode(args []string) error {
	input, _ := argAfter(args, "-i")
	rate, err := intArg(args, "-ar")
	if err != nil {
		return err
	}
	info, samples, err := wavinfo.ReadSamples(input)
	if err != nil {
		return err
	}
	codec, ok := argAfter(args, "-c:a")
	if !ok {
		codec = "default"
	}
	channels := info.Channels
	if value, ok := argAfter(args, "-ac"); ok {
		channels, _ = strconv.Atoi(value)
	}
	return saveMedia(args[len(args)-1], Media{
		Codec:        codec,
		SampleRate:   rate,
		Channels:     channels,
		Duration:     float64(len(samples)) / float64(info.SampleRate),
		AudioDigest:  Digest(samples),
		AudioSamples: len(samples),
	})
}

func fakeMux(args []string) error {
	inputs := argsAfter(args, "-i")
	if len(inputs) != 2 {
		return errors.New("mux expects two inputs")
	}
	source, err := loadMedia(inputs[0])
	if err != nil {
		return err
	}
	delivery, err := loadMedia(inputs[1])
	if err != nil {
		return err
	}
	if !source.Video {
		return errors.New("Stream map '0:v' matches no streams")
	}
	out := Media{
		Video:        true,
		VideoPayload: source.VideoPayload,
		Codec:        delivery.Codec,
		SampleRate:   delivery.SampleRate,
		Channels:     delivery.Channels,
		Duration:     delivery.Duration,
		AudioDigest:  delivery.AudioDigest,
		AudioSamples: delivery.AudioSamples,
	}
	if !hasPair(args, "-map_metadata", "-1") {
		out.Tags = source.Tags
	}
	// ffmpeg copies per-stream metadata and chapters with the mapped streams
	// unless a mapping of that type is given.
	if !hasPair(args, "-map_metadata:s", "-1") {
		out.StreamTags = source.StreamTags
	}
	if !hasPair(args, "-map_chapters", "-1") {
		out.Chapters = source.Chapters
	}
	return saveMedia(args[len(args)-1], out)
}

func fakeMetadataExtract(args []string) error {
	input, _ := argAfter(args, "-i")
	media, err := loadMedia(input)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	for _, tag := range media.Tags {
		b.WriteString(escapeMetadata(tag.Key))
		b.WriteByte('=')
		b.WriteString(escapeMetadata(tag.Value))
		b.WriteByte('\n')
	}
	return os.WriteFile(args[len(args)-1], []byte(b.String()), 0o644)
}

func fakeMetadataInject(args []string) error {
	inputs := argsAfter(args, "-i")
	if len(inputs) != 2 {
		return errors.New("metadata inject expects two inputs")
	}
	media, err := loadMedia(inputs[0])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(inputs[1])
	if err != nil {
		return err
	}
	tags, err := parseMetadata(string(data))
	if err != nil {
		return err
	}
	media.Tags = tags
	if hasPair(args, "-map_metadata:s", "-1") {
		media.StreamTags = nil
	}
	if hasPair(args, "-map_chapters", "-1") {
		media.Chapters = nil
	}
	return saveMedia(args[len(args)-1], media)
}

func escapeMetadata(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch r {
		case '=', ';', '#', '\\', '\n':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// parseMetadata is a minimal ffmetadata reader for the global section.
func parseMetadata(text string) ([]Tag, error) {
	if !strings.HasPrefix(text, ";FFMETADATA1") {
		return nil, errors.New("missing ffmetadata header")
	}
	text = strings.TrimPrefix(text, ";FFMETADATA1")
	var (
		tags       []Tag
		key, value strings.Builder
		inValue    bool
		escaped    bool
	)
	flush := func() {
		if inValue && key.Len() > 0 {
			tags = append(tags, Tag{Key: key.String(), Value: value.String()})
		}
		key.Reset()
		value.Reset()
		inValue = false
	}
	for _, r := range text {
		target := &key
		if inValue {
			target = &value
		}
		switch {
		case escaped:
			target.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '\n':
			flush()
		case r == '=' && !inValue:
			inValue = true
		default:
			target.WriteRune(r)
		}
	}
	flush()
	return tags, nil
}

func argAfter(args []string, flag string) (string, bool) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1], true
		}
	}
	return "", false
}

func argsAfter(args []string, flag string) []string {
	var values []string
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			values = append(values, args[i+1])
		}
	}
	return values
}

func intArg(args []string, flag string) (int, error) {
	value, ok := argAfter(args, flag)
	if !ok {
		return 0, fmt.Errorf("missing %s", flag)
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q", flag, value)
	}
	return parsed, nil
}

func hasPair(args []string, flag, value string) bool {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}
