package enhance

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"hush/internal/services"
)

const ffmetadataHeader = ";FFMETADATA1"

// Tag is one container metadata entry.
type Tag struct {
	Key   string
	Value string
}

// RestoreMetadata copies allow-listed global tags from original onto output.
// Stream tags and chapters are never carried. When no tag survives the
// allow-list output is returned untouched.
func (p *Pipeline) RestoreMetadata(ctx context.Context, job *Job, original, output string) (string, error) {
	sidecar := job.Manifest.Track(job.WorkDir.Join("meta.txt"))
	extractArgs := append(ffmpegPrefix(),
		"-i", original,
		"-f", "ffmetadata",
		sidecar,
	)
	if _, err := p.runner.Run(ctx, p.ffmpeg(extractArgs)); err != nil {
		return "", services.Wrap(services.ErrMetadata, StageMetadata, "extract", "", err)
	}

	file, err := os.Open(sidecar)
	if err != nil {
		return "", services.Wrap(services.ErrMetadata, StageMetadata, "read sidecar", "", err)
	}
	tags, err := ParseFFMetadata(file)
	file.Close()
	if err != nil {
		return "", services.Wrap(services.ErrMetadata, StageMetadata, "parse sidecar", "", err)
	}

	kept := FilterTags(tags, p.cfg.IsAllowedTag)
	if len(kept) == 0 {
		p.log(ctx).Debug("no allow-listed tags to restore")
		return output, nil
	}

	filtered := job.Manifest.Track(job.WorkDir.Join("filtered_meta.txt"))
	if err := os.WriteFile(filtered, []byte(FormatFFMetadata(kept)), 0o644); err != nil {
		return "", services.Wrap(services.ErrMetadata, StageMetadata, "write sidecar", "", err)
	}
	tagged := job.Manifest.Track(job.WorkDir.Join("tagged" + job.Ext))
	injectArgs := append(ffmpegPrefix(),
		"-i", output,
		"-i", filtered,
		"-map", "0",
		"-map_metadata", "1",
		"-map_metadata:s", "-1",
		"-map_chapters", "-1",
		"-c", "copy",
		tagged,
	)
	if _, err := p.runner.Run(ctx, p.ffmpeg(injectArgs)); err != nil {
		return "", services.Wrap(services.ErrMetadata, StageMetadata, "inject", "", err)
	}
	return tagged, nil
}

// ParseFFMetadata reads the global section of an ffmetadata file. Parsing
// stops at the first [SECTION] header. Backslash escapes are honoured,
// including an escaped newline continuing a value onto the next line.
func ParseFFMetadata(r io.Reader) ([]Tag, error) {
	reader := bufio.NewReader(r)
	header, err := reader.ReadString('\n')
	if err != nil && header == "" {
		return nil, errors.New("empty metadata file")
	}
	if !strings.HasPrefix(strings.TrimSpace(header), ffmetadataHeader) {
		return nil, fmt.Errorf("missing %s header", ffmetadataHeader)
	}

	var tags []Tag
	for {
		line, more := readMetadataLine(reader)
		switch {
		case line.lead == ';' || line.lead == '#':
			// comment
		case line.lead == '[':
			return tags, nil
		case line.hasSep:
			tags = append(tags, Tag{Key: line.key, Value: line.value})
		}
		if !more {
			return tags, nil
		}
	}
}

type metadataLine struct {
	// lead is the first unescaped rune, or 0 when the line starts with an
	// escape or is empty.
	lead   rune
	key    string
	value  string
	hasSep bool
}

// readMetadataLine consumes one logical line. more is false at end of input.
func readMetadataLine(reader *bufio.Reader) (line metadataLine, more bool) {
	var (
		key, value strings.Builder
		escaped    bool
		first      = true
	)
	for {
		r, _, err := reader.ReadRune()
		if err != nil {
			line.key, line.value = key.String(), value.String()
			return line, false
		}
		if first && r != '\\' && r != '\n' {
			line.lead = r
		}
		first = false
		switch {
		case escaped:
			escaped = false
			if line.hasSep {
				value.WriteRune(r)
			} else {
				key.WriteRune(r)
			}
		case r == '\\':
			escaped = true
		case r == '\n':
			line.key, line.value = key.String(), value.String()
			return line, true
		case r == '=' && !line.hasSep:
			line.hasSep = true
		case line.hasSep:
			value.WriteRune(r)
		default:
			key.WriteRune(r)
		}
	}
}

// FilterTags keeps tags accepted by allowed, case-folding keys and
// NFC-normalizing values. A repeated key keeps its first position and its last
// value.
func FilterTags(tags []Tag, allowed func(string) bool) []Tag {
	folder := cases.Fold()
	var kept []Tag
	index := make(map[string]int)
	for _, tag := range tags {
		key := folder.String(strings.TrimSpace(tag.Key))
		if key == "" || !allowed(key) {
			continue
		}
		value := norm.NFC.String(tag.Value)
		if pos, seen := index[key]; seen {
			kept[pos].Value = value
			continue
		}
		index[key] = len(kept)
		kept = append(kept, Tag{Key: key, Value: value})
	}
	return kept
}

// FormatFFMetadata renders tags as an ffmetadata file.
func FormatFFMetadata(tags []Tag) string {
	var b strings.Builder
	b.WriteString(ffmetadataHeader)
	b.WriteByte('\n')
	for _, tag := range tags {
		b.WriteString(escapeFFMetadata(tag.Key))
		b.WriteByte('=')
		b.WriteString(escapeFFMetadata(tag.Value))
		b.WriteByte('\n')
	}
	return b.String()
}

func escapeFFMetadata(value string) string {
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
