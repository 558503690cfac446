package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteOpaque writes size bytes that are not a Media descriptor, so the fake
// probe fails on them the way ffprobe fails on a corrupt file. Sizes below
// one are raised to one.
func WriteOpaque(t testing.TB, path string, size int) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x42}, max(size, 1)), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
