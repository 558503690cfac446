package enhance

import (
	"errors"
	"fmt"
	"os"
	"slices"
)

// Manifest is the ordered list of artifacts created for a job. Everything it
// names is removed by Release.
type Manifest struct {
	paths []string
}

// Track records an artifact. Paths are recorded before the producing tool
// runs so partial output is also cleaned up.
func (m *Manifest) Track(path string) string {
	if !slices.Contains(m.paths, path) {
		m.paths = append(m.paths, path)
	}
	return path
}

// Paths returns the tracked artifacts in creation order.
func (m *Manifest) Paths() []string {
	return slices.Clone(m.paths)
}

// Remove deletes one artifact early and stops tracking it.
func (m *Manifest) Remove(path string) error {
	idx := slices.Index(m.paths, path)
	if idx < 0 {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove artifact %s: %w", path, err)
	}
	m.paths = slices.Delete(m.paths, idx, idx+1)
	return nil
}

// Release removes every tracked artifact, newest first. Missing artifacts are
// not an error.
func (m *Manifest) Release() error {
	var errs []error
	for i := len(m.paths) - 1; i >= 0; i-- {
		if err := os.RemoveAll(m.paths[i]); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove artifact %s: %w", m.paths[i], err))
		}
	}
	m.paths = nil
	return errors.Join(errs...)
}
