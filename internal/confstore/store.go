// Package confstore edits the product's configuration files for a test and
// puts them back afterwards.
package confstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Store reads and atomically rewrites one configuration file.
type Store struct {
	path   string
	logger zerolog.Logger
}

// New creates a store for path.
func New(path string, logger zerolog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With().Str("component", "confstore").Str("path", path).Logger(),
	}
}

// Path returns the managed file.
func (s *Store) Path() string { return s.path }

// Read returns the file's current content.
func (s *Store) Read() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	return data, nil
}

// Write replaces the file through a temporary file and rename, keeping
// the existing permissions.
func (s *Store) Write(data []byte) error {
	mode := fs.FileMode(0640)
	if info, err := os.Stat(s.path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := writeAtomic(s.path, data, mode); err != nil {
		return err
	}
	s.logger.Debug().Int("bytes", len(data)).Msg("configuration written")
	return nil
}

func writeAtomic(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// Snapshot is a saved copy of a file, or the fact that it did not exist.
type Snapshot struct {
	path    string
	data    []byte
	mode    fs.FileMode
	existed bool
}

// Snapshot records the file's current state.
func (s *Store) Snapshot() (*Snapshot, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Snapshot{path: s.path}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", s.path, err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	return &Snapshot{path: s.path, data: data, mode: info.Mode().Perm(), existed: true}, nil
}

// Restore puts the file back as it was when the snapshot was taken. A
// file that did not exist is removed.
func (snap *Snapshot) Restore() error {
	if !snap.existed {
		if err := os.Remove(snap.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", snap.path, err)
		}
		return nil
	}
	return writeAtomic(snap.path, snap.data, snap.mode)
}

// Apply writes data and returns a function restoring the previous content.
func (s *Store) Apply(data []byte) (func() error, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	if err := s.Write(data); err != nil {
		return nil, err
	}
	return func() error {
		if err := snap.Restore(); err != nil {
			return err
		}
		s.logger.Debug().Msg("configuration restored")
		return nil
	}, nil
}

// Render substitutes every key of values found in tmpl. Longer keys are
// replaced first so a key that prefixes another cannot clobber it.
func Render(tmpl string, values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, values[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
