package csvlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// Set is a group of logs living in one directory and closed together
type Set struct {
	dir  string
	logs map[string]*Log
	keys []string
}

// OpenSet creates dir if needed and opens (truncating) one log per name,
// stored as <dir>/<name>.csv
func OpenSet(dir string, names ...string) (*Set, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	s := Set{dir: dir, logs: make(map[string]*Log, len(names))}
	for _, name := range names {
		if _, ok := s.logs[name]; ok {
			continue
		}

		l, err := Open(filepath.Join(dir, name+Ext))
		if err != nil {
			return nil, errors.Join(err, s.Close())
		}
		s.logs[name] = l
		s.keys = append(s.keys, name)
	}

	return &s, nil
}

// Dir returns the directory of the set
func (s *Set) Dir() string {
	return s.dir
}

// Log returns the named log, or nil if the set has none
func (s *Set) Log(name string) *Log {
	return s.logs[name]
}

// Names returns the log names in the order they were opened
func (s *Set) Names() []string {
	return slices.Clone(s.keys)
}

// Bytes returns the total number of bytes written to all logs
func (s *Set) Bytes() int64 {
	var n int64
	for _, l := range s.logs {
		n += l.Bytes()
	}
	return n
}

// Close closes every log in the set
func (s *Set) Close() error {
	var errs []error
	for _, name := range s.keys {
		if err := s.logs[name].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
