// Package csvlog writes the per-stream telemetry logs: one comma separated
// row per record, the firmware timestamp first.
package csvlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// Ext is the extension of every log file
const Ext = ".csv"

// Log is a single append-only CSV log. It is safe for concurrent use.
type Log struct {
	path string
	file *os.File

	mu sync.Mutex
	w  *csv.Writer

	written atomic.Int64
	closed  bool
}

type countingWriter struct {
	w io.Writer
	n *atomic.Int64
}

func (c countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(int64(n))
	return n, err
}

// Open creates or truncates the log file at path
func Open(path string) (*Log, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating log %s: %w", path, err)
	}

	l := Log{path: path, file: f}
	l.w = csv.NewWriter(countingWriter{w: f, n: &l.written})

	return &l, nil
}

// Path returns the file path of the log
func (l *Log) Path() string {
	return l.path
}

// Bytes returns the number of bytes written so far
func (l *Log) Bytes() int64 {
	return l.written.Load()
}

// Write appends one row. Each row is flushed to the file immediately so the
// log survives an abrupt end of the flight.
func (l *Log) Write(timestamp uint32, values ...any) error {
	row := make([]string, 0, len(values)+1)
	row = append(row, strconv.FormatUint(uint64(timestamp), 10))
	for _, v := range values {
		row = append(row, format(v))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return os.ErrClosed
	}

	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("writing %s: %w", l.path, err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", l.path, err)
	}

	return nil
}

// Close flushes and closes the file. Calling Close twice is a no-op.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	l.w.Flush()
	return errors.Join(l.w.Error(), l.file.Close())
}

// format renders a value the way the plotting scripts parse it: booleans as
// True/False, floats in their shortest exact form
func format(v any) string {
	switch v := v.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		if v {
			return "True"
		}
		return "False"
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
