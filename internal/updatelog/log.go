// Package updatelog maintains the append-only discovery log: one
// independently-encoded CBOR record per newly discovered entry, never
// mutated or deleted in place.
package updatelog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Verbs recorded against log entries.
const (
	VerbDocumented = "documented"
	VerbUpdated    = "updated"
)

// Entry is one append-only discovery record.
type Entry struct {
	Provider     string   `cbor:"provider"`
	ID           string   `cbor:"id"`
	Verb         string   `cbor:"verb"`
	Words        []string `cbor:"words"`
	Link         string   `cbor:"link"`
	Body         string   `cbor:"body"`
	ProviderLink string   `cbor:"providerLink"`
	// Timestamp is epoch milliseconds, matching the on-disk format shared
	// with feed consumers.
	Timestamp int64 `cbor:"timestamp"`
}

// Time returns the entry timestamp as wall-clock time.
func (e Entry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Log appends and reads the on-disk record sequence. Writes are serialized
// through a single slot so concurrent appends can never interleave partial
// records.
type Log struct {
	path string
	mu   sync.Mutex
}

// New returns a log backed by the file at path. The file is created on the
// first append.
func New(path string) *Log {
	return &Log{path: path}
}

// Append encodes the entry and appends it to the log.
func (l *Log) Append(e Entry) error {
	raw, err := cbor.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode update-log entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create update-log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open update-log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(raw); err != nil {
		return fmt.Errorf("append update-log entry: %w", err)
	}
	return nil
}

// ReadAll decodes the full sequence in chronological (append) order. A
// missing log file yields an empty slice.
func (l *Log) ReadAll() ([]Entry, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open update-log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	dec := cbor.NewDecoder(f)
	for {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return entries, nil
			}
			return nil, fmt.Errorf("decode update-log entry %d: %w", len(entries), err)
		}
		entries = append(entries, e)
	}
}
