// Package stamp persists the per-source last-run timestamps across nest runs.
// The record is a CBOR map of source name to epoch milliseconds, guarded by a
// cross-process advisory lock so only one nest instance can own a workspace.
package stamp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// ErrLocked reports that another nest instance already holds the workspace.
var ErrLocked = errors.New("timestamp record is locked by another instance")

// Record maps source names to the epoch millis of their last attempted run.
type Record map[string]int64

// LastRun returns the recorded run time for a source and whether one exists.
func (r Record) LastRun(source string) (time.Time, bool) {
	ms, ok := r[source]
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Touch records an attempt for the source at the given time.
func (r Record) Touch(source string, at time.Time) {
	r[source] = at.UnixMilli()
}

// Prune drops entries for sources that are no longer configured.
func (r Record) Prune(configured func(string) bool) {
	for name := range r {
		if !configured(name) {
			delete(r, name)
		}
	}
}

// Store owns the durable timestamp record and its advisory lock.
type Store struct {
	path   string
	lock   *flock.Flock
	logger *zap.Logger

	mu     sync.Mutex // serializes full-record writes
	record Record
}

// New creates a store backed by the given file path. Nothing is read or
// locked until Load.
func New(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:   path,
		logger: logger,
		record: Record{},
	}
}

// Load acquires the advisory lock and reads the record. A held lock is fatal;
// a corrupt or missing record degrades to an empty one. Entries for sources
// not accepted by configured are pruned.
func (s *Store) Load(ctx context.Context, configured func(string) bool) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("create frozen-data dir: %w", err)
	}

	// Fail fast rather than wait: a held lock means another instance is
	// mid-run against this workspace.
	s.lock = flock.New(s.path + ".lock")
	locked, err := s.lock.TryLock()
	if err != nil {
		s.lock = nil
		return nil, fmt.Errorf("acquire timestamp lock: %w", err)
	}
	if !locked {
		s.lock = nil
		return nil, ErrLocked
	}

	raw, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// first run against this workspace
	case err != nil:
		s.logger.Warn("timestamp record unreadable, starting empty", zap.Error(err))
	default:
		var rec Record
		if derr := cbor.Unmarshal(raw, &rec); derr != nil {
			s.logger.Warn("timestamp record corrupt, starting empty", zap.Error(derr))
		} else {
			s.record = rec
		}
	}
	if s.record == nil {
		s.record = Record{}
	}
	if configured != nil {
		s.record.Prune(configured)
	}
	return s.record, nil
}

// Persist overwrites the durable record with the current in-memory state.
// Writes are serialized so concurrent callers cannot interleave partial
// records.
func (s *Store) Persist(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := cbor.Marshal(s.record)
	if err != nil {
		return fmt.Errorf("encode timestamp record: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write timestamp record: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace timestamp record: %w", err)
	}
	return nil
}

// Unlock releases the advisory lock. Safe to call repeatedly and when no
// lock is held; every exit path should call it.
func (s *Store) Unlock() {
	if s.lock == nil {
		return
	}
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("release timestamp lock", zap.Error(err))
	}
	s.lock = nil
}
