// Package media resolves lazy media references during an aggregation pass.
// Shared source assets are held in a pass-scoped, reference-counted arena so
// an asset reused by many derived entries is fetched at most once and
// removed from disk exactly once.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/findsign/searchspider/internal/digest"
)

// ErrClosed reports use of an arena after its pass ended.
var ErrClosed = errors.New("media arena is closed")

// FetchFunc downloads a shared source asset to dest, removing any partial
// file on failure.
type FetchFunc func(ctx context.Context, dest string) error

type asset struct {
	refs    int
	path    string
	fetched bool
	done    chan struct{}
	err     error
	cleaned bool
}

// Arena is the shared-asset cache for one aggregation pass.
type Arena struct {
	dir    string
	logger *zap.Logger

	mu     sync.Mutex
	assets map[string]*asset
	closed bool
}

// NewArena creates a pass-scoped arena with its own temp directory.
func NewArena(baseDir string, logger *zap.Logger) (*Arena, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("create media base dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(baseDir, "media-pass-*")
	if err != nil {
		return nil, fmt.Errorf("create media arena dir: %w", err)
	}
	return &Arena{
		dir:    dir,
		logger: logger,
		assets: make(map[string]*asset),
	}, nil
}

// Dir is the arena's scratch directory; direct (non-shared) media resolve
// into it and are discarded with the arena.
func (a *Arena) Dir() string {
	return a.dir
}

// Retain registers one more derived entry against the shared asset. Called
// while references are constructed, before any fetch happens.
func (a *Arena) Retain(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	st, ok := a.assets[key]
	if !ok {
		st = &asset{}
		a.assets[key] = st
	}
	st.refs++
}

// Acquire returns the local path of the shared asset, fetching it on first
// use. Concurrent acquires of the same key share one fetch; a failed fetch
// fails every outstanding acquire for that key.
func (a *Arena) Acquire(ctx context.Context, key string, fetch FetchFunc) (string, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return "", ErrClosed
	}
	st, ok := a.assets[key]
	if !ok {
		// acquired without a prior Retain; count the caller
		st = &asset{refs: 1}
		a.assets[key] = st
	}
	if st.fetched {
		done := st.done
		a.mu.Unlock()
		<-done
		a.mu.Lock()
		path, err := st.path, st.err
		a.mu.Unlock()
		return path, err
	}
	st.fetched = true
	st.done = make(chan struct{})
	// the file is named by the asset's own identity so distinct keys can
	// never collide on one path
	base, _, _ := strings.Cut(key, "?")
	dest := filepath.Join(a.dir, "shared-"+digest.OfString(key)+filepath.Ext(base))
	a.mu.Unlock()

	err := fetch(ctx, dest)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		st.err = fmt.Errorf("fetch shared asset %s: %w", key, err)
	} else {
		st.path = dest
	}
	close(st.done)
	return st.path, st.err
}

// Release drops one derived entry's claim. When the last claim is released
// the backing file is removed.
func (a *Arena) Release(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.assets[key]
	if !ok || st.refs == 0 {
		return
	}
	st.refs--
	if st.refs == 0 {
		a.cleanupLocked(key, st)
	}
}

// Close tears the arena down at the end of the pass regardless of how entry
// writes went. Remaining assets are removed best-effort, exactly once per
// key, and the scratch directory is discarded. Safe to call more than once.
func (a *Arena) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for key, st := range a.assets {
		a.cleanupLocked(key, st)
	}
	if err := os.RemoveAll(a.dir); err != nil {
		a.logger.Warn("remove media arena dir", zap.String("dir", a.dir), zap.Error(err))
	}
}

func (a *Arena) cleanupLocked(key string, st *asset) {
	if st.cleaned {
		return
	}
	st.cleaned = true
	if st.path == "" {
		return
	}
	if err := os.Remove(st.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		a.logger.Warn("remove shared media asset",
			zap.String("key", key), zap.String("path", st.path), zap.Error(err))
	}
}
