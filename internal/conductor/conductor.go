// Package conductor drives one source's task queue to completion, persists
// its crawl state across runs, and exposes the aggregated content map plus a
// content-addressed build identity.
package conductor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/findsign/searchspider/internal/config"
	"github.com/findsign/searchspider/internal/digest"
	"github.com/findsign/searchspider/internal/progress"
	"github.com/findsign/searchspider/internal/spider"
	"github.com/findsign/searchspider/internal/task"
	"github.com/findsign/searchspider/internal/updatelog"
)

// ErrUnknownTask mirrors the spider contract's sentinel so retry policy
// checks stay within this package.
var ErrUnknownTask = spider.ErrUnknownTask

// Conductor owns one source's crawl lifecycle.
type Conductor struct {
	name    string
	cfg     config.SourceConfig
	sp      spider.Spider
	log     *updatelog.Log
	emitter progress.Emitter
	logger  *zap.Logger
	retry   *RetryPolicy

	frozenPath string

	mu      sync.RWMutex
	content map[string]spider.Entry
	// prevHashes snapshots the content hashes at run start, so spiders
	// that rebuild from scratch do not re-document unchanged entries.
	prevHashes map[string]string
	started    bool
}

// New builds a conductor for the named source. frozenDir is where the
// conductor persists its content cache between runs.
func New(
	name string,
	cfg config.SourceConfig,
	sp spider.Spider,
	frozenDir string,
	log *updatelog.Log,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Conductor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	return &Conductor{
		name:       name,
		cfg:        cfg,
		sp:         sp,
		log:        log,
		emitter:    emitter,
		logger:     logger.With(zap.String("source", name)),
		retry:      NewRetryPolicy(),
		frozenPath: filepath.Join(frozenDir, name+".cbor"),
		content:    make(map[string]spider.Entry),
	}
}

// Start loads the frozen content cache. Idempotent.
func (c *Conductor) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	raw, err := os.ReadFile(c.frozenPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// no cache yet
	case err != nil:
		return fmt.Errorf("read frozen content for %s: %w", c.name, err)
	default:
		var cached map[string]spider.Entry
		if derr := cbor.Unmarshal(raw, &cached); derr != nil {
			c.logger.Warn("frozen content corrupt, starting empty", zap.Error(derr))
		} else {
			c.content = cached
		}
	}
	if c.content == nil {
		c.content = make(map[string]spider.Entry)
	}
	c.started = true
	return nil
}

// Run executes the task queue for this source until exhausted. maxAge bounds
// how stale cached content may be before it is dropped and re-crawled.
// Individual task failures are logged and skipped after retries; Run itself
// fails only when the seed task cannot be indexed or the context ends.
func (c *Conductor) Run(ctx context.Context, maxAge time.Duration) error {
	if err := c.Start(); err != nil {
		return err
	}
	start := time.Now()
	c.emitter.Emit(progress.Event{TS: start.UTC(), Stage: progress.StageRunStart, Source: c.name})

	c.expire(start, maxAge)
	c.mu.Lock()
	c.prevHashes = make(map[string]string, len(c.content))
	for id, entry := range c.content {
		c.prevHashes[id] = entry.Hash
	}
	c.mu.Unlock()
	if r, ok := c.sp.(spider.Resetter); ok {
		r.Reset()
		c.mu.Lock()
		c.content = make(map[string]spider.Entry)
		c.mu.Unlock()
	}

	queue := task.NewQueue()
	if err := c.step(ctx, queue, task.Task{}); err != nil {
		c.emitter.Emit(progress.Event{
			TS: time.Now().UTC(), Stage: progress.StageRunError, Source: c.name, Note: err.Error(),
		})
		return fmt.Errorf("source %s: seed task: %w", c.name, err)
	}

	for {
		next, ok := queue.Pop()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.step(ctx, queue, next); err != nil {
			// per-task isolation: the rest of the queue still runs
			c.logger.Error("task failed", zap.Stringer("task", next), zap.Error(err))
		}
	}

	if err := c.freeze(); err != nil {
		return err
	}
	c.emitter.Emit(progress.Event{
		TS: time.Now().UTC(), Stage: progress.StageRunDone, Source: c.name, Dur: time.Since(start),
	})
	c.logger.Info("run complete",
		zap.Int("entries", c.Len()), zap.Duration("dur", time.Since(start)))
	return nil
}

// step indexes one task with retries and merges its results.
func (c *Conductor) step(ctx context.Context, queue *task.Queue, t task.Task) error {
	var result spider.Result
	var err error
	for attempt := 0; ; attempt++ {
		result, err = c.sp.Index(ctx, t)
		if err == nil {
			break
		}
		if !c.retry.ShouldRetry(err, attempt) {
			return err
		}
		wait := c.retry.Backoff(attempt)
		c.logger.Warn("index attempt failed, retrying",
			zap.Stringer("task", t), zap.Int("attempt", attempt), zap.Duration("backoff", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	for _, next := range result.Tasks {
		if _, perr := queue.Push(next); perr != nil {
			return fmt.Errorf("enqueue %s: %w", next, perr)
		}
	}
	for _, entry := range result.Entries {
		if merr := c.merge(entry); merr != nil {
			c.logger.Error("merge entry failed", zap.String("entry", entry.ID), zap.Error(merr))
		}
	}
	return nil
}

// merge finalizes an entry and folds it into the content map, appending to
// the update log when the entry is new or its content hash changed.
func (c *Conductor) merge(entry spider.Entry) error {
	entry.Provider = c.name
	entry.Seen = time.Now()
	hash, err := entry.ComputeHash()
	if err != nil {
		return err
	}
	entry.Hash = hash
	if entry.ID == "" {
		entry.ID = hash
	}

	c.mu.Lock()
	prevHash := ""
	existed := false
	if prev, ok := c.content[entry.ID]; ok {
		prevHash, existed = prev.Hash, true
	} else if h, ok := c.prevHashes[entry.ID]; ok {
		// known from the previous run even if the spider reset
		prevHash, existed = h, true
	}
	c.content[entry.ID] = entry
	c.mu.Unlock()

	verb := ""
	switch {
	case !existed:
		verb = updatelog.VerbDocumented
	case prevHash != entry.Hash:
		verb = updatelog.VerbUpdated
	}
	if verb == "" || c.log == nil {
		return nil
	}
	return c.log.Append(updatelog.Entry{
		Provider:     c.name,
		ID:           entry.ID,
		Verb:         verb,
		Words:        entry.Words,
		Link:         entry.Link,
		Body:         entry.Body,
		ProviderLink: c.cfg.Link,
		Timestamp:    entry.Seen.UnixMilli(),
	})
}

// expire drops cached entries older than maxAge so they are re-crawled.
func (c *Conductor) expire(now time.Time, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, entry := range c.content {
		if now.Sub(entry.Seen) > maxAge {
			delete(c.content, id)
		}
	}
}

// freeze persists the content cache for the next run.
func (c *Conductor) freeze() error {
	c.mu.RLock()
	raw, err := cbor.Marshal(c.content)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode frozen content for %s: %w", c.name, err)
	}
	if err := os.MkdirAll(filepath.Dir(c.frozenPath), 0o755); err != nil {
		return fmt.Errorf("create frozen-data dir: %w", err)
	}
	tmp := c.frozenPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write frozen content for %s: %w", c.name, err)
	}
	if err := os.Rename(tmp, c.frozenPath); err != nil {
		return fmt.Errorf("replace frozen content for %s: %w", c.name, err)
	}
	return nil
}

// Name returns the configured source name.
func (c *Conductor) Name() string {
	return c.name
}

// Config returns the source configuration.
func (c *Conductor) Config() config.SourceConfig {
	return c.cfg
}

// Spider exposes the underlying spider for media resolution.
func (c *Conductor) Spider() spider.Spider {
	return c.sp
}

// Len reports the current content count.
func (c *Conductor) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.content)
}

// Content returns a copy of the aggregated content map. Safe to call
// concurrently with other conductors' runs.
func (c *Conductor) Content() map[string]spider.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]spider.Entry, len(c.content))
	for id, entry := range c.content {
		out[id] = entry
	}
	return out
}

// BuildID returns a deterministic digest of the conductor's content and
// config state, used for skip-if-unchanged rebuild detection.
func (c *Conductor) BuildID() (string, error) {
	cfgRaw, err := json.Marshal(c.cfg)
	if err != nil {
		return "", fmt.Errorf("serialize config for %s: %w", c.name, err)
	}

	c.mu.RLock()
	hashes := make([]string, 0, len(c.content))
	for _, entry := range c.content {
		hashes = append(hashes, entry.Hash)
	}
	c.mu.RUnlock()
	sort.Strings(hashes)

	return digest.OfString(c.name + "\n" + string(cfgRaw) + "\n" + strings.Join(hashes, ",")), nil
}
