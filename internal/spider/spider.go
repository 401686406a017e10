// Package spider defines the contract every content source implements: a
// task indexer that yields further tasks or terminal entries, and a media
// fetcher that resolves one media spec to a local file.
package spider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/findsign/searchspider/internal/config"
	"github.com/findsign/searchspider/internal/task"
)

// ErrUnknownTask is returned by spiders handed a task tag they do not route.
// It is never retried.
var ErrUnknownTask = errors.New("unknown task type")

// Result is what one indexing step produces: tasks to enqueue, entries to
// merge, or both.
type Result struct {
	Tasks   []task.Task
	Entries []Entry
}

// Spider crawls one source. Implementations are driven by a conductor and
// must not retain the context beyond a call.
type Spider interface {
	// Index executes one task. The root (zero) task seeds the run.
	// Unknown task tags are an error, never a silent no-op.
	Index(ctx context.Context, t task.Task) (Result, error)

	// Fetch resolves a media spec to the file at dest. On timeout or
	// transport error any partial file must be removed before returning.
	Fetch(ctx context.Context, media MediaSpec, dest string) error
}

// Resetter is implemented by spiders that discard accumulated content and
// rebuild from scratch at the start of every run.
type Resetter interface {
	Reset()
}

// Factory builds a spider instance for one configured source.
type Factory func(name string, cfg config.SourceConfig, logger *zap.Logger) (Spider, error)

// Registry maps spider type tags to factories. The zero value is usable.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// Register installs a factory under the given type tag; a duplicate tag
// panics, since registration happens at init time.
func (r *Registry) Register(typeTag string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factories == nil {
		r.factories = make(map[string]Factory)
	}
	if _, dup := r.factories[typeTag]; dup {
		panic(fmt.Sprintf("spider type %q registered twice", typeTag))
	}
	r.factories[typeTag] = f
}

// New instantiates a spider for the source config; an unknown type tag is a
// startup error.
func (r *Registry) New(name string, cfg config.SourceConfig, logger *zap.Logger) (Spider, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Spider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("source %s: unknown spider type %q (have %v)", name, cfg.Spider, r.Types())
	}
	return f(name, cfg, logger)
}

// Types lists registered type tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		types = append(types, tag)
	}
	sort.Strings(types)
	return types
}

// DefaultRegistry is where built-in spiders register themselves.
var DefaultRegistry = &Registry{}
