// Package aggregate merges per-source content into the definition stream one
// dataset build consumes: overrides applied, tags resolved, media wrapped in
// lazy pass-scoped references.
package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dario.cat/mergo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/findsign/searchspider/internal/conductor"
	"github.com/findsign/searchspider/internal/dataset"
	"github.com/findsign/searchspider/internal/media"
	"github.com/findsign/searchspider/internal/spider"
)

// Pass holds the output of one aggregation pass plus the media arena scoped
// to it. Close the pass when the dependent build finishes, whatever its
// outcome.
type Pass struct {
	Definitions []dataset.Definition
	arena       *media.Arena
}

// Close tears down the pass's media arena; best-effort, idempotent.
func (p *Pass) Close() {
	if p.arena != nil {
		p.arena.Close()
	}
}

// Aggregator runs aggregation passes over a set of conductors.
type Aggregator struct {
	overridesDir string
	scratchDir   string
	logger       *zap.Logger
}

// New wires an Aggregator. overridesDir may be empty to disable overrides;
// scratchDir hosts the per-pass media arena.
func New(overridesDir, scratchDir string, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{overridesDir: overridesDir, scratchDir: scratchDir, logger: logger}
}

// Run collects every conductor's content in parallel and produces the
// definition stream in provider order. The returned Pass owns the shared
// media arena; callers must Close it.
func (a *Aggregator) Run(ctx context.Context, conductors []*conductor.Conductor) (*Pass, error) {
	arena, err := media.NewArena(a.scratchDir, a.logger)
	if err != nil {
		return nil, err
	}
	pass := &Pass{arena: arena}

	// read-only fan-out: conductors touch disjoint state here
	contents := make([]map[string]spider.Entry, len(conductors))
	g, ctx := errgroup.WithContext(ctx)
	for i, c := range conductors {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			contents[i] = c.Content()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		pass.Close()
		return nil, err
	}

	order := make([]int, len(conductors))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(x, y int) bool {
		return conductors[order[x]].Name() < conductors[order[y]].Name()
	})

	for _, i := range order {
		c := conductors[i]
		ids := make([]string, 0, len(contents[i]))
		for id := range contents[i] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			def := a.buildDefinition(c, arena, contents[i][id])
			pass.Definitions = append(pass.Definitions, def)
		}
	}
	return pass, nil
}

// buildDefinition applies the entry's override, resolves tags, and registers
// its media in the pass arena.
func (a *Aggregator) buildDefinition(c *conductor.Conductor, arena *media.Arena, entry spider.Entry) dataset.Definition {
	entry = a.applyOverride(c.Name(), entry)

	refs := make([]*media.Reference, 0, len(entry.Media))
	for _, spec := range entry.Media {
		refs = append(refs, media.NewReference(c.Spider(), arena, c.Name(), spec))
	}

	return dataset.Definition{
		ID:       entry.ID,
		Title:    entry.DisplayTitle(),
		Keywords: entry.Words,
		Tags:     mergeTags(c.Config().Tags, entry.Tags),
		Link:     entry.Link,
		Body:     entry.Body,
		Provider: c.Name(),
		Hash:     entry.Hash,
		Media:    refs,
	}
}

// applyOverride deep-merges the optional per-entry override file over the
// crawled fields. Override fields win; slices are replaced wholesale. A
// missing file is normal; an unreadable one is logged and skipped.
func (a *Aggregator) applyOverride(source string, entry spider.Entry) spider.Entry {
	if a.overridesDir == "" {
		return entry
	}
	path := filepath.Join(a.overridesDir, fmt.Sprintf("%s:%s.json", source, entry.ID))
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return entry
	}
	if err != nil {
		a.logger.Warn("override file unreadable", zap.String("path", path), zap.Error(err))
		return entry
	}

	var override spider.Entry
	if err := json.Unmarshal(raw, &override); err != nil {
		a.logger.Warn("override file malformed", zap.String("path", path), zap.Error(err))
		return entry
	}
	a.logger.Info("applying override data", zap.String("path", path))
	if err := mergo.Merge(&entry, override, mergo.WithOverride); err != nil {
		a.logger.Warn("override merge failed", zap.String("path", path), zap.Error(err))
	}
	return entry
}

// mergeTags returns the deduplicated, case-lowered union of source-level and
// entry-level tags, preserving first-seen order.
func mergeTags(sourceTags, entryTags []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, tag := range append(append([]string(nil), sourceTags...), entryTags...) {
		lowered := strings.ToLower(strings.TrimSpace(tag))
		if lowered == "" {
			continue
		}
		if _, dup := seen[lowered]; dup {
			continue
		}
		seen[lowered] = struct{}{}
		out = append(out, lowered)
	}
	return out
}
