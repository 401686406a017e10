// Package nest orchestrates the whole pipeline: it owns the source configs,
// one conductor per source, the timestamp store and its workspace lock, the
// update log, and the progress hub, and strings crawling, dataset builds, and
// feed builds together.
package nest

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/findsign/searchspider/internal/aggregate"
	"github.com/findsign/searchspider/internal/conductor"
	"github.com/findsign/searchspider/internal/config"
	"github.com/findsign/searchspider/internal/dataset"
	"github.com/findsign/searchspider/internal/feed"
	"github.com/findsign/searchspider/internal/progress"
	"github.com/findsign/searchspider/internal/schedule"
	"github.com/findsign/searchspider/internal/spider"
	"github.com/findsign/searchspider/internal/stamp"
	"github.com/findsign/searchspider/internal/updatelog"
)

// Nest drives every configured source through crawl, build, and publish.
type Nest struct {
	settings config.Settings
	registry *spider.Registry
	hub      *progress.Hub
	logger   *zap.Logger

	sources    map[string]config.SourceConfig
	conductors map[string]*conductor.Conductor
	store      *stamp.Store
	record     stamp.Record
	log        *updatelog.Log
	defaultAge time.Duration

	loaded bool
	closed bool
}

// New wires a nest around the given settings. The hub may be nil; Close
// shuts it down along with the workspace lock.
func New(settings config.Settings, registry *spider.Registry, hub *progress.Hub, logger *zap.Logger) *Nest {
	if registry == nil {
		registry = spider.DefaultRegistry
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Nest{
		settings: settings,
		registry: registry,
		hub:      hub,
		logger:   logger,
	}
}

// Load reads the source configs, takes the workspace lock, and builds one
// started conductor per source. It must succeed before any run or build.
func (n *Nest) Load(ctx context.Context) error {
	if n.loaded {
		return nil
	}

	sources, err := config.LoadSources(n.settings.SourcesFile)
	if err != nil {
		return err
	}
	n.sources = sources

	n.defaultAge, err = n.settings.DefaultMaxAge()
	if err != nil {
		return fmt.Errorf("default max age: %w", err)
	}

	n.store = stamp.New(filepath.Join(n.settings.SpiderPath, "frozen-data", "build-timestamps.cbor"), n.logger)
	n.record, err = n.store.Load(ctx, func(name string) bool {
		_, ok := sources[name]
		return ok
	})
	if err != nil {
		return err
	}

	n.log = updatelog.New(filepath.Join(n.settings.SpiderPath, "update-log.cbor"))

	frozenDir := filepath.Join(n.settings.SpiderPath, "frozen-data")
	n.conductors = make(map[string]*conductor.Conductor, len(sources))
	for _, name := range config.SortedNames(sources) {
		cfg := sources[name]
		sp, err := n.registry.New(name, cfg, n.logger)
		if err != nil {
			n.store.Unlock()
			return err
		}
		c := conductor.New(name, cfg, sp, frozenDir, n.log, n.hub, n.logger)
		if err := c.Start(); err != nil {
			n.store.Unlock()
			return err
		}
		n.conductors[name] = c
	}

	n.loaded = true
	n.logger.Info("nest loaded", zap.Int("sources", len(sources)))
	return nil
}

// RunInSeries crawls every due source in sorted order. Each source's
// timestamp is recorded and persisted before its run starts, so a crash
// still counts as an attempt. Per-source failures are logged; the batch
// continues.
func (n *Nest) RunInSeries(ctx context.Context) error {
	if !n.loaded {
		return fmt.Errorf("nest not loaded")
	}
	due := schedule.Due(time.Now(), n.record, n.sources)
	if len(due) == 0 {
		n.logger.Info("no sources due")
		return nil
	}
	for _, name := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := n.runSource(ctx, name); err != nil {
			n.logger.Error("source run failed", zap.String("source", name), zap.Error(err))
		}
	}
	return nil
}

// RunOne crawls the named source regardless of its schedule.
func (n *Nest) RunOne(ctx context.Context, source string) error {
	if !n.loaded {
		return fmt.Errorf("nest not loaded")
	}
	if _, ok := n.conductors[source]; !ok {
		return fmt.Errorf("unknown source %q", source)
	}
	return n.runSource(ctx, source)
}

func (n *Nest) runSource(ctx context.Context, name string) error {
	c := n.conductors[name]
	n.record.Touch(name, time.Now())
	if err := n.store.Persist(ctx); err != nil {
		return err
	}
	return c.Run(ctx, c.Config().MaxAge(n.defaultAge))
}

// BuildDatasets aggregates every source's content and builds the dataset if
// its identity changed. The bool reports whether a rebuild happened.
func (n *Nest) BuildDatasets(ctx context.Context) (bool, error) {
	if !n.loaded {
		return false, fmt.Errorf("nest not loaded")
	}

	conductors := n.sortedConductors()

	// identity computation only reads per-conductor state, so fan out
	sourceIDs := make([]string, len(conductors))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range conductors {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			id, err := c.BuildID()
			if err != nil {
				return err
			}
			sourceIDs[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	agg := aggregate.New(n.settings.OverridesDir,
		filepath.Join(n.settings.SpiderPath, "media"), n.logger)
	pass, err := agg.Run(ctx, conductors)
	if err != nil {
		return false, err
	}
	defer pass.Close()

	builder := dataset.NewBuilder(n.settings.DatasetsPath, n.settings.LibraryName, nil, n.hub, n.logger)
	return builder.Build(ctx, sourceIDs, pass.Definitions)
}

// BuildDiscoveryFeeds windows the update log and rewrites every feed format
// plus the search UI fragment.
func (n *Nest) BuildDiscoveryFeeds(ctx context.Context) error {
	if !n.loaded {
		return fmt.Errorf("nest not loaded")
	}
	entries, err := n.log.ReadAll()
	if err != nil {
		return err
	}
	minDuration, err := n.settings.MinFeedDuration()
	if err != nil {
		return fmt.Errorf("feed min duration: %w", err)
	}

	now := time.Now()
	window := feed.Window(entries, n.settings.Feed.MinEntries, n.settings.Feed.MaxEntries, minDuration, now)
	builder := feed.NewBuilder(n.settings.FeedsPath, n.settings.SearchUIPath, n.settings.Feed, n.sources, n.logger)
	return builder.Build(ctx, window, now)
}

// Close releases the workspace lock and flushes the progress hub. Idempotent.
func (n *Nest) Close(ctx context.Context) error {
	if n.closed {
		return nil
	}
	n.closed = true
	if n.store != nil {
		n.store.Unlock()
	}
	if n.hub != nil {
		return n.hub.Close(ctx)
	}
	return nil
}

// Sources returns the loaded source names in sorted order.
func (n *Nest) Sources() []string {
	return config.SortedNames(n.sources)
}

func (n *Nest) sortedConductors() []*conductor.Conductor {
	out := make([]*conductor.Conductor, 0, len(n.conductors))
	for _, c := range n.conductors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
