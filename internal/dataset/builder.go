package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/findsign/searchspider/internal/progress"
)

// OpenWriterFunc creates the index writer for one build. Injectable so tests
// and alternative index formats can replace the shard writer.
type OpenWriterFunc func(libraryPath, buildID string, shardBits int) (Writer, error)

// Builder owns the skip-if-unchanged dataset rebuild.
type Builder struct {
	datasetsPath string
	libraryName  string
	openWriter   OpenWriterFunc
	emitter      progress.Emitter
	logger       *zap.Logger
}

// NewBuilder wires a Builder. A nil openWriter uses the JSON shard writer.
func NewBuilder(datasetsPath, libraryName string, openWriter OpenWriterFunc, emitter progress.Emitter, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if openWriter == nil {
		openWriter = func(libraryPath, buildID string, shardBits int) (Writer, error) {
			return NewShardWriter(libraryPath, buildID, shardBits, logger)
		}
	}
	return &Builder{
		datasetsPath: datasetsPath,
		libraryName:  libraryName,
		openWriter:   openWriter,
		emitter:      emitter,
		logger:       logger,
	}
}

// LibraryPath is the directory holding the combined dataset build.
func (b *Builder) LibraryPath() string {
	return filepath.Join(b.datasetsPath, b.libraryName)
}

// Build computes the global identity from the per-source build ids and, when
// it differs from every existing artifact, streams the definitions to the
// index writer. Returns whether a rebuild actually occurred.
func (b *Builder) Build(ctx context.Context, sourceIDs []string, defs []Definition) (bool, error) {
	start := time.Now()
	buildID := BuildID(sourceIDs)

	artifact := filepath.Join(b.LibraryPath(), "definitions", buildID)
	if _, err := os.Stat(artifact); err == nil {
		b.logger.Info("dataset already exists in current form, skipping build",
			zap.String("build_id", buildID))
		b.emitter.Emit(progress.Event{TS: time.Now().UTC(), Stage: progress.StageBuildSkip, Note: buildID})
		return false, nil
	}

	writer, err := b.openWriter(b.LibraryPath(), buildID, ShardBits(len(defs)))
	if err != nil {
		return false, fmt.Errorf("open index writer: %w", err)
	}

	for i, def := range defs {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		def.resolveMedia(ctx, b.emitter, b.logger)
		if err := writer.Add(ctx, def); err != nil {
			return false, fmt.Errorf("add definition %s/%s: %w", def.Provider, def.ID, err)
		}
		for _, ref := range def.Media {
			ref.Release()
		}
		b.emitter.Emit(progress.Event{
			TS:      time.Now().UTC(),
			Stage:   progress.StageEntryImport,
			Source:  def.Provider,
			EntryID: def.ID,
			Count:   int64(i + 1),
		})
	}

	if err := writer.Save(ctx); err != nil {
		return false, fmt.Errorf("save dataset: %w", err)
	}
	if err := writer.Cleanup(ctx); err != nil {
		return false, fmt.Errorf("cleanup dataset: %w", err)
	}
	b.emitter.Emit(progress.Event{
		TS: time.Now().UTC(), Stage: progress.StageBuildDone, Dur: time.Since(start), Note: buildID,
	})
	return true, nil
}

// resolveMedia fetches the definition's media, keeping whatever resolved. A
// failed resolution drops just that media item, never the entry or the
// build.
func (d *Definition) resolveMedia(ctx context.Context, emitter progress.Emitter, logger *zap.Logger) {
	for _, ref := range d.Media {
		path, err := ref.Resolve(ctx)
		if err != nil {
			logger.Warn("media resolution failed, entry continues without it",
				zap.String("provider", d.Provider),
				zap.String("entry", d.ID),
				zap.Error(err))
			continue
		}
		d.MediaFiles = append(d.MediaFiles, path)
		emitter.Emit(progress.Event{
			TS:      time.Now().UTC(),
			Stage:   progress.StageFetchDone,
			Source:  d.Provider,
			EntryID: d.ID,
		})
	}
}
