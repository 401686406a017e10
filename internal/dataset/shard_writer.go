package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// ShardWriter is the default index writer: it partitions definitions by the
// leading bits of their content hash into JSON shard files under
// <library>/definitions/<buildID>/, with a manifest describing the build.
type ShardWriter struct {
	libraryPath string
	buildID     string
	shardBits   int
	logger      *zap.Logger

	shards map[int][]Definition
	saved  bool
}

// NewShardWriter prepares a writer for the given build identity.
func NewShardWriter(libraryPath, buildID string, shardBits int, logger *zap.Logger) (*ShardWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if shardBits < 1 {
		return nil, fmt.Errorf("shard bits must be >= 1, got %d", shardBits)
	}
	if err := os.MkdirAll(libraryPath, 0o755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}
	return &ShardWriter{
		libraryPath: libraryPath,
		buildID:     buildID,
		shardBits:   shardBits,
		logger:      logger,
		shards:      make(map[int][]Definition),
	}, nil
}

// BuildDir is the directory this build's definition shards land in.
func (w *ShardWriter) BuildDir() string {
	return filepath.Join(w.libraryPath, "definitions", w.buildID)
}

// shardIndex maps a content hash to its shard by leading hex bits.
func (w *ShardWriter) shardIndex(hash string) int {
	if hash == "" {
		return 0
	}
	// four bits per hex digit; shardBits never exceeds what 16 digits hold
	digits := (w.shardBits + 3) / 4
	if digits > len(hash) {
		digits = len(hash)
	}
	v, err := strconv.ParseUint(hash[:digits], 16, 64)
	if err != nil {
		return 0
	}
	return int(v >> (uint(digits*4) - uint(w.shardBits)))
}

// Add buckets one definition into its shard.
func (w *ShardWriter) Add(_ context.Context, def Definition) error {
	if w.saved {
		return errors.New("shard writer already saved")
	}
	idx := w.shardIndex(def.Hash)
	w.shards[idx] = append(w.shards[idx], def)
	return nil
}

// Save writes every shard file plus the build manifest.
func (w *ShardWriter) Save(ctx context.Context) error {
	dir := w.BuildDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create build dir: %w", err)
	}

	var total, bytes int
	for idx, defs := range w.shards {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := json.MarshalIndent(defs, "", "  ")
		if err != nil {
			return fmt.Errorf("encode shard %d: %w", idx, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("shard-%0*x.json", (w.shardBits+3)/4, idx))
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return fmt.Errorf("write shard %d: %w", idx, err)
		}
		total += len(defs)
		bytes += len(raw)
	}

	manifest := map[string]any{
		"buildID":   w.buildID,
		"shardBits": w.shardBits,
		"entries":   total,
	}
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), raw, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	w.saved = true
	w.logger.Info("dataset saved",
		zap.String("build_id", w.buildID),
		zap.Int("entries", total),
		zap.Int("shards", len(w.shards)),
		zap.String("size", humanize.Bytes(uint64(bytes))))
	return nil
}

// Cleanup removes definition directories from previous builds.
func (w *ShardWriter) Cleanup(_ context.Context) error {
	defsDir := filepath.Join(w.libraryPath, "definitions")
	dirs, err := os.ReadDir(defsDir)
	if err != nil {
		return fmt.Errorf("list definition builds: %w", err)
	}
	for _, d := range dirs {
		if !d.IsDir() || d.Name() == w.buildID {
			continue
		}
		stale := filepath.Join(defsDir, d.Name())
		if err := os.RemoveAll(stale); err != nil {
			w.logger.Warn("remove stale build", zap.String("dir", stale), zap.Error(err))
			continue
		}
		w.logger.Info("removed stale build", zap.String("build_id", d.Name()))
	}
	return nil
}
