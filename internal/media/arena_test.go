package media

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/findsign/searchspider/internal/spider"
	"github.com/findsign/searchspider/internal/task"
)

type stubSpider struct {
	fetches atomic.Int64
	fail    bool
}

func (s *stubSpider) Index(context.Context, task.Task) (spider.Result, error) {
	return spider.Result{}, nil
}

func (s *stubSpider) Fetch(_ context.Context, _ spider.MediaSpec, dest string) error {
	s.fetches.Add(1)
	if s.fail {
		return errors.New("transport error")
	}
	return os.WriteFile(dest, []byte("video bytes"), 0o644)
}

func TestSharedAssetFetchedOnceDeletedOnce(t *testing.T) {
	t.Parallel()

	arena, err := NewArena(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer arena.Close()

	sp := &stubSpider{}
	clip := spider.MediaSpec{Source: "https://example.org/master.mp4", Start: 0, End: 5}

	// three entries derive clips from the same source asset
	refs := make([]*Reference, 3)
	for i := range refs {
		refs[i] = NewReference(sp, arena, "signbank", clip)
	}

	var path string
	for _, r := range refs {
		p, err := r.Resolve(context.Background())
		require.NoError(t, err)
		if path == "" {
			path = p
		}
		require.Equal(t, path, p)
	}
	require.EqualValues(t, 1, sp.fetches.Load())
	require.FileExists(t, path)

	refs[0].Release()
	refs[1].Release()
	require.FileExists(t, path)

	refs[2].Release()
	_, statErr := os.Stat(path)
	require.ErrorIs(t, statErr, os.ErrNotExist)

	// double release must not panic or double-delete
	refs[2].Release()
}

// sourceSpider writes each asset's own source URL as its contents, so a
// mixed-up destination file is detectable.
type sourceSpider struct{}

func (sourceSpider) Index(context.Context, task.Task) (spider.Result, error) {
	return spider.Result{}, nil
}

func (sourceSpider) Fetch(_ context.Context, media spider.MediaSpec, dest string) error {
	return os.WriteFile(dest, []byte(media.Source), 0o644)
}

func TestDistinctSharedAssetsKeepDistinctFiles(t *testing.T) {
	t.Parallel()

	arena, err := NewArena(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer arena.Close()

	sp := sourceSpider{}
	clipA := spider.MediaSpec{Source: "https://example.org/master-a.mp4", Start: 0, End: 2}
	clipB := spider.MediaSpec{Source: "https://example.org/master-b.mp4", Start: 0, End: 2}

	// aggregation retains every shared key before anything resolves
	refA := NewReference(sp, arena, "signbank", clipA)
	refB := NewReference(sp, arena, "signbank", clipB)
	refA2 := NewReference(sp, arena, "signbank", clipA)

	pathA, err := refA.Resolve(context.Background())
	require.NoError(t, err)
	pathB, err := refB.Resolve(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, pathA, pathB, "two distinct shared assets must not share one file")

	bytesA, err := os.ReadFile(pathA)
	require.NoError(t, err)
	require.Equal(t, clipA.Source, string(bytesA), "asset A must still hold its own bytes after B fetched")

	// dropping every claim on B must not touch A's file
	refB.Release()
	_, statErr := os.Stat(pathB)
	require.ErrorIs(t, statErr, os.ErrNotExist)
	require.FileExists(t, pathA)

	again, err := refA2.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, pathA, again)
	refA.Release()
	refA2.Release()
}

func TestFailedSharedFetchFailsAllClips(t *testing.T) {
	t.Parallel()

	arena, err := NewArena(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer arena.Close()

	sp := &stubSpider{fail: true}
	clip := spider.MediaSpec{Source: "https://example.org/master.mp4"}
	a := NewReference(sp, arena, "signbank", clip)
	b := NewReference(sp, arena, "signbank", clip)

	_, err = a.Resolve(context.Background())
	require.Error(t, err)
	_, err = b.Resolve(context.Background())
	require.Error(t, err)

	// the failed fetch happened once; the failure is shared
	require.EqualValues(t, 1, sp.fetches.Load())
}

func TestCloseRemovesOutstandingAssets(t *testing.T) {
	t.Parallel()

	arena, err := NewArena(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	sp := &stubSpider{}
	ref := NewReference(sp, arena, "signbank", spider.MediaSpec{Source: "https://example.org/master.mp4"})
	path, err := ref.Resolve(context.Background())
	require.NoError(t, err)
	require.FileExists(t, path)

	// pass ends without the entry releasing; teardown still collects it
	arena.Close()
	_, statErr := os.Stat(path)
	require.ErrorIs(t, statErr, os.ErrNotExist)

	arena.Close() // idempotent

	_, err = arena.Acquire(context.Background(), "late", func(context.Context, string) error { return nil })
	require.ErrorIs(t, err, ErrClosed)
}

func TestDirectReferenceResolvesToScratchDir(t *testing.T) {
	t.Parallel()

	arena, err := NewArena(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	sp := &stubSpider{}
	ref := NewReference(sp, arena, "toddslan", spider.MediaSpec{URL: "https://example.org/a.mp4?sig=x"})

	path, err := ref.Resolve(context.Background())
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Contains(t, path, arena.Dir())
	require.Contains(t, path, ".mp4")

	// resolving twice reuses the first download
	again, err := ref.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, path, again)
	require.EqualValues(t, 1, sp.fetches.Load())

	arena.Close()
	require.NoDirExists(t, arena.Dir())
}
