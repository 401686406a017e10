package media

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/findsign/searchspider/internal/spider"
)

// Reference is a lazily-resolved pointer to one declared media item. Clip
// references resolve their shared source asset through the pass arena;
// direct references fetch into the arena's scratch directory under their own
// name.
type Reference struct {
	Spec     spider.MediaSpec
	Provider string

	sp       spider.Spider
	arena    *Arena
	resolved bool
	path     string
	released bool
}

// NewReference builds a lazy reference and, for clips, retains the shared
// source asset in the arena.
func NewReference(sp spider.Spider, arena *Arena, provider string, spec spider.MediaSpec) *Reference {
	if spec.Clip() {
		arena.Retain(spec.SharedKey())
	}
	return &Reference{Spec: spec, Provider: provider, sp: sp, arena: arena}
}

// Resolve fetches the media to a local file, at most once. For clips the
// returned path is the shared source asset; the caller extracts the
// [Start, End] window from it.
func (r *Reference) Resolve(ctx context.Context) (string, error) {
	if r.resolved {
		return r.path, nil
	}

	if r.Spec.Clip() {
		path, err := r.arena.Acquire(ctx, r.Spec.SharedKey(), func(ctx context.Context, dest string) error {
			return r.sp.Fetch(ctx, r.Spec, dest)
		})
		if err != nil {
			return "", err
		}
		r.resolved = true
		r.path = path
		return path, nil
	}

	base, _, _ := strings.Cut(r.Spec.URL, "?")
	dest := filepath.Join(r.arena.Dir(), fmt.Sprintf("%s-%s%s", r.Provider, uuid.NewString(), filepath.Ext(base)))
	if err := r.sp.Fetch(ctx, r.Spec, dest); err != nil {
		return "", fmt.Errorf("fetch media %s: %w", r.Spec.URL, err)
	}
	r.resolved = true
	r.path = dest
	return dest, nil
}

// Release returns the reference's claim on its shared asset. Idempotent;
// direct references have nothing to release.
func (r *Reference) Release() {
	if r.released || !r.Spec.Clip() {
		r.released = true
		return
	}
	r.released = true
	r.arena.Release(r.Spec.SharedKey())
}
