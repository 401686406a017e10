// Package dataset computes build identities, shards entry volume, and
// streams aggregated content to an index writer, skipping rebuilds whose
// inputs have not changed.
package dataset

import (
	"context"
	"sort"
	"strings"

	"github.com/findsign/searchspider/internal/digest"
	"github.com/findsign/searchspider/internal/media"
)

// Definition is one entry as handed to the index writer: the crawled fields
// after overrides, tag resolution, and media reference construction.
type Definition struct {
	ID       string             `json:"id"`
	Title    string             `json:"title"`
	Keywords []string           `json:"keywords"`
	Tags     []string           `json:"tags,omitempty"`
	Link     string             `json:"link"`
	Body     string             `json:"body,omitempty"`
	Provider string             `json:"provider"`
	Hash     string             `json:"hash"`
	Media    []*media.Reference `json:"-"`
	// MediaFiles holds the local paths of whatever media resolved during
	// the build.
	MediaFiles []string `json:"media,omitempty"`
}

// BuildID derives the global build identity from the per-source identities:
// a truncated digest over the sorted set, so enumeration order never changes
// the result.
func BuildID(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return digest.OfString(strings.Join(sorted, "\n"))
}

// targetEntriesPerShard approximates the entry count that keeps one shard's
// definition block around 15kB.
const targetEntriesPerShard = 30

// ShardBits returns the minimal shard-bit count such that the entry volume
// divides into shards of roughly the target size. Minimum one bit.
func ShardBits(totalEntries int) int {
	bits := 1
	for totalEntries > targetEntriesPerShard*(1<<bits) {
		bits++
	}
	return bits
}

// Writer is the external index writer contract. Add is called once per
// definition in provider order; Save persists the index and Cleanup removes
// artifacts no longer referenced by any build.
type Writer interface {
	Add(ctx context.Context, def Definition) error
	Save(ctx context.Context) error
	Cleanup(ctx context.Context) error
}
