package spider

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/findsign/searchspider/internal/digest"
)

// MediaSpec is a lazily-resolved pointer to media: either a directly
// downloadable asset, or a clip extracted from a larger source asset that
// several entries may share.
type MediaSpec struct {
	// URL locates a directly downloadable asset.
	URL string `json:"url,omitempty" cbor:"url,omitempty"`
	// Source locates a shared source asset a clip is cut from.
	Source string `json:"source,omitempty" cbor:"source,omitempty"`
	// Start and End bound the clip within the source asset, in seconds.
	Start float64 `json:"start,omitempty" cbor:"start,omitempty"`
	End   float64 `json:"end,omitempty" cbor:"end,omitempty"`
}

// Clip reports whether the spec derives from a shared source asset.
func (m MediaSpec) Clip() bool {
	return m.Source != ""
}

// SharedKey identifies the shared source asset, or "" for direct media.
func (m MediaSpec) SharedKey() string {
	return m.Source
}

// Entry is one deduplicated, content-addressed unit of crawled content.
type Entry struct {
	ID       string      `json:"id" cbor:"id"`
	Title    string      `json:"title,omitempty" cbor:"title,omitempty"`
	Words    []string    `json:"words" cbor:"words"`
	Tags     []string    `json:"tags,omitempty" cbor:"tags,omitempty"`
	Link     string      `json:"link" cbor:"link"`
	Body     string      `json:"body,omitempty" cbor:"body,omitempty"`
	Media    []MediaSpec `json:"media,omitempty" cbor:"media,omitempty"`
	Provider string      `json:"provider" cbor:"provider"`
	Hash     string      `json:"hash" cbor:"hash"`
	// Seen is when the crawl last observed this entry, used for the
	// max-age staleness check.
	Seen time.Time `json:"seen" cbor:"seen"`
}

// DisplayTitle falls back to the joined keyword words when no title was
// crawled.
func (e Entry) DisplayTitle() string {
	if e.Title != "" {
		return e.Title
	}
	return strings.Join(e.Words, ", ")
}

// ComputeHash derives the content-addressed identity: a truncated SHA-256
// over the sorted key/value serialization of every field except the hash
// itself and the observation time. Byte-identical content from independent
// crawls collapses to one hash regardless of field enumeration order.
func (e Entry) ComputeHash() (string, error) {
	fields := map[string]any{
		"id":       e.ID,
		"title":    e.Title,
		"words":    e.Words,
		"tags":     e.Tags,
		"link":     e.Link,
		"body":     e.Body,
		"media":    e.Media,
		"provider": e.Provider,
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		raw, err := json.Marshal(fields[k])
		if err != nil {
			return "", fmt.Errorf("serialize entry field %s: %w", k, err)
		}
		parts = append(parts, fmt.Sprintf("%s: %s", k, raw))
	}
	return digest.OfString(strings.Join(parts, ",")), nil
}
