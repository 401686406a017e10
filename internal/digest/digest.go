// Package digest derives the truncated content identities used across the
// pipeline: entry hashes, per-source build IDs, and the dataset build ID all
// share one format so they can be compared and embedded in paths.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
)

// Len is how many hex characters an identity digest keeps. Shard keys take
// their leading bits from these digests, so the length must stay fixed.
const Len = 16

// Of returns the identity digest of the input.
func Of(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:Len]
}

// OfString is Of for string input.
func OfString(s string) string {
	return Of([]byte(s))
}
