// Package feed builds the public discovery feeds from the append-only update
// log: a bounded recent window rendered as RSS, Atom, JSON Feed, and an HTML
// fragment spliced into the search UI page.
package feed

import (
	"time"

	"github.com/findsign/searchspider/internal/updatelog"
)

// Window selects the feed's slice of the update log: the newest entries,
// taken from the tail while the window is under min entries or the next
// candidate is younger than minDuration, never exceeding max entries. The
// result is in chronological order.
func Window(entries []updatelog.Entry, min, max int, minDuration time.Duration, now time.Time) []updatelog.Entry {
	cutoff := now.Add(-minDuration).UnixMilli()

	var window []updatelog.Entry
	for i := len(entries) - 1; i >= 0; i-- {
		if len(window) >= max {
			break
		}
		if len(window) >= min && entries[i].Timestamp <= cutoff {
			break
		}
		window = append(window, entries[i])
	}

	// reverse back to chronological
	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}
	return window
}
