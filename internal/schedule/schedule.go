// Package schedule decides which sources are due for a crawl.
package schedule

import (
	"sort"
	"time"

	"github.com/findsign/searchspider/internal/config"
	"github.com/findsign/searchspider/internal/stamp"
)

// Due returns the configured sources whose crawl interval has elapsed since
// their last attempted run, in sorted order. A source with no recorded run is
// always due, as is a source with no interval. Interval strings were
// validated at config load, so this is a pure decision with no error paths.
func Due(now time.Time, record stamp.Record, sources map[string]config.SourceConfig) []string {
	var due []string
	for name, cfg := range sources {
		last, ok := record.LastRun(name)
		if !ok {
			due = append(due, name)
			continue
		}
		if now.Sub(last) >= cfg.CrawlInterval() {
			due = append(due, name)
		}
	}
	sort.Strings(due)
	return due
}

// NextDue reports how long until the source is due again. Zero or negative
// means due now. Used only for operator log messages.
func NextDue(now time.Time, record stamp.Record, cfg config.SourceConfig, name string) time.Duration {
	last, ok := record.LastRun(name)
	if !ok {
		return 0
	}
	return cfg.CrawlInterval() - now.Sub(last)
}
