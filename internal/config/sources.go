package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// SourceConfig is the static per-source configuration. Immutable after load.
type SourceConfig struct {
	// Spider selects the registered spider implementation by type tag.
	Spider string `yaml:"spider"`
	// Interval is how often the source is recrawled ("12h", "7d"). Empty
	// means the source is always due.
	Interval string `yaml:"interval"`
	// Expires bounds how stale cached content may be before a refetch.
	Expires string `yaml:"expires"`
	// Tags are applied to every entry the source produces.
	Tags []string `yaml:"tags"`
	// DisplayName and Link are used when rendering discovery feeds.
	DisplayName string `yaml:"display_name"`
	Link        string `yaml:"link"`
	// Domain is the crawl root for web spiders.
	Domain string `yaml:"domain"`
	// TimeoutSeconds bounds each media fetch.
	TimeoutSeconds int `yaml:"timeout"`
	// Options carries spider-specific parser settings (region maps, word
	// extraction rules) passed through opaquely.
	Options map[string]any `yaml:"options"`
}

// ParseInterval parses duration strings like "90m", "12h", "7d" or "4w".
// Plain time.ParseDuration rejects day and week units, which source
// intervals are usually written in.
func ParseInterval(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}

// CrawlInterval returns the parsed recrawl interval. Validated at load time,
// so errors here indicate a programming mistake.
func (c SourceConfig) CrawlInterval() time.Duration {
	d, err := ParseInterval(c.Interval)
	if err != nil {
		return 0
	}
	return d
}

// MaxAge returns the parsed expiry, or fallback when unset.
func (c SourceConfig) MaxAge(fallback time.Duration) time.Duration {
	if c.Expires == "" {
		return fallback
	}
	d, err := ParseInterval(c.Expires)
	if err != nil {
		return fallback
	}
	return d
}

// Timeout converts the configured media fetch timeout, defaulting to a minute.
func (c SourceConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LoadSources reads the source map from YAML. Any malformed entry fails the
// whole load; interval strings are validated here rather than during
// scheduling.
func LoadSources(path string) (map[string]SourceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	var sources map[string]SourceConfig
	if err := yaml.Unmarshal(raw, &sources); err != nil {
		return nil, fmt.Errorf("parse sources file %s: %w", path, err)
	}
	for name, cfg := range sources {
		if cfg.Spider == "" {
			return nil, fmt.Errorf("source %s: missing spider type", name)
		}
		if _, err := ParseInterval(cfg.Interval); err != nil {
			return nil, fmt.Errorf("source %s: interval: %w", name, err)
		}
		if _, err := ParseInterval(cfg.Expires); err != nil {
			return nil, fmt.Errorf("source %s: expires: %w", name, err)
		}
	}
	return sources, nil
}

// SortedNames returns source names in deterministic order for series runs.
func SortedNames(sources map[string]SourceConfig) []string {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
