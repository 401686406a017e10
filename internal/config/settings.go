// Package config loads the nest settings via Viper and the per-source spider
// configuration from comment-tolerant YAML.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FeedSettings bounds the discovery feed window and carries the syndication
// metadata emitted with every feed format.
type FeedSettings struct {
	MinEntries  int    `mapstructure:"min_entries"`
	MaxEntries  int    `mapstructure:"max_entries"`
	MinDuration string `mapstructure:"min_duration"`
	Title       string `mapstructure:"title"`
	Description string `mapstructure:"description"`
	ID          string `mapstructure:"id"`
	Link        string `mapstructure:"link"`
}

// Settings captures every knob the orchestrator needs: workspace paths,
// dataset identity, discovery feed bounds, and packaging.
type Settings struct {
	SpiderPath   string       `mapstructure:"spider_path"`
	DatasetsPath string       `mapstructure:"datasets_path"`
	FeedsPath    string       `mapstructure:"feeds_path"`
	OverridesDir string       `mapstructure:"overrides_path"`
	SearchUIPath string       `mapstructure:"search_ui_path"`
	LibraryName  string       `mapstructure:"library_name"`
	SourcesFile  string       `mapstructure:"sources_file"`
	ArchivePath  string       `mapstructure:"archive_path"`
	Development  bool         `mapstructure:"development"`
	MetricsAddr  string       `mapstructure:"metrics_addr"`
	DefaultAge   string       `mapstructure:"default_max_age"`
	Feed         FeedSettings `mapstructure:"discovery_feed"`
}

// MinFeedDuration parses the configured feed age bound.
func (s Settings) MinFeedDuration() (time.Duration, error) {
	return ParseInterval(s.Feed.MinDuration)
}

// DefaultMaxAge parses the configured content staleness bound.
func (s Settings) DefaultMaxAge() (time.Duration, error) {
	return ParseInterval(s.DefaultAge)
}

// InitViper wires defaults, env overrides and the optional config file into
// the shared Viper instance. Called once from the root command.
func InitViper(v *viper.Viper, cfgFile string) error {
	v.SetConfigName("searchspider")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.searchspider")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}

	v.SetDefault("spider_path", "./spiders")
	v.SetDefault("datasets_path", "../datasets")
	v.SetDefault("feeds_path", "../feeds")
	v.SetDefault("overrides_path", "./spiders/overrides")
	v.SetDefault("search_ui_path", "../index.html")
	v.SetDefault("library_name", "search-index")
	v.SetDefault("sources_file", "./spiders/sources.yaml")
	v.SetDefault("archive_path", "../datasets.tar.gz")
	v.SetDefault("development", true)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("default_max_age", "365d")
	v.SetDefault("discovery_feed.min_entries", 12)
	v.SetDefault("discovery_feed.max_entries", 24)
	v.SetDefault("discovery_feed.min_duration", "30d")
	v.SetDefault("discovery_feed.title", "Discovered Signs")
	v.SetDefault("discovery_feed.description", "Recently discovered content")
	v.SetDefault("discovery_feed.id", "https://find.auslan.fyi/")
	v.SetDefault("discovery_feed.link", "https://find.auslan.fyi/")

	v.SetEnvPrefix("SEARCHSPIDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// LoadSettings unmarshals and validates the nest settings.
func LoadSettings(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	if _, err := s.MinFeedDuration(); err != nil {
		return Settings{}, fmt.Errorf("discovery_feed.min_duration: %w", err)
	}
	if _, err := s.DefaultMaxAge(); err != nil {
		return Settings{}, fmt.Errorf("default_max_age: %w", err)
	}
	if s.Feed.MaxEntries < s.Feed.MinEntries {
		return Settings{}, fmt.Errorf("discovery_feed: max_entries %d below min_entries %d",
			s.Feed.MaxEntries, s.Feed.MinEntries)
	}
	return s, nil
}
