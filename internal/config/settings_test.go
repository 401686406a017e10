package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	t.Parallel()

	v := viper.New()
	require.NoError(t, InitViper(v, ""))

	s, err := LoadSettings(v)
	require.NoError(t, err)
	require.Equal(t, "search-index", s.LibraryName)
	require.Equal(t, 12, s.Feed.MinEntries)
	require.Equal(t, 24, s.Feed.MaxEntries)

	minDur, err := s.MinFeedDuration()
	require.NoError(t, err)
	require.Positive(t, minDur)

	maxAge, err := s.DefaultMaxAge()
	require.NoError(t, err)
	require.Positive(t, maxAge)
}

func TestLoadSettingsRejectsBadFeedBounds(t *testing.T) {
	t.Parallel()

	v := viper.New()
	require.NoError(t, InitViper(v, ""))
	v.Set("discovery_feed.max_entries", 4)
	v.Set("discovery_feed.min_entries", 10)

	_, err := LoadSettings(v)
	require.Error(t, err)
}

func TestLoadSettingsRejectsBadDuration(t *testing.T) {
	t.Parallel()

	v := viper.New()
	require.NoError(t, InitViper(v, ""))
	v.Set("discovery_feed.min_duration", "a while")

	_, err := LoadSettings(v)
	require.Error(t, err)
}
