package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/findsign/searchspider/internal/config"
	"github.com/findsign/searchspider/internal/stamp"
)

func TestDueBoundaries(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sources := map[string]config.SourceConfig{
		"hourly": {Spider: "fake", Interval: "1h"},
	}
	record := stamp.Record{}
	record.Touch("hourly", base)

	cases := []struct {
		name string
		now  time.Time
		due  bool
	}{
		{"just ran", base, false},
		{"one second early", base.Add(time.Hour - time.Second), false},
		{"exactly on time", base.Add(time.Hour), true},
		{"well past", base.Add(3 * time.Hour), true},
	}
	for _, tc := range cases {
		got := Due(tc.now, record, sources)
		if tc.due {
			require.Equal(t, []string{"hourly"}, got, tc.name)
		} else {
			require.Empty(t, got, tc.name)
		}
	}
}

func TestDueMissingTimestampAndEmptyInterval(t *testing.T) {
	t.Parallel()

	now := time.Now()
	sources := map[string]config.SourceConfig{
		"never-run":   {Spider: "fake", Interval: "30d"},
		"no-interval": {Spider: "fake"},
	}
	record := stamp.Record{}
	record.Touch("no-interval", now)

	got := Due(now, record, sources)
	require.Equal(t, []string{"never-run", "no-interval"}, got)
}

func TestNextDue(t *testing.T) {
	t.Parallel()

	base := time.Now().Truncate(time.Millisecond)
	cfg := config.SourceConfig{Spider: "fake", Interval: "2h"}
	record := stamp.Record{}
	record.Touch("src", base)

	remaining := NextDue(base.Add(30*time.Minute), record, cfg, "src")
	require.Equal(t, 90*time.Minute, remaining)
	require.Zero(t, NextDue(base, record, cfg, "unknown"))
}
