package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/findsign/searchspider/internal/config"
	"github.com/findsign/searchspider/internal/schedule"
	"github.com/findsign/searchspider/internal/stamp"
)

// newSourcesCmd builds the 'sources' subcommand: a read-only view of the
// configured sources and their schedules. It reads the timestamp record
// directly instead of locking the workspace, so it works while a run is in
// progress.
func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Lists configured sources and when each is next due",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := config.LoadSettings(viper.GetViper())
			if err != nil {
				return err
			}
			sources, err := config.LoadSources(settings.SourcesFile)
			if err != nil {
				return err
			}
			record, err := readRecord(filepath.Join(settings.SpiderPath, "frozen-data", "build-timestamps.cbor"))
			if err != nil {
				return err
			}

			now := time.Now()
			for _, name := range config.SortedNames(sources) {
				cfg := sources[name]
				status := "due now"
				if wait := schedule.NextDue(now, record, cfg, name); wait > 0 {
					status = fmt.Sprintf("due in %s", wait.Round(time.Minute))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-10s interval=%-6s %s\n",
					name, cfg.Spider, cfg.Interval, status)
			}
			return nil
		},
	}
}

func readRecord(path string) (stamp.Record, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return stamp.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read timestamp record: %w", err)
	}
	var record stamp.Record
	if err := cbor.Unmarshal(raw, &record); err != nil {
		return stamp.Record{}, nil
	}
	return record, nil
}
