// Package cmd defines the CLI commands for the searchspider executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/findsign/searchspider/internal/config"
	"github.com/findsign/searchspider/internal/logging"
)

var cfgFile string

// newRootCmd builds the root command. Settings are resolved in the
// persistent pre-run so every subcommand sees the same view of config file,
// environment, and flags.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "searchspider",
		Short: "Crawls sign language dictionaries into a search dataset",
		Long: `searchspider runs the find-sign data pipeline: it crawls each
configured dictionary source on its own schedule, aggregates the content into
a sharded search dataset, and maintains the discovery feeds that announce
newly documented signs.`,
		SilenceUsage: true,

		PersistentPreRunE: func(*cobra.Command, []string) error {
			if err := config.InitViper(viper.GetViper(), cfgFile); err != nil {
				return fmt.Errorf("initialize configuration: %w", err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ./searchspider.yaml and $HOME/.searchspider)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSourcesCmd())

	return cmd
}

// Execute is the CLI entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// buildLogger resolves the logger once settings are known.
func buildLogger(settings config.Settings) (*zap.Logger, error) {
	logger, err := logging.New(settings.Development)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	return logger, nil
}
