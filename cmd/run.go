package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/findsign/searchspider/internal/archive"
	"github.com/findsign/searchspider/internal/config"
	"github.com/findsign/searchspider/internal/logging"
	"github.com/findsign/searchspider/internal/nest"
	"github.com/findsign/searchspider/internal/progress"
	"github.com/findsign/searchspider/internal/progress/sinks"
	"github.com/findsign/searchspider/internal/spider"

	// built-in spiders register themselves
	_ "github.com/findsign/searchspider/internal/spider/signbank"
)

// newRunCmd builds the 'run' subcommand: one full pipeline pass.
func newRunCmd() *cobra.Command {
	var (
		source    string
		skipBuild bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one pipeline pass: crawl due sources, rebuild dataset and feeds",
		Long: `Crawls every source whose interval has elapsed (or one named source,
regardless of schedule), then rebuilds the search dataset if any content
changed, regenerates the discovery feeds, and repacks the dataset archive.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, source, skipBuild)
		},
	}
	cmd.Flags().StringVar(&source, "source", "",
		"crawl only this source, ignoring its schedule")
	cmd.Flags().BoolVar(&skipBuild, "skip-build", false,
		"crawl only; leave the dataset, feeds, and archive untouched")
	return cmd
}

func runPipeline(cmd *cobra.Command, source string, skipBuild bool) error {
	settings, err := config.LoadSettings(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := buildLogger(settings)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub, metricsShutdown, err := buildHub(settings, logger)
	if err != nil {
		return err
	}
	defer metricsShutdown()

	n := nest.New(settings, spider.DefaultRegistry, hub, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if cerr := n.Close(closeCtx); cerr != nil {
			logger.Warn("nest close", zap.Error(cerr))
		}
	}()

	if err := n.Load(ctx); err != nil {
		return err
	}

	if source != "" {
		if err := n.RunOne(ctx, source); err != nil {
			return err
		}
	} else if err := n.RunInSeries(ctx); err != nil {
		return err
	}

	if skipBuild {
		return nil
	}

	rebuilt, err := n.BuildDatasets(ctx)
	if err != nil {
		return err
	}
	if err := n.BuildDiscoveryFeeds(ctx); err != nil {
		return err
	}
	if rebuilt && settings.ArchivePath != "" {
		if err := archive.Pack(ctx, settings.DatasetsPath, settings.ArchivePath, logger); err != nil {
			return err
		}
	}
	if !rebuilt {
		logger.Info("dataset unchanged, archive left alone")
	}
	return nil
}

// buildHub wires the progress hub with its sinks and, when configured,
// starts the metrics listener. The returned shutdown stops the listener.
func buildHub(settings config.Settings, logger *zap.Logger) (*progress.Hub, func(), error) {
	hubSinks := []progress.Sink{sinks.NewLogSink(logging.Named(logger, "progress"))}

	shutdown := func() {}
	if settings.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		promSink, err := sinks.NewPrometheusSink(registry)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize metrics sink: %w", err)
		}
		hubSinks = append(hubSinks, promSink)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{
			Addr:              settings.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics listener failed", zap.Error(err))
			}
		}()
		shutdown = func() { _ = srv.Close() }
	}

	hub := progress.NewHub(progress.Config{Logger: logger}, hubSinks...)
	return hub, shutdown, nil
}
