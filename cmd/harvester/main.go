// Command harvester collects GitHub repository metadata through the
// GraphQL search API, working around the per-query result cap with star
// range partitioning, and stores the catalog in Postgres.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/github-harvester/pkg/config"
	"github.com/Sternrassler/github-harvester/pkg/github"
	"github.com/Sternrassler/github-harvester/pkg/harvest"
	"github.com/Sternrassler/github-harvester/pkg/logging"
	"github.com/Sternrassler/github-harvester/pkg/ratelimit"
	"github.com/Sternrassler/github-harvester/pkg/storage"
)

const version = "0.1.0"

// Exit codes follow shell conventions: 130 signals interruption.
const (
	exitFailure     = 1
	exitInterrupted = 130
)

var (
	flagTarget    int
	flagBatchSize int
	flagQuery     string
	flagOutput    string
	flagPretty    bool
)

var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Harvest GitHub repository metadata into Postgres",
	Long: `Harvests repository metadata from the GitHub GraphQL search API.

Search queries are partitioned by star count ranges so the harvest can
cover far more repositories than the per-query result cap allows. Results
are deduplicated, upserted into Postgres and exported as CSV.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runHarvest,
}

var exportCmd = &cobra.Command{
	Use:          "export",
	Short:        "Export the stored catalog as CSV without harvesting",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadDatabase()
		if err != nil {
			return err
		}
		logger := logging.Setup(logging.Config{Level: logging.LogLevel(cfg.LogLevel), Pretty: cfg.LogPretty})

		if cmd.Flags().Changed("output") {
			cfg.OutputPath = flagOutput
		}

		store, err := storage.New(cmd.Context(), cfg.Database.DSN())
		if err != nil {
			return err
		}
		defer store.Close()

		exported, err := store.ExportCSVFile(cmd.Context(), cfg.OutputPath)
		if err != nil {
			return err
		}
		logger.Info().Int64("rows", exported).Str("path", cfg.OutputPath).Msg("Export complete")
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:          "stats",
	Short:        "Print aggregate statistics over the stored catalog",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadDatabase()
		if err != nil {
			return err
		}
		logging.Setup(logging.Config{Level: logging.LogLevel(cfg.LogLevel), Pretty: cfg.LogPretty})

		store, err := storage.New(cmd.Context(), cfg.Database.DSN())
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.GetStats(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("repositories: %d\n", stats.TotalRepos)
		fmt.Printf("total stars:  %d\n", stats.TotalStars)
		fmt.Printf("max stars:    %d\n", stats.MaxStars)
		fmt.Printf("min stars:    %d\n", stats.MinStars)
		fmt.Printf("avg stars:    %.1f\n", stats.AvgStars)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("harvester version %s\n", version)
	},
}

func init() {
	rootCmd.Flags().IntVar(&flagTarget, "target", 0, "number of unique repositories to harvest (default from MAX_REPOS)")
	rootCmd.Flags().IntVar(&flagBatchSize, "batch-size", 0, "search page size, max 100 (default from BATCH_SIZE)")
	rootCmd.Flags().StringVar(&flagQuery, "query", "", "extra search predicate ANDed into every partition query")
	rootCmd.Flags().StringVar(&flagOutput, "output", "", "CSV export path (default from OUTPUT_PATH)")
	rootCmd.PersistentFlags().BoolVar(&flagPretty, "pretty", false, "console-formatted log output")

	exportCmd.Flags().StringVar(&flagOutput, "output", "", "CSV export path (default from OUTPUT_PATH)")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, harvest.ErrInterrupted) {
			os.Exit(exitInterrupted)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFailure)
	}
}

func runHarvest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.Setup(logging.Config{Level: logging.LogLevel(cfg.LogLevel), Pretty: cfg.LogPretty})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		startMetricsListener(cfg.MetricsAddr)
	}

	client, err := github.NewClient(github.DefaultConfig(cfg.GitHub.Endpoint, cfg.GitHub.Token))
	if err != nil {
		return fmt.Errorf("create api client: %w", err)
	}
	defer client.Close()

	store, err := storage.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	governor := ratelimit.NewGovernor(ratelimit.DefaultLowWaterMark, logging.NewLogger("governor"))

	harvester, err := harvest.New(client, store, governor, harvest.Config{
		BaseQuery:   cfg.GitHub.BaseQuery,
		TargetCount: cfg.GitHub.TargetCount,
		BatchSize:   cfg.GitHub.BatchSize,
	})
	if err != nil {
		return err
	}

	stats, runErr := harvester.Run(ctx)
	if runErr != nil && !errors.Is(runErr, harvest.ErrInterrupted) {
		return runErr
	}

	// Export whatever was collected, interrupted or not. The run context
	// may already be cancelled, so the export gets its own deadline.
	exportCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if _, err := store.ExportCSVFile(exportCtx, cfg.OutputPath); err != nil {
		logger.Error().Err(err).Str("path", cfg.OutputPath).Msg("CSV export failed")
		if runErr == nil {
			return err
		}
	}

	logger.Info().
		Int("harvested", stats.TotalHarvested).
		Int64("affected", stats.TotalAffected).
		Float64("rate", stats.ReposPerSecond).
		Msg("Run complete")

	return runErr
}

// applyFlags lets command line flags override environment configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("target") {
		cfg.GitHub.TargetCount = flagTarget
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.GitHub.BatchSize = flagBatchSize
	}
	if cmd.Flags().Changed("query") {
		cfg.GitHub.BaseQuery = flagQuery
	}
	if cmd.Flags().Changed("output") {
		cfg.OutputPath = flagOutput
	}
	if cmd.Flags().Changed("pretty") {
		cfg.LogPretty = flagPretty
	}
}

// startMetricsListener exposes Prometheus metrics in the background. A
// listener failure is logged, never fatal to the harvest.
func startMetricsListener(addr string) {
	logger := logging.NewLogger("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics listener started")
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error().Err(err).Msg("Metrics listener stopped")
		}
	}()
}
