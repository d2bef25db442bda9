// Package cli provides the command-line interface for gearflow.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/raphaelgruber/gearflow/internal/archive"
	"github.com/raphaelgruber/gearflow/internal/config"
	"github.com/raphaelgruber/gearflow/internal/metrics"
	"github.com/raphaelgruber/gearflow/internal/platform"
	"github.com/raphaelgruber/gearflow/internal/service"
	"github.com/raphaelgruber/gearflow/internal/shell"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	showStats bool

	// Initialized in PersistentPreRunE
	cfg          config.Config
	logger       *slog.Logger
	closeLog     func() error
	collector    *metrics.Collector
	orchestrator *service.Orchestrator
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "gearflow",
	Short: "Run gears on the platform and collect their results",
	Long: `Gearflow submits gear jobs to the data-management platform without
duplicating work that already exists, waits for them to finish, and
downloads and unpacks their outputs into local directories.

Configuration is read from GEARFLOW_* environment variables
(GEARFLOW_API_URL and GEARFLOW_API_KEY are required).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		// The progress UI owns the terminal; logs then only go to the log file.
		var stderr io.Writer = os.Stderr
		if progressEnabled(cmd) {
			stderr = io.Discard
		}
		var base *slog.Logger
		base, closeLog = config.SetupLogger(stderr, cfg.LogFile, cfg.LogLevel)
		logger = base.With("run_id", uuid.New().String()[:8])
		slog.SetDefault(logger)

		if err := cfg.Validate(); err != nil {
			return err
		}

		collector = metrics.NewCollector()
		client := platform.New(cfg.APIURL, cfg.APIKey,
			platform.WithTimeout(cfg.RequestTimeout),
			platform.WithRateLimit(cfg.RateLimit),
			platform.WithLogger(logger),
			platform.WithMetrics(collector),
		)

		runner := shell.ExecRunner{Metrics: collector}
		retrier := shell.NewRetrier(runner, cfg.RetryAttempts, cfg.RetryDelay, logger)
		extractor := archive.NewUnzipExtractor(runner, cfg.UnzipBinary, collector)
		unpacker := archive.NewUnpacker(extractor, retrier.WithDelay(cfg.CleanupRetryDelay), logger)

		orchestrator = service.NewOrchestrator(client, unpacker, logger, collector)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if showStats && collector != nil {
			printStats(collector.Snapshot())
		}
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// Interrupts cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "print request and transfer statistics when done")

	// Add subcommands
	rootCmd.AddCommand(ensureCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(waitCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(uploadCmd)
}

// printStats displays the metrics collected during this invocation.
func printStats(snap metrics.Snapshot) {
	fmt.Printf("\nStatistics\n")
	fmt.Printf("═══════════════════════════════════════════════\n")
	fmt.Printf("Elapsed: %.1f seconds\n", snap.UptimeSeconds)

	for _, op := range snap.Operations {
		fmt.Printf("\n%s:\n", op.Name)
		fmt.Printf("  Calls: %d, Failures: %d, Total: %dms\n", op.Count, op.Failures, op.TotalTimeMs)
		if op.Count > 0 {
			fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n", op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
		}
		if op.Bytes > 0 {
			fmt.Printf("  Bytes: %d\n", op.Bytes)
		}
	}
}
