package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/auto-fib/internal/app"
	"github.com/auto-fib/pkg/config"
	"github.com/auto-fib/pkg/models"
)

var (
	archiveSymbols  []string
	archiveInterval string
	archiveBars     int
	archiveProvider string
)

var archiveCmd = &cobra.Command{
	Use:   "archive [symbols...]",
	Short: "Copy historical bars into InfluxDB",
	Long: `Fetch historical bars from Binance or OANDA and store them in InfluxDB,
so later analyses can run with SOURCE_PROVIDER=influx.

Examples:
  # Archive 5000 five-minute bars of the configured symbols
  auto-fib archive --bars 5000

  # Archive 2 years of daily bars for BTCUSDT
  auto-fib archive BTCUSDT --interval 1d --bars 730

  # Archive forex from OANDA
  auto-fib archive EUR_USD --provider oanda --interval 1h --bars 2000`,
	RunE: runArchive,
}

func init() {
	archiveCmd.Flags().StringSliceVar(&archiveSymbols, "symbols", nil, "Comma-separated symbols (default SOURCE_SYMBOLS)")
	archiveCmd.Flags().StringVar(&archiveInterval, "interval", "", "Bar interval (default SOURCE_INTERVAL)")
	archiveCmd.Flags().IntVar(&archiveBars, "bars", 1000, "Number of bars to archive per symbol")
	archiveCmd.Flags().StringVar(&archiveProvider, "provider", "", "Bar source: binance or oanda")

	rootCmd.AddCommand(archiveCmd)
}

func runArchive(cmd *cobra.Command, args []string) error {
	if archiveInterval != "" && !models.IsValidInterval(archiveInterval) {
		return fmt.Errorf("invalid interval: %s. Valid intervals: %s", archiveInterval, strings.Join(models.ValidIntervals, ", "))
	}
	if archiveBars <= 0 {
		return fmt.Errorf("--bars must be positive")
	}

	cfg, log, err := loadConfig(func(cfg *config.Config) {
		if archiveInterval != "" {
			cfg.Source.Interval = archiveInterval
		}
		if archiveProvider != "" {
			cfg.Source.Provider = archiveProvider
		}
		if cfg.Source.Provider == "influx" {
			cfg.Source.Provider = "binance"
		}
		cfg.Sinks.InfluxEnabled = true
		cfg.Output.Report = false
		cfg.Output.JSONEnabled = false
	})
	if err != nil {
		return err
	}

	symbols := resolveSymbols(args, archiveSymbols, cfg.Source.Symbols)
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to archive")
	}

	application := app.New(cfg, log)
	if err := application.Initialize(); err != nil {
		log.WithError(err).Error("Failed to initialize application")
		return err
	}
	defer application.Stop()

	archiver, err := application.Archiver()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"symbols":  symbols,
		"interval": cfg.Source.Interval,
		"bars":     archiveBars,
		"provider": cfg.Source.Provider,
	}).Info("Starting archive")

	errs := archiver.ArchiveAll(ctx, symbols, cfg.Source.Interval, archiveBars)
	if len(errs) == 0 {
		return nil
	}

	failed := make([]string, 0, len(errs))
	for symbol := range errs {
		failed = append(failed, symbol)
	}
	sort.Strings(failed)
	return fmt.Errorf("archive failed for %d of %d symbols: %s", len(failed), len(symbols), strings.Join(failed, ", "))
}
