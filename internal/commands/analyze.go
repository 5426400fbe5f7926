package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/auto-fib/internal/app"
	"github.com/auto-fib/internal/services"
	"github.com/auto-fib/pkg/config"
	"github.com/auto-fib/pkg/models"
)

var (
	analyzeSymbols  []string
	analyzeInterval string
	analyzeLimit    int
	analyzeLookback int
	analyzeOffset   int
	analyzeProvider string
	analyzeJSON     bool
	analyzeOut      string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [symbols...]",
	Short: "Run a one-shot Fibonacci analysis",
	Long: `Fetch recent bars for each symbol, compute the auto Fibonacci levels and
print a report with the resulting signal. Symbols are processed one after
another with SOURCE_PAUSE between them; a failing symbol does not stop the run.

Examples:
  # Analyze the configured SOURCE_SYMBOLS
  auto-fib analyze

  # Analyze two symbols on the hourly chart with a 50 bar lookback
  auto-fib analyze BTCUSDT ETHUSDT --interval 1h --lookback 50

  # Forex from OANDA, results as JSON on stdout
  auto-fib analyze --provider oanda --symbols EUR_USD,GBP_USD --json

  # Save result files under ./results
  auto-fib analyze --out ./results`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringSliceVar(&analyzeSymbols, "symbols", nil, "Comma-separated symbols (default SOURCE_SYMBOLS)")
	analyzeCmd.Flags().StringVar(&analyzeInterval, "interval", "", "Bar interval (1m, 5m, 15m, 1h, 4h, 1d, ...)")
	analyzeCmd.Flags().IntVar(&analyzeLimit, "limit", 0, "Number of bars to request")
	analyzeCmd.Flags().IntVar(&analyzeLookback, "lookback", 0, "Bars in the swing window")
	analyzeCmd.Flags().IntVar(&analyzeOffset, "offset", 0, "Bars skipped before the window")
	analyzeCmd.Flags().StringVar(&analyzeProvider, "provider", "", "Bar source: binance, oanda or influx")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print analyses as JSON instead of the report")
	analyzeCmd.Flags().StringVar(&analyzeOut, "out", "", "Directory for JSON result files")

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if analyzeInterval != "" && !models.IsValidInterval(analyzeInterval) {
		return fmt.Errorf("invalid interval: %s. Valid intervals: %s", analyzeInterval, strings.Join(models.ValidIntervals, ", "))
	}

	flags := cmd.Flags()
	cfg, log, err := loadConfig(func(cfg *config.Config) {
		if analyzeInterval != "" {
			cfg.Source.Interval = analyzeInterval
		}
		if analyzeProvider != "" {
			cfg.Source.Provider = analyzeProvider
		}
		if flags.Changed("lookback") {
			cfg.Fibonacci.Lookback = analyzeLookback
		}
		if flags.Changed("offset") {
			cfg.Fibonacci.Offset = analyzeOffset
		}
		if flags.Changed("limit") {
			cfg.Source.Limit = analyzeLimit
		}
		// the analyzer raises the request to lookback+offset anyway
		if need := cfg.Fibonacci.Lookback + cfg.Fibonacci.Offset; cfg.Source.Limit < need {
			cfg.Source.Limit = need
		}
		if analyzeOut != "" {
			cfg.Output.Dir = analyzeOut
			cfg.Output.JSONEnabled = true
		}
		if analyzeJSON {
			cfg.Output.Report = false
		}
	})
	if err != nil {
		return err
	}

	symbols := resolveSymbols(args, analyzeSymbols, cfg.Source.Symbols)
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to analyze")
	}

	application := app.New(cfg, log)
	if err := application.Initialize(); err != nil {
		log.WithError(err).Error("Failed to initialize application")
		return err
	}
	defer application.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"symbols":  symbols,
		"interval": cfg.Source.Interval,
		"provider": cfg.Source.Provider,
	}).Info("Starting analysis")

	outcomes := application.Analyzer().AnalyzeAll(ctx, symbols)

	if analyzeJSON {
		if err := printJSON(cmd, outcomes); err != nil {
			return err
		}
	}

	return summarize(application, outcomes, log)
}

// resolveSymbols prefers positional args, then --symbols, then the configured list
func resolveSymbols(args, flagSymbols, configured []string) []string {
	raw := configured
	switch {
	case len(args) > 0:
		raw = args
	case len(flagSymbols) > 0:
		raw = flagSymbols
	}

	seen := make(map[string]bool, len(raw))
	symbols := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	return symbols
}

func printJSON(cmd *cobra.Command, outcomes []services.Outcome) error {
	analyses := make([]*models.Analysis, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Analysis != nil {
			analyses = append(analyses, o.Analysis)
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(analyses)
}

// summarize reports failed symbols and fails the run only when nothing succeeded
func summarize(application *app.App, outcomes []services.Outcome, log *logrus.Logger) error {
	failed := 0
	for _, o := range outcomes {
		if o.Err == nil {
			continue
		}
		failed++
		if application.GetConfig().Output.Report {
			application.Reporter().WriteError(o.Symbol, o.Err)
		}
	}

	log.WithFields(logrus.Fields{
		"total":  len(outcomes),
		"failed": failed,
	}).Info("Analysis finished")

	if failed > 0 && failed == len(outcomes) {
		return fmt.Errorf("all %d symbols failed", failed)
	}
	return nil
}
