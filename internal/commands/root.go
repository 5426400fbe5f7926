package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/auto-fib/pkg/config"
	"github.com/auto-fib/pkg/logger"
)

var (
	verbose bool
	envFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "auto-fib",
	Short: "Automatic Fibonacci retracement levels and signals",
	Long: `Auto-fib finds the swing high and low of the recent bars of a symbol,
projects Fibonacci retracement and extension levels onto that swing and
derives a BUY/SELL/HOLD signal from where the latest close sits relative
to the 0.382-0.618 golden zone.

Bars come from Binance, OANDA or an InfluxDB archive. Results can be
printed, saved as JSON, cached in Redis, journaled in MySQL, written to
InfluxDB, published on NATS and streamed over a websocket.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadEnvFile,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadEnvFile loads an optional .env before any configuration is read
func loadEnvFile(cmd *cobra.Command, args []string) error {
	path, err := config.LoadDotEnv()
	if err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	envFile = path
	return nil
}

// loadConfig reads the environment, applies flag overrides and builds the logger
func loadConfig(override func(*config.Config)) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid flags: %w", err)
		}
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	if envFile != "" {
		log.WithField("path", envFile).Debug("Loaded .env file")
	}

	return cfg, log, nil
}
