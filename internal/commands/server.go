package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/auto-fib/internal/app"
	"github.com/auto-fib/pkg/config"
)

var (
	serverPort   int
	serverHost   string
	logLevel     string
	serverReport bool
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the auto-fib API server",
	Long: `Start the HTTP API and the websocket stream.

Routes:
• GET  /api/v1/fibonacci/{symbol}          run an analysis now
• GET  /api/v1/fibonacci/{symbol}/latest   last analysis
• GET  /api/v1/fibonacci/{symbol}/history  journaled analyses (MySQL)
• POST /api/v1/fibonacci/calculate         stateless calculation over posted bars
• GET  /api/v1/signals                     latest signal per symbol
• GET  /api/v1/ws                          websocket stream of analyses
• GET  /metrics                            prometheus metrics

Examples:
  auto-fib server                    # Start with default settings
  auto-fib server --port 9090        # Start on custom port
  auto-fib server --log-level debug  # Enable debug logging`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "Server port (default SERVER_PORT)")
	serverCmd.Flags().StringVarP(&serverHost, "host", "H", "", "Server host (default SERVER_HOST)")
	serverCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	serverCmd.Flags().BoolVar(&serverReport, "report", false, "Print a console report for every analysis")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(func(cfg *config.Config) {
		if serverHost != "" {
			cfg.Server.Host = serverHost
		}
		if serverPort != 0 {
			cfg.Server.Port = serverPort
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		cfg.Output.Report = serverReport
	})
	if err != nil {
		return err
	}

	log.Info("Starting auto-fib server")

	application := app.New(cfg, log)

	if err := application.Initialize(); err != nil {
		log.WithError(err).Error("Failed to initialize application")
		return err
	}

	if err := application.Start(); err != nil {
		log.WithError(err).Error("Failed to start application")
		application.Stop()
		return err
	}

	// Wait for interrupt signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-interrupt
	log.WithField("signal", sig.String()).Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownComplete := make(chan struct{})
	go func() {
		if err := application.Stop(); err != nil {
			log.WithError(err).Error("Application shutdown error")
		}
		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		log.Info("Application shutdown complete")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout - forcing exit")
		os.Exit(1)
	}

	return nil
}
