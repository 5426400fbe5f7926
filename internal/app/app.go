package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/auto-fib/internal/api"
	"github.com/auto-fib/internal/cache"
	"github.com/auto-fib/internal/database"
	"github.com/auto-fib/internal/exchange"
	"github.com/auto-fib/internal/indicator/autofib"
	"github.com/auto-fib/internal/messaging"
	"github.com/auto-fib/internal/metrics"
	"github.com/auto-fib/internal/report"
	"github.com/auto-fib/internal/services"
	"github.com/auto-fib/internal/websocket"
	"github.com/auto-fib/pkg/config"
	"github.com/auto-fib/pkg/models"
)

// App represents the main application
type App struct {
	cfg    *config.Config
	logger *logrus.Logger
	out    io.Writer
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Backends, nil when disabled
	influxDB   *database.InfluxClient
	mysqlDB    *database.MySQLClient
	redisCache *cache.RedisClient
	natsClient *messaging.NATSClient

	// Core components
	engineCfg autofib.Config
	metrics   *metrics.Metrics
	source    exchange.HistoricalDataSource
	analyzer  *services.Analyzer
	reporter  *report.Reporter
	wsHub     *websocket.Hub
	apiServer *api.Server
}

// New creates a new application instance
func New(cfg *config.Config, logger *logrus.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		cfg:    cfg,
		logger: logger,
		out:    os.Stdout,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetOutput redirects console reports, stdout by default
func (a *App) SetOutput(w io.Writer) {
	a.out = w
}

// Initialize connects the enabled backends and builds the analyzer with its sinks
func (a *App) Initialize() error {
	if err := a.initializeEngine(); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	a.metrics = metrics.New()

	if err := a.initializeBackends(); err != nil {
		a.closeConnections()
		return fmt.Errorf("failed to initialize backends: %w", err)
	}

	if err := a.initializeSource(); err != nil {
		a.closeConnections()
		return fmt.Errorf("failed to initialize source: %w", err)
	}

	a.analyzer = services.NewAnalyzer(
		autofib.New(a.engineCfg, autofib.WithLogger(a.logger)),
		a.source,
		services.AnalyzerConfig{
			Interval: a.cfg.Source.Interval,
			Limit:    a.cfg.Source.Limit,
			Timeout:  a.cfg.Source.Timeout,
			Pause:    a.cfg.Source.Pause,
		},
		a.metrics,
		a.logger,
		a.sinks()...,
	)

	a.logger.WithFields(logrus.Fields{
		"source":   a.source.Name(),
		"interval": a.cfg.Source.Interval,
		"lookback": a.engineCfg.Lookback,
		"offset":   a.engineCfg.Offset,
	}).Info("Application initialized")

	return nil
}

// Start runs the websocket hub, the NATS fan-in and the API server
func (a *App) Start() error {
	if a.analyzer == nil {
		return fmt.Errorf("application is not initialized")
	}

	if a.cfg.WebSocket.Enabled {
		a.wsHub = websocket.NewHub(&a.cfg.WebSocket, a.analyzer.Latest, a.metrics, a.logger)
		a.analyzer.AddSink(a.wsHub)

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.wsHub.Run(a.ctx)
		}()
	}

	// Analyses from other instances reach local clients through NATS.
	// Our own publications come back with a known run id and are skipped.
	if a.natsClient != nil {
		err := a.natsClient.SubscribeAnalyses(func(an *models.Analysis) {
			if !a.analyzer.Record(an) || a.wsHub == nil {
				return
			}
			if err := a.wsHub.Deliver(a.ctx, an); err != nil {
				a.logger.WithError(err).Debug("Failed to forward remote analysis")
			}
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to analyses: %w", err)
		}
	}

	a.apiServer = api.NewServer(a.cfg, a.apiDeps(), a.logger)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.apiServer.Start(); err != nil {
			a.logger.WithError(err).Error("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the application
func (a *App) Stop() error {
	a.logger.Info("Stopping application...")

	if a.apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.apiServer.Stop(ctx); err != nil {
			a.logger.WithError(err).Error("Error stopping API server")
		}
		cancel()
	}

	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("All goroutines stopped")
	case <-time.After(3 * time.Second):
		a.logger.Warn("Timeout waiting for goroutines to finish")
	}

	if err := a.closeConnections(); err != nil {
		a.logger.WithError(err).Error("Error closing connections")
	}

	a.logger.Info("Application stopped successfully")
	return nil
}

// GetContext returns the application context
func (a *App) GetContext() context.Context {
	return a.ctx
}

// GetConfig returns the application configuration
func (a *App) GetConfig() *config.Config {
	return a.cfg
}

// Analyzer returns the analyzer built by Initialize
func (a *App) Analyzer() *services.Analyzer {
	return a.analyzer
}

// Archiver copies bars from the configured live source into InfluxDB
func (a *App) Archiver() (*services.Archiver, error) {
	if a.source == nil {
		return nil, fmt.Errorf("application is not initialized")
	}
	if a.influxDB == nil {
		return nil, fmt.Errorf("archiving requires InfluxDB (SINKS_INFLUX_ENABLED)")
	}
	if a.source == exchange.HistoricalDataSource(a.influxDB) {
		return nil, fmt.Errorf("cannot archive from the influx provider into itself")
	}
	return services.NewArchiver(a.source, a.influxDB, a.logger), nil
}

// Reporter returns the console reporter
func (a *App) Reporter() *report.Reporter {
	if a.reporter == nil {
		a.reporter = report.New(a.out, a.cfg.Output.Dir)
	}
	return a.reporter
}

// Private initialization methods

func (a *App) initializeEngine() error {
	levels, err := config.ParseLevels(a.cfg.Fibonacci.Levels)
	if err != nil {
		return err
	}

	a.engineCfg = autofib.Config{
		Lookback:       a.cfg.Fibonacci.Lookback,
		Offset:         a.cfg.Fibonacci.Offset,
		Levels:         levels,
		GoldenZoneLow:  a.cfg.Fibonacci.GoldenZoneLow,
		GoldenZoneHigh: a.cfg.Fibonacci.GoldenZoneHigh,
	}
	return a.engineCfg.Validate()
}

func (a *App) initializeBackends() error {
	if a.cfg.Sinks.InfluxEnabled || a.cfg.Source.Provider == "influx" {
		a.influxDB = database.NewInfluxClient(&a.cfg.InfluxDB, a.logger)
		if err := a.influxDB.Health(a.ctx); err != nil {
			return fmt.Errorf("failed to connect to InfluxDB: %w", err)
		}
	}

	if a.cfg.Sinks.RedisEnabled {
		redisClient, err := cache.NewRedisClient(&a.cfg.Redis, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.redisCache = redisClient
	}

	if a.cfg.Sinks.NATSEnabled {
		natsClient, err := messaging.NewNATSClient(&a.cfg.NATS, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		a.natsClient = natsClient
	}

	if a.cfg.Sinks.MySQLEnabled {
		mysqlClient, err := database.NewMySQLClient(&a.cfg.MySQL, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to MySQL: %w", err)
		}
		a.mysqlDB = mysqlClient
	}

	return nil
}

func (a *App) initializeSource() error {
	switch a.cfg.Source.Provider {
	case "binance":
		a.source = exchange.NewBinanceSource(&a.cfg.Binance, a.logger)
	case "oanda":
		if a.cfg.OANDA.APIKey == "" {
			return fmt.Errorf("OANDA_API_KEY is required for the oanda provider")
		}
		a.source = exchange.NewOANDASource(&a.cfg.OANDA, a.logger)
	case "influx":
		a.source = a.influxDB
	default:
		return fmt.Errorf("unknown source provider: %s", a.cfg.Source.Provider)
	}
	return nil
}

// sinks builds the delivery chain in a fixed order: console, file, then backends
func (a *App) sinks() []services.Sink {
	var sinks []services.Sink

	if a.cfg.Output.Report {
		sinks = append(sinks, services.NewSink("report", func(ctx context.Context, an *models.Analysis) error {
			return a.Reporter().Write(an)
		}))
	}

	if a.cfg.Output.JSONEnabled {
		sinks = append(sinks, services.NewSink("json", func(ctx context.Context, an *models.Analysis) error {
			path, err := a.Reporter().Save(an)
			if err != nil {
				return err
			}
			a.logger.WithField("path", path).Debug("Result saved")
			return nil
		}))
	}

	if a.redisCache != nil {
		sinks = append(sinks, services.NewSink("redis", a.redisCache.SetAnalysis))
	}
	if a.influxDB != nil && a.cfg.Sinks.InfluxEnabled {
		sinks = append(sinks, services.NewSink("influx", a.influxDB.WriteAnalysis))
	}
	if a.mysqlDB != nil {
		sinks = append(sinks, services.NewSink("mysql", a.mysqlDB.InsertAnalysis))
	}
	if a.natsClient != nil {
		sinks = append(sinks, services.NewSink("nats", func(ctx context.Context, an *models.Analysis) error {
			return a.natsClient.PublishAnalysis(an)
		}))
	}

	return sinks
}

func (a *App) apiDeps() api.Deps {
	deps := api.Deps{
		Analyzer: a.analyzer,
		Engine:   a.engineCfg,
		Hub:      a.wsHub,
		Metrics:  a.metrics,
		Checks:   make(map[string]api.HealthChecker),
	}

	if a.redisCache != nil {
		deps.Cache = a.redisCache
		deps.Checks["redis"] = a.redisCache
	}
	if a.mysqlDB != nil {
		deps.Journal = a.mysqlDB
		deps.Checks["mysql"] = a.mysqlDB
	}
	if a.influxDB != nil {
		deps.Checks["influx"] = a.influxDB
	}
	if a.natsClient != nil {
		deps.Checks["nats"] = natsHealth{a.natsClient}
	}

	return deps
}

type natsHealth struct {
	client *messaging.NATSClient
}

func (n natsHealth) Health(ctx context.Context) error {
	if !n.client.IsConnected() {
		return fmt.Errorf("NATS is disconnected")
	}
	return nil
}

func (a *App) closeConnections() error {
	var errs []error

	if a.mysqlDB != nil {
		if err := a.mysqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close MySQL: %w", err))
		}
	}

	if a.influxDB != nil {
		// InfluxDB Close() doesn't return an error
		a.influxDB.Close()
	}

	if a.redisCache != nil {
		if err := a.redisCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis: %w", err))
		}
	}

	if a.natsClient != nil {
		if err := a.natsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close NATS: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}

	return nil
}
