package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/auto-fib/internal/exchange"
	"github.com/auto-fib/internal/indicator/autofib"
	"github.com/auto-fib/internal/metrics"
	"github.com/auto-fib/pkg/models"
)

// ErrSymbolRequired is returned for a blank symbol
var ErrSymbolRequired = errors.New("symbol is required")

// Sink receives every successful analysis
type Sink interface {
	Name() string
	Deliver(ctx context.Context, a *models.Analysis) error
}

type sinkFunc struct {
	name string
	fn   func(context.Context, *models.Analysis) error
}

func (s sinkFunc) Name() string { return s.name }

func (s sinkFunc) Deliver(ctx context.Context, a *models.Analysis) error { return s.fn(ctx, a) }

// NewSink adapts a delivery function into a Sink
func NewSink(name string, fn func(context.Context, *models.Analysis) error) Sink {
	return sinkFunc{name: name, fn: fn}
}

// AnalyzerConfig holds the default bar request and pacing of an Analyzer
type AnalyzerConfig struct {
	Interval string
	Limit    int
	Timeout  time.Duration // per fetch, 0 disables
	Pause    time.Duration // between symbols in AnalyzeAll
}

// Outcome is the per-symbol result of AnalyzeAll
type Outcome struct {
	Symbol   string
	Analysis *models.Analysis
	Err      error
}

// Analyzer fetches bars, runs the Fibonacci engine and fans results out to sinks
type Analyzer struct {
	engine  *autofib.Engine
	source  exchange.HistoricalDataSource
	cfg     AnalyzerConfig
	metrics *metrics.Metrics
	logger  *logrus.Entry
	newID   func() string

	sinksMu sync.RWMutex
	sinks   []Sink

	// calcMu pairs Calculate with Signal on the shared engine
	calcMu sync.Mutex

	latestMu sync.RWMutex
	latest   map[string]*models.Analysis
}

// NewAnalyzer creates an analyzer. The source is wrapped with cfg.Timeout.
func NewAnalyzer(
	engine *autofib.Engine,
	source exchange.HistoricalDataSource,
	cfg AnalyzerConfig,
	m *metrics.Metrics,
	logger *logrus.Logger,
	sinks ...Sink,
) *Analyzer {
	if m == nil {
		m = metrics.New()
	}
	return &Analyzer{
		engine:  engine,
		source:  exchange.WithTimeout(source, cfg.Timeout),
		cfg:     cfg,
		metrics: m,
		logger:  logger.WithField("component", "analyzer"),
		newID:   uuid.NewString,
		sinks:   sinks,
		latest:  make(map[string]*models.Analysis),
	}
}

// AddSink registers another sink
func (a *Analyzer) AddSink(s Sink) {
	a.sinksMu.Lock()
	a.sinks = append(a.sinks, s)
	a.sinksMu.Unlock()
}

// Engine returns the underlying engine
func (a *Analyzer) Engine() *autofib.Engine {
	return a.engine
}

// Source returns the (timeout-wrapped) bar source
func (a *Analyzer) Source() exchange.HistoricalDataSource {
	return a.source
}

// Analyze runs one analysis for symbol with the default interval and limit
func (a *Analyzer) Analyze(ctx context.Context, symbol string) (*models.Analysis, error) {
	return a.AnalyzeRequest(ctx, models.BarRequest{Symbol: symbol})
}

// AnalyzeRequest runs one analysis; empty Interval and zero Limit take the defaults
func (a *Analyzer) AnalyzeRequest(ctx context.Context, req models.BarRequest) (*models.Analysis, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		return nil, ErrSymbolRequired
	}
	if req.Interval == "" {
		req.Interval = a.cfg.Interval
	}
	if req.Limit <= 0 {
		req.Limit = a.cfg.Limit
	}
	if need := a.engine.Config().Required(); req.Limit < need {
		req.Limit = need
	}

	log := a.logger.WithFields(logrus.Fields{
		"symbol":   req.Symbol,
		"interval": req.Interval,
		"source":   a.source.Name(),
	})

	start := time.Now()
	bars, err := a.source.FetchBars(ctx, req)
	a.metrics.ObserveFetch(a.source.Name(), time.Since(start))
	if err != nil {
		if errors.Is(err, exchange.ErrDataTimeout) {
			a.metrics.ObserveCalculation(metrics.OutcomeTimeout)
		} else {
			a.metrics.ObserveCalculation(metrics.OutcomeFetchError)
		}
		log.WithError(err).Warn("Failed to fetch bars")
		return nil, fmt.Errorf("failed to fetch bars for %s: %w", req.Symbol, err)
	}

	log.WithField("bars", len(bars)).Debug("Historical data received")

	for i := range bars {
		bars[i].Symbol = req.Symbol
	}

	a.calcMu.Lock()
	result, err := a.engine.Calculate(bars)
	signal := a.engine.Signal()
	a.calcMu.Unlock()

	if err != nil {
		a.metrics.ObserveCalculation(outcomeOf(err))
		log.WithError(err).Warn("Fibonacci calculation failed")
		return nil, fmt.Errorf("failed to calculate levels for %s: %w", req.Symbol, err)
	}

	a.metrics.ObserveCalculation(metrics.OutcomeOK)
	a.metrics.ObserveSignal(req.Symbol, signal)

	analysis := &models.Analysis{
		RunID:    a.newID(),
		Symbol:   req.Symbol,
		Interval: req.Interval,
		Source:   a.source.Name(),
		Signal:   signal,
		Result:   result,
	}
	a.Record(analysis)

	log.WithFields(logrus.Fields{
		"trend":   result.Trend,
		"signal":  signal,
		"price":   result.CurrentPrice,
		"in_zone": result.InGoldenZone,
	}).Info("Analysis complete")

	a.deliver(ctx, analysis)

	return analysis, nil
}

// AnalyzeAll analyzes symbols one after another, pausing between them
func (a *Analyzer) AnalyzeAll(ctx context.Context, symbols []string) []Outcome {
	outcomes := make([]Outcome, 0, len(symbols))

	for i, symbol := range symbols {
		if i > 0 && a.cfg.Pause > 0 {
			select {
			case <-time.After(a.cfg.Pause):
			case <-ctx.Done():
			}
		}
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, Outcome{Symbol: symbol, Err: err})
			continue
		}

		analysis, err := a.Analyze(ctx, symbol)
		outcomes = append(outcomes, Outcome{Symbol: symbol, Analysis: analysis, Err: err})
	}

	return outcomes
}

// Latest returns the last analysis recorded for symbol
func (a *Analyzer) Latest(symbol string) (*models.Analysis, bool) {
	a.latestMu.RLock()
	defer a.latestMu.RUnlock()
	an, ok := a.latest[strings.ToUpper(symbol)]
	return an, ok
}

// Signals returns the signal of every symbol analyzed so far
func (a *Analyzer) Signals() map[string]models.Signal {
	a.latestMu.RLock()
	defer a.latestMu.RUnlock()

	out := make(map[string]models.Signal, len(a.latest))
	for symbol, an := range a.latest {
		out[symbol] = an.Signal
	}
	return out
}

// Record keeps an analysis as the latest for its symbol unless it is already
// known or older than the current one. It reports whether it was kept.
func (a *Analyzer) Record(an *models.Analysis) bool {
	if an == nil || an.Result == nil {
		return false
	}
	key := strings.ToUpper(an.Symbol)

	a.latestMu.Lock()
	defer a.latestMu.Unlock()

	if cur, ok := a.latest[key]; ok {
		if cur.RunID == an.RunID || an.Result.CalculatedAt.Before(cur.Result.CalculatedAt) {
			return false
		}
	}
	a.latest[key] = an
	return true
}

func (a *Analyzer) deliver(ctx context.Context, an *models.Analysis) {
	a.sinksMu.RLock()
	sinks := make([]Sink, len(a.sinks))
	copy(sinks, a.sinks)
	a.sinksMu.RUnlock()

	for _, s := range sinks {
		if err := s.Deliver(ctx, an); err != nil {
			a.metrics.ObserveSinkError(s.Name())
			a.logger.WithError(err).WithFields(logrus.Fields{
				"sink":   s.Name(),
				"symbol": an.Symbol,
			}).Warn("Failed to deliver analysis")
		}
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, autofib.ErrInsufficientData):
		return metrics.OutcomeInsufficientData
	case errors.Is(err, autofib.ErrInvalidPriceData):
		return metrics.OutcomeInvalidPrice
	default:
		return metrics.OutcomeError
	}
}
