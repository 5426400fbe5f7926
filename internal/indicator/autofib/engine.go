// Package autofib computes automatic Fibonacci retracement and extension levels
// over a lookback window of OHLC bars and derives a BUY/SELL/HOLD signal from
// where the latest close sits relative to the golden zone.
package autofib

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/auto-fib/pkg/models"
)

const (
	DefaultLookback       = 20
	DefaultGoldenZoneLow  = 0.382
	DefaultGoldenZoneHigh = 0.618
)

// DefaultLevels returns the ten standard retracement and extension ratios
func DefaultLevels() []models.Level {
	return []models.Level{
		{Name: "level_0", Ratio: 0.000},
		{Name: "level_1", Ratio: 0.236},
		{Name: "level_2", Ratio: 0.382},
		{Name: "level_3", Ratio: 0.500},
		{Name: "level_4", Ratio: 0.618},
		{Name: "level_5", Ratio: 0.764},
		{Name: "level_6", Ratio: 0.886},
		{Name: "level_7", Ratio: 1.000},
		{Name: "level_8", Ratio: 1.618}, // extension
		{Name: "level_9", Ratio: 2.618}, // extension
	}
}

// Config controls the lookback window, the projected ratios and the golden zone
type Config struct {
	Lookback       int
	Offset         int
	Levels         []models.Level
	GoldenZoneLow  float64
	GoldenZoneHigh float64
}

// DefaultConfig returns lookback 20, offset 0, the default levels and a 0.382-0.618 golden zone
func DefaultConfig() Config {
	return Config{
		Lookback:       DefaultLookback,
		Offset:         0,
		Levels:         DefaultLevels(),
		GoldenZoneLow:  DefaultGoldenZoneLow,
		GoldenZoneHigh: DefaultGoldenZoneHigh,
	}
}

// Validate checks the window parameters. Level content is the caller's business.
func (c Config) Validate() error {
	if c.Lookback <= 0 {
		return fmt.Errorf("%w: lookback must be positive, got %d", ErrInvalidConfig, c.Lookback)
	}
	if c.Offset < 0 {
		return fmt.Errorf("%w: offset must not be negative, got %d", ErrInvalidConfig, c.Offset)
	}
	return nil
}

// Required returns the minimum number of bars a calculation needs,
// saturating at math.MaxInt
func (c Config) Required() int {
	if c.Offset > math.MaxInt-c.Lookback {
		return math.MaxInt
	}
	return c.Lookback + c.Offset
}

// Option customises an Engine
type Option func(*Engine)

// WithLogger attaches a logger; the engine logs at debug level only
func WithLogger(logger *logrus.Logger) Option {
	return func(e *Engine) {
		e.logger = logger.WithField("component", "autofib")
	}
}

// WithGoldenZone sets the golden zone ratios, including an explicit 0-0 zone
func WithGoldenZone(low, high float64) Option {
	return func(e *Engine) {
		e.cfg.GoldenZoneLow, e.cfg.GoldenZoneHigh = low, high
	}
}

// WithClock overrides the clock used to stamp CalculatedAt
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine calculates Fibonacci levels and keeps the most recent result.
// Calculate and Signal are each safe for concurrent use; callers needing the
// pair to be atomic must serialize around them.
type Engine struct {
	cfg    Config
	logger *logrus.Entry
	now    func() time.Time

	mu       sync.RWMutex
	last     *models.CalculationResult
	extremes models.Extremes
}

// New creates an engine. A zero Config is replaced with DefaultConfig and an
// unset golden zone falls back to 0.382-0.618.
func New(cfg Config, opts ...Option) *Engine {
	if cfg.Lookback == 0 && cfg.Levels == nil {
		cfg = DefaultConfig()
	}
	if cfg.GoldenZoneLow == 0 && cfg.GoldenZoneHigh == 0 {
		cfg.GoldenZoneLow, cfg.GoldenZoneHigh = DefaultGoldenZoneLow, DefaultGoldenZoneHigh
	}
	e := &Engine{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		e.logger = l.WithField("component", "autofib")
	}
	return e
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Calculate finds the window extremes, classifies the trend and projects every
// configured ratio. On error the cached result is left untouched.
func (e *Engine) Calculate(bars []models.Bar) (*models.CalculationResult, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	required := e.cfg.Required()
	if e.cfg.Offset > len(bars) || len(bars)-e.cfg.Offset < e.cfg.Lookback {
		return nil, &InsufficientDataError{Required: required, Available: len(bars)}
	}

	start, end := e.cfg.Offset, e.cfg.Offset+e.cfg.Lookback
	lowIdx := lowestBar(bars, start, end)
	highIdx := highestBar(bars, start, end)

	high := bars[highIdx].High
	low := bars[lowIdx].Low
	if high <= 0 || low <= 0 || high <= low {
		return nil, &InvalidPriceDataError{High: high, Low: low}
	}

	ext := models.Extremes{
		HighValue:     high,
		LowValue:      low,
		HighIndex:     highIdx,
		LowIndex:      lowIdx,
		HighTimestamp: bars[highIdx].Timestamp,
		LowTimestamp:  bars[lowIdx].Timestamp,
	}

	// Equal timestamps classify as bearish.
	trend := models.TrendBearish
	if ext.HighTimestamp.After(ext.LowTimestamp) {
		trend = models.TrendBullish
	}

	span := high - low
	levels := make([]models.LevelPrice, 0, len(e.cfg.Levels))
	for _, lvl := range e.cfg.Levels {
		levels = append(levels, models.LevelPrice{
			Name:  lvl.Name,
			Ratio: lvl.Ratio,
			Price: project(trend, high, low, lvl.Ratio),
		})
	}

	zone := goldenZone(trend, high, low, e.cfg.GoldenZoneLow, e.cfg.GoldenZoneHigh)
	current := bars[len(bars)-1].Close

	result := &models.CalculationResult{
		Symbol:       bars[len(bars)-1].Symbol,
		Trend:        trend,
		Extremes:     ext,
		Range:        span,
		Levels:       levels,
		GoldenZone:   zone,
		CurrentPrice: current,
		InGoldenZone: zone.Contains(current),
		CalculatedAt: e.now(),
	}

	e.mu.Lock()
	e.last = result
	e.extremes = ext
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"symbol":  result.Symbol,
		"trend":   trend,
		"high":    high,
		"low":     low,
		"in_zone": result.InGoldenZone,
	}).Debug("Fibonacci levels calculated")

	return result, nil
}

// Signal derives the signal from the last successful calculation
func (e *Engine) Signal() models.Signal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return SignalFor(e.last)
}

// Result returns the last successful calculation, nil before the first one
func (e *Engine) Result() *models.CalculationResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// Extremes returns the cached window extremes and whether any calculation succeeded
func (e *Engine) Extremes() (models.Extremes, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.extremes, e.last != nil
}

// SignalFor maps a result to a signal: BUY/SELL inside the golden zone
// depending on trend, HOLD outside it, NO_DATA without a result.
func SignalFor(r *models.CalculationResult) models.Signal {
	if r == nil {
		return models.SignalNoData
	}
	if !r.InGoldenZone {
		return models.SignalHold
	}
	if r.Trend == models.TrendBullish {
		return models.SignalBuy
	}
	return models.SignalSell
}

// project measures bullish levels up from the low and bearish levels down from the high
func project(trend models.Trend, high, low, ratio float64) float64 {
	if trend == models.TrendBullish {
		return low + (high-low)*ratio
	}
	return high - (high-low)*ratio
}

func goldenZone(trend models.Trend, high, low, lowRatio, highRatio float64) models.GoldenZone {
	a := project(trend, high, low, lowRatio)
	b := project(trend, high, low, highRatio)
	if a > b {
		a, b = b, a
	}
	return models.GoldenZone{Low: a, High: b}
}

// lowestBar returns the index of the first bar with the minimum low in [start, end)
func lowestBar(bars []models.Bar, start, end int) int {
	idx := start
	for i := start + 1; i < end; i++ {
		if bars[i].Low < bars[idx].Low {
			idx = i
		}
	}
	return idx
}

// highestBar returns the index of the first bar with the maximum high in [start, end)
func highestBar(bars []models.Bar, start, end int) int {
	idx := start
	for i := start + 1; i < end; i++ {
		if bars[i].High > bars[idx].High {
			idx = i
		}
	}
	return idx
}
