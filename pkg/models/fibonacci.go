package models

import (
	"time"
)

// Trend is the direction of the swing inside the lookback window
type Trend string

const (
	TrendBullish Trend = "BULLISH" // low printed before the high
	TrendBearish Trend = "BEARISH" // high printed before the low
)

// Signal is the discrete trading signal derived from a calculation
type Signal string

const (
	SignalBuy    Signal = "BUY"
	SignalSell   Signal = "SELL"
	SignalHold   Signal = "HOLD"
	SignalNoData Signal = "NO_DATA"
)

// Level is a named Fibonacci ratio
type Level struct {
	Name  string  `json:"name"`
	Ratio float64 `json:"ratio"`
}

// LevelPrice is a Fibonacci ratio projected onto an absolute price
type LevelPrice struct {
	Name  string  `json:"name"`
	Ratio float64 `json:"ratio"`
	Price float64 `json:"price"`
}

// GoldenZone is the price band between the two golden-zone ratios, Low <= High
type GoldenZone struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Contains reports whether price lies inside the zone, both ends inclusive
func (z GoldenZone) Contains(price float64) bool {
	return z.Low <= price && price <= z.High
}

// Extremes holds the lookback window's highest high and lowest low
type Extremes struct {
	HighValue     float64   `json:"high_value"`
	LowValue      float64   `json:"low_value"`
	HighIndex     int       `json:"high_bar_index"`
	LowIndex      int       `json:"low_bar_index"`
	HighTimestamp time.Time `json:"high_time"`
	LowTimestamp  time.Time `json:"low_time"`
}

// CalculationResult is the outcome of one Fibonacci calculation over a bar series
type CalculationResult struct {
	Symbol       string       `json:"symbol,omitempty"`
	Trend        Trend        `json:"trend"`
	Extremes                  // high/low values, indices and times
	Range        float64      `json:"fibo_range"`
	Levels       []LevelPrice `json:"fibo_levels"`
	GoldenZone   GoldenZone   `json:"golden_zone"`
	CurrentPrice float64      `json:"current_price"`
	InGoldenZone bool         `json:"price_in_golden_zone"`
	CalculatedAt time.Time    `json:"timestamp"`
}

// LevelPrice returns the projected price for the named level
func (r *CalculationResult) LevelPrice(name string) (float64, bool) {
	for _, l := range r.Levels {
		if l.Name == name {
			return l.Price, true
		}
	}
	return 0, false
}

// Analysis is a calculation result together with its signal, as handed to sinks
type Analysis struct {
	RunID    string             `json:"run_id"`
	Symbol   string             `json:"symbol"`
	Interval string             `json:"interval,omitempty"`
	Source   string             `json:"source,omitempty"`
	Signal   Signal             `json:"signal"`
	Result   *CalculationResult `json:"result"`
}
