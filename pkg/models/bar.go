package models

import (
	"time"
)

// Bar represents OHLCV candlestick data
type Bar struct {
	Symbol     string    `json:"symbol,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	TradeCount int64     `json:"trade_count,omitempty"`
}

// BarRequest describes a historical bar query against a data source
type BarRequest struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"` // 1m, 5m, 15m, 1h, 4h, 1d ...
	Limit    int       `json:"limit"`
	End      time.Time `json:"end,omitempty"` // zero means "now"
}

// IntervalDuration returns the duration of a bar interval string.
// Unknown intervals fall back to one minute.
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "6h":
		return 6 * time.Hour
	case "8h":
		return 8 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "1d":
		return 24 * time.Hour
	case "3d":
		return 3 * 24 * time.Hour
	case "1w":
		return 7 * 24 * time.Hour
	case "1M":
		return 30 * 24 * time.Hour
	default:
		return time.Minute
	}
}

// ValidIntervals lists the bar intervals accepted by the CLI and the API
var ValidIntervals = []string{"1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d", "3d", "1w", "1M"}

// IsValidInterval reports whether interval is one of ValidIntervals
func IsValidInterval(interval string) bool {
	for _, v := range ValidIntervals {
		if v == interval {
			return true
		}
	}
	return false
}
