package database

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auto-fib/pkg/models"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	first := migrations[0]
	assert.Equal(t, "001", first.Version)
	assert.Equal(t, "create_fib_analyses", first.Name)
	assert.Contains(t, first.UpSQL, "CREATE TABLE IF NOT EXISTS fib_analyses")
	assert.Contains(t, first.DownSQL, "DROP TABLE IF EXISTS fib_analyses")

	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Version, migrations[i].Version)
	}
}

func TestBarsMeasurement(t *testing.T) {
	assert.Equal(t, "ohlcv", BarsMeasurement("1m"))
	assert.Equal(t, "ohlcv", BarsMeasurement(""))
	assert.Equal(t, "ohlcv_5m", BarsMeasurement("5m"))
}

func TestBarsQuery(t *testing.T) {
	end := time.Date(2025, 10, 6, 16, 0, 0, 0, time.UTC)
	q := BarsQuery("trading", "AAPL", "5m", 100, end)

	assert.Contains(t, q, `from(bucket: "trading")`)
	assert.Contains(t, q, `r._measurement == "ohlcv_5m"`)
	assert.Contains(t, q, `r.symbol == "AAPL"`)
	assert.Contains(t, q, "tail(n: 100)")
	// 100 bars * 5m * 3 = 25h before end
	assert.Contains(t, q, "start: 2025-10-05T15:00:00Z")
	assert.Contains(t, q, "stop: 2025-10-06T16:00:01Z")
	assert.Less(t, strings.Index(q, "sort("), strings.Index(q, "tail("))
}

func TestBarsQuery_ClampsLimit(t *testing.T) {
	end := time.Date(2025, 10, 6, 16, 0, 0, 0, time.UTC)

	for _, limit := range []int{0, -5, maxBarsPerQuery + 1, 1_000_000_000_000} {
		q := BarsQuery("trading", "AAPL", "1d", limit, end)
		assert.Contains(t, q, fmt.Sprintf("tail(n: %d)", maxBarsPerQuery), limit)
		// 5000 days * 3 before end
		assert.Contains(t, q, "start: 1984-09-11T16:00:00Z", limit)
	}
}

func TestBarsQuery_QuotesSymbol(t *testing.T) {
	end := time.Date(2025, 10, 6, 16, 0, 0, 0, time.UTC)
	q := BarsQuery("trading", `AA"PL${x}`, "5m", 100, end)

	assert.Contains(t, q, `r.symbol == "AA\"PL\${x}"`)
	assert.NotContains(t, q, `"AA"PL`)
}

func TestBarPoint(t *testing.T) {
	ts := time.Date(2025, 10, 6, 14, 30, 0, 0, time.UTC)
	p := BarPoint(models.Bar{Symbol: "BTCUSDT", Timestamp: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10, TradeCount: 3}, "5m", "binance")

	assert.Equal(t, "ohlcv_5m", p.Name())
	assert.Equal(t, ts, p.Time())

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"exchange": "binance", "symbol": "BTCUSDT"}, tags)

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 2.0, fields["high"])
	assert.Equal(t, int64(3), fields["trade_count"])
}

func TestAnalysisPoint(t *testing.T) {
	at := time.Date(2025, 10, 6, 16, 0, 0, 0, time.UTC)
	a := &models.Analysis{
		RunID:    "run-1",
		Symbol:   "AAPL",
		Interval: "5m",
		Signal:   models.SignalBuy,
		Result: &models.CalculationResult{
			Trend:        models.TrendBullish,
			Extremes:     models.Extremes{HighValue: 120, LowValue: 100},
			Range:        20,
			Levels:       []models.LevelPrice{{Name: "level_4", Ratio: 0.618, Price: 112.36}},
			GoldenZone:   models.GoldenZone{Low: 107.64, High: 112.36},
			CurrentPrice: 110,
			InGoldenZone: true,
			CalculatedAt: at,
		},
	}

	p := AnalysisPoint(a)
	assert.Equal(t, "autofib", p.Name())
	assert.Equal(t, at, p.Time())

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 112.36, fields["fib_level_4"])
	assert.Equal(t, true, fields["in_golden_zone"])
	assert.Equal(t, 20.0, fields["range"])

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, "BULLISH", tags["trend"])
	assert.Equal(t, "BUY", tags["signal"])
}
