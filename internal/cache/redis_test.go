package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auto-fib/pkg/models"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "autofib:latest:BTCUSDT", LatestKey("btcusdt"))
	assert.Equal(t, "autofib:signals", SignalsKey())
}

func TestDecodeAnalysis(t *testing.T) {
	at := time.Date(2025, 10, 6, 15, 0, 0, 0, time.UTC)
	in := &models.Analysis{
		RunID:    "run-1",
		Symbol:   "AAPL",
		Interval: "5m",
		Signal:   models.SignalBuy,
		Result: &models.CalculationResult{
			Symbol:       "AAPL",
			Trend:        models.TrendBullish,
			Range:        20,
			GoldenZone:   models.GoldenZone{Low: 107.64, High: 112.36},
			CurrentPrice: 110,
			InGoldenZone: true,
			CalculatedAt: at,
		},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := DecodeAnalysis(data)
	require.NoError(t, err)
	assert.Equal(t, in.Signal, out.Signal)
	assert.Equal(t, in.Result.GoldenZone, out.Result.GoldenZone)
	assert.True(t, out.Result.CalculatedAt.Equal(at))

	_, err = DecodeAnalysis([]byte("{"))
	assert.Error(t, err)
}
