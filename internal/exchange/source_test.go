package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auto-fib/pkg/config"
	"github.com/auto-fib/pkg/models"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type slowSource struct {
	delay time.Duration
	bars  []models.Bar
	err   error
}

func (s *slowSource) Name() string { return "slow" }

func (s *slowSource) FetchBars(ctx context.Context, req models.BarRequest) ([]models.Bar, error) {
	select {
	case <-time.After(s.delay):
		return s.bars, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestWithTimeout_ReturnsEmptyOnDeadline(t *testing.T) {
	src := WithTimeout(&slowSource{delay: time.Second}, 20*time.Millisecond)

	bars, err := src.FetchBars(context.Background(), models.BarRequest{Symbol: "AAPL"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataTimeout))
	assert.NotNil(t, bars)
	assert.Empty(t, bars)
	assert.Equal(t, "slow", src.Name())
}

func TestWithTimeout_PassesThrough(t *testing.T) {
	want := []models.Bar{{Symbol: "AAPL", High: 2, Low: 1, Close: 1.5}}
	src := WithTimeout(&slowSource{bars: want}, time.Second)

	bars, err := src.FetchBars(context.Background(), models.BarRequest{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, want, bars)

	failing := WithTimeout(&slowSource{err: fmt.Errorf("boom")}, time.Second)
	_, err = failing.FetchBars(context.Background(), models.BarRequest{Symbol: "AAPL"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDataTimeout))
}

func TestWithTimeout_ZeroDisables(t *testing.T) {
	inner := &slowSource{}
	assert.Same(t, inner, WithTimeout(inner, 0))
}

func TestBinanceSource_FetchBars(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		gotQuery = map[string]string{
			"symbol":   r.URL.Query().Get("symbol"),
			"interval": r.URL.Query().Get("interval"),
			"limit":    r.URL.Query().Get("limit"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			[1759761000000,"100.0","105.5","99.0","104.0","12.5",1759761299999,"1300.0",42,"6.0","620.0","0"],
			[1759761300000,"104.0","106.0","103.0","105.0","8.0",1759761599999,"840.0",17,"4.0","420.0","0"]
		]`)
	}))
	defer srv.Close()

	src := NewBinanceSource(&config.BinanceConfig{APIURL: srv.URL}, quietLogger())
	assert.Equal(t, "binance", src.Name())

	bars, err := src.FetchBars(context.Background(), models.BarRequest{Symbol: "BTCUSDT", Interval: "5m", Limit: 2})
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "BTCUSDT", gotQuery["symbol"])
	assert.Equal(t, "5m", gotQuery["interval"])
	assert.Equal(t, "2", gotQuery["limit"])

	assert.Equal(t, "BTCUSDT", bars[0].Symbol)
	assert.Equal(t, time.UnixMilli(1759761000000).UTC(), bars[0].Timestamp)
	assert.Equal(t, 105.5, bars[0].High)
	assert.Equal(t, 99.0, bars[0].Low)
	assert.Equal(t, 104.0, bars[0].Close)
	assert.Equal(t, int64(42), bars[0].TradeCount)
	assert.True(t, bars[1].Timestamp.After(bars[0].Timestamp))
}

func TestBinanceSource_RejectsUnknownInterval(t *testing.T) {
	src := NewBinanceSource(&config.BinanceConfig{APIURL: "http://127.0.0.1:0"}, quietLogger())
	_, err := src.FetchBars(context.Background(), models.BarRequest{Symbol: "BTCUSDT", Interval: "7m"})
	assert.Error(t, err)
}

func TestOANDASource_FetchBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/instruments/EUR_USD/candles", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "M5", r.URL.Query().Get("granularity"))
		assert.Equal(t, "3", r.URL.Query().Get("count"))
		assert.Equal(t, "M", r.URL.Query().Get("price"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"instrument":"EUR_USD","granularity":"M5","candles":[
			{"complete":true,"volume":10,"time":"2025-10-06T14:30:00Z","mid":{"o":"1.1000","h":"1.1050","l":"1.0990","c":"1.1040"}},
			{"complete":true,"volume":5,"time":"2025-10-06T14:35:00Z"},
			{"complete":false,"volume":3,"time":"2025-10-06T14:40:00Z","mid":{"o":"1.1040","h":"1.1060","l":"1.1030","c":"1.1055"}}
		]}`)
	}))
	defer srv.Close()

	src := NewOANDASource(&config.OANDAConfig{APIURL: srv.URL, APIKey: "secret"}, quietLogger())
	bars, err := src.FetchBars(context.Background(), models.BarRequest{Symbol: "EUR_USD", Interval: "5m", Limit: 3})
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "EUR_USD", bars[0].Symbol)
	assert.Equal(t, 1.105, bars[0].High)
	assert.Equal(t, 1.1055, bars[1].Close)
	assert.Equal(t, time.Date(2025, 10, 6, 14, 40, 0, 0, time.UTC), bars[1].Timestamp)
}

func TestOANDASource_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errorMessage":"Invalid value specified for 'instrument'"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	src := NewOANDASource(&config.OANDAConfig{APIURL: srv.URL}, quietLogger())
	_, err := src.FetchBars(context.Background(), models.BarRequest{Symbol: "NOPE", Interval: "5m", Limit: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error 400")
}

func TestIntervalToGranularity(t *testing.T) {
	assert.Equal(t, "M5", IntervalToGranularity("5m"))
	assert.Equal(t, "H4", IntervalToGranularity("4h"))
	assert.Equal(t, "D", IntervalToGranularity("1d"))
	assert.Equal(t, "", IntervalToGranularity("3m"))
}
