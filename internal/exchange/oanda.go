package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/auto-fib/pkg/config"
	"github.com/auto-fib/pkg/models"
)

// maxCandlesPerRequest is the OANDA candles endpoint count limit
const maxCandlesPerRequest = 5000

// OANDASource loads historical mid-price candles from the OANDA v20 REST API
type OANDASource struct {
	config     *config.OANDAConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Entry
}

// OANDACandle represents an OANDA candlestick
type OANDACandle struct {
	Complete bool            `json:"complete"`
	Volume   int             `json:"volume"`
	Time     time.Time       `json:"time"`
	Mid      *OANDAPriceData `json:"mid,omitempty"`
}

// OANDAPriceData represents OANDA OHLC price data
type OANDAPriceData struct {
	Open  string `json:"o"`
	High  string `json:"h"`
	Low   string `json:"l"`
	Close string `json:"c"`
}

// CandlesResponse is the body of GET /v3/instruments/{instrument}/candles
type CandlesResponse struct {
	Instrument  string        `json:"instrument"`
	Granularity string        `json:"granularity"`
	Candles     []OANDACandle `json:"candles"`
}

// NewOANDASource creates a new OANDA candle source
func NewOANDASource(cfg *config.OANDAConfig, logger *logrus.Logger) *OANDASource {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 10
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OANDASource{
		config: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger.WithField("component", "oanda-source"),
	}
}

// Name implements HistoricalDataSource
func (c *OANDASource) Name() string {
	return "oanda"
}

// FetchBars fetches the last req.Limit candles for an instrument such as EUR_USD
func (c *OANDASource) FetchBars(ctx context.Context, req models.BarRequest) ([]models.Bar, error) {
	granularity := IntervalToGranularity(req.Interval)
	if granularity == "" {
		return nil, fmt.Errorf("unsupported interval: %s", req.Interval)
	}

	count := req.Limit
	if count <= 0 || count > maxCandlesPerRequest {
		count = maxCandlesPerRequest
	}

	params := url.Values{}
	params.Set("granularity", granularity)
	params.Set("count", strconv.Itoa(count))
	params.Set("price", "M")
	if !req.End.IsZero() {
		params.Set("to", req.End.UTC().Format(time.RFC3339))
	}

	endpoint := fmt.Sprintf("%s/v3/instruments/%s/candles?%s",
		c.config.APIURL, url.PathEscape(req.Symbol), params.Encode())

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	httpReq, err := c.createRequest(ctx, http.MethodGet, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var response CandlesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	bars := make([]models.Bar, 0, len(response.Candles))
	for _, candle := range response.Candles {
		if candle.Mid == nil {
			continue
		}
		bar, err := candleToBar(req.Symbol, candle)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}

	c.logger.WithFields(logrus.Fields{
		"instrument":  req.Symbol,
		"granularity": granularity,
		"count":       len(bars),
	}).Debug("Fetched OANDA candles")

	return bars, nil
}

func (c *OANDASource) createRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Datetime-Format", "RFC3339")

	return req, nil
}

func candleToBar(instrument string, candle OANDACandle) (models.Bar, error) {
	var (
		bar models.Bar
		err error
	)

	bar.Symbol = instrument
	bar.Timestamp = candle.Time.UTC()
	bar.Volume = float64(candle.Volume)
	bar.TradeCount = int64(candle.Volume) // tick volume

	if bar.Open, err = parsePrice("open", candle.Mid.Open); err != nil {
		return bar, err
	}
	if bar.High, err = parsePrice("high", candle.Mid.High); err != nil {
		return bar, err
	}
	if bar.Low, err = parsePrice("low", candle.Mid.Low); err != nil {
		return bar, err
	}
	if bar.Close, err = parsePrice("close", candle.Mid.Close); err != nil {
		return bar, err
	}

	return bar, nil
}

// IntervalToGranularity maps a bar interval to an OANDA granularity, "" when unsupported
func IntervalToGranularity(interval string) string {
	switch interval {
	case "1m":
		return "M1"
	case "5m":
		return "M5"
	case "15m":
		return "M15"
	case "30m":
		return "M30"
	case "1h":
		return "H1"
	case "2h":
		return "H2"
	case "4h":
		return "H4"
	case "6h":
		return "H6"
	case "8h":
		return "H8"
	case "12h":
		return "H12"
	case "1d":
		return "D"
	case "1w":
		return "W"
	case "1M":
		return "M"
	default:
		return ""
	}
}
