package exchange

import (
	"context"
	"fmt"
	"time"

	binance "github.com/binance/binance-connector-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/auto-fib/pkg/config"
	"github.com/auto-fib/pkg/models"
)

// maxKlinesPerRequest is the Binance klines endpoint page limit
const maxKlinesPerRequest = 1000

// BinanceSource loads historical klines through the Binance spot REST API
type BinanceSource struct {
	client  *binance.Client
	limiter *rate.Limiter
	logger  *logrus.Entry
}

// NewBinanceSource creates a kline source against cfg.APIURL
func NewBinanceSource(cfg *config.BinanceConfig, logger *logrus.Logger) *BinanceSource {
	return &BinanceSource{
		client:  binance.NewClient(cfg.APIKey, cfg.SecretKey, cfg.APIURL),
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1), // 10 requests per second max
		logger:  logger.WithField("component", "binance-source"),
	}
}

// Name implements HistoricalDataSource
func (b *BinanceSource) Name() string {
	return "binance"
}

// FetchBars fetches the most recent req.Limit closed-or-forming klines ending at req.End
func (b *BinanceSource) FetchBars(ctx context.Context, req models.BarRequest) ([]models.Bar, error) {
	if !models.IsValidInterval(req.Interval) {
		return nil, fmt.Errorf("unsupported interval: %s", req.Interval)
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	limit := req.Limit
	if limit <= 0 || limit > maxKlinesPerRequest {
		limit = maxKlinesPerRequest
	}

	svc := b.client.NewKlinesService().
		Symbol(req.Symbol).
		Interval(req.Interval).
		Limit(limit)
	if !req.End.IsZero() {
		svc = svc.EndTime(uint64(req.End.UnixMilli()))
	}

	b.logger.WithFields(logrus.Fields{
		"symbol":   req.Symbol,
		"interval": req.Interval,
		"limit":    limit,
	}).Debug("Fetching klines")

	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s: %w", req.Symbol, err)
	}

	bars := make([]models.Bar, 0, len(klines))
	for _, k := range klines {
		bar, err := klineToBar(req.Symbol, k)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}

	b.logger.WithFields(logrus.Fields{
		"symbol": req.Symbol,
		"count":  len(bars),
	}).Debug("Fetched klines successfully")

	return bars, nil
}

func klineToBar(symbol string, k *binance.KlinesResponse) (models.Bar, error) {
	var (
		bar models.Bar
		err error
	)

	bar.Symbol = symbol
	bar.Timestamp = time.UnixMilli(int64(k.OpenTime)).UTC()
	bar.TradeCount = int64(k.NumberOfTrades)

	if bar.Open, err = parsePrice("open", k.Open); err != nil {
		return bar, err
	}
	if bar.High, err = parsePrice("high", k.High); err != nil {
		return bar, err
	}
	if bar.Low, err = parsePrice("low", k.Low); err != nil {
		return bar, err
	}
	if bar.Close, err = parsePrice("close", k.Close); err != nil {
		return bar, err
	}
	if bar.Volume, err = parsePrice("volume", k.Volume); err != nil {
		return bar, err
	}

	return bar, nil
}
