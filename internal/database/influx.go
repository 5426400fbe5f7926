package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/auto-fib/pkg/config"
	"github.com/auto-fib/pkg/models"
)

// lookbackSlack widens the query range so market closures still leave enough bars
const lookbackSlack = 3

// maxBarsPerQuery caps a single bars query, matching the largest provider page
const maxBarsPerQuery = 5000

// InfluxClient reads archived bars from and writes analyses to InfluxDB
type InfluxClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	logger   *logrus.Entry
	bucket   string
	now      func() time.Time
}

// NewInfluxClient creates a new InfluxDB client
func NewInfluxClient(cfg *config.InfluxConfig, logger *logrus.Logger) *InfluxClient {
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds())).
			SetLogLevel(0),
	)

	return &InfluxClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		logger:   logger.WithField("component", "influxdb"),
		bucket:   cfg.Bucket,
		now:      time.Now,
	}
}

// Close closes the InfluxDB client
func (ic *InfluxClient) Close() {
	ic.client.Close()
}

// Health checks InfluxDB health
func (ic *InfluxClient) Health(ctx context.Context) error {
	health, err := ic.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influxdb health check failed: %s", msg)
	}

	return nil
}

// Name implements exchange.HistoricalDataSource
func (ic *InfluxClient) Name() string {
	return "influx"
}

// WriteBars archives bars under the ohlcv measurement for their interval
func (ic *InfluxClient) WriteBars(ctx context.Context, bars []models.Bar, interval, source string) error {
	if len(bars) == 0 {
		return nil
	}

	points := make([]*write.Point, 0, len(bars))
	for _, bar := range bars {
		points = append(points, BarPoint(bar, interval, source))
	}

	if err := ic.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write bars batch (%d points): %w", len(points), err)
	}

	return nil
}

// FetchBars returns the last req.Limit archived bars at or before req.End
func (ic *InfluxClient) FetchBars(ctx context.Context, req models.BarRequest) ([]models.Bar, error) {
	end := req.End
	if end.IsZero() {
		end = ic.now()
	}

	limit := clampBarsLimit(req.Limit)
	query := BarsQuery(ic.bucket, req.Symbol, req.Interval, limit, end)

	ic.logger.WithFields(logrus.Fields{
		"symbol":   req.Symbol,
		"interval": req.Interval,
		"limit":    limit,
	}).Debug("Executing InfluxDB query for bars")

	result, err := ic.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer result.Close()

	bars := make([]models.Bar, 0, limit)
	for result.Next() {
		record := result.Record()
		values := record.Values()

		bar := models.Bar{
			Symbol:    req.Symbol,
			Timestamp: record.Time(),
		}
		if v, ok := values["open"].(float64); ok {
			bar.Open = v
		}
		if v, ok := values["high"].(float64); ok {
			bar.High = v
		}
		if v, ok := values["low"].(float64); ok {
			bar.Low = v
		}
		if v, ok := values["close"].(float64); ok {
			bar.Close = v
		}
		if v, ok := values["volume"].(float64); ok {
			bar.Volume = v
		}
		if v, ok := values["trade_count"].(int64); ok {
			bar.TradeCount = v
		}

		bars = append(bars, bar)
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("query error: %w", result.Err())
	}

	return bars, nil
}

// WriteAnalysis stores one point per analysis in the autofib measurement
func (ic *InfluxClient) WriteAnalysis(ctx context.Context, a *models.Analysis) error {
	if a.Result == nil {
		return nil
	}

	if err := ic.writeAPI.WritePoint(ctx, AnalysisPoint(a)); err != nil {
		return fmt.Errorf("failed to write analysis: %w", err)
	}

	return nil
}

// BarsMeasurement returns "ohlcv" for 1m data and "ohlcv_<interval>" otherwise
func BarsMeasurement(interval string) string {
	if interval == "1m" || interval == "" {
		return "ohlcv"
	}
	return fmt.Sprintf("ohlcv_%s", interval)
}

func clampBarsLimit(limit int) int {
	if limit <= 0 || limit > maxBarsPerQuery {
		return maxBarsPerQuery
	}
	return limit
}

// fluxString quotes s as a Flux string literal
func fluxString(s string) string {
	return strings.ReplaceAll(strconv.Quote(s), "${", `\${`)
}

// BarsQuery builds the Flux query returning the last limit bars before end.
// limit is clamped to maxBarsPerQuery.
func BarsQuery(bucket, symbol, interval string, limit int, end time.Time) string {
	limit = clampBarsLimit(limit)
	span := models.IntervalDuration(interval) * time.Duration(limit*lookbackSlack)
	start := end.Add(-span)

	return fmt.Sprintf(`
		from(bucket: %s)
			|> range(start: %s, stop: %s)
			|> filter(fn: (r) => r._measurement == %s)
			|> filter(fn: (r) => r.symbol == %s)
			|> filter(fn: (r) => r._field == "open" or r._field == "high" or r._field == "low" or r._field == "close" or r._field == "volume" or r._field == "trade_count")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"])
			|> tail(n: %d)
	`, fluxString(bucket), start.UTC().Format(time.RFC3339), end.UTC().Add(time.Second).Format(time.RFC3339),
		fluxString(BarsMeasurement(interval)), fluxString(symbol), limit)
}

// BarPoint converts a bar into an ohlcv point
func BarPoint(bar models.Bar, interval, source string) *write.Point {
	return influxdb2.NewPoint(
		BarsMeasurement(interval),
		map[string]string{
			"exchange": source,
			"symbol":   bar.Symbol,
		},
		map[string]interface{}{
			"open":        bar.Open,
			"high":        bar.High,
			"low":         bar.Low,
			"close":       bar.Close,
			"volume":      bar.Volume,
			"trade_count": bar.TradeCount,
		},
		bar.Timestamp,
	)
}

// AnalysisPoint converts an analysis into an autofib point, one field per level
func AnalysisPoint(a *models.Analysis) *write.Point {
	r := a.Result

	fields := map[string]interface{}{
		"high":             r.HighValue,
		"low":              r.LowValue,
		"range":            r.Range,
		"golden_zone_low":  r.GoldenZone.Low,
		"golden_zone_high": r.GoldenZone.High,
		"current_price":    r.CurrentPrice,
		"in_golden_zone":   r.InGoldenZone,
		"run_id":           a.RunID,
	}
	for _, lvl := range r.Levels {
		fields["fib_"+lvl.Name] = lvl.Price
	}

	return influxdb2.NewPoint(
		"autofib",
		map[string]string{
			"symbol":   a.Symbol,
			"interval": a.Interval,
			"trend":    string(r.Trend),
			"signal":   string(a.Signal),
		},
		fields,
		r.CalculatedAt,
	)
}
