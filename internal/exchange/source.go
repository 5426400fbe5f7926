package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/auto-fib/pkg/models"
)

// ErrDataTimeout is returned when a source does not deliver bars in time
var ErrDataTimeout = errors.New("historical data request timed out")

// HistoricalDataSource delivers OHLC bars in ascending time order
type HistoricalDataSource interface {
	FetchBars(ctx context.Context, req models.BarRequest) ([]models.Bar, error)
	Name() string
}

type timeoutSource struct {
	HistoricalDataSource
	timeout time.Duration
}

// WithTimeout bounds every FetchBars call of src. When the deadline passes the
// call returns an empty slice together with ErrDataTimeout.
func WithTimeout(src HistoricalDataSource, timeout time.Duration) HistoricalDataSource {
	if timeout <= 0 {
		return src
	}
	return &timeoutSource{HistoricalDataSource: src, timeout: timeout}
}

func (s *timeoutSource) FetchBars(ctx context.Context, req models.BarRequest) ([]models.Bar, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type fetchResult struct {
		bars []models.Bar
		err  error
	}
	done := make(chan fetchResult, 1)

	go func() {
		bars, err := s.HistoricalDataSource.FetchBars(ctx, req)
		done <- fetchResult{bars, err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
			return []models.Bar{}, fmt.Errorf("%w: %s %s", ErrDataTimeout, s.Name(), req.Symbol)
		}
		return res.bars, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return []models.Bar{}, fmt.Errorf("%w: %s %s after %s", ErrDataTimeout, s.Name(), req.Symbol, s.timeout)
		}
		return []models.Bar{}, ctx.Err()
	}
}

// parsePrice parses a decimal string price as sent by exchange REST APIs
func parsePrice(field, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s %q: %w", field, value, err)
	}
	return f, nil
}
