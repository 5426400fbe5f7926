package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/auto-fib/internal/exchange"
	"github.com/auto-fib/pkg/models"
)

// BarWriter stores fetched bars, e.g. the InfluxDB archive
type BarWriter interface {
	WriteBars(ctx context.Context, bars []models.Bar, interval, source string) error
}

// Archiver copies history from a live source into a BarWriter, newest page first
type Archiver struct {
	source exchange.HistoricalDataSource
	writer BarWriter
	logger *logrus.Entry

	// Configuration
	maxConcurrent int
	pageSize      int
	now           func() time.Time
}

// NewArchiver creates a new archiver
func NewArchiver(source exchange.HistoricalDataSource, writer BarWriter, logger *logrus.Logger) *Archiver {
	return &Archiver{
		source:        source,
		writer:        writer,
		logger:        logger.WithField("component", "archiver"),
		maxConcurrent: 3,
		pageSize:      1000,
		now:           time.Now,
	}
}

// Archive stores up to count bars of symbol ending now and returns how many were written
func (ar *Archiver) Archive(ctx context.Context, symbol, interval string, count int) (int, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if count <= 0 {
		return 0, fmt.Errorf("bar count must be positive: %d", count)
	}

	end := ar.now()
	written := 0

	for written < count {
		limit := count - written
		if limit > ar.pageSize {
			limit = ar.pageSize
		}

		bars, err := ar.source.FetchBars(ctx, models.BarRequest{
			Symbol:   symbol,
			Interval: interval,
			Limit:    limit,
			End:      end,
		})
		if err != nil {
			return written, fmt.Errorf("failed to fetch %s page ending %s: %w", symbol, end.Format(time.RFC3339), err)
		}
		if len(bars) == 0 {
			break
		}

		for i := range bars {
			bars[i].Symbol = symbol
		}

		if err := ar.writer.WriteBars(ctx, bars, interval, ar.source.Name()); err != nil {
			return written, fmt.Errorf("failed to store %s bars: %w", symbol, err)
		}
		written += len(bars)

		ar.logger.WithFields(logrus.Fields{
			"symbol":  symbol,
			"page":    len(bars),
			"written": written,
			"from":    bars[0].Timestamp,
		}).Debug("Archived page")

		// the source has no older history
		if len(bars) < limit {
			break
		}
		end = bars[0].Timestamp.Add(-time.Millisecond)
	}

	return written, nil
}

// ArchiveAll archives symbols with bounded concurrency and returns the per-symbol errors
func (ar *Archiver) ArchiveAll(ctx context.Context, symbols []string, interval string, count int) map[string]error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs = make(map[string]error)
		sem  = make(chan struct{}, ar.maxConcurrent)
	)

	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				errs[symbol] = ctx.Err()
				mu.Unlock()
				return
			}

			n, err := ar.Archive(ctx, symbol, interval, count)
			if err != nil {
				ar.logger.WithError(err).WithField("symbol", symbol).Error("Archive failed")
				mu.Lock()
				errs[symbol] = err
				mu.Unlock()
				return
			}

			ar.logger.WithFields(logrus.Fields{
				"symbol":   symbol,
				"interval": interval,
				"bars":     n,
			}).Info("Historical data archived")
		}(symbol)
	}

	wg.Wait()
	return errs
}
