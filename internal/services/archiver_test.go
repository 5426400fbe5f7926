package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auto-fib/pkg/models"
)

// pagedSource serves `total` one-minute bars ending at t0, honouring Limit and End
type pagedSource struct {
	total int
	mu    sync.Mutex
	reqs  []models.BarRequest
}

func (p *pagedSource) Name() string { return "paged" }

func (p *pagedSource) FetchBars(ctx context.Context, req models.BarRequest) ([]models.Bar, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()

	first := t0.Add(-time.Duration(p.total-1) * time.Minute)
	var bars []models.Bar
	for i := 0; i < p.total; i++ {
		ts := first.Add(time.Duration(i) * time.Minute)
		if ts.After(req.End) {
			break
		}
		bars = append(bars, models.Bar{Timestamp: ts, Open: 1, High: 2, Low: 1, Close: 1})
	}
	if len(bars) > req.Limit {
		bars = bars[len(bars)-req.Limit:]
	}
	return bars, nil
}

type memWriter struct {
	mu     sync.Mutex
	bars   map[string][]models.Bar
	source string
	err    error
}

func (w *memWriter) WriteBars(ctx context.Context, bars []models.Bar, interval, source string) error {
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.bars == nil {
		w.bars = make(map[string][]models.Bar)
	}
	w.bars[bars[0].Symbol] = append(w.bars[bars[0].Symbol], bars...)
	w.source = source
	return nil
}

func newTestArchiver(src *pagedSource, w *memWriter) *Archiver {
	ar := NewArchiver(src, w, quietLogger())
	ar.pageSize = 10
	ar.now = func() time.Time { return t0 }
	return ar
}

func TestArchive_Pages(t *testing.T) {
	src := &pagedSource{total: 100}
	w := &memWriter{}
	ar := newTestArchiver(src, w)

	n, err := ar.Archive(context.Background(), "btcusdt", "1m", 25)
	require.NoError(t, err)
	assert.Equal(t, 25, n)
	assert.Equal(t, "paged", w.source)

	require.Len(t, src.reqs, 3)
	assert.Equal(t, 10, src.reqs[0].Limit)
	assert.Equal(t, 5, src.reqs[2].Limit)
	assert.Equal(t, t0, src.reqs[0].End)
	assert.Equal(t, t0.Add(-9*time.Minute).Add(-time.Millisecond), src.reqs[1].End)

	// no bar is written twice
	seen := make(map[time.Time]bool)
	for _, b := range w.bars["BTCUSDT"] {
		assert.False(t, seen[b.Timestamp])
		seen[b.Timestamp] = true
	}
	assert.Len(t, seen, 25)
}

func TestArchive_StopsAtHistoryStart(t *testing.T) {
	src := &pagedSource{total: 15}
	ar := newTestArchiver(src, &memWriter{})

	n, err := ar.Archive(context.Background(), "ETHUSDT", "1m", 100)
	require.NoError(t, err)
	assert.Equal(t, 15, n)
	assert.Len(t, src.reqs, 2)
}

func TestArchive_Errors(t *testing.T) {
	ar := newTestArchiver(&pagedSource{total: 15}, &memWriter{err: errors.New("influx down")})

	_, err := ar.Archive(context.Background(), "ETHUSDT", "1m", 0)
	assert.Error(t, err)

	n, err := ar.Archive(context.Background(), "ETHUSDT", "1m", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "influx down")
	assert.Equal(t, 0, n)
}

func TestArchiveAll(t *testing.T) {
	w := &memWriter{}
	ar := newTestArchiver(&pagedSource{total: 30}, w)

	errs := ar.ArchiveAll(context.Background(), []string{"AAPL", "MSFT", "SPY", "QQQ"}, "1m", 20)
	assert.Empty(t, errs)
	for _, s := range []string{"AAPL", "MSFT", "SPY", "QQQ"} {
		assert.Len(t, w.bars[s], 20, s)
	}
}
