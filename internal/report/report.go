// Package report renders analyses for humans and persists them as JSON files.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/auto-fib/pkg/models"
)

const (
	heavyRule = "============================================================"
	lightRule = "------------------------------------------------------------"

	timeLayout     = "2006-01-02 15:04:05 MST"
	fileTimeLayout = "20060102_150405"
)

// Reporter writes console reports and result files
type Reporter struct {
	out io.Writer
	dir string
	now func() time.Time
}

// New creates a reporter printing to out and saving files under dir
func New(out io.Writer, dir string) *Reporter {
	return &Reporter{out: out, dir: dir, now: time.Now}
}

// WithClock overrides the clock used for relative times and file names
func (r *Reporter) WithClock(now func() time.Time) *Reporter {
	r.now = now
	return r
}

// Write prints the full report of one analysis
func (r *Reporter) Write(a *models.Analysis) error {
	res := a.Result
	if res == nil {
		return r.WriteError(a.Symbol, fmt.Errorf("no data available"))
	}
	now := r.now()

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n", heavyRule)
	fmt.Fprintf(&b, "AUTO FIBONACCI REPORT: %s", a.Symbol)
	if a.Interval != "" {
		fmt.Fprintf(&b, " (%s", a.Interval)
		if a.Source != "" {
			fmt.Fprintf(&b, ", %s", a.Source)
		}
		b.WriteString(")")
	}
	fmt.Fprintf(&b, "\n%s\n", heavyRule)

	fmt.Fprintf(&b, "Timestamp: %s\n", res.CalculatedAt.Format(timeLayout))
	fmt.Fprintf(&b, "Trend: %s\n", res.Trend)
	fmt.Fprintf(&b, "High: %s at %s (%s)\n", price(res.HighValue), res.HighTimestamp.Format(timeLayout), humanize.RelTime(res.HighTimestamp, now, "ago", "from now"))
	fmt.Fprintf(&b, "Low:  %s at %s (%s)\n", price(res.LowValue), res.LowTimestamp.Format(timeLayout), humanize.RelTime(res.LowTimestamp, now, "ago", "from now"))
	fmt.Fprintf(&b, "Range: %s\n", price(res.Range))
	fmt.Fprintf(&b, "Current Price: %s\n", price(res.CurrentPrice))

	fmt.Fprintf(&b, "\n%s\nFIBONACCI LEVELS:\n%s\n", lightRule, lightRule)
	for _, lvl := range SortedLevels(res.Levels) {
		fmt.Fprintf(&b, "  %6.1f%% -> %10s\n", lvl.Ratio*100, price(lvl.Price))
	}

	fmt.Fprintf(&b, "\n%s\nGOLDEN ZONE:\n%s\n", lightRule, lightRule)
	fmt.Fprintf(&b, "  Low:  %s\n", price(res.GoldenZone.Low))
	fmt.Fprintf(&b, "  High: %s\n", price(res.GoldenZone.High))
	fmt.Fprintf(&b, "  Price in Golden Zone: %t\n", res.InGoldenZone)

	fmt.Fprintf(&b, "\n%s\nSIGNAL: %s\n%s\n\n", lightRule, a.Signal, heavyRule)

	_, err := io.WriteString(r.out, b.String())
	return err
}

// WriteError prints a one-line failure for symbol
func (r *Reporter) WriteError(symbol string, err error) error {
	_, werr := fmt.Fprintf(r.out, "Error analyzing %s: %v\n", symbol, err)
	return werr
}

// fileRecord is the JSON layout of a saved analysis: the flat result plus its signal
type fileRecord struct {
	RunID    string        `json:"run_id"`
	Interval string        `json:"interval,omitempty"`
	Source   string        `json:"source,omitempty"`
	Signal   models.Signal `json:"signal"`
	*models.CalculationResult
}

// Save writes autofib_<SYMBOL>_<YYYYMMDD_HHMMSS>.json and returns its path
func (r *Reporter) Save(a *models.Analysis) (string, error) {
	if a.Result == nil {
		return "", fmt.Errorf("no result to save for %s", a.Symbol)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	path := filepath.Join(r.dir, FileName(a.Symbol, r.now()))

	data, err := json.MarshalIndent(fileRecord{
		RunID:             a.RunID,
		Interval:          a.Interval,
		Source:            a.Source,
		Signal:            a.Signal,
		CalculationResult: a.Result,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	return path, nil
}

// FileName returns the result file name for symbol at t
func FileName(symbol string, t time.Time) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(symbol)
	return fmt.Sprintf("autofib_%s_%s.json", safe, t.Format(fileTimeLayout))
}

// SortedLevels returns a copy of levels ordered by ratio
func SortedLevels(levels []models.LevelPrice) []models.LevelPrice {
	sorted := make([]models.LevelPrice, len(levels))
	copy(sorted, levels)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Ratio < sorted[j].Ratio
	})
	return sorted
}

// price formats with thousands separators and two decimals
func price(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}
