// Package feed implements the market-data access contract: a CSV-backed
// history for backtests and a websocket-backed live feed. The engine
// only sees the History interface.
package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/quantrun/tradecore/internal/domain"
	"github.com/quantrun/tradecore/internal/timeframe"
)

// History serves chronological bars per symbol and timeframe. Callers
// receive the most recent n bars closed at or before the feed's current
// position.
type History interface {
	Bars(symbol string, tf domain.Timeframe, n int) []domain.Bar
	Symbols() []string
}

// CSVFeed replays base-timeframe series loaded from CSV files, revealing
// bars one timestep at a time so the backtest sees only materialized
// history.
type CSVFeed struct {
	base    domain.Timeframe
	series  map[string][]domain.Bar
	visible map[string]int
	times   []time.Time
	step    int
}

// NewCSVFeed creates an empty replay feed at the given base timeframe.
func NewCSVFeed(base domain.Timeframe) *CSVFeed {
	return &CSVFeed{
		base:    base,
		series:  make(map[string][]domain.Bar),
		visible: make(map[string]int),
	}
}

// Load reads one symbol's series from a CSV file with header
// time,open,high,low,close,volume. Time is RFC3339 or unix seconds.
func (f *CSVFeed) Load(path, symbol string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	first := true
	var bars []domain.Bar
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if first {
			first = false
			if rec[0] == "time" || rec[0] == "timestamp" {
				continue
			}
		}
		if len(rec) < 6 {
			return fmt.Errorf("%s: row needs 6 columns, got %d", path, len(rec))
		}
		ts, err := parseTime(rec[0])
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(rec[i+1], 64)
			if err != nil {
				return fmt.Errorf("%s: column %d: %w", path, i+1, err)
			}
			vals[i] = v
		}
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timeframe: f.base,
			Start:     ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Start.Before(bars[j].Start) })
	f.series[symbol] = bars
	f.rebuildTimeline()
	return nil
}

// AddSeries registers an in-memory series, used by tests and synthetic
// backtests.
func (f *CSVFeed) AddSeries(symbol string, bars []domain.Bar) {
	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })
	f.series[symbol] = sorted
	f.rebuildTimeline()
}

func (f *CSVFeed) rebuildTimeline() {
	seen := make(map[time.Time]bool)
	var times []time.Time
	for _, bars := range f.series {
		for _, b := range bars {
			if !seen[b.Start] {
				seen[b.Start] = true
				times = append(times, b.Start)
			}
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	f.times = times
	f.step = 0
	for s := range f.visible {
		f.visible[s] = 0
	}
}

// Next reveals the next timestep. It returns false once the replay is
// exhausted.
func (f *CSVFeed) Next() bool {
	if f.step >= len(f.times) {
		return false
	}
	now := f.times[f.step]
	f.step++
	for symbol, bars := range f.series {
		i := f.visible[symbol]
		for i < len(bars) && !bars[i].Start.After(now) {
			i++
		}
		f.visible[symbol] = i
	}
	return true
}

// Now returns the timestamp of the current timestep.
func (f *CSVFeed) Now() time.Time {
	if f.step == 0 || len(f.times) == 0 {
		return time.Time{}
	}
	return f.times[f.step-1]
}

// Bars returns the most recent n bars for the symbol at the requested
// timeframe, resampling from the base series when needed.
func (f *CSVFeed) Bars(symbol string, tf domain.Timeframe, n int) []domain.Bar {
	bars := f.series[symbol][:f.visible[symbol]]
	if tf != f.base {
		bars = timeframe.Resample(bars, tf)
	}
	if n > 0 && len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars
}

// Symbols lists loaded symbols in deterministic order.
func (f *CSVFeed) Symbols() []string {
	out := make([]string, 0, len(f.series))
	for s := range f.series {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}
