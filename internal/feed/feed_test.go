package feed

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrun/tradecore/internal/domain"
)

func fiveMinBars(symbol string, n int, start time.Time) []domain.Bar {
	bars := make([]domain.Bar, n)
	price := 100.0
	for i := range bars {
		bars[i] = domain.Bar{
			Symbol: symbol, Timeframe: domain.TF5m,
			Start: start.Add(time.Duration(i) * 5 * time.Minute),
			Open:  price, High: price + 1, Low: price - 1, Close: price + 0.5, Volume: 10,
		}
		price += 0.5
	}
	return bars
}

func TestCSVFeed_RevealsBarsStepwise(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	f := NewCSVFeed(domain.TF5m)
	f.AddSeries("BTCUSD", fiveMinBars("BTCUSD", 10, start))

	assert.Empty(t, f.Bars("BTCUSD", domain.TF5m, 0), "nothing visible before the first step")

	require.True(t, f.Next())
	assert.Equal(t, start, f.Now())
	assert.Len(t, f.Bars("BTCUSD", domain.TF5m, 0), 1)

	require.True(t, f.Next())
	bars := f.Bars("BTCUSD", domain.TF5m, 0)
	require.Len(t, bars, 2)
	assert.Equal(t, start.Add(5*time.Minute), bars[1].Start)

	// Tail selection.
	assert.Len(t, f.Bars("BTCUSD", domain.TF5m, 1), 1)

	steps := 2
	for f.Next() {
		steps++
	}
	assert.Equal(t, 10, steps)
	assert.False(t, f.Next(), "exhausted feed stays exhausted")
}

func TestCSVFeed_ResamplesOnDemand(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	f := NewCSVFeed(domain.TF5m)
	f.AddSeries("BTCUSD", fiveMinBars("BTCUSD", 12, start))

	for f.Next() {
	}
	bars := f.Bars("BTCUSD", domain.TF15m, 0)
	require.Len(t, bars, 4, "sixty minutes of 5m bars roll into four 15m bars")
	assert.Equal(t, start, bars[0].Start)
	assert.Equal(t, domain.TF15m, bars[0].Timeframe)
}

func TestCSVFeed_TimelineUnionAcrossSymbols(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	f := NewCSVFeed(domain.TF5m)
	f.AddSeries("BTCUSD", fiveMinBars("BTCUSD", 3, start))
	// ETH starts one step later.
	f.AddSeries("ETHUSD", fiveMinBars("ETHUSD", 3, start.Add(5*time.Minute)))

	assert.Equal(t, []string{"BTCUSD", "ETHUSD"}, f.Symbols())

	require.True(t, f.Next())
	assert.Len(t, f.Bars("BTCUSD", domain.TF5m, 0), 1)
	assert.Empty(t, f.Bars("ETHUSD", domain.TF5m, 0))

	steps := 1
	for f.Next() {
		steps++
	}
	assert.Equal(t, 4, steps, "union of both timelines")
	assert.Len(t, f.Bars("ETHUSD", domain.TF5m, 0), 3)
}

func TestCSVFeed_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btcusd.csv")
	doc := `time,open,high,low,close,volume
2025-03-01T00:00:00Z,100,101,99,100.5,12
2025-03-01T00:05:00Z,100.5,102,100,101.5,8
1740787800,101.5,103,101,102.5,9
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	f := NewCSVFeed(domain.TF5m)
	require.NoError(t, f.Load(path, "BTCUSD"))

	for f.Next() {
	}
	bars := f.Bars("BTCUSD", domain.TF5m, 0)
	require.Len(t, bars, 3)
	assert.Equal(t, 100.5, bars[0].Close)
	assert.Equal(t, 9.0, bars[2].Volume)
	assert.True(t, bars[0].Start.Before(bars[1].Start))
}

func TestCSVFeed_LoadRejectsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	doc := `time,open,high,low,close,volume
2025-03-01T00:00:00Z,100,101,99,not-a-number,12
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	f := NewCSVFeed(domain.TF5m)
	assert.Error(t, f.Load(path, "BTCUSD"))
}
