package timeframe

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrun/tradecore/internal/domain"
)

func minuteBars(n int, start time.Time) []domain.Bar {
	rng := rand.New(rand.NewSource(42))
	bars := make([]domain.Bar, n)
	price := 100.0
	for i := range bars {
		o := price
		c := o + rng.Float64()*2 - 1
		h := maxF(o, c) + rng.Float64()
		l := minF(o, c) - rng.Float64()
		bars[i] = domain.Bar{
			Symbol: "BTCUSD", Timeframe: domain.TF1m,
			Start: start.Add(time.Duration(i) * time.Minute),
			Open:  o, High: h, Low: l, Close: c, Volume: 10 + rng.Float64()*5,
		}
		price = c
	}
	return bars
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Round-trip property: every aggregation window satisfies open=first,
// high=max, low=min, close=last, volume=sum.
func TestResample_RoundTrip(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	base := minuteBars(120, start)
	out := Resample(base, domain.TF15m)
	require.Len(t, out, 8)

	for _, w := range out {
		var inWindow []domain.Bar
		for _, b := range base {
			if domain.TF15m.Truncate(b.Start).Equal(w.Start) {
				inWindow = append(inWindow, b)
			}
		}
		require.NotEmpty(t, inWindow)

		hi, lo, vol := inWindow[0].High, inWindow[0].Low, 0.0
		for _, b := range inWindow {
			hi = maxF(hi, b.High)
			lo = minF(lo, b.Low)
			vol += b.Volume
		}
		assert.Equal(t, inWindow[0].Open, w.Open)
		assert.Equal(t, inWindow[len(inWindow)-1].Close, w.Close)
		assert.Equal(t, hi, w.High)
		assert.Equal(t, lo, w.Low)
		assert.InDelta(t, vol, w.Volume, 1e-9)
	}
}

// Boundaries are calendar-aligned regardless of where the series starts.
func TestResample_CalendarAligned(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 7, 0, 0, time.UTC) // mid-window start
	base := minuteBars(30, start)
	out := Resample(base, domain.TF15m)
	require.NotEmpty(t, out)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), out[0].Start)
	for _, w := range out {
		assert.Zero(t, w.Start.Minute()%15)
	}
}

func TestResample_Empty(t *testing.T) {
	assert.Nil(t, Resample(nil, domain.TF1h))
}
