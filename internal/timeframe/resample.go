// Package timeframe resamples a base OHLCV series into coarser
// timeframes and derives per-timeframe trend labels and a weighted
// directional confluence score.
package timeframe

import "github.com/quantrun/tradecore/internal/domain"

// Resample aggregates chronological bars into the target timeframe.
// Windows are anchored to calendar boundaries, so the same series always
// produces the same windows: open is the first bar's open, high the
// window max, low the window min, close the last bar's close, volume the
// sum.
func Resample(bars []domain.Bar, target domain.Timeframe) []domain.Bar {
	if len(bars) == 0 {
		return nil
	}
	var out []domain.Bar
	cur := domain.Bar{}
	active := false
	for _, b := range bars {
		start := target.Truncate(b.Start)
		if !active || !start.Equal(cur.Start) {
			if active {
				out = append(out, cur)
			}
			cur = domain.Bar{
				Symbol:    b.Symbol,
				Timeframe: target,
				Start:     start,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
			}
			active = true
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	if active {
		out = append(out, cur)
	}
	return out
}

// EMA returns the exponential moving average series of values with the
// given period, seeded with the first value.
func EMA(values []float64, period int) []float64 {
	if period < 1 {
		period = 1
	}
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	k := 2.0 / (float64(period) + 1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

func closes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
