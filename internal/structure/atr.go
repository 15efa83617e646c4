package structure

import (
	"math"

	"github.com/quantrun/tradecore/internal/domain"
)

// TrueRange returns the true range of bar against the previous close.
func TrueRange(bar domain.Bar, prevClose float64) float64 {
	hl := bar.High - bar.Low
	hc := math.Abs(bar.High - prevClose)
	lc := math.Abs(bar.Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

// ATRSeries computes a Wilder-smoothed average true range for every bar.
// The first period-1 entries hold the running simple average so callers
// can index the series by bar position without gaps.
func ATRSeries(bars []domain.Bar, period int) []float64 {
	if period < 1 {
		period = 1
	}
	out := make([]float64, len(bars))
	if len(bars) == 0 {
		return out
	}
	var sum float64
	for i, b := range bars {
		prevClose := b.Open
		if i > 0 {
			prevClose = bars[i-1].Close
		}
		tr := TrueRange(b, prevClose)
		if i < period {
			sum += tr
			out[i] = sum / float64(i+1)
			continue
		}
		out[i] = (out[i-1]*float64(period-1) + tr) / float64(period)
	}
	return out
}

// ATR returns the latest average true range of the series, or 0 when the
// series is empty.
func ATR(bars []domain.Bar, period int) float64 {
	s := ATRSeries(bars, period)
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}
