package timeframe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantrun/tradecore/internal/domain"
)

// trendingBars rises (or falls) steadily so fast EMA leads slow EMA and
// price leads fast.
func trendingBars(n int, up bool) []domain.Bar {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	price := 100.0
	step := 0.5
	if !up {
		step = -0.5
	}
	for i := range bars {
		o := price
		c := o + step
		bars[i] = domain.Bar{
			Symbol: "BTCUSD", Timeframe: domain.TF5m,
			Start: start.Add(time.Duration(i) * 5 * time.Minute),
			Open:  o, High: maxF(o, c) + 0.1, Low: minF(o, c) - 0.1, Close: c, Volume: 100,
		}
		price = c
	}
	return bars
}

func smallConfig() Config {
	return Config{
		FastEMA: 5, SlowEMA: 10, NoiseBand: 0.0005, MinBars: 12,
		Hierarchy: []string{"1h", "15m", "5m"},
		Weights:   []float64{0.5, 0.3, 0.2},
		VolLowRatio: 0.7, VolHighRatio: 1.4,
	}
}

func TestTrend_Labels(t *testing.T) {
	b := NewBuilder(smallConfig())

	b.Update("BTCUSD", trendingBars(300, true))
	assert.Equal(t, TrendUp, b.Trend("BTCUSD", domain.TF5m))

	b.Update("BTCUSD", trendingBars(300, false))
	assert.Equal(t, TrendDown, b.Trend("BTCUSD", domain.TF5m))
}

func TestTrend_InsufficientDataIsNeutral(t *testing.T) {
	b := NewBuilder(smallConfig())
	b.Update("BTCUSD", trendingBars(5, true))
	assert.Equal(t, TrendNeutral, b.Trend("BTCUSD", domain.TF5m))
}

func TestConfluence_FullAgreement(t *testing.T) {
	b := NewBuilder(smallConfig())
	b.Update("BTCUSD", trendingBars(1500, true))

	long := b.Confluence("BTCUSD", domain.SideLong)
	short := b.Confluence("BTCUSD", domain.SideShort)
	assert.InDelta(t, 1.0, long, 0.01, "uptrend on every timeframe should give full confluence for long")
	assert.InDelta(t, 0.0, short, 0.01, "and zero for short")
}

func TestConfluence_NoDataIsNeutralFloor(t *testing.T) {
	b := NewBuilder(smallConfig())
	// No series loaded: every timeframe reads neutral, each worth 0.3x.
	assert.InDelta(t, 0.3, b.Confluence("BTCUSD", domain.SideLong), 1e-9)
}

func TestContribution_Weak(t *testing.T) {
	assert.Equal(t, 0.7, contribution(TrendUpWeak, domain.SideLong))
	assert.Equal(t, 0.0, contribution(TrendUpWeak, domain.SideShort))
	assert.Equal(t, 0.7, contribution(TrendDownWeak, domain.SideShort))
}

func TestRegime_HighVol(t *testing.T) {
	bars := trendingBars(120, true)
	// Widen the last 14 bars' ranges well beyond the long-run average.
	for i := len(bars) - 14; i < len(bars); i++ {
		bars[i].High += 3
		bars[i].Low -= 3
	}
	b := NewBuilder(smallConfig())
	b.Update("BTCUSD", bars)
	assert.Equal(t, VolHigh, b.Regime("BTCUSD"))
}
