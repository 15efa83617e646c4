package structure

import (
	"math"
	"sort"

	"github.com/quantrun/tradecore/internal/domain"
)

// Config holds market-structure extraction thresholds.
type Config struct {
	SwingConfirmBars int     `yaml:"swing_confirm_bars"` // bars required on both sides of a pivot
	MinHistory       int     `yaml:"min_history"`        // below this, Refresh yields no levels
	ATRPeriod        int     `yaml:"atr_period"`
	DisplacementATR  float64 `yaml:"displacement_atr"`  // bar range multiple that marks displacement
	InvalidationATR  float64 `yaml:"invalidation_atr"`  // close-through distance that kills a level
	CompressionRatio float64 `yaml:"compression_ratio"` // avg range vs ATR that marks compression
	CompressionBars  int     `yaml:"compression_bars"`
}

// DefaultConfig returns production extraction thresholds.
func DefaultConfig() Config {
	return Config{
		SwingConfirmBars: 3,
		MinHistory:       50,
		ATRPeriod:        14,
		DisplacementATR:  1.8,
		InvalidationATR:  0.5,
		CompressionRatio: 0.6,
		CompressionBars:  5,
	}
}

// Extractor derives structural levels from an OHLCV series. It is a pure
// function of the series: refreshing twice on the same bars yields the
// same level set.
type Extractor struct {
	cfg Config
}

// NewExtractor creates an extractor with the given thresholds.
func NewExtractor(cfg Config) *Extractor {
	if cfg.SwingConfirmBars < 1 {
		cfg = DefaultConfig()
	}
	return &Extractor{cfg: cfg}
}

// Refresh extracts swing pivots, order blocks, fair value gaps and
// liquidity zones from bars, then lazily invalidates levels that price
// has since closed through. Insufficient history yields an empty set,
// never an error.
func (e *Extractor) Refresh(bars []domain.Bar) []Level {
	if len(bars) < e.cfg.MinHistory {
		return nil
	}
	atr := ATRSeries(bars, e.cfg.ATRPeriod)

	levels := e.swings(bars, atr)
	levels = append(levels, e.orderBlocks(bars, atr)...)
	levels = append(levels, e.fairValueGaps(bars)...)
	levels = append(levels, e.liquidityZones(bars, atr)...)

	e.invalidate(levels, bars, atr)

	sort.Slice(levels, func(i, j int) bool {
		if levels[i].Price != levels[j].Price {
			return levels[i].Price < levels[j].Price
		}
		return levels[i].BarIndex < levels[j].BarIndex
	})
	return levels
}

// swings finds local extremes not broken within the confirmation window
// on either side.
func (e *Extractor) swings(bars []domain.Bar, atr []float64) []Level {
	n := e.cfg.SwingConfirmBars
	var out []Level
	for i := n; i < len(bars)-n; i++ {
		isHigh, isLow := true, true
		for j := i - n; j <= i+n; j++ {
			if j == i {
				continue
			}
			if bars[j].High >= bars[i].High {
				isHigh = false
			}
			if bars[j].Low <= bars[i].Low {
				isLow = false
			}
		}
		if isHigh {
			out = append(out, Level{
				Kind:      SwingHigh,
				Price:     bars[i].High,
				Low:       bars[i].High,
				High:      bars[i].High,
				Strength:  swingStrength(bars, i, atr[i], true),
				BarIndex:  i,
				CreatedAt: bars[i].Start,
			})
		}
		if isLow {
			out = append(out, Level{
				Kind:      SwingLow,
				Price:     bars[i].Low,
				Low:       bars[i].Low,
				High:      bars[i].Low,
				Strength:  swingStrength(bars, i, atr[i], false),
				BarIndex:  i,
				CreatedAt: bars[i].Start,
			})
		}
	}
	return out
}

// swingStrength scores a pivot by how far it protrudes beyond its
// neighbors relative to local volatility.
func swingStrength(bars []domain.Bar, i int, atr float64, high bool) float64 {
	if atr <= 0 {
		return 0.5
	}
	var nearest float64
	if high {
		nearest = math.Max(bars[i-1].High, bars[i+1].High)
		return clamp01((bars[i].High - nearest) / atr)
	}
	nearest = math.Min(bars[i-1].Low, bars[i+1].Low)
	return clamp01((nearest - bars[i].Low) / atr)
}

// orderBlocks marks the originating candle before each displacement move.
// A displacement bar's range exceeds the ATR multiple; the order block is
// the body of the prior opposite-direction candle.
func (e *Extractor) orderBlocks(bars []domain.Bar, atr []float64) []Level {
	var out []Level
	for i := 1; i < len(bars); i++ {
		if atr[i] <= 0 || bars[i].Range() < e.cfg.DisplacementATR*atr[i] {
			continue
		}
		origin := bars[i-1]
		if origin.Bullish() == bars[i].Bullish() {
			continue
		}
		lo, hi := origin.Body()
		if hi <= lo {
			continue
		}
		out = append(out, Level{
			Kind:      OrderBlock,
			Price:     (lo + hi) / 2,
			Low:       lo,
			High:      hi,
			Strength:  clamp01(bars[i].Range() / (e.cfg.DisplacementATR * atr[i]) / 2),
			BarIndex:  i - 1,
			CreatedAt: origin.Start,
		})
	}
	return out
}

// fairValueGaps finds three-bar imbalances where the wicks of the first
// and third bar do not overlap.
func (e *Extractor) fairValueGaps(bars []domain.Bar) []Level {
	var out []Level
	for i := 2; i < len(bars); i++ {
		// Bullish gap: bar i low sits above bar i-2 high.
		if bars[i].Low > bars[i-2].High {
			out = append(out, gapLevel(bars[i-2].High, bars[i].Low, i-1, bars[i-1]))
		}
		// Bearish gap: bar i high sits below bar i-2 low.
		if bars[i].High < bars[i-2].Low {
			out = append(out, gapLevel(bars[i].High, bars[i-2].Low, i-1, bars[i-1]))
		}
	}
	return out
}

func gapLevel(lo, hi float64, idx int, mid domain.Bar) Level {
	width := hi - lo
	strength := 0.5
	if r := mid.Range(); r > 0 {
		strength = clamp01(width / r)
	}
	return Level{
		Kind:      FairValueGap,
		Price:     (lo + hi) / 2,
		Low:       lo,
		High:      hi,
		Strength:  strength,
		BarIndex:  idx,
		CreatedAt: mid.Start,
	}
}

// liquidityZones finds compressed ranges immediately preceding a
// displacement bar. Compression is the window's average range falling
// under the ATR ratio.
func (e *Extractor) liquidityZones(bars []domain.Bar, atr []float64) []Level {
	w := e.cfg.CompressionBars
	var out []Level
	for i := w; i < len(bars); i++ {
		if atr[i] <= 0 || bars[i].Range() < e.cfg.DisplacementATR*atr[i] {
			continue
		}
		var sum, lo, hi float64
		lo, hi = math.Inf(1), math.Inf(-1)
		for j := i - w; j < i; j++ {
			sum += bars[j].Range()
			lo = math.Min(lo, bars[j].Low)
			hi = math.Max(hi, bars[j].High)
		}
		avg := sum / float64(w)
		if avg >= e.cfg.CompressionRatio*atr[i] {
			continue
		}
		out = append(out, Level{
			Kind:      LiquidityZone,
			Price:     (lo + hi) / 2,
			Low:       lo,
			High:      hi,
			Strength:  clamp01(1 - avg/(e.cfg.CompressionRatio*atr[i])),
			BarIndex:  i - 1,
			CreatedAt: bars[i-1].Start,
		})
	}
	return out
}

// invalidate marks a level invalid once a later close has traded through
// it by more than the configured ATR multiple. Pivots are one-sided. Zones
// are directional: price sits on one side of the zone after formation and
// the zone dies when a close crosses out the far side, so the displacement
// move that created it does not count against it.
func (e *Extractor) invalidate(levels []Level, bars []domain.Bar, atr []float64) {
	for li := range levels {
		l := &levels[li]
		switch l.Kind {
		case SwingHigh:
			for i := l.BarIndex + 1; i < len(bars); i++ {
				if bars[i].Close > l.Price+e.cfg.InvalidationATR*atr[i] {
					l.Invalidated = true
					break
				}
			}
		case SwingLow:
			for i := l.BarIndex + 1; i < len(bars); i++ {
				if bars[i].Close < l.Price-e.cfg.InvalidationATR*atr[i] {
					l.Invalidated = true
					break
				}
			}
		default:
			e.invalidateZone(l, bars, atr)
		}
	}
}

func (e *Extractor) invalidateZone(l *Level, bars []domain.Bar, atr []float64) {
	side := 0 // +1 price above zone, -1 below, 0 undecided
	for i := l.BarIndex + 1; i < len(bars); i++ {
		margin := e.cfg.InvalidationATR * atr[i]
		c := bars[i].Close
		if side == 0 {
			if c > l.High {
				side = 1
			} else if c < l.Low {
				side = -1
			}
			continue
		}
		if (side > 0 && c < l.Low-margin) || (side < 0 && c > l.High+margin) {
			l.Invalidated = true
			return
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
