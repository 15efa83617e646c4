package timeframe

import (
	"math"
	"sync"

	"github.com/quantrun/tradecore/internal/domain"
)

// Trend labels the directional state of one timeframe.
type Trend int

const (
	TrendNeutral Trend = iota
	TrendUp
	TrendUpWeak
	TrendDown
	TrendDownWeak
)

func (t Trend) String() string {
	switch t {
	case TrendUp:
		return "up"
	case TrendUpWeak:
		return "up_weak"
	case TrendDown:
		return "down"
	case TrendDownWeak:
		return "down_weak"
	default:
		return "neutral"
	}
}

// VolRegime labels the current volatility environment of a symbol.
type VolRegime int

const (
	VolNormal VolRegime = iota
	VolLow
	VolHigh
)

func (v VolRegime) String() string {
	switch v {
	case VolLow:
		return "low_vol"
	case VolHigh:
		return "high_vol"
	default:
		return "normal_vol"
	}
}

// Config holds the trend and confluence parameters.
type Config struct {
	FastEMA   int     `yaml:"fast_ema"`
	SlowEMA   int     `yaml:"slow_ema"`
	NoiseBand float64 `yaml:"noise_band"` // |fast-slow|/slow below this is neutral
	MinBars   int     `yaml:"min_bars"`   // per-timeframe bars required for a label

	// Hierarchy is coarsest-first; Weights pair with it positionally.
	Hierarchy []string  `yaml:"hierarchy"`
	Weights   []float64 `yaml:"weights"`

	// Volatility regime thresholds: short ATR vs long ATR ratio.
	VolLowRatio  float64 `yaml:"vol_low_ratio"`
	VolHighRatio float64 `yaml:"vol_high_ratio"`
}

// DefaultConfig returns the production hierarchy: five timeframes
// weighted 35/30/20/10/5 coarsest-first.
func DefaultConfig() Config {
	return Config{
		FastEMA:      9,
		SlowEMA:      21,
		NoiseBand:    0.001,
		MinBars:      25,
		Hierarchy:    []string{"1d", "4h", "1h", "15m", "5m"},
		Weights:      []float64{0.35, 0.30, 0.20, 0.10, 0.05},
		VolLowRatio:  0.7,
		VolHighRatio: 1.4,
	}
}

// Builder resamples per-symbol base series and serves trend labels and
// confluence scores across the configured hierarchy.
type Builder struct {
	mu        sync.RWMutex
	cfg       Config
	hierarchy []domain.Timeframe
	series    map[string][]domain.Bar
}

// NewBuilder creates a context builder. Unparseable hierarchy entries
// fall back to the default hierarchy.
func NewBuilder(cfg Config) *Builder {
	if cfg.SlowEMA <= 0 || len(cfg.Hierarchy) == 0 || len(cfg.Hierarchy) != len(cfg.Weights) {
		cfg = DefaultConfig()
	}
	tfs := make([]domain.Timeframe, 0, len(cfg.Hierarchy))
	for _, s := range cfg.Hierarchy {
		tf, err := domain.ParseTimeframe(s)
		if err != nil {
			cfg = DefaultConfig()
			tfs = tfs[:0]
			for _, d := range cfg.Hierarchy {
				tf, _ = domain.ParseTimeframe(d)
				tfs = append(tfs, tf)
			}
			break
		}
		tfs = append(tfs, tf)
	}
	return &Builder{cfg: cfg, hierarchy: tfs, series: make(map[string][]domain.Bar)}
}

// Update replaces the base series for a symbol. Bars must be
// chronological.
func (b *Builder) Update(symbol string, bars []domain.Bar) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.series[symbol] = bars
}

// Hierarchy returns the configured timeframes, coarsest first.
func (b *Builder) Hierarchy() []domain.Timeframe {
	return b.hierarchy
}

// Trend labels one timeframe for a symbol. Insufficient data or averages
// within the noise band yield TrendNeutral.
func (b *Builder) Trend(symbol string, tf domain.Timeframe) Trend {
	b.mu.RLock()
	base := b.series[symbol]
	b.mu.RUnlock()

	bars := Resample(base, tf)
	if len(bars) < b.cfg.MinBars || len(bars) < b.cfg.SlowEMA {
		return TrendNeutral
	}
	cl := closes(bars)
	fast := EMA(cl, b.cfg.FastEMA)
	slow := EMA(cl, b.cfg.SlowEMA)
	f, s := fast[len(fast)-1], slow[len(slow)-1]
	price := cl[len(cl)-1]
	if s == 0 || math.Abs(f-s)/math.Abs(s) < b.cfg.NoiseBand {
		return TrendNeutral
	}
	if f > s {
		if price > f {
			return TrendUp
		}
		return TrendUpWeak
	}
	if price < f {
		return TrendDown
	}
	return TrendDownWeak
}

// Confluence scores multi-timeframe agreement with the proposed
// direction in [0,1]. Full-strength agreement contributes the whole
// timeframe weight, weak agreement 0.7x, neutral 0.3x, disagreement
// nothing.
func (b *Builder) Confluence(symbol string, side domain.Side) float64 {
	var score, total float64
	for i, tf := range b.hierarchy {
		w := b.cfg.Weights[i]
		total += w
		score += w * contribution(b.Trend(symbol, tf), side)
	}
	if total <= 0 {
		return 0
	}
	return score / total
}

func contribution(t Trend, side domain.Side) float64 {
	aligned, weak := TrendUp, TrendUpWeak
	if side == domain.SideShort {
		aligned, weak = TrendDown, TrendDownWeak
	}
	switch t {
	case aligned:
		return 1.0
	case weak:
		return 0.7
	case TrendNeutral:
		return 0.3
	default:
		return 0
	}
}

// Regime classifies the symbol's volatility environment by comparing the
// short-horizon average bar range against the long-horizon average.
func (b *Builder) Regime(symbol string) VolRegime {
	b.mu.RLock()
	base := b.series[symbol]
	b.mu.RUnlock()

	const short, long = 14, 100
	if len(base) < long {
		return VolNormal
	}
	longAvg := avgRange(base[len(base)-long:])
	if longAvg <= 0 {
		return VolNormal
	}
	ratio := avgRange(base[len(base)-short:]) / longAvg
	switch {
	case ratio <= b.cfg.VolLowRatio:
		return VolLow
	case ratio >= b.cfg.VolHighRatio:
		return VolHigh
	default:
		return VolNormal
	}
}

func avgRange(bars []domain.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bars {
		sum += b.Range()
	}
	return sum / float64(len(bars))
}
