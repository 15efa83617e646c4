// Package quality combines strategy confidence with market context into
// one bounded signal-quality score and a labeled per-dimension breakdown.
package quality

import (
	"math"
	"time"

	"github.com/quantrun/tradecore/internal/domain"
	"github.com/quantrun/tradecore/internal/microstructure"
	"github.com/quantrun/tradecore/internal/structure"
)

// Unavailable marks a dimension input as missing; the dimension then
// defaults to its neutral midpoint instead of failing the score.
const Unavailable = -1.0

// neutral is the score a dimension takes when its inputs are missing.
const neutral = 0.5

// Weights assigns the contribution of each dimension. They must sum
// to 1.0.
type Weights struct {
	Confidence float64 `yaml:"confidence"`
	Confluence float64 `yaml:"confluence"`
	Volume     float64 `yaml:"volume"`
	OrderFlow  float64 `yaml:"order_flow"`
	RegimeFit  float64 `yaml:"regime_fit"`
	Technical  float64 `yaml:"technical"`
	RiskReward float64 `yaml:"risk_reward"`
	Timing     float64 `yaml:"timing"`
}

// Sum returns the total of all dimension weights.
func (w Weights) Sum() float64 {
	return w.Confidence + w.Confluence + w.Volume + w.OrderFlow +
		w.RegimeFit + w.Technical + w.RiskReward + w.Timing
}

// Config holds scorer weights and dimension thresholds.
type Config struct {
	Weights Weights `yaml:"weights"`

	// Order-flow thresholds: toxicity at or above ToxicThreshold zeroes
	// the dimension; at or below CleanThreshold it scores near-maximum.
	ToxicThreshold float64 `yaml:"toxic_threshold"`
	CleanThreshold float64 `yaml:"clean_threshold"`

	// Risk/reward shape: zero below MinRR, saturated at MaxRR.
	MinRR float64 `yaml:"min_rr"`
	MaxRR float64 `yaml:"max_rr"`

	// Technical confluence saturates at this many agreeing factors.
	TechnicalSaturation int `yaml:"technical_saturation"`

	// Entry timing: distance from entry to the nearest valid level in
	// ATR units; at or under TimingTightATR scores 1, at or over
	// TimingWideATR scores 0.
	TimingTightATR float64 `yaml:"timing_tight_atr"`
	TimingWideATR  float64 `yaml:"timing_wide_atr"`

	// Volume confirmation: recent/average volume ratio mapping to [0,1].
	VolumeLowRatio  float64 `yaml:"volume_low_ratio"`
	VolumeHighRatio float64 `yaml:"volume_high_ratio"`
}

// DefaultConfig returns the production weighting: confidence 25%,
// confluence 15%, volume 15%, order flow 15%, regime fit 10%, technical
// 10%, risk/reward 5%, timing 5%.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Confidence: 0.25,
			Confluence: 0.15,
			Volume:     0.15,
			OrderFlow:  0.15,
			RegimeFit:  0.10,
			Technical:  0.10,
			RiskReward: 0.05,
			Timing:     0.05,
		},
		ToxicThreshold:      0.70,
		CleanThreshold:      0.30,
		MinRR:               1.5,
		MaxRR:               3.5,
		TechnicalSaturation: 3,
		TimingTightATR:      0.25,
		TimingWideATR:       2.0,
		VolumeLowRatio:      0.5,
		VolumeHighRatio:     2.0,
	}
}

// Assessment is the scored quality of one signal: a scalar in [0,1] plus
// the labeled contribution of each dimension. Ephemeral; emitted as an
// event for audit but not persisted by the scorer.
type Assessment struct {
	Symbol   string             `json:"symbol"`
	Strategy string             `json:"strategy"`
	Score    float64            `json:"score"`
	Parts    map[string]float64 `json:"parts"`
	Time     time.Time          `json:"time"`
}

// Inputs gathers the context a score draws on. Numeric fields set to
// Unavailable (and a nil Micro snapshot) default their dimension to the
// neutral midpoint.
type Inputs struct {
	Signal           *domain.Signal
	Confluence       float64 // [0,1]
	RegimeFit        float64 // [0,1]
	VolumeRatio      float64 // recent volume / average volume
	TechnicalFactors int     // count of agreeing technical factors, <0 unavailable
	Micro            *microstructure.Snapshot
	Levels           []structure.Level
	ATR              float64
}

// Scorer computes quality assessments. It never mutates the input
// signal beyond an optional audit annotation in its metadata bag.
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer; zero-weight configs fall back to defaults.
func NewScorer(cfg Config) *Scorer {
	if cfg.Weights.Sum() <= 0 {
		cfg = DefaultConfig()
	}
	return &Scorer{cfg: cfg}
}

// Score combines the eight dimensions into one bounded quality value.
func (s *Scorer) Score(in Inputs) Assessment {
	w := s.cfg.Weights
	parts := map[string]float64{
		"confidence":  clamp01(in.Signal.Confidence),
		"confluence":  orNeutral(in.Confluence),
		"volume":      s.volumeScore(in.VolumeRatio),
		"order_flow":  s.orderFlowScore(in.Micro, in.Signal.Side),
		"regime_fit":  orNeutral(in.RegimeFit),
		"technical":   s.technicalScore(in.TechnicalFactors),
		"risk_reward": s.riskRewardScore(in.Signal),
		"timing":      s.timingScore(in.Signal, in.Levels, in.ATR),
	}

	total := w.Confidence*parts["confidence"] +
		w.Confluence*parts["confluence"] +
		w.Volume*parts["volume"] +
		w.OrderFlow*parts["order_flow"] +
		w.RegimeFit*parts["regime_fit"] +
		w.Technical*parts["technical"] +
		w.RiskReward*parts["risk_reward"] +
		w.Timing*parts["timing"]
	if sum := w.Sum(); sum > 0 {
		total /= sum
	}

	a := Assessment{
		Symbol:   in.Signal.Symbol,
		Strategy: in.Signal.Strategy,
		Score:    clamp01(total),
		Parts:    parts,
		Time:     in.Signal.Time,
	}
	if in.Signal.Meta != nil {
		in.Signal.Meta["quality_score"] = a.Score
	}
	return a
}

// orderFlowScore penalizes toxic flow and rewards flow aligned with the
// signal direction. Toxicity at or above the toxic threshold vetoes the
// dimension outright; at or below the clean threshold the dimension is
// near-maximum with alignment deciding the remainder.
func (s *Scorer) orderFlowScore(m *microstructure.Snapshot, side domain.Side) float64 {
	if m == nil {
		return neutral
	}
	if m.Toxicity >= s.cfg.ToxicThreshold {
		return 0
	}
	alignment := clamp01(0.5 + 0.5*m.FlowImbalance*side.Sign())
	if m.Toxicity <= s.cfg.CleanThreshold {
		return 0.8 + 0.2*alignment
	}
	span := s.cfg.ToxicThreshold - s.cfg.CleanThreshold
	cleanliness := 1 - (m.Toxicity-s.cfg.CleanThreshold)/span
	return clamp01(cleanliness * (0.4 + 0.6*alignment))
}

func (s *Scorer) volumeScore(ratio float64) float64 {
	if ratio < 0 {
		return neutral
	}
	span := s.cfg.VolumeHighRatio - s.cfg.VolumeLowRatio
	if span <= 0 {
		return neutral
	}
	return clamp01((ratio - s.cfg.VolumeLowRatio) / span)
}

func (s *Scorer) technicalScore(factors int) float64 {
	if factors < 0 {
		return neutral
	}
	sat := s.cfg.TechnicalSaturation
	if sat < 1 {
		sat = 1
	}
	return clamp01(float64(factors) / float64(sat))
}

// riskRewardScore is zero below the minimum acceptable ratio and
// saturates at the ceiling. Signals proposing no levels score neutral.
func (s *Scorer) riskRewardScore(sig *domain.Signal) float64 {
	rr := sig.RiskReward()
	if rr <= 0 {
		return neutral
	}
	if rr < s.cfg.MinRR {
		return 0
	}
	if rr >= s.cfg.MaxRR {
		return 1
	}
	return (rr - s.cfg.MinRR) / (s.cfg.MaxRR - s.cfg.MinRR)
}

// timingScore rewards entries close to a structural level, measured in
// ATR units.
func (s *Scorer) timingScore(sig *domain.Signal, levels []structure.Level, atr float64) float64 {
	if len(levels) == 0 || atr <= 0 {
		return neutral
	}
	best := math.Inf(1)
	for _, l := range levels {
		if l.Invalidated {
			continue
		}
		d := math.Abs(sig.Entry-l.Price) / atr
		if d < best {
			best = d
		}
	}
	if math.IsInf(best, 1) {
		return neutral
	}
	if best <= s.cfg.TimingTightATR {
		return 1
	}
	if best >= s.cfg.TimingWideATR {
		return 0
	}
	return 1 - (best-s.cfg.TimingTightATR)/(s.cfg.TimingWideATR-s.cfg.TimingTightATR)
}

func orNeutral(v float64) float64 {
	if v < 0 {
		return neutral
	}
	return clamp01(v)
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
