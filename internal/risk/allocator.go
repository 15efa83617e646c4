package risk

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantrun/tradecore/internal/domain"
	"github.com/quantrun/tradecore/internal/microstructure"
	"github.com/quantrun/tradecore/internal/quality"
	"github.com/quantrun/tradecore/internal/timeframe"
)

// Rejection reason codes attached to risk decisions.
const (
	ReasonQualityLow        = "quality_below_threshold"
	ReasonBreakerOpen       = "circuit_breaker_open"
	ReasonPortfolioCeiling  = "portfolio_risk_ceiling"
	ReasonCorrelatedCeiling = "correlated_exposure_ceiling"
	ReasonSymbolCeiling     = "symbol_exposure_ceiling"
	ReasonStrategyCeiling   = "strategy_exposure_ceiling"
	ReasonMaxPositions      = "max_positions"
)

// Config holds the allocation band, exposure ceilings and breaker
// thresholds.
type Config struct {
	QualityThreshold float64 `yaml:"quality_threshold"`
	MinRiskPct       float64 `yaml:"min_risk_pct"`
	MaxRiskPct       float64 `yaml:"max_risk_pct"`

	PortfolioCeilingPct  float64 `yaml:"portfolio_ceiling_pct"`
	CorrelatedCeilingPct float64 `yaml:"correlated_ceiling_pct"`
	CorrelationThreshold float64 `yaml:"correlation_threshold"`
	SymbolCeilingPct     float64 `yaml:"symbol_ceiling_pct"`
	StrategyCeilingPct   float64 `yaml:"strategy_ceiling_pct"`
	MaxPositions         int     `yaml:"max_positions"`

	HighVolMultiplier float64 `yaml:"high_vol_multiplier"`
	LowVolMultiplier  float64 `yaml:"low_vol_multiplier"`

	// Toxicity above the caution threshold scales risk down linearly to
	// FloorMultiplier at full toxicity.
	ToxicityCaution   float64 `yaml:"toxicity_caution"`
	ToxicityFloorMult float64 `yaml:"toxicity_floor_mult"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// DefaultConfig returns the production risk band: 0.33%-1.00% per trade,
// 6% portfolio ceiling.
func DefaultConfig() Config {
	return Config{
		QualityThreshold:     0.40,
		MinRiskPct:           0.33,
		MaxRiskPct:           1.00,
		PortfolioCeilingPct:  6.0,
		CorrelatedCeilingPct: 3.0,
		CorrelationThreshold: 0.7,
		SymbolCeilingPct:     2.0,
		StrategyCeilingPct:   3.0,
		MaxPositions:         8,
		HighVolMultiplier:    0.5,
		LowVolMultiplier:     1.2,
		ToxicityCaution:      0.5,
		ToxicityFloorMult:    0.4,
		Breaker:              DefaultBreakerConfig(),
	}
}

// Decision is the allocator's verdict on one signal. RiskPct is within
// the configured band when approved and exactly 0 when rejected.
type Decision struct {
	Approved bool    `json:"approved"`
	RiskPct  float64 `json:"risk_pct"`
	Code     string  `json:"code,omitempty"`   // rejection reason code
	Reason   string  `json:"reason,omitempty"` // human-readable detail
	Quality  float64 `json:"quality"`
}

// Allocator owns the quality-to-risk mapping and every portfolio-wide
// ceiling. All decisions for a timestep go through one allocator; the
// portfolio state mutex enforces the single-writer discipline.
type Allocator struct {
	cfg Config
}

// NewAllocator creates an allocator; a zero band falls back to defaults.
func NewAllocator(cfg Config) *Allocator {
	if cfg.MaxRiskPct <= 0 {
		cfg = DefaultConfig()
	}
	return &Allocator{cfg: cfg}
}

// Config returns the active configuration.
func (a *Allocator) Config() Config {
	return a.cfg
}

// Decide maps the assessment to a risk percentage and applies breaker
// and exposure checks. The returned transition is non-nil when the
// breaker auto-closed because its cooldown elapsed during this check.
// The error return is reserved for invariant violations.
func (a *Allocator) Decide(sig *domain.Signal, qa quality.Assessment, state *PortfolioState,
	micro *microstructure.Snapshot, regime timeframe.VolRegime, now time.Time) (Decision, *Transition, error) {

	state.mu.Lock()
	defer state.mu.Unlock()

	blocked, tr := state.breakerBlocksLocked(now)
	if blocked {
		return reject(ReasonBreakerOpen, qa.Score, "circuit breaker open until "+state.breaker.resumeAt.Format(time.RFC3339)), nil, nil
	}

	if qa.Score < a.cfg.QualityThreshold {
		return reject(ReasonQualityLow, qa.Score,
			fmt.Sprintf("quality %.3f below threshold %.2f", qa.Score, a.cfg.QualityThreshold)), tr, nil
	}

	risk := a.baseRisk(qa.Score)
	risk = a.adjust(risk, micro, regime)

	if risk < a.cfg.MinRiskPct || risk > a.cfg.MaxRiskPct {
		log.Error().Float64("risk_pct", risk).Msg("risk outside configured band after clamping")
		return Decision{}, tr, fmt.Errorf("risk %.4f outside band [%.2f,%.2f]: %w",
			risk, a.cfg.MinRiskPct, a.cfg.MaxRiskPct, domain.ErrInvariant)
	}

	if d, ok := a.exposureCheckLocked(sig, state, risk, qa.Score); !ok {
		return d, tr, nil
	}

	return Decision{Approved: true, RiskPct: risk, Quality: qa.Score}, tr, nil
}

// baseRisk linearly interpolates quality in [threshold, 1] onto the
// configured risk band.
func (a *Allocator) baseRisk(q float64) float64 {
	span := 1.0 - a.cfg.QualityThreshold
	if span <= 0 {
		return a.cfg.MinRiskPct
	}
	t := (q - a.cfg.QualityThreshold) / span
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return a.cfg.MinRiskPct + t*(a.cfg.MaxRiskPct-a.cfg.MinRiskPct)
}

// adjust applies the volatility-regime and toxicity multipliers, then
// re-clamps to the band.
func (a *Allocator) adjust(risk float64, micro *microstructure.Snapshot, regime timeframe.VolRegime) float64 {
	switch regime {
	case timeframe.VolHigh:
		risk *= a.cfg.HighVolMultiplier
	case timeframe.VolLow:
		risk *= a.cfg.LowVolMultiplier
	}

	if micro != nil && micro.Toxicity > a.cfg.ToxicityCaution {
		span := 1.0 - a.cfg.ToxicityCaution
		t := (micro.Toxicity - a.cfg.ToxicityCaution) / span
		mult := 1.0 - t*(1.0-a.cfg.ToxicityFloorMult)
		risk *= mult
	}

	if risk < a.cfg.MinRiskPct {
		risk = a.cfg.MinRiskPct
	}
	if risk > a.cfg.MaxRiskPct {
		risk = a.cfg.MaxRiskPct
	}
	return risk
}

// exposureCheckLocked verifies every ceiling with the prospective risk
// included. Each violation carries its own reason code.
func (a *Allocator) exposureCheckLocked(sig *domain.Signal, state *PortfolioState, risk, q float64) (Decision, bool) {
	if state.totalOpenRiskLocked()+risk > a.cfg.PortfolioCeilingPct {
		return reject(ReasonPortfolioCeiling, q,
			fmt.Sprintf("open risk %.2f%% + %.2f%% exceeds portfolio ceiling %.2f%%",
				state.totalOpenRiskLocked(), risk, a.cfg.PortfolioCeilingPct)), false
	}
	if corr := state.correlatedRiskLocked(sig.Symbol, a.cfg.CorrelationThreshold); corr+risk > a.cfg.CorrelatedCeilingPct {
		return reject(ReasonCorrelatedCeiling, q,
			fmt.Sprintf("correlated risk %.2f%% + %.2f%% exceeds ceiling %.2f%%",
				corr, risk, a.cfg.CorrelatedCeilingPct)), false
	}
	if s := state.symbolRiskLocked(sig.Symbol); s+risk > a.cfg.SymbolCeilingPct {
		return reject(ReasonSymbolCeiling, q,
			fmt.Sprintf("symbol risk %.2f%% + %.2f%% exceeds ceiling %.2f%%",
				s, risk, a.cfg.SymbolCeilingPct)), false
	}
	if s := state.strategyRiskLocked(sig.Strategy); s+risk > a.cfg.StrategyCeilingPct {
		return reject(ReasonStrategyCeiling, q,
			fmt.Sprintf("strategy risk %.2f%% + %.2f%% exceeds ceiling %.2f%%",
				s, risk, a.cfg.StrategyCeilingPct)), false
	}
	if len(state.open) >= a.cfg.MaxPositions {
		return reject(ReasonMaxPositions, q,
			fmt.Sprintf("%d open positions at maximum %d", len(state.open), a.cfg.MaxPositions)), false
	}
	return Decision{}, true
}

// RecordOutcome feeds a closed trade into portfolio statistics and runs
// the breaker tests. The returned transition is non-nil when the breaker
// opened.
func (a *Allocator) RecordOutcome(state *PortfolioState, o Outcome) *Transition {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.recordLocked(o)
	tr := state.evaluateBreakerLocked(a.cfg.Breaker, o)
	if tr != nil && tr.Opened {
		log.Warn().
			Str("reason", tr.Reason).
			Float64("statistic", tr.Statistic).
			Time("resume_at", tr.ResumeAt).
			Msg("circuit breaker opened")
	}
	return tr
}

func reject(code string, q float64, detail string) Decision {
	return Decision{Approved: false, RiskPct: 0, Code: code, Reason: detail, Quality: q}
}
