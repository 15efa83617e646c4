package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrun/tradecore/internal/domain"
	"github.com/quantrun/tradecore/internal/microstructure"
	"github.com/quantrun/tradecore/internal/structure"
)

func testSignal(conf float64) *domain.Signal {
	return &domain.Signal{
		Symbol:     "BTCUSD",
		Side:       domain.SideLong,
		Entry:      100,
		Confidence: conf,
		Strategy:   "test",
		Time:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Proposal:   domain.Proposal{Stop: 98, Target: 106},
		Meta:       map[string]any{},
	}
}

func cleanSnapshot(flow float64) *microstructure.Snapshot {
	return &microstructure.Snapshot{Symbol: "BTCUSD", Toxicity: 0.1, FlowImbalance: flow}
}

func entryLevel() []structure.Level {
	return []structure.Level{{Kind: structure.SwingLow, Price: 100, Low: 100, High: 100}}
}

// A-grade setup: confidence 0.9, full confluence, clean aligned flow,
// perfect regime fit, saturated technical factors, R:R 3.0, tight
// timing. Must clear 0.80.
func TestScore_HighQualityScenario(t *testing.T) {
	s := NewScorer(DefaultConfig())
	a := s.Score(Inputs{
		Signal:           testSignal(0.9),
		Confluence:       1.0,
		RegimeFit:        1.0,
		VolumeRatio:      2.0,
		TechnicalFactors: 3,
		Micro:            cleanSnapshot(1.0),
		Levels:           entryLevel(),
		ATR:              2.0,
	})
	assert.GreaterOrEqual(t, a.Score, 0.80)
	assert.InDelta(t, 1.0, a.Parts["order_flow"], 1e-9)
	assert.Len(t, a.Parts, 8)
}

// Toxicity at 0.8 zeroes the order-flow dimension no matter how good
// everything else looks, capping the total.
func TestScore_ToxicVeto(t *testing.T) {
	s := NewScorer(DefaultConfig())
	toxic := &microstructure.Snapshot{Symbol: "BTCUSD", Toxicity: 0.8, FlowImbalance: 1.0}
	a := s.Score(Inputs{
		Signal:           testSignal(1.0),
		Confluence:       1.0,
		RegimeFit:        1.0,
		VolumeRatio:      2.0,
		TechnicalFactors: 3,
		Micro:            toxic,
		Levels:           entryLevel(),
		ATR:              2.0,
	})
	assert.Zero(t, a.Parts["order_flow"])
	assert.LessOrEqual(t, a.Score, 0.85)
}

// Missing inputs default their dimension to the neutral midpoint.
func TestScore_NeutralDefaults(t *testing.T) {
	s := NewScorer(DefaultConfig())
	sig := testSignal(0.5)
	sig.Proposal = domain.Proposal{}
	a := s.Score(Inputs{
		Signal:           sig,
		Confluence:       Unavailable,
		RegimeFit:        Unavailable,
		VolumeRatio:      Unavailable,
		TechnicalFactors: -1,
		Micro:            nil,
		Levels:           nil,
		ATR:              0,
	})
	for name, v := range a.Parts {
		assert.InDelta(t, 0.5, v, 1e-9, "dimension %s should default to neutral", name)
	}
	assert.InDelta(t, 0.5, a.Score, 1e-9)
}

func TestScore_RiskRewardShape(t *testing.T) {
	s := NewScorer(DefaultConfig())
	cases := []struct {
		rr   float64
		want float64
	}{
		{1.0, 0},    // below minimum
		{1.5, 0},    // at minimum boundary
		{2.5, 0.5},  // midpoint
		{3.5, 1},    // at ceiling
		{5.0, 1},    // saturated
	}
	for _, tc := range cases {
		sig := testSignal(0.5)
		sig.Proposal = domain.Proposal{RiskReward: tc.rr}
		a := s.Score(Inputs{Signal: sig, Confluence: Unavailable, RegimeFit: Unavailable,
			VolumeRatio: Unavailable, TechnicalFactors: -1})
		assert.InDelta(t, tc.want, a.Parts["risk_reward"], 1e-9, "rr=%v", tc.rr)
	}
}

func TestScore_DoesNotMutateSignalFields(t *testing.T) {
	s := NewScorer(DefaultConfig())
	sig := testSignal(0.9)
	a := s.Score(Inputs{Signal: sig, Confluence: 1, RegimeFit: 1,
		VolumeRatio: Unavailable, TechnicalFactors: -1})
	assert.Equal(t, 0.9, sig.Confidence)
	assert.Equal(t, 100.0, sig.Entry)
	// The metadata bag carries the audit annotation.
	require.Contains(t, sig.Meta, "quality_score")
	assert.Equal(t, a.Score, sig.Meta["quality_score"])
}

func TestScore_FlowAlignmentMatters(t *testing.T) {
	s := NewScorer(DefaultConfig())
	aligned := s.Score(Inputs{Signal: testSignal(0.5), Confluence: Unavailable,
		RegimeFit: Unavailable, VolumeRatio: Unavailable, TechnicalFactors: -1,
		Micro: cleanSnapshot(1.0)})
	opposed := s.Score(Inputs{Signal: testSignal(0.5), Confluence: Unavailable,
		RegimeFit: Unavailable, VolumeRatio: Unavailable, TechnicalFactors: -1,
		Micro: cleanSnapshot(-1.0)})
	assert.Greater(t, aligned.Parts["order_flow"], opposed.Parts["order_flow"])
	assert.GreaterOrEqual(t, opposed.Parts["order_flow"], 0.8, "clean flow floors near maximum even when opposed")
}
