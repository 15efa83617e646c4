package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrun/tradecore/internal/domain"
	"github.com/quantrun/tradecore/internal/microstructure"
	"github.com/quantrun/tradecore/internal/quality"
	"github.com/quantrun/tradecore/internal/timeframe"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sigFor(symbol, strategy string) *domain.Signal {
	return &domain.Signal{
		Symbol:     symbol,
		Side:       domain.SideLong,
		Entry:      100,
		Confidence: 0.8,
		Strategy:   strategy,
		Time:       t0,
	}
}

func assessment(score float64) quality.Assessment {
	return quality.Assessment{Score: score, Time: t0}
}

func decide(t *testing.T, a *Allocator, sig *domain.Signal, score float64, state *PortfolioState) Decision {
	t.Helper()
	d, _, err := a.Decide(sig, assessment(score), state, nil, timeframe.VolNormal, t0)
	require.NoError(t, err)
	return d
}

func TestDecide_BandMapping(t *testing.T) {
	a := NewAllocator(DefaultConfig())
	state := NewPortfolioState(nil)

	floor := decide(t, a, sigFor("BTCUSD", "s1"), 0.40, state)
	require.True(t, floor.Approved)
	assert.InDelta(t, 0.33, floor.RiskPct, 1e-9, "threshold quality maps to the band floor")

	top := decide(t, a, sigFor("BTCUSD", "s1"), 1.0, state)
	require.True(t, top.Approved)
	assert.InDelta(t, 1.00, top.RiskPct, 1e-9, "perfect quality maps to the band ceiling")

	// Monotone in between.
	prev := floor.RiskPct
	for _, q := range []float64{0.5, 0.6, 0.7, 0.8, 0.9} {
		d := decide(t, a, sigFor("BTCUSD", "s1"), q, state)
		require.True(t, d.Approved)
		assert.Greater(t, d.RiskPct, prev)
		prev = d.RiskPct
	}
}

func TestDecide_QualityBelowThreshold(t *testing.T) {
	a := NewAllocator(DefaultConfig())
	d := decide(t, a, sigFor("BTCUSD", "s1"), 0.2, NewPortfolioState(nil))
	assert.False(t, d.Approved)
	assert.Zero(t, d.RiskPct)
	assert.Equal(t, ReasonQualityLow, d.Code)
}

func TestDecide_HighVolHalvesRisk(t *testing.T) {
	a := NewAllocator(DefaultConfig())
	d, _, err := a.Decide(sigFor("BTCUSD", "s1"), assessment(1.0), NewPortfolioState(nil),
		nil, timeframe.VolHigh, t0)
	require.NoError(t, err)
	require.True(t, d.Approved)
	assert.InDelta(t, 0.5, d.RiskPct, 1e-9)
}

func TestDecide_ToxicityClampsToFloor(t *testing.T) {
	a := NewAllocator(DefaultConfig())
	micro := &microstructure.Snapshot{Symbol: "BTCUSD", Toxicity: 1.0}
	d, _, err := a.Decide(sigFor("BTCUSD", "s1"), assessment(1.0), NewPortfolioState(nil),
		micro, timeframe.VolHigh, t0)
	require.NoError(t, err)
	require.True(t, d.Approved)
	// 1.00 * 0.5 (high vol) * 0.4 (toxic floor) = 0.2, re-clamped up.
	assert.InDelta(t, 0.33, d.RiskPct, 1e-9)
}

func TestDecide_ExposureCeilings(t *testing.T) {
	a := NewAllocator(DefaultConfig())

	t.Run("portfolio", func(t *testing.T) {
		state := NewPortfolioState(nil)
		state.AddExposure("p1", Exposure{Symbol: "AAA", Strategy: "s1", RiskPct: 1.9})
		state.AddExposure("p2", Exposure{Symbol: "BBB", Strategy: "s2", RiskPct: 1.9})
		state.AddExposure("p3", Exposure{Symbol: "CCC", Strategy: "s3", RiskPct: 1.9})
		d := decide(t, a, sigFor("DDD", "s4"), 1.0, state)
		assert.False(t, d.Approved)
		assert.Equal(t, ReasonPortfolioCeiling, d.Code)
	})

	t.Run("correlated", func(t *testing.T) {
		state := NewPortfolioState(func(x, y string) float64 { return 0.9 })
		state.AddExposure("p1", Exposure{Symbol: "BTCUSD", Strategy: "s1", RiskPct: 2.5})
		d := decide(t, a, sigFor("ETHUSD", "s2"), 1.0, state)
		assert.False(t, d.Approved)
		assert.Equal(t, ReasonCorrelatedCeiling, d.Code)
	})

	t.Run("symbol", func(t *testing.T) {
		state := NewPortfolioState(nil)
		state.AddExposure("p1", Exposure{Symbol: "BTCUSD", Strategy: "s1", RiskPct: 1.5})
		d := decide(t, a, sigFor("BTCUSD", "s2"), 1.0, state)
		assert.False(t, d.Approved)
		assert.Equal(t, ReasonSymbolCeiling, d.Code)
	})

	t.Run("strategy", func(t *testing.T) {
		state := NewPortfolioState(nil)
		state.AddExposure("p1", Exposure{Symbol: "AAA", Strategy: "momo", RiskPct: 0.9})
		state.AddExposure("p2", Exposure{Symbol: "BBB", Strategy: "momo", RiskPct: 0.9})
		state.AddExposure("p3", Exposure{Symbol: "CCC", Strategy: "momo", RiskPct: 0.9})
		d := decide(t, a, sigFor("DDD", "momo"), 1.0, state)
		assert.False(t, d.Approved)
		assert.Equal(t, ReasonStrategyCeiling, d.Code)
	})

	t.Run("max positions", func(t *testing.T) {
		state := NewPortfolioState(nil)
		symbols := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
		for i, s := range symbols {
			state.AddExposure(s, Exposure{Symbol: s, Strategy: symbols[(i+1)%len(symbols)], RiskPct: 0.4})
		}
		d := decide(t, a, sigFor("NEW", "fresh"), 1.0, state)
		assert.False(t, d.Approved)
		assert.Equal(t, ReasonMaxPositions, d.Code)
	})
}

// seedHistory loads outcomes in an L,L,W,W,W pattern: win rate 0.6, no
// streak longer than two, small PnL so the daily limit stays quiet.
func seedHistory(a *Allocator, state *PortfolioState, blocks int) time.Time {
	at := t0
	for i := 0; i < blocks; i++ {
		for _, r := range []float64{-1, -1, 1, 1, 1} {
			a.RecordOutcome(state, Outcome{
				Symbol: "BTCUSD", Strategy: "momo",
				R: r, PnlPct: r * 0.1, ClosedAt: at,
			})
			at = at.Add(time.Minute)
		}
	}
	return at
}

func TestRecordOutcome_StreakOpensBreaker(t *testing.T) {
	a := NewAllocator(DefaultConfig())
	state := NewPortfolioState(nil)
	at := seedHistory(a, state, 10) // 50 trades, win rate 0.6

	var tr *Transition
	losses := 0
	for i := 0; i < 6 && tr == nil; i++ {
		tr = a.RecordOutcome(state, Outcome{
			Symbol: "BTCUSD", Strategy: "momo",
			R: -1, PnlPct: -0.1, ClosedAt: at,
		})
		at = at.Add(time.Minute)
		losses++
	}
	require.NotNil(t, tr, "loss streak should eventually open the breaker")
	assert.True(t, tr.Opened)
	assert.Equal(t, "improbable_loss_streak", tr.Reason)
	assert.Equal(t, 4, losses, "four straight losses at a 0.56 win rate cross the probability floor")
	assert.Less(t, tr.Statistic, 0.05)

	// While open, everything is rejected regardless of quality.
	d, _, err := a.Decide(sigFor("BTCUSD", "momo"), assessment(1.0), state, nil, timeframe.VolNormal, at)
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonBreakerOpen, d.Code)
}

func TestDecide_BreakerAutoClosesAfterCooldown(t *testing.T) {
	a := NewAllocator(DefaultConfig())
	state := NewPortfolioState(nil)
	at := seedHistory(a, state, 10)

	var tr *Transition
	for i := 0; i < 6 && tr == nil; i++ {
		tr = a.RecordOutcome(state, Outcome{Symbol: "BTCUSD", Strategy: "momo", R: -1, PnlPct: -0.1, ClosedAt: at})
		at = at.Add(time.Minute)
	}
	require.NotNil(t, tr)

	later := tr.ResumeAt.Add(time.Minute)
	d, closed, err := a.Decide(sigFor("BTCUSD", "momo"), assessment(1.0), state, nil, timeframe.VolNormal, later)
	require.NoError(t, err)
	require.NotNil(t, closed, "elapsed cooldown should surface a close transition")
	assert.False(t, closed.Opened)
	assert.True(t, d.Approved)
	assert.Equal(t, BreakerClosed, state.BreakerSnapshot().Status)
}

// A recent run far below a zero long-run mean trips the z-score halt.
// Streak and daily tests are configured out so only the z path can fire.
func TestRecordOutcome_ZScoreOpensBreaker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Breaker.StreakProb = 0
	cfg.Breaker.MinStreak = 1000
	cfg.Breaker.DailyLossPct = 0
	a := NewAllocator(cfg)
	state := NewPortfolioState(nil)

	at := t0
	for i := 0; i < 80; i++ {
		r := 1.0
		if i%2 != 0 {
			r = -1.0
		}
		require.Nil(t, a.RecordOutcome(state, Outcome{
			Symbol: "BTCUSD", Strategy: "momo", R: r, PnlPct: r * 0.1, ClosedAt: at,
		}), "alternating outcomes must not trip the breaker")
		at = at.Add(time.Minute)
	}

	var tr *Transition
	for i := 0; i < 20 && tr == nil; i++ {
		tr = a.RecordOutcome(state, Outcome{
			Symbol: "BTCUSD", Strategy: "momo", R: -1, PnlPct: -0.1, ClosedAt: at,
		})
		at = at.Add(time.Minute)
	}
	require.NotNil(t, tr, "a sustained loss run against a zero mean should open the breaker")
	assert.True(t, tr.Opened)
	assert.Equal(t, "anomalous_loss_run", tr.Reason)
	assert.Less(t, tr.Statistic, -2.5)
}

// A cool-down inside a strongly profitable run is statistically anomalous
// but not a loss: the recent mean is still positive, so no halt.
func TestRecordOutcome_ZScoreNeedsNegativeRecentMean(t *testing.T) {
	a := NewAllocator(DefaultConfig())
	state := NewPortfolioState(nil)

	at := t0
	for i := 0; i < 80; i++ {
		r := 3.0
		if i%2 != 0 {
			r = 1.0
		}
		require.Nil(t, a.RecordOutcome(state, Outcome{
			Symbol: "BTCUSD", Strategy: "momo", R: r, PnlPct: r * 0.1, ClosedAt: at,
		}))
		at = at.Add(time.Minute)
	}
	// Twenty small winners drag the recent mean far below the long-run
	// mean while staying positive.
	for i := 0; i < 20; i++ {
		tr := a.RecordOutcome(state, Outcome{
			Symbol: "BTCUSD", Strategy: "momo", R: 0.5, PnlPct: 0.05, ClosedAt: at,
		})
		assert.Nil(t, tr, "profitable trades must never halt trading")
		at = at.Add(time.Minute)
	}
	assert.Equal(t, BreakerClosed, state.BreakerSnapshot().Status)
}

func TestRecordOutcome_DailyLossLimit(t *testing.T) {
	a := NewAllocator(DefaultConfig())
	state := NewPortfolioState(nil)

	tr := a.RecordOutcome(state, Outcome{
		Symbol: "BTCUSD", Strategy: "momo",
		R: -3.5, PnlPct: -3.5, ClosedAt: t0,
	})
	require.NotNil(t, tr)
	assert.True(t, tr.Opened)
	assert.Equal(t, "daily_loss_limit", tr.Reason)
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), tr.ResumeAt,
		"daily halt resumes at the next UTC day")

	// Still blocked late the same day, trading again the next morning.
	d, _, err := a.Decide(sigFor("BTCUSD", "momo"), assessment(1.0), state, nil, timeframe.VolNormal,
		time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, ReasonBreakerOpen, d.Code)

	d, closed, err := a.Decide(sigFor("BTCUSD", "momo"), assessment(1.0), state, nil, timeframe.VolNormal,
		time.Date(2025, 3, 2, 0, 1, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.True(t, d.Approved)
}

func TestRestoreBreaker_RoundTrip(t *testing.T) {
	state := NewPortfolioState(nil)
	snap := BreakerSnapshot{
		Status:    BreakerOpen,
		Reason:    "daily_loss_limit",
		Statistic: -3.5,
		OpenedAt:  t0,
		ResumeAt:  t0.Add(4 * time.Hour),
	}
	state.RestoreBreaker(snap)
	assert.Equal(t, snap, state.BreakerSnapshot())

	state.ResetBreaker()
	assert.Equal(t, BreakerClosed, state.BreakerSnapshot().Status)
}
