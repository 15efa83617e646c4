package microstructure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrun/tradecore/internal/domain"
)

func buyBar(i int, vol float64) domain.Bar {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute)
	// close at the high: fully buy-initiated
	return domain.Bar{Symbol: "ETHUSD", Start: start, Open: 100, High: 101, Low: 99, Close: 101, Volume: vol}
}

func sellBar(i int, vol float64) domain.Bar {
	b := buyBar(i, vol)
	b.Close = 99
	return b
}

func balancedBar(i int, vol float64) domain.Bar {
	b := buyBar(i, vol)
	b.Close = 100 // on the midpoint: splits evenly
	return b
}

func testConfig() Config {
	return Config{BucketVolume: 100, WindowBuckets: 10, FlowWindowBars: 10, ClipSigma: 10}
}

func TestUpdate_OneSidedFlowIsToxic(t *testing.T) {
	a := NewAnalyzer(testConfig())
	var snap Snapshot
	for i := 0; i < 20; i++ {
		snap = a.Update(buyBar(i, 100))
	}
	assert.Equal(t, 10, snap.Buckets)
	assert.InDelta(t, 1.0, snap.Toxicity, 1e-9, "pure one-sided buckets are maximally toxic")
	assert.InDelta(t, 1.0, snap.FlowImbalance, 1e-9)
}

func TestUpdate_BalancedFlowIsClean(t *testing.T) {
	a := NewAnalyzer(testConfig())
	var snap Snapshot
	for i := 0; i < 20; i++ {
		snap = a.Update(balancedBar(i, 100))
	}
	assert.InDelta(t, 0.0, snap.Toxicity, 1e-9)
	assert.InDelta(t, 0.0, snap.FlowImbalance, 1e-9)
}

func TestUpdate_FlowImbalanceBounded(t *testing.T) {
	a := NewAnalyzer(testConfig())
	var snap Snapshot
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			snap = a.Update(buyBar(i, 500))
		} else {
			snap = a.Update(sellBar(i, 50))
		}
	}
	assert.GreaterOrEqual(t, snap.FlowImbalance, -1.0)
	assert.LessOrEqual(t, snap.FlowImbalance, 1.0)
	assert.Positive(t, snap.FlowImbalance, "heavier buy volume should read positive")
}

func TestUpdate_ZeroVolumeLeavesSnapshotUnchanged(t *testing.T) {
	a := NewAnalyzer(testConfig())
	before := a.Update(buyBar(0, 100))

	empty := buyBar(1, 0)
	after := a.Update(empty)
	assert.Equal(t, before, after, "missing data must not move the snapshot")
}

func TestUpdate_LargeBarSpansBuckets(t *testing.T) {
	a := NewAnalyzer(testConfig())
	snap := a.Update(buyBar(0, 550))
	assert.Equal(t, 5, snap.Buckets, "550 volume over 100-unit buckets completes 5")
}

func TestSnapshot_UnknownSymbol(t *testing.T) {
	a := NewAnalyzer(testConfig())
	_, ok := a.Snapshot("NOPE")
	require.False(t, ok)
}
