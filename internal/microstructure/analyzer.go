// Package microstructure derives order-flow quality metrics from bar and
// trade data: a volume-synchronized toxicity estimate in [0,1] and a
// signed, bounded flow-imbalance measure.
package microstructure

import (
	"math"
	"sync"
	"time"

	"github.com/quantrun/tradecore/internal/domain"
)

// Config holds the volume-bucket scheme parameters.
type Config struct {
	BucketVolume   float64 `yaml:"bucket_volume"`    // volume per toxicity bucket
	WindowBuckets  int     `yaml:"window_buckets"`   // completed buckets in the toxicity window
	FlowWindowBars int     `yaml:"flow_window_bars"` // bars in the flow-imbalance window
	ClipSigma      float64 `yaml:"clip_sigma"`       // symmetric clip before normalization
}

// DefaultConfig returns the production bucket scheme.
func DefaultConfig() Config {
	return Config{
		BucketVolume:   1000,
		WindowBuckets:  50,
		FlowWindowBars: 20,
		ClipSigma:      10,
	}
}

// Snapshot is the per-symbol rolling order-flow state. Toxicity is the
// average absolute volume imbalance across the recent bucket window,
// bounded to [0,1]. FlowImbalance is net buy-minus-sell pressure
// normalized to [-1,1]. Snapshots are never rolled back.
type Snapshot struct {
	Symbol        string    `json:"symbol"`
	Toxicity      float64   `json:"toxicity"`
	FlowImbalance float64   `json:"flow_imbalance"`
	Buckets       int       `json:"buckets"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type symbolState struct {
	// current, partially filled bucket
	bucketBuy  float64
	bucketSell float64
	bucketFill float64

	// ring of completed-bucket absolute imbalances
	imbalances []float64
	imbIdx     int
	imbCount   int
	imbSum     float64

	// ring of per-bar signed flow and bar volume
	flow     []float64
	vols     []float64
	flowIdx  int
	flowLen  int
	flowSum  float64
	volSum   float64
	flowSqSum float64

	snap Snapshot
}

// Analyzer maintains per-symbol microstructure state. Update is O(1)
// amortized per sample; missing data leaves the prior snapshot unchanged.
type Analyzer struct {
	mu     sync.Mutex
	cfg    Config
	states map[string]*symbolState
}

// NewAnalyzer creates an analyzer with the given bucket scheme.
func NewAnalyzer(cfg Config) *Analyzer {
	if cfg.BucketVolume <= 0 {
		cfg = DefaultConfig()
	}
	return &Analyzer{cfg: cfg, states: make(map[string]*symbolState)}
}

// Update classifies the bar's volume as buy- or sell-initiated against
// the bar midpoint, feeds the bucket ring and the flow window, and
// returns the refreshed snapshot.
func (a *Analyzer) Update(bar domain.Bar) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.states[bar.Symbol]
	if st == nil {
		st = &symbolState{
			imbalances: make([]float64, a.cfg.WindowBuckets),
			flow:       make([]float64, a.cfg.FlowWindowBars),
			vols:       make([]float64, a.cfg.FlowWindowBars),
			snap:       Snapshot{Symbol: bar.Symbol},
		}
		a.states[bar.Symbol] = st
	}
	if bar.Volume <= 0 {
		return st.snap
	}

	buy, sell := classify(bar)
	a.fillBuckets(st, buy, sell)
	a.pushFlow(st, buy-sell, bar.Volume)

	st.snap.Toxicity = a.toxicity(st)
	st.snap.FlowImbalance = a.flowImbalance(st)
	st.snap.Buckets = st.imbCount
	st.snap.UpdatedAt = bar.Start
	return st.snap
}

// Snapshot returns the current state for a symbol, if any.
func (a *Analyzer) Snapshot(symbol string) (Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[symbol]
	if !ok {
		return Snapshot{}, false
	}
	return st.snap, true
}

// classify splits bar volume into buy- and sell-initiated shares by the
// close position relative to the bar midpoint. A close on the midpoint
// splits evenly.
func classify(bar domain.Bar) (buy, sell float64) {
	mid := bar.Mid()
	switch {
	case bar.Close > mid:
		return bar.Volume, 0
	case bar.Close < mid:
		return 0, bar.Volume
	default:
		return bar.Volume / 2, bar.Volume / 2
	}
}

// fillBuckets pours classified volume into fixed-size buckets, rolling
// completed buckets into the imbalance ring. Volume larger than one
// bucket carries proportionally into the next.
func (a *Analyzer) fillBuckets(st *symbolState, buy, sell float64) {
	total := buy + sell
	for total > 0 {
		space := a.cfg.BucketVolume - st.bucketFill
		take := math.Min(space, total)
		frac := take / total
		st.bucketBuy += buy * frac
		st.bucketSell += sell * frac
		st.bucketFill += take
		buy -= buy * frac
		sell -= sell * frac
		total -= take

		if st.bucketFill >= a.cfg.BucketVolume {
			imb := math.Abs(st.bucketBuy-st.bucketSell) / a.cfg.BucketVolume
			old := st.imbalances[st.imbIdx]
			st.imbalances[st.imbIdx] = imb
			st.imbIdx = (st.imbIdx + 1) % len(st.imbalances)
			if st.imbCount < len(st.imbalances) {
				st.imbCount++
			} else {
				st.imbSum -= old
			}
			st.imbSum += imb
			st.bucketBuy, st.bucketSell, st.bucketFill = 0, 0, 0
		}
	}
}

func (a *Analyzer) toxicity(st *symbolState) float64 {
	if st.imbCount == 0 {
		return 0
	}
	tox := st.imbSum / float64(st.imbCount)
	if tox < 0 {
		return 0
	}
	if tox > 1 {
		return 1
	}
	return tox
}

// pushFlow records one bar's signed net volume in the rolling window,
// clipping extremes to ClipSigma standard deviations of the window
// before they enter the sums.
func (a *Analyzer) pushFlow(st *symbolState, signed, vol float64) {
	if st.flowLen >= 2 {
		mean := st.flowSum / float64(st.flowLen)
		variance := st.flowSqSum/float64(st.flowLen) - mean*mean
		if variance > 0 {
			sd := math.Sqrt(variance)
			lo, hi := mean-a.cfg.ClipSigma*sd, mean+a.cfg.ClipSigma*sd
			if signed < lo {
				signed = lo
			} else if signed > hi {
				signed = hi
			}
		}
	}

	oldFlow := st.flow[st.flowIdx]
	oldVol := st.vols[st.flowIdx]
	st.flow[st.flowIdx] = signed
	st.vols[st.flowIdx] = vol
	st.flowIdx = (st.flowIdx + 1) % len(st.flow)
	if st.flowLen < len(st.flow) {
		st.flowLen++
	} else {
		st.flowSum -= oldFlow
		st.flowSqSum -= oldFlow * oldFlow
		st.volSum -= oldVol
	}
	st.flowSum += signed
	st.flowSqSum += signed * signed
	st.volSum += vol
}

func (a *Analyzer) flowImbalance(st *symbolState) float64 {
	if st.volSum <= 0 {
		return 0
	}
	f := st.flowSum / st.volSum
	if f < -1 {
		return -1
	}
	if f > 1 {
		return 1
	}
	return f
}
