// Package risk maps signal quality to a bounded risk allocation while
// enforcing portfolio exposure ceilings and statistical circuit
// breakers.
package risk

import (
	"sync"
	"time"

	"github.com/quantrun/tradecore/internal/domain"
)

// Exposure is one open position's claim on the portfolio risk budget.
type Exposure struct {
	Symbol   string      `json:"symbol"`
	Strategy string      `json:"strategy"`
	Side     domain.Side `json:"side"`
	RiskPct  float64     `json:"risk_pct"`
}

// Outcome is one closed trade fed back into allocator statistics. R is
// the realized return in risk units.
type Outcome struct {
	Symbol   string    `json:"symbol"`
	Strategy string    `json:"strategy"`
	R        float64   `json:"r"`
	PnlPct   float64   `json:"pnl_pct"` // realized return as % of equity
	ClosedAt time.Time `json:"closed_at"`
}

// CorrelationFunc reports pairwise correlation between two symbols in
// [-1,1]. Computing correlations is a data-layer concern; the allocator
// only consumes the lookup.
type CorrelationFunc func(a, b string) float64

// PortfolioState is the portfolio-wide shared mutable state: open
// exposures, closed-trade history, daily loss, and the circuit breaker.
// All mutation goes through its methods under one mutex; decisions for a
// timestep are serialized through a single allocator.
type PortfolioState struct {
	mu          sync.Mutex
	open        map[string]Exposure
	history     []Outcome
	maxHistory  int
	dailyPnlPct float64
	day         time.Time
	correlate   CorrelationFunc
	breaker     breakerState
}

// NewPortfolioState creates an empty portfolio. correlate may be nil, in
// which case correlated-exposure checks treat all pairs as independent.
func NewPortfolioState(correlate CorrelationFunc) *PortfolioState {
	return &PortfolioState{
		open:       make(map[string]Exposure),
		maxHistory: 500,
		correlate:  correlate,
	}
}

// AddExposure registers an approved, filled position.
func (p *PortfolioState) AddExposure(id string, e Exposure) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open[id] = e
}

// ReleaseExposure removes a closed position's claim.
func (p *PortfolioState) ReleaseExposure(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.open, id)
}

// TotalOpenRisk returns the summed risk percentage across open positions.
func (p *PortfolioState) TotalOpenRisk() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalOpenRiskLocked()
}

func (p *PortfolioState) totalOpenRiskLocked() float64 {
	var sum float64
	for _, e := range p.open {
		sum += e.RiskPct
	}
	return sum
}

func (p *PortfolioState) correlatedRiskLocked(symbol string, threshold float64) float64 {
	var sum float64
	for _, e := range p.open {
		if e.Symbol == symbol {
			sum += e.RiskPct
			continue
		}
		if p.correlate == nil {
			continue
		}
		c := p.correlate(symbol, e.Symbol)
		if c < 0 {
			c = -c
		}
		if c >= threshold {
			sum += e.RiskPct
		}
	}
	return sum
}

func (p *PortfolioState) symbolRiskLocked(symbol string) float64 {
	var sum float64
	for _, e := range p.open {
		if e.Symbol == symbol {
			sum += e.RiskPct
		}
	}
	return sum
}

func (p *PortfolioState) strategyRiskLocked(strategy string) float64 {
	var sum float64
	for _, e := range p.open {
		if e.Strategy == strategy {
			sum += e.RiskPct
		}
	}
	return sum
}

// PositionCount returns the number of open positions.
func (p *PortfolioState) PositionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.open)
}

// History returns a copy of the recorded outcomes, oldest first.
func (p *PortfolioState) History() []Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Outcome, len(p.history))
	copy(out, p.history)
	return out
}

// DailyPnl returns the cumulative realized return percentage for the
// current trading day.
func (p *PortfolioState) DailyPnl() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dailyPnlPct
}

func (p *PortfolioState) recordLocked(o Outcome) {
	day := o.ClosedAt.UTC().Truncate(24 * time.Hour)
	if !day.Equal(p.day) {
		p.day = day
		p.dailyPnlPct = 0
	}
	p.dailyPnlPct += o.PnlPct
	p.history = append(p.history, o)
	if len(p.history) > p.maxHistory {
		p.history = p.history[len(p.history)-p.maxHistory:]
	}
}

// consecutiveLossesLocked counts the losing streak at the tail of the
// strategy's history.
func (p *PortfolioState) consecutiveLossesLocked(strategy string) int {
	streak := 0
	for i := len(p.history) - 1; i >= 0; i-- {
		if p.history[i].Strategy != strategy {
			continue
		}
		if p.history[i].R >= 0 {
			break
		}
		streak++
	}
	return streak
}

// winRateLocked returns the strategy's historical win rate and the
// number of samples behind it.
func (p *PortfolioState) winRateLocked(strategy string) (float64, int) {
	wins, n := 0, 0
	for _, o := range p.history {
		if o.Strategy != strategy {
			continue
		}
		n++
		if o.R >= 0 {
			wins++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return float64(wins) / float64(n), n
}
