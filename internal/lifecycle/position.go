// Package lifecycle owns every open position: structural stop/target
// assignment at entry and the breakeven, trailing and partial-exit state
// machine driven by unrealized profit in risk units.
package lifecycle

import (
	"math"
	"time"

	"github.com/quantrun/tradecore/internal/domain"
)

// Stage is the position lifecycle state.
type Stage int

const (
	StageOpen Stage = iota
	StageBreakevenSet
	StageTrailing
	StagePartiallyClosed
	StageClosed
)

func (s Stage) String() string {
	switch s {
	case StageOpen:
		return "open"
	case StageBreakevenSet:
		return "breakeven_set"
	case StageTrailing:
		return "trailing"
	case StagePartiallyClosed:
		return "partially_closed"
	case StageClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PartialExit records one partial close.
type PartialExit struct {
	Time     time.Time `json:"time"`
	Price    float64   `json:"price"`
	Fraction float64   `json:"fraction"` // of the size remaining at the time
	R        float64   `json:"r"`        // R-multiple that triggered it
}

// Position is a filled trade under lifecycle management. Only the
// manager mutates stop, target, size and stage; other components read.
type Position struct {
	ID       string      `json:"id"`
	Symbol   string      `json:"symbol"`
	Side     domain.Side `json:"side"`
	Strategy string      `json:"strategy"`

	Entry       float64 `json:"entry"`
	Stop        float64 `json:"stop"`
	Target      float64 `json:"target"`
	Size        float64 `json:"size"`
	InitialSize float64 `json:"initial_size"`
	InitialRisk float64 `json:"initial_risk"` // entry-to-stop distance at fill
	RiskPct     float64 `json:"risk_pct"`

	Stage    Stage         `json:"stage"`
	Partials []PartialExit `json:"partials,omitempty"`

	// Excursions in R units, tracked continuously for audit.
	MaxFavorable float64 `json:"max_favorable"`
	MaxAdverse   float64 `json:"max_adverse"`

	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at,omitempty"`
	ExitPrice  float64   `json:"exit_price,omitempty"`
	ExitReason string    `json:"exit_reason,omitempty"`
	RealizedR  float64   `json:"realized_r,omitempty"`
}

// RMultiple expresses the distance from entry to price in units of the
// initial risk, positive in the favorable direction.
func (p *Position) RMultiple(price float64) float64 {
	if p.InitialRisk <= 0 {
		return 0
	}
	return (price - p.Entry) * p.Side.Sign() / p.InitialRisk
}

// RiskEliminated reports whether the stop sits at or beyond entry in the
// favorable direction.
func (p *Position) RiskEliminated() bool {
	if p.Side == domain.SideLong {
		return p.Stop >= p.Entry
	}
	return p.Stop <= p.Entry
}

// partialTakenAt reports whether a partial was already taken for the
// given R threshold.
func (p *Position) partialTakenAt(r float64) bool {
	for _, pe := range p.Partials {
		if math.Abs(pe.R-r) < 1e-9 {
			return true
		}
	}
	return false
}
