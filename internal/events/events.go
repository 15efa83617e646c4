// Package events defines the flat decision-event records the core emits
// and the sink contract that carries them to logging, files or a
// database. The core never depends on which sink is wired.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind is the decision-point event type.
type Kind string

const (
	Entry         Kind = "ENTRY"
	Exit          Kind = "EXIT"
	Partial       Kind = "PARTIAL"
	BreakevenMove Kind = "BE_MOVED"
	StopAdjusted  Kind = "SL_ADJUSTED"
	Rejection     Kind = "REJECTION"
	BreakerOpen   Kind = "CIRCUIT_BREAKER_OPEN"
	BreakerClose  Kind = "CIRCUIT_BREAKER_CLOSE"
	QualityLow    Kind = "QUALITY_LOW"
)

// Event is one append-only decision record.
type Event struct {
	ID        string             `json:"id" db:"id"`
	Time      time.Time          `json:"time" db:"time"`
	Kind      Kind               `json:"kind" db:"kind"`
	Symbol    string             `json:"symbol" db:"symbol"`
	Strategy  string             `json:"strategy,omitempty" db:"strategy"`
	Quality   float64            `json:"quality,omitempty" db:"quality"`
	Breakdown map[string]float64 `json:"breakdown,omitempty" db:"-"`
	RiskPct   float64            `json:"risk_pct,omitempty" db:"risk_pct"`
	Price     float64            `json:"price,omitempty" db:"price"`
	Stop      float64            `json:"stop,omitempty" db:"stop"`
	Target    float64            `json:"target,omitempty" db:"target"`
	R         float64            `json:"r,omitempty" db:"r"`
	Reason    string             `json:"reason,omitempty" db:"reason"`
}

// New creates an event with a fresh id.
func New(t time.Time, kind Kind, symbol string) Event {
	return Event{ID: uuid.NewString(), Time: t, Kind: kind, Symbol: symbol}
}

// Sink receives emitted events. Implementations must tolerate being
// called once per decision point per timestep.
type Sink interface {
	Emit(ctx context.Context, e Event) error
	Close() error
}

// MultiSink fans an event out to several sinks, returning the first
// error after attempting all of them.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, e Event) error {
	var first error
	for _, s := range m {
		if err := s.Emit(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiSink) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
