package domain

import (
	"fmt"
	"math"
	"time"
)

// Proposal carries the optional levels a strategy suggests alongside its
// signal. The core reads these fields; anything strategy-private travels
// in Signal.Meta and is never inspected.
type Proposal struct {
	Stop       float64 `json:"stop,omitempty"`
	Target     float64 `json:"target,omitempty"`
	RiskReward float64 `json:"risk_reward,omitempty"`
}

// Signal is a candidate trade produced by an external strategy. Signals
// are read-only inputs: the core may annotate Meta for audit but never
// mutates strategy internals.
type Signal struct {
	Symbol     string         `json:"symbol"`
	Side       Side           `json:"side"`
	Entry      float64        `json:"entry"`
	Confidence float64        `json:"confidence"`
	Strategy   string         `json:"strategy"`
	Time       time.Time      `json:"time"`
	Proposal   Proposal       `json:"proposal"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Validate checks the signal contract. A violation is rejected with a
// REJECTION event by the caller, never silently dropped.
func (s *Signal) Validate() error {
	if s == nil {
		return fmt.Errorf("nil signal")
	}
	if s.Symbol == "" {
		return fmt.Errorf("signal missing symbol")
	}
	if s.Strategy == "" {
		return fmt.Errorf("signal missing strategy id")
	}
	if s.Entry <= 0 || math.IsNaN(s.Entry) || math.IsInf(s.Entry, 0) {
		return fmt.Errorf("signal entry price %v invalid", s.Entry)
	}
	if s.Confidence < 0 || s.Confidence > 1 || math.IsNaN(s.Confidence) {
		return fmt.Errorf("signal confidence %v outside [0,1]", s.Confidence)
	}
	if s.Time.IsZero() {
		return fmt.Errorf("signal missing timestamp")
	}
	return nil
}

// RiskReward resolves the proposed risk/reward ratio, preferring the
// explicit field and falling back to stop/target geometry. Returns 0 when
// the proposal does not carry enough to compute one.
func (s *Signal) RiskReward() float64 {
	if s.Proposal.RiskReward > 0 {
		return s.Proposal.RiskReward
	}
	if s.Proposal.Stop <= 0 || s.Proposal.Target <= 0 {
		return 0
	}
	risk := math.Abs(s.Entry - s.Proposal.Stop)
	reward := math.Abs(s.Proposal.Target - s.Entry)
	if risk <= 0 {
		return 0
	}
	return reward / risk
}
