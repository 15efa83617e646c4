package risk

import (
	"math"
	"time"
)

// BreakerStatus is the circuit breaker lifecycle state.
type BreakerStatus int

const (
	BreakerClosed BreakerStatus = iota
	BreakerOpen
)

func (s BreakerStatus) String() string {
	if s == BreakerOpen {
		return "open"
	}
	return "closed"
}

// BreakerConfig holds the statistical halt thresholds.
type BreakerConfig struct {
	RecentTrades    int     `yaml:"recent_trades"`     // window for the z-score test
	MinHistory      int     `yaml:"min_history"`       // samples required before testing
	ZScoreThreshold float64 `yaml:"z_score_threshold"` // |z| beyond this with negative mean halts
	StreakProb      float64 `yaml:"streak_probability"` // geometric streak probability floor
	MinStreak       int     `yaml:"min_streak"`        // streak length required before testing
	DailyLossPct    float64 `yaml:"daily_loss_pct"`    // daily loss ceiling (positive number)
	CooldownMinutes int     `yaml:"cooldown_minutes"`
}

// DefaultBreakerConfig returns the production halt thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		RecentTrades:    20,
		MinHistory:      30,
		ZScoreThreshold: 2.5,
		StreakProb:      0.05,
		MinStreak:       4,
		DailyLossPct:    3.0,
		CooldownMinutes: 240,
	}
}

// BreakerSnapshot is the serializable breaker state, persisted by the
// snapshot store so a live restart does not forget an open halt.
type BreakerSnapshot struct {
	Status     BreakerStatus `json:"status"`
	Reason     string        `json:"reason"`
	Statistic  float64       `json:"statistic"`
	OpenedAt   time.Time     `json:"opened_at"`
	ResumeAt   time.Time     `json:"resume_at"`
	ManualOnly bool          `json:"manual_only"`
}

type breakerState struct {
	status     BreakerStatus
	reason     string
	statistic  float64
	openedAt   time.Time
	resumeAt   time.Time
	manualOnly bool
}

// Transition records a breaker state change for event emission.
type Transition struct {
	Opened    bool
	Reason    string
	Statistic float64
	ResumeAt  time.Time
}

// BreakerSnapshot exports the current breaker state.
func (p *PortfolioState) BreakerSnapshot() BreakerSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.breaker
	return BreakerSnapshot{
		Status:     b.status,
		Reason:     b.reason,
		Statistic:  b.statistic,
		OpenedAt:   b.openedAt,
		ResumeAt:   b.resumeAt,
		ManualOnly: b.manualOnly,
	}
}

// RestoreBreaker loads a persisted breaker state, used by the live
// runner on startup.
func (p *PortfolioState) RestoreBreaker(s BreakerSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breaker = breakerState{
		status:     s.Status,
		reason:     s.Reason,
		statistic:  s.Statistic,
		openedAt:   s.OpenedAt,
		resumeAt:   s.ResumeAt,
		manualOnly: s.ManualOnly,
	}
}

// ResetBreaker force-closes the breaker (manual reset).
func (p *PortfolioState) ResetBreaker() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breaker = breakerState{}
}

// breakerBlocksLocked reports whether the breaker currently halts new
// entries, closing it first if the cooldown has elapsed. The returned
// transition is non-nil when the breaker closed on this check.
func (p *PortfolioState) breakerBlocksLocked(now time.Time) (bool, *Transition) {
	b := &p.breaker
	if b.status != BreakerOpen {
		return false, nil
	}
	if !b.manualOnly && !b.resumeAt.IsZero() && !now.Before(b.resumeAt) {
		reason := b.reason
		p.breaker = breakerState{}
		return false, &Transition{Opened: false, Reason: reason}
	}
	return true, nil
}

// openBreakerLocked transitions to OPEN. An open breaker always carries
// a resume time or the manual-only flag.
func (p *PortfolioState) openBreakerLocked(now time.Time, reason string, stat float64, resume time.Time, manualOnly bool) *Transition {
	p.breaker = breakerState{
		status:     BreakerOpen,
		reason:     reason,
		statistic:  stat,
		openedAt:   now,
		resumeAt:   resume,
		manualOnly: manualOnly,
	}
	return &Transition{Opened: true, Reason: reason, Statistic: stat, ResumeAt: resume}
}

// evaluateBreakerLocked runs the statistical halt tests after an outcome
// is recorded. Tests, in order: z-score of the recent mean against the
// long-run distribution, geometric streak probability, daily loss
// ceiling.
func (p *PortfolioState) evaluateBreakerLocked(cfg BreakerConfig, o Outcome) *Transition {
	if p.breaker.status == BreakerOpen {
		return nil
	}
	now := o.ClosedAt

	// Daily loss ceiling: halts until the next trading day.
	if cfg.DailyLossPct > 0 && p.dailyPnlPct <= -cfg.DailyLossPct {
		resume := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
		return p.openBreakerLocked(now, "daily_loss_limit", p.dailyPnlPct, resume, false)
	}

	cooldown := time.Duration(cfg.CooldownMinutes) * time.Minute

	// Z-score of the recent run against the long-run mean/variance. The
	// recent mean must itself be negative: a cooling-off streak inside a
	// strongly profitable run is not a loss anomaly.
	if z, recentMean, ok := p.recentZScoreLocked(cfg.RecentTrades, cfg.MinHistory); ok {
		if math.Abs(z) > cfg.ZScoreThreshold && z < 0 && recentMean < 0 {
			return p.openBreakerLocked(now, "anomalous_loss_run", z, now.Add(cooldown), false)
		}
	}

	// Geometric probability of the current losing streak given the
	// strategy's historical win rate.
	streak := p.consecutiveLossesLocked(o.Strategy)
	if streak >= cfg.MinStreak {
		winRate, n := p.winRateLocked(o.Strategy)
		if n >= cfg.MinHistory && winRate > 0 && winRate < 1 {
			prob := math.Pow(1-winRate, float64(streak))
			if prob < cfg.StreakProb {
				return p.openBreakerLocked(now, "improbable_loss_streak", prob, now.Add(cooldown), false)
			}
		}
	}

	return nil
}

// recentZScoreLocked computes the z-score of the mean R of the most
// recent n trades against the long-run mean and variance of all recorded
// trades, returning the recent mean alongside.
func (p *PortfolioState) recentZScoreLocked(n, minHistory int) (float64, float64, bool) {
	if len(p.history) < minHistory || n < 2 || len(p.history) < n {
		return 0, 0, false
	}
	var longSum, longSq float64
	for _, o := range p.history {
		longSum += o.R
		longSq += o.R * o.R
	}
	total := float64(len(p.history))
	longMean := longSum / total
	longVar := longSq/total - longMean*longMean
	if longVar <= 0 {
		return 0, 0, false
	}

	var recentSum float64
	for _, o := range p.history[len(p.history)-n:] {
		recentSum += o.R
	}
	recentMean := recentSum / float64(n)

	se := math.Sqrt(longVar / float64(n))
	return (recentMean - longMean) / se, recentMean, true
}
