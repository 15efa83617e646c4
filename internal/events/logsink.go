package events

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogSink writes every event as one structured log line. Breaker
// transitions log at warn so halts stand out in the stream.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink over the global logger.
func NewLogSink() *LogSink {
	return &LogSink{logger: log.Logger}
}

func (s *LogSink) Emit(_ context.Context, e Event) error {
	ev := s.logger.Info()
	if e.Kind == BreakerOpen || e.Kind == BreakerClose {
		ev = s.logger.Warn()
	}
	ev = ev.
		Str("event", string(e.Kind)).
		Str("symbol", e.Symbol).
		Time("at", e.Time)
	if e.Strategy != "" {
		ev = ev.Str("strategy", e.Strategy)
	}
	if e.Quality > 0 {
		ev = ev.Float64("quality", e.Quality)
	}
	if e.RiskPct > 0 {
		ev = ev.Float64("risk_pct", e.RiskPct)
	}
	if e.Stop > 0 {
		ev = ev.Float64("stop", e.Stop)
	}
	if e.Target > 0 {
		ev = ev.Float64("target", e.Target)
	}
	msg := e.Reason
	if msg == "" {
		msg = string(e.Kind)
	}
	ev.Msg(msg)
	return nil
}

func (s *LogSink) Close() error { return nil }
