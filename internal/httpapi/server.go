// Package httpapi serves the ops surface: health, portfolio state,
// breaker state and prometheus metrics.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/quantrun/tradecore/internal/metrics"
	"github.com/quantrun/tradecore/internal/risk"
)

// Server exposes read-only operational endpoints. It never mutates
// decision state.
type Server struct {
	state *risk.PortfolioState
	mets  *metrics.Metrics
	http  *http.Server
}

// NewServer builds the router.
func NewServer(addr string, state *risk.PortfolioState, mets *metrics.Metrics) *Server {
	s := &Server{state: state, mets: mets}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/portfolio", s.handlePortfolio).Methods(http.MethodGet)
	r.HandleFunc("/breaker", s.handleBreaker).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(mets.Registry, promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.http.Addr).Msg("ops server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("ops server failed")
		}
	}()
}

// Stop shuts the listener down.
func (s *Server) Stop() error {
	return s.http.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"open_risk_pct":  s.state.TotalOpenRisk(),
		"position_count": s.state.PositionCount(),
		"daily_pnl_pct":  s.state.DailyPnl(),
	})
}

func (s *Server) handleBreaker(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.state.BreakerSnapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
