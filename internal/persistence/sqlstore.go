// Package persistence provides the database-backed event sink and the
// redis snapshot store used by the live runner.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/quantrun/tradecore/internal/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id        TEXT PRIMARY KEY,
	time      TIMESTAMP NOT NULL,
	kind      TEXT NOT NULL,
	symbol    TEXT NOT NULL,
	strategy  TEXT,
	quality   REAL,
	breakdown TEXT,
	risk_pct  REAL,
	price     REAL,
	stop      REAL,
	target    REAL,
	r         REAL,
	reason    TEXT
)`

// SQLStore is an append-only event sink over Postgres or SQLite, chosen
// by the DSN scheme.
type SQLStore struct {
	db     *sqlx.DB
	insert string
}

// NewSQLStore connects and bootstraps the events table. DSNs starting
// with postgres:// use lib/pq; anything else is treated as a sqlite
// path.
func NewSQLStore(dsn string) (*SQLStore, error) {
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "postgres"
	}
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect event store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap event schema: %w", err)
	}
	insert := db.Rebind(`INSERT INTO events
		(id, time, kind, symbol, strategy, quality, breakdown, risk_pct, price, stop, target, r, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	return &SQLStore{db: db, insert: insert}, nil
}

// Emit appends one event. The breakdown map is stored as JSON text.
func (s *SQLStore) Emit(ctx context.Context, e events.Event) error {
	var breakdown []byte
	if len(e.Breakdown) > 0 {
		b, err := json.Marshal(e.Breakdown)
		if err != nil {
			return fmt.Errorf("marshal breakdown: %w", err)
		}
		breakdown = b
	}
	_, err := s.db.ExecContext(ctx, s.insert,
		e.ID, e.Time.UTC(), string(e.Kind), e.Symbol, e.Strategy,
		e.Quality, string(breakdown), e.RiskPct, e.Price, e.Stop, e.Target, e.R, e.Reason)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
