// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package usage persists one row per served request for cost reporting.
// SQLite and PostgreSQL (through the pgx stdlib driver) are supported.
package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIRouter/internal/hooks"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// recordTimeout bounds a single insert issued from the event bus.
const recordTimeout = 5 * time.Second

// ErrStoreDisabled is returned by a nil or closed store.
var ErrStoreDisabled = errors.New("usage: store disabled")

// Entry is one served request.
type Entry struct {
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id"`
	Model       string    `json:"model"`
	Tier        string    `json:"tier"`
	Profile     string    `json:"profile"`
	CostUSD     float64   `json:"cost"`
	BaselineUSD float64   `json:"baseline_cost"`
	Savings     float64   `json:"savings"`
	LatencyMs   int64     `json:"latency_ms"`
	Status      int       `json:"status"`
	Fallback    bool      `json:"fallback"`
	Cached      bool      `json:"cached"`
}

// GroupSummary aggregates the rows sharing one model or tier.
type GroupSummary struct {
	Key      string  `json:"key"`
	Requests int64   `json:"requests"`
	CostUSD  float64 `json:"cost"`
}

// Summary aggregates every row since a point in time.
type Summary struct {
	Requests     int64          `json:"requests"`
	CostUSD      float64        `json:"cost"`
	BaselineUSD  float64        `json:"baseline_cost"`
	Savings      float64        `json:"savings"`
	AvgLatencyMs float64        `json:"avg_latency_ms"`
	ByModel      []GroupSummary `json:"by_model"`
	ByTier       []GroupSummary `json:"by_tier"`
}

// Store writes usage rows.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to dsn with driver, creating the SQLite directory when
// needed, and migrates the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("usage: create database directory: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("usage: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("usage: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	s := NewWithDB(db, driver)
	if err = s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Infof("usage store ready (%s)", driver)
	return s, nil
}

// NewWithDB wraps an open handle. The schema is not touched.
func NewWithDB(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) schema() string {
	if s.driver == DriverPostgres {
		return `CREATE TABLE IF NOT EXISTS usage_log (
	id BIGSERIAL PRIMARY KEY,
	ts_ms BIGINT NOT NULL,
	request_id TEXT NOT NULL,
	model TEXT NOT NULL,
	tier TEXT NOT NULL,
	profile TEXT NOT NULL,
	cost_usd DOUBLE PRECISION NOT NULL,
	baseline_usd DOUBLE PRECISION NOT NULL,
	savings DOUBLE PRECISION NOT NULL,
	latency_ms BIGINT NOT NULL,
	status INTEGER NOT NULL,
	fallback SMALLINT NOT NULL DEFAULT 0,
	cached SMALLINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_usage_log_ts ON usage_log(ts_ms);`
	}
	return `CREATE TABLE IF NOT EXISTS usage_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts_ms INTEGER NOT NULL,
	request_id TEXT NOT NULL,
	model TEXT NOT NULL,
	tier TEXT NOT NULL,
	profile TEXT NOT NULL,
	cost_usd REAL NOT NULL,
	baseline_usd REAL NOT NULL,
	savings REAL NOT NULL,
	latency_ms INTEGER NOT NULL,
	status INTEGER NOT NULL,
	fallback INTEGER NOT NULL DEFAULT 0,
	cached INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_usage_log_ts ON usage_log(ts_ms);`
}

// Migrate creates the table and index when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrStoreDisabled
	}
	if _, err := s.db.ExecContext(ctx, s.schema()); err != nil {
		return fmt.Errorf("usage: create schema: %w", err)
	}
	return nil
}

// bind rewrites ? placeholders for drivers that number them.
func (s *Store) bind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const insertQuery = `INSERT INTO usage_log (ts_ms, request_id, model, tier, profile, cost_usd, baseline_usd, savings, latency_ms, status, fallback, cached) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Record inserts e. A zero timestamp is replaced by the current time.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return ErrStoreDisabled
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.bind(insertQuery),
		e.Timestamp.UnixMilli(), e.RequestID, e.Model, e.Tier, e.Profile,
		e.CostUSD, e.BaselineUSD, e.Savings, e.LatencyMs, e.Status,
		boolToInt(e.Fallback), boolToInt(e.Cached),
	)
	if err != nil {
		return fmt.Errorf("usage: insert: %w", err)
	}
	return nil
}

const (
	totalsQuery  = `SELECT COUNT(*), COALESCE(SUM(cost_usd), 0), COALESCE(SUM(baseline_usd), 0), COALESCE(AVG(latency_ms), 0) FROM usage_log WHERE ts_ms >= ?`
	byModelQuery = `SELECT model, COUNT(*), COALESCE(SUM(cost_usd), 0) FROM usage_log WHERE ts_ms >= ? GROUP BY model ORDER BY model`
	byTierQuery  = `SELECT tier, COUNT(*), COALESCE(SUM(cost_usd), 0) FROM usage_log WHERE ts_ms >= ? GROUP BY tier ORDER BY tier`
	pruneQuery   = `DELETE FROM usage_log WHERE ts_ms < ?`
)

// Summary aggregates rows recorded at or after since.
func (s *Store) Summary(ctx context.Context, since time.Time) (Summary, error) {
	var out Summary
	if s == nil || s.db == nil {
		return out, ErrStoreDisabled
	}
	ms := since.UnixMilli()
	row := s.db.QueryRowContext(ctx, s.bind(totalsQuery), ms)
	if err := row.Scan(&out.Requests, &out.CostUSD, &out.BaselineUSD, &out.AvgLatencyMs); err != nil {
		return out, fmt.Errorf("usage: totals: %w", err)
	}
	if out.BaselineUSD > 0 {
		out.Savings = 1 - out.CostUSD/out.BaselineUSD
	}
	var err error
	if out.ByModel, err = s.groups(ctx, byModelQuery, ms); err != nil {
		return out, err
	}
	if out.ByTier, err = s.groups(ctx, byTierQuery, ms); err != nil {
		return out, err
	}
	return out, nil
}

func (s *Store) groups(ctx context.Context, query string, ms int64) ([]GroupSummary, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(query), ms)
	if err != nil {
		return nil, fmt.Errorf("usage: group: %w", err)
	}
	defer func() {
		if errClose := rows.Close(); errClose != nil {
			log.Errorf("usage: close rows error: %v", errClose)
		}
	}()
	var out []GroupSummary
	for rows.Next() {
		var g GroupSummary
		if err = rows.Scan(&g.Key, &g.Requests, &g.CostUSD); err != nil {
			return nil, fmt.Errorf("usage: scan: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Prune deletes rows older than before and returns how many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreDisabled
	}
	res, err := s.db.ExecContext(ctx, s.bind(pruneQuery), before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("usage: prune: %w", err)
	}
	return res.RowsAffected()
}

// Subscribe records every usage event published on bus. Failures are
// logged and never reach the request path.
func (s *Store) Subscribe(bus *hooks.EventBus) *hooks.Subscription {
	return bus.Subscribe(hooks.EventUsage, func(ev *hooks.EventContext) {
		e, ok := ev.Payload.(Entry)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := s.Record(ctx, e); err != nil {
			log.Warnf("usage: %v", err)
		}
	})
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
