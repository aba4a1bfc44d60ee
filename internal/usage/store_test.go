// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/switchAIRouter/internal/hooks"
)

func newMockStore(t *testing.T, driver string) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db, driver), mock
}

func TestBind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.bind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "SELECT a FROM t WHERE x = ?", lite.bind("SELECT a FROM t WHERE x = ?"))
}

func TestRecord_Postgres(t *testing.T) {
	s, mock := newMockStore(t, DriverPostgres)
	ts := time.UnixMilli(1_700_000_000_000)

	mock.ExpectExec(s.bind(insertQuery)).
		WithArgs(ts.UnixMilli(), "req-1", "m/a", "SIMPLE", "auto", 0.012, 0.06, 0.8, int64(250), 200, 1, 0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Record(context.Background(), Entry{
		Timestamp:   ts,
		RequestID:   "req-1",
		Model:       "m/a",
		Tier:        "SIMPLE",
		Profile:     "auto",
		CostUSD:     0.012,
		BaselineUSD: 0.06,
		Savings:     0.8,
		LatencyMs:   250,
		Status:      200,
		Fallback:    true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSummary_Postgres(t *testing.T) {
	s, mock := newMockStore(t, DriverPostgres)
	since := time.UnixMilli(1_000)

	mock.ExpectQuery(s.bind(totalsQuery)).WithArgs(int64(1_000)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "cost", "baseline", "latency"}).AddRow(3, 0.25, 1.0, 120.5))
	mock.ExpectQuery(s.bind(byModelQuery)).WithArgs(int64(1_000)).
		WillReturnRows(sqlmock.NewRows([]string{"model", "count", "cost"}).
			AddRow("m/a", 2, 0.05).
			AddRow("m/b", 1, 0.2))
	mock.ExpectQuery(s.bind(byTierQuery)).WithArgs(int64(1_000)).
		WillReturnRows(sqlmock.NewRows([]string{"tier", "count", "cost"}).AddRow("SIMPLE", 3, 0.25))

	sum, err := s.Summary(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.Requests)
	assert.InDelta(t, 0.75, sum.Savings, 1e-9)
	assert.InDelta(t, 120.5, sum.AvgLatencyMs, 1e-9)
	assert.Equal(t, []GroupSummary{
		{Key: "m/a", Requests: 2, CostUSD: 0.05},
		{Key: "m/b", Requests: 1, CostUSD: 0.2},
	}, sum.ByModel)
	assert.Equal(t, []GroupSummary{{Key: "SIMPLE", Requests: 3, CostUSD: 0.25}}, sum.ByTier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPrune(t *testing.T) {
	s, mock := newMockStore(t, DriverSQLite)
	mock.ExpectExec(pruneQuery).WithArgs(int64(5_000)).WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.Prune(context.Background(), time.UnixMilli(5_000))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNilStore(t *testing.T) {
	var s *Store
	assert.ErrorIs(t, s.Record(context.Background(), Entry{}), ErrStoreDisabled)
	_, err := s.Summary(context.Background(), time.Time{})
	assert.ErrorIs(t, err, ErrStoreDisabled)
	assert.NoError(t, s.Close())
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn")
	assert.Error(t, err)
}

func TestSQLite_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "data", "usage.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	now := time.Now()
	require.NoError(t, s.Record(ctx, Entry{Timestamp: now, Model: "m/a", Tier: "SIMPLE", CostUSD: 0.1, BaselineUSD: 0.4, LatencyMs: 100, Status: 200}))
	require.NoError(t, s.Record(ctx, Entry{Timestamp: now, Model: "m/b", Tier: "SIMPLE", CostUSD: 0.1, BaselineUSD: 0.4, LatencyMs: 300, Status: 200}))
	require.NoError(t, s.Record(ctx, Entry{Timestamp: now.Add(-48 * time.Hour), Model: "m/a", CostUSD: 5, BaselineUSD: 5, Status: 200}))

	sum, err := s.Summary(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.Requests)
	assert.InDelta(t, 0.2, sum.CostUSD, 1e-9)
	assert.InDelta(t, 0.75, sum.Savings, 1e-9)
	require.Len(t, sum.ByModel, 2)
	assert.Equal(t, "m/a", sum.ByModel[0].Key)
	assert.InDelta(t, 200, sum.AvgLatencyMs, 1e-9)
	require.Len(t, sum.ByTier, 1)
	assert.Equal(t, int64(2), sum.ByTier[0].Requests)

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSubscribe_RecordsUsageEvents(t *testing.T) {
	s, mock := newMockStore(t, DriverSQLite)
	mock.ExpectExec(insertQuery).WillReturnResult(sqlmock.NewResult(1, 1))

	bus := hooks.NewEventBus()
	defer bus.Shutdown()
	s.Subscribe(bus)

	bus.Publish(&hooks.EventContext{Event: hooks.EventUsage, Payload: Entry{Model: "m/a", Status: 200}})
	bus.Publish(&hooks.EventContext{Event: hooks.EventUsage, Payload: "not an entry"})
	assert.NoError(t, mock.ExpectationsWereMet())
}
