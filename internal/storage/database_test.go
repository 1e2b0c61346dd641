package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"findash/internal/config"
	"findash/internal/logger"
)

func openTestGateway(t *testing.T) *Gateway {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Driver = "sqlite3"
	cfg.Database.DSN = ":memory:"
	gw, err := Open(context.Background(), cfg, logger.Nop())
	if err != nil {
		t.Fatalf("open gateway: %v", err)
	}
	t.Cleanup(func() { gw.Close() })
	return gw
}

func mustExec(t *testing.T, gw *Gateway, stmt string, args ...interface{}) {
	t.Helper()
	if _, err := gw.DB().Exec(stmt, args...); err != nil {
		t.Fatalf("exec %q: %v", stmt, err)
	}
}

func TestGatewayQueryPreservesColumnOrder(t *testing.T) {
	gw := openTestGateway(t)
	mustExec(t, gw, `CREATE TABLE quotes (Symbol TEXT, Last REAL, Volume INTEGER, Note TEXT)`)
	mustExec(t, gw, `INSERT INTO quotes VALUES (?, ?, ?, ?)`, "SPY", 512.25, 1000, nil)
	mustExec(t, gw, `INSERT INTO quotes VALUES (?, ?, ?, ?)`, "QQQ", 440.5, 2000, "watch")

	rows, err := gw.Query(context.Background(), `SELECT Symbol, Last, Volume, Note FROM quotes ORDER BY Symbol`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	data, err := json.Marshal(rows[1])
	if err != nil {
		t.Fatalf("marshal row: %v", err)
	}
	want := `{"Symbol":"SPY","Last":512.25,"Volume":1000,"Note":null}`
	if string(data) != want {
		t.Fatalf("unexpected row json\nwant %s\ngot  %s", want, data)
	}
}

func TestGatewayQueryEmptyResultIsEmptySlice(t *testing.T) {
	gw := openTestGateway(t)
	mustExec(t, gw, `CREATE TABLE empty_tbl (id INTEGER)`)
	rows, err := gw.Query(context.Background(), `SELECT id FROM empty_tbl`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", rows)
	}
}

func TestGatewayQueryErrorsWrapQueryFailed(t *testing.T) {
	gw := openTestGateway(t)
	_, err := gw.Query(context.Background(), `SELECT * FROM no_such_table`)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrQueryFailed) {
		t.Fatalf("expected ErrQueryFailed, got %v", err)
	}
}

func TestGatewayQueryReadOnly(t *testing.T) {
	gw := openTestGateway(t)
	mustExec(t, gw, `CREATE TABLE t (v INTEGER)`)
	mustExec(t, gw, `INSERT INTO t VALUES (1), (2), (3)`)

	rows, err := gw.QueryReadOnly(context.Background(), `SELECT COUNT(*) AS n FROM t`)
	if err != nil {
		t.Fatalf("query read-only: %v", err)
	}
	if got, _ := rows[0].Get("n"); got != int64(3) {
		t.Fatalf("expected count 3, got %#v", got)
	}
}

func TestGatewayPoolExhaustionTimesOut(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	gw := NewGateway(db, 50*time.Millisecond, logger.Nop())
	t.Cleanup(func() { gw.Close() })

	if err := gw.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}

	// hold the only pooled connection
	conn, err := db.Conn(context.Background())
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	defer conn.Close()

	start := time.Now()
	_, err = gw.Query(context.Background(), `SELECT 1`)
	if !errors.Is(err, ErrQueryFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected pool timeout, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out waiting for database") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("query blocked for %s", elapsed)
	}
}

func TestNormalizeValue(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	stamp := time.Date(2024, 3, 15, 9, 30, 5, 0, time.UTC)
	cases := []struct {
		name     string
		in       interface{}
		typeName string
		want     interface{}
	}{
		{"decimal bytes", []byte("12.50"), "DECIMAL", 12.5},
		{"int bytes", []byte("42"), "BIGINT", int64(42)},
		{"unsigned bytes", []byte("18446744073709551615"), "UNSIGNED BIGINT", uint64(18446744073709551615)},
		{"date bytes", []byte("2024-03-15"), "DATE", "2024-03-15"},
		{"text bytes", []byte("AAPL"), "VARCHAR", "AAPL"},
		{"bad decimal stays text", []byte("n/a"), "DOUBLE", "n/a"},
		{"nan", math.NaN(), "DOUBLE", nil},
		{"inf", math.Inf(1), "DOUBLE", nil},
		{"date value", day, "DATE", "2024-03-15"},
		{"datetime value", stamp, "DATETIME", "2024-03-15T09:30:05"},
		{"nil", nil, "", nil},
	}
	for _, tc := range cases {
		got := normalizeValue(tc.in, tc.typeName)
		if got != tc.want {
			t.Fatalf("%s: want %#v got %#v", tc.name, tc.want, got)
		}
	}
}
