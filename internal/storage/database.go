package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"findash/internal/config"
	"findash/internal/logger"
	"findash/internal/models"
)

// ErrQueryFailed wraps every database failure surfaced by the gateway.
var ErrQueryFailed = errors.New("query failed")

const (
	poolIdleConns   = 10
	poolMaxOverflow = 20
	poolRecycle     = time.Hour
)

// Gateway owns the pooled connection (and the SSH tunnel behind it, if any) and runs
// statements, returning rows as ordered column/value pairs.
type Gateway struct {
	db      *sql.DB
	tunnel  *Tunnel
	driver  string
	timeout time.Duration
	log     *logger.Logger
}

// Open connects to the configured database. When SSH settings are present the MySQL
// connection is routed through a tunnel established here.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Gateway, error) {
	dbCfg := cfg.Database
	gwLog := log.With("service", "Gateway")
	driver := strings.ToLower(dbCfg.Driver)

	var tunnel *Tunnel
	addr := net.JoinHostPort(dbCfg.Host, strconv.Itoa(dbCfg.Port))
	if driver == "mysql" && cfg.SSH.Enabled() {
		t, err := OpenTunnel(ctx, cfg.SSH, addr, log)
		if err != nil {
			return nil, fmt.Errorf("open ssh tunnel: %w", err)
		}
		tunnel = t
		addr = t.LocalAddr()
	}

	db, err := openDB(driver, dbCfg, addr)
	if err != nil {
		if tunnel != nil {
			tunnel.Close()
		}
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		if tunnel != nil {
			tunnel.Close()
		}
		return nil, fmt.Errorf("ping database: %w", err)
	}
	gwLog.Info("Database connection established", "driver", driver, "schema", dbCfg.Schema, "tunnel", tunnel != nil)

	return &Gateway{
		db:      db,
		tunnel:  tunnel,
		driver:  driver,
		timeout: dbCfg.QueryTimeout.Std(),
		log:     gwLog,
	}, nil
}

func openDB(driver string, dbCfg config.DatabaseConfig, addr string) (*sql.DB, error) {
	switch driver {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err := sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
		return db, nil
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			mc := mysql.NewConfig()
			mc.User = dbCfg.Username
			mc.Passwd = dbCfg.Password
			mc.Net = "tcp"
			mc.Addr = addr
			mc.DBName = dbCfg.Schema
			dsn = mc.FormatDSN()
		}
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
		db.SetMaxIdleConns(poolIdleConns)
		db.SetMaxOpenConns(poolIdleConns + poolMaxOverflow)
		db.SetConnMaxLifetime(poolRecycle)
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
}

// NewGateway wraps a handle whose pool settings are managed by the caller.
func NewGateway(db *sql.DB, timeout time.Duration, log *logger.Logger) *Gateway {
	return &Gateway{db: db, timeout: timeout, log: log.With("service", "Gateway")}
}

// DB exposes the underlying handle.
func (g *Gateway) DB() *sql.DB {
	return g.db
}

// Ping checks the database is reachable.
func (g *Gateway) Ping(ctx context.Context) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	if err := g.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return nil
}

// Query executes a statement or stored procedure call and returns all rows.
func (g *Gateway) Query(ctx context.Context, query string, args ...interface{}) ([]models.Row, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, g.fail(query, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, g.fail(query, err)
	}
	g.log.Debug("Query finished", "query", query, "rows", len(out), "elapsed", time.Since(start))
	return out, nil
}

// QueryReadOnly runs the statement inside a read-only transaction that is always
// rolled back, so it cannot change data even if the statement tries to.
func (g *Gateway) QueryReadOnly(ctx context.Context, query string, args ...interface{}) ([]models.Row, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	tx, err := g.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, g.fail(query, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, g.fail(query, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, g.fail(query, err)
	}
	return out, nil
}

// Close releases the pool and then the tunnel.
func (g *Gateway) Close() error {
	if g == nil {
		return nil
	}
	var errs []error
	if g.db != nil {
		if err := g.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		g.log.Info("Database connection closed")
	}
	if g.tunnel != nil {
		if err := g.tunnel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close tunnel: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Gateway) fail(query string, err error) error {
	g.log.Error("Query failed", "query", query, "error", err)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out waiting for database (pool exhausted or slow query): %w", ErrQueryFailed, err)
	}
	return fmt.Errorf("%w: %w", ErrQueryFailed, err)
}
