package trading

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"findash/internal/config"
	"findash/internal/logger"
	"findash/internal/models"
	"findash/internal/redis"
)

var (
	ErrInvalidTable        = errors.New("invalid table name")
	ErrEmptyQuery          = errors.New("query is required")
	ErrCustomQueryDisabled = errors.New("custom query endpoint is disabled")
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Querier runs SQL against the market database and returns ordered rows.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) ([]models.Row, error)
	QueryReadOnly(ctx context.Context, query string, args ...interface{}) ([]models.Row, error)
}

// SnapshotCache stores option envelopes between requests. GetJSON reports a
// missing key with redis.ErrCacheMiss.
type SnapshotCache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

const snapshotKeyPrefix = "trading:snapshot:"

func snapshotKey(kind string) string {
	return snapshotKeyPrefix + kind
}

// Service exposes the trading read endpoints on top of the database gateway.
type Service struct {
	db     Querier
	cfg    config.TradingConfig
	schema string
	cache  SnapshotCache
	log    *logger.Logger
}

// NewService wires the trading service. cache may be nil.
func NewService(db Querier, cfg *config.Config, cache SnapshotCache, log *logger.Logger) *Service {
	return &Service{
		db:     db,
		cfg:    cfg.Trading,
		schema: cfg.Database.Schema,
		cache:  cache,
		log:    log.With("service", "TradingService"),
	}
}

// ETFOptions calls the ETF procedure and returns the computed snapshot.
func (s *Service) ETFOptions(ctx context.Context) (*models.OptionList, error) {
	return s.snapshot(ctx, models.OptionTypeETF, s.cfg.ETFProcedure, etfRules, ETFColumns)
}

// StockOptions calls the stock procedure and returns the computed snapshot.
func (s *Service) StockOptions(ctx context.Context) (*models.OptionList, error) {
	return s.snapshot(ctx, models.OptionTypeStock, s.cfg.StockProcedure, stockRules, StockColumns)
}

func (s *Service) snapshot(ctx context.Context, kind, procedure string, rules metricRules, columns []string) (*models.OptionList, error) {
	key := snapshotKey(kind)
	if cached, ok := s.cachedSnapshot(ctx, key); ok {
		return cached, nil
	}

	s.log.Info("Fetching options data", "type", kind, "procedure", procedure)
	rows, err := s.db.Query(ctx, "CALL "+procedure)
	if err != nil {
		return nil, fmt.Errorf("fetch %s options: %w", kind, err)
	}

	data := make([]models.Row, 0, len(rows))
	for i := range rows {
		row := rows[i]
		applyMetrics(&row, rules)
		data = append(data, row.Project(columns))
	}
	out := &models.OptionList{Data: data, Count: len(data), Type: kind}
	s.log.Info("Calculated option metrics", "type", kind, "count", out.Count)

	s.storeSnapshot(ctx, key, out)
	return out, nil
}

func (s *Service) cachedSnapshot(ctx context.Context, key string) (*models.OptionList, bool) {
	if s.cache == nil || s.cfg.SnapshotTTL.Std() <= 0 {
		return nil, false
	}
	var out models.OptionList
	if err := s.cache.GetJSON(ctx, key, &out); err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			s.log.Warn("Snapshot cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	s.log.Debug("Serving cached snapshot", "key", key)
	return &out, true
}

func (s *Service) storeSnapshot(ctx context.Context, key string, out *models.OptionList) {
	ttl := s.cfg.SnapshotTTL.Std()
	if s.cache == nil || ttl <= 0 {
		return
	}
	if err := s.cache.SetJSON(ctx, key, out, ttl); err != nil {
		s.log.Warn("Snapshot cache write failed", "key", key, "error", err)
	}
}

// ResetSnapshots drops cached option snapshots so the next request queries the
// database. Snapshots left by an earlier process may come from other procedures.
func (s *Service) ResetSnapshots(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	keys := []string{snapshotKey(models.OptionTypeETF), snapshotKey(models.OptionTypeStock)}
	if err := s.cache.Del(ctx, keys...); err != nil {
		return fmt.Errorf("reset snapshots: %w", err)
	}
	s.log.Info("Cleared cached snapshots", "keys", len(keys))
	return nil
}

// MaxDate returns MAX(Date) of a market data table, optionally filtered by symbol.
// An empty table yields a nil MaxDate.
func (s *Service) MaxDate(ctx context.Context, table string, symbol *string) (*models.MaxDate, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	query := fmt.Sprintf("SELECT MAX(Date) AS max_date FROM %s.%s", s.schema, table)
	var args []interface{}
	if symbol != nil {
		query += " WHERE symbol = ?"
		args = append(args, *symbol)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("max date for %s: %w", table, err)
	}
	out := &models.MaxDate{Table: table, Symbol: symbol}
	if len(rows) > 0 {
		if v, _ := rows[0].Get("max_date"); v != nil {
			date := fmt.Sprint(v)
			out.MaxDate = &date
		}
	}
	s.log.Info("Max date resolved", "table", table, "max_date", out.MaxDate)
	return out, nil
}

// CustomQuery executes caller supplied SQL. It is disabled unless configured and
// runs inside a read-only transaction unless that protection is turned off.
func (s *Service) CustomQuery(ctx context.Context, query string) (*models.QueryResult, error) {
	if !s.cfg.CustomQueryEnabled {
		return nil, ErrCustomQueryDisabled
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	s.log.Warn("Executing custom query", "query", query, "read_only", s.cfg.CustomQueryReadOnly)
	var (
		rows []models.Row
		err  error
	)
	if s.cfg.CustomQueryReadOnly {
		rows, err = s.db.QueryReadOnly(ctx, query)
	} else {
		rows, err = s.db.Query(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("custom query: %w", err)
	}
	return &models.QueryResult{Data: rows, Count: len(rows)}, nil
}
