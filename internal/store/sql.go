package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"AlertSentinel/internal/model"
)

var validate = validator.New()

// SQLStore implements Store on SQLite or PostgreSQL.
type SQLStore struct {
	db     *sql.DB
	driver string
	mu     sync.Mutex // serializes writes
	log    *zap.Logger
	now    func() time.Time
}

// Open connects to the database and runs migrations. driver is "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string, log *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	switch driver {
	case "sqlite":
		// WAL keeps readers unblocked while the scheduler writes.
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	case "postgres":
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	default:
		db.Close()
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrUnavailable, err)
	}

	s := &SQLStore{db: db, driver: driver, log: log, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info("store opened", zap.String("driver", driver))
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	idCol := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	realType := "REAL"
	if s.driver == "postgres" {
		idCol = "id BIGSERIAL PRIMARY KEY"
		realType = "DOUBLE PRECISION"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_alerts (
			` + idCol + `,
			asset_id     TEXT NOT NULL,
			asset_name   TEXT NOT NULL,
			asset_symbol TEXT NOT NULL,
			target_price ` + realType + ` NOT NULL,
			direction    TEXT NOT NULL,
			is_active    BOOLEAN NOT NULL,
			asset_class  TEXT NOT NULL,
			created_at   BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_active ON price_alerts(is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_condition ON price_alerts(asset_id, direction, asset_class)`,

		`CREATE TABLE IF NOT EXISTS favorites (
			asset_id     TEXT NOT NULL,
			asset_class  TEXT NOT NULL,
			asset_name   TEXT NOT NULL,
			asset_symbol TEXT NOT NULL,
			added_at     BIGINT NOT NULL,
			PRIMARY KEY (asset_id, asset_class)
		)`,

		`CREATE TABLE IF NOT EXISTS holdings (
			asset_id     TEXT NOT NULL,
			asset_class  TEXT NOT NULL,
			asset_name   TEXT NOT NULL,
			asset_symbol TEXT NOT NULL,
			quantity     ` + realType + ` NOT NULL,
			avg_cost     ` + realType + ` NOT NULL,
			updated_at   BIGINT NOT NULL,
			PRIMARY KEY (asset_id, asset_class)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

const alertColumns = `id, asset_id, asset_name, asset_symbol, target_price, direction, is_active, asset_class, created_at`

func (s *SQLStore) ListActive(ctx context.Context) ([]model.PriceAlert, error) {
	return s.queryAlerts(ctx, "list active alerts",
		`SELECT `+alertColumns+` FROM price_alerts WHERE is_active = ? ORDER BY id`, true)
}

func (s *SQLStore) ListAlerts(ctx context.Context) ([]model.PriceAlert, error) {
	return s.queryAlerts(ctx, "list alerts", `SELECT `+alertColumns+` FROM price_alerts ORDER BY id`)
}

func (s *SQLStore) GetAlert(ctx context.Context, id int64) (model.PriceAlert, error) {
	alerts, err := s.queryAlerts(ctx, "get alert",
		`SELECT `+alertColumns+` FROM price_alerts WHERE id = ?`, id)
	if err != nil {
		return model.PriceAlert{}, err
	}
	if len(alerts) == 0 {
		return model.PriceAlert{}, fmt.Errorf("alert %d: %w", id, ErrNotFound)
	}
	return alerts[0], nil
}

func (s *SQLStore) SetActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !active {
		res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE price_alerts SET is_active = ? WHERE id = ?`), false, id)
		if err != nil {
			return unavailable("set active", err)
		}
		return expectRow(res, fmt.Sprintf("alert %d", id))
	}

	// Reactivation must not create a second active alert with the same condition.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin set active", err)
	}
	defer tx.Rollback()

	var (
		assetID, dir, class string
		target              float64
	)
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT asset_id, target_price, direction, asset_class
		FROM price_alerts WHERE id = ?`), id).Scan(&assetID, &target, &dir, &class)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("alert %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return unavailable("load alert", err)
	}

	var n int
	err = tx.QueryRowContext(ctx, s.rebind(existsQuery+` AND id <> ?`),
		assetID, target, dir, class, true, id).Scan(&n)
	if err != nil {
		return unavailable("check duplicate", err)
	}
	if n > 0 {
		return fmt.Errorf("alert %d: %w", id, ErrAlreadyExists)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE price_alerts SET is_active = ? WHERE id = ?`), true, id); err != nil {
		return unavailable("set active", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit set active", err)
	}
	return nil
}

func (s *SQLStore) DeleteByID(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM price_alerts WHERE id = ?`), id)
	if err != nil {
		return unavailable("delete alert", err)
	}
	return expectRow(res, fmt.Sprintf("alert %d", id))
}

const existsQuery = `SELECT COUNT(1) FROM price_alerts
	WHERE asset_id = ? AND target_price = ? AND direction = ? AND asset_class = ? AND is_active = ?`

func (s *SQLStore) ExistsByCondition(ctx context.Context, assetID string, price float64, dir model.Direction, class model.AssetClass) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(existsQuery), assetID, price, string(dir), string(class), true).Scan(&n)
	if err != nil {
		return false, unavailable("exists by condition", err)
	}
	return n > 0, nil
}

// Insert stores a new alert unless an active alert with the same condition
// exists. New alerts are always active.
func (s *SQLStore) Insert(ctx context.Context, alert model.PriceAlert) (int64, error) {
	if err := validate.Struct(alert); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin insert", err)
	}
	defer tx.Rollback()

	var n int
	err = tx.QueryRowContext(ctx, s.rebind(existsQuery),
		alert.AssetID, alert.TargetPrice, string(alert.Direction), string(alert.AssetClass), true).Scan(&n)
	if err != nil {
		return 0, unavailable("check duplicate", err)
	}
	if n > 0 {
		return 0, ErrAlreadyExists
	}

	var id int64
	err = tx.QueryRowContext(ctx, s.rebind(`INSERT INTO price_alerts
		(asset_id, asset_name, asset_symbol, target_price, direction, is_active, asset_class, created_at)
		VALUES (?,?,?,?,?,?,?,?) RETURNING id`),
		alert.AssetID, alert.AssetName, alert.AssetSymbol, alert.TargetPrice,
		string(alert.Direction), true, string(alert.AssetClass), alert.CreatedAt.Unix(),
	).Scan(&id)
	if err != nil {
		return 0, unavailable("insert alert", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable("commit insert", err)
	}

	s.log.Info("alert created",
		zap.Int64("id", id),
		zap.String("asset_id", alert.AssetID),
		zap.String("direction", string(alert.Direction)),
		zap.Float64("target", alert.TargetPrice))
	return id, nil
}

func (s *SQLStore) queryAlerts(ctx context.Context, op, query string, args ...any) ([]model.PriceAlert, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var alerts []model.PriceAlert
	for rows.Next() {
		var (
			a         model.PriceAlert
			dir, cls  string
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.AssetID, &a.AssetName, &a.AssetSymbol, &a.TargetPrice,
			&dir, &a.IsActive, &cls, &createdAt); err != nil {
			return nil, unavailable(op, err)
		}
		a.Direction = model.Direction(dir)
		a.AssetClass = model.AssetClass(cls)
		a.CreatedAt = time.Unix(createdAt, 0)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return alerts, nil
}

func (s *SQLStore) AddFavorite(ctx context.Context, fav model.Favorite) error {
	if fav.AssetID == "" || !fav.AssetClass.Valid() {
		return fmt.Errorf("%w: favorite needs an asset id and class", ErrInvalid)
	}
	if fav.AddedAt.IsZero() {
		fav.AddedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO favorites
		(asset_id, asset_class, asset_name, asset_symbol, added_at) VALUES (?,?,?,?,?)
		ON CONFLICT (asset_id, asset_class) DO UPDATE SET
			asset_name = excluded.asset_name, asset_symbol = excluded.asset_symbol`),
		fav.AssetID, string(fav.AssetClass), fav.AssetName, fav.AssetSymbol, fav.AddedAt.Unix())
	if err != nil {
		return unavailable("add favorite", err)
	}
	return nil
}

func (s *SQLStore) RemoveFavorite(ctx context.Context, assetID string, class model.AssetClass) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM favorites WHERE asset_id = ? AND asset_class = ?`),
		assetID, string(class))
	if err != nil {
		return unavailable("remove favorite", err)
	}
	return expectRow(res, "favorite "+assetID)
}

func (s *SQLStore) ListFavorites(ctx context.Context) ([]model.Favorite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT asset_id, asset_class, asset_name, asset_symbol, added_at FROM favorites ORDER BY added_at, asset_id`)
	if err != nil {
		return nil, unavailable("list favorites", err)
	}
	defer rows.Close()

	var favs []model.Favorite
	for rows.Next() {
		var (
			f       model.Favorite
			cls     string
			addedAt int64
		)
		if err := rows.Scan(&f.AssetID, &cls, &f.AssetName, &f.AssetSymbol, &addedAt); err != nil {
			return nil, unavailable("list favorites", err)
		}
		f.AssetClass = model.AssetClass(cls)
		f.AddedAt = time.Unix(addedAt, 0)
		favs = append(favs, f)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list favorites", err)
	}
	return favs, nil
}

func (s *SQLStore) IsFavorite(ctx context.Context, assetID string, class model.AssetClass) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(1) FROM favorites WHERE asset_id = ? AND asset_class = ?`),
		assetID, string(class)).Scan(&n)
	if err != nil {
		return false, unavailable("is favorite", err)
	}
	return n > 0, nil
}

func (s *SQLStore) UpsertHolding(ctx context.Context, h model.Holding) error {
	if err := validate.Struct(h); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if h.UpdatedAt.IsZero() {
		h.UpdatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO holdings
		(asset_id, asset_class, asset_name, asset_symbol, quantity, avg_cost, updated_at) VALUES (?,?,?,?,?,?,?)
		ON CONFLICT (asset_id, asset_class) DO UPDATE SET
			asset_name = excluded.asset_name, asset_symbol = excluded.asset_symbol,
			quantity = excluded.quantity, avg_cost = excluded.avg_cost, updated_at = excluded.updated_at`),
		h.AssetID, string(h.AssetClass), h.AssetName, h.AssetSymbol, h.Quantity, h.AvgCost, h.UpdatedAt.Unix())
	if err != nil {
		return unavailable("upsert holding", err)
	}
	return nil
}

const holdingColumns = `asset_id, asset_class, asset_name, asset_symbol, quantity, avg_cost, updated_at`

func (s *SQLStore) GetHolding(ctx context.Context, assetID string, class model.AssetClass) (model.Holding, error) {
	holdings, err := s.queryHoldings(ctx, `SELECT `+holdingColumns+` FROM holdings WHERE asset_id = ? AND asset_class = ?`,
		assetID, string(class))
	if err != nil {
		return model.Holding{}, err
	}
	if len(holdings) == 0 {
		return model.Holding{}, fmt.Errorf("holding %s: %w", assetID, ErrNotFound)
	}
	return holdings[0], nil
}

func (s *SQLStore) DeleteHolding(ctx context.Context, assetID string, class model.AssetClass) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM holdings WHERE asset_id = ? AND asset_class = ?`),
		assetID, string(class))
	if err != nil {
		return unavailable("delete holding", err)
	}
	return expectRow(res, "holding "+assetID)
}

func (s *SQLStore) ListHoldings(ctx context.Context) ([]model.Holding, error) {
	return s.queryHoldings(ctx, `SELECT `+holdingColumns+` FROM holdings ORDER BY asset_class, asset_id`)
}

func (s *SQLStore) queryHoldings(ctx context.Context, query string, args ...any) ([]model.Holding, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, unavailable("query holdings", err)
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		var (
			h         model.Holding
			cls       string
			updatedAt int64
		)
		if err := rows.Scan(&h.AssetID, &cls, &h.AssetName, &h.AssetSymbol, &h.Quantity, &h.AvgCost, &updatedAt); err != nil {
			return nil, unavailable("query holdings", err)
		}
		h.AssetClass = model.AssetClass(cls)
		h.UpdatedAt = time.Unix(updatedAt, 0)
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query holdings", err)
	}
	return holdings, nil
}

func (s *SQLStore) Close() error {
	s.log.Info("closing store")
	return s.db.Close()
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// IsRetryable reports whether err came from the database being unreachable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
