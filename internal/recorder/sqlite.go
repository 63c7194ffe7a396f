package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists run and trade history to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log *zap.Logger
	now func() time.Time
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(ctx context.Context, dbPath string, log *zap.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so dashboards can read while the worker writes.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log, now: time.Now}
	if err := r.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info("history recorder opened", zap.String("path", dbPath))
	return r, nil
}

func (r *SQLiteRecorder) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS evaluation_runs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT NOT NULL,
			started_at  INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			attempts    INTEGER NOT NULL,
			alerts      INTEGER NOT NULL,
			triggered   INTEGER NOT NULL,
			notified    INTEGER NOT NULL,
			skipped     INTEGER NOT NULL,
			errors      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON evaluation_runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS trade_history (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			side        TEXT NOT NULL,
			asset_id    TEXT NOT NULL,
			asset_class TEXT NOT NULL,
			quantity    REAL,
			price       REAL,
			avg_cost    REAL,
			remaining   REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_ts ON trade_history(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordRun(ctx context.Context, rec *RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `INSERT INTO evaluation_runs
		(run_id, started_at, duration_ms, attempts, alerts, triggered, notified, skipped, errors)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		rec.RunID, rec.StartedAt.Unix(), rec.Duration.Milliseconds(), rec.Attempts,
		rec.Alerts, rec.Triggered, rec.Notified, rec.Skipped, rec.Errors,
	)
	return err
}

func (r *SQLiteRecorder) RecordTrade(ctx context.Context, evt *TradeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `INSERT INTO trade_history
		(timestamp, side, asset_id, asset_class, quantity, price, avg_cost, remaining)
		VALUES (?,?,?,?,?,?,?,?)`,
		r.now().Unix(), evt.Side, evt.AssetID, evt.AssetClass,
		evt.Quantity, evt.Price, evt.AvgCost, evt.Remaining,
	)
	return err
}

// RecentRuns returns up to limit runs, newest first.
func (r *SQLiteRecorder) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT run_id, started_at, duration_ms, attempts, alerts,
		triggered, notified, skipped, errors
		FROM evaluation_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			rec        RunRecord
			started    int64
			durationMS int64
		)
		if err := rows.Scan(&rec.RunID, &started, &durationMS, &rec.Attempts, &rec.Alerts,
			&rec.Triggered, &rec.Notified, &rec.Skipped, &rec.Errors); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.StartedAt = time.Unix(started, 0)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info("closing history recorder")
	return r.db.Close()
}
