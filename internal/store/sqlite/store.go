// Package sqlite is the relational store: historical candles, raw
// ticks, orders, backtests, deployments and account snapshots. A single
// Store value serves all of them over one WAL-mode connection.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to the database file, e.g. "data/platform.db"
}

// Store is a single-writer SQLite store with transaction batching on the
// hot paths (candles, ticks).
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database with WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ohlc_levels (
			source     TEXT    NOT NULL,
			symbol     TEXT    NOT NULL,
			timeframe  TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       TEXT    NOT NULL,
			high       TEXT    NOT NULL,
			low        TEXT    NOT NULL,
			close      TEXT    NOT NULL,
			volume     TEXT    NOT NULL,
			PRIMARY KEY (source, symbol, timeframe, ts)
		);

		CREATE TABLE IF NOT EXISTS ticks (
			source      TEXT    NOT NULL,
			symbol      TEXT    NOT NULL,
			market_type TEXT,
			tick_key    TEXT    NOT NULL,
			price       TEXT    NOT NULL,
			size        TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			PRIMARY KEY (source, tick_key)
		);

		CREATE TABLE IF NOT EXISTS orders (
			broker_order_id TEXT PRIMARY KEY,
			client_order_id TEXT,
			deployment_id   TEXT,
			symbol          TEXT NOT NULL,
			side            TEXT NOT NULL,
			type            TEXT NOT NULL,
			quantity        TEXT NOT NULL,
			filled_quantity TEXT NOT NULL,
			limit_price     TEXT,
			stop_price      TEXT,
			avg_fill_price  TEXT,
			status          TEXT NOT NULL,
			time_in_force   TEXT,
			broker_metadata TEXT,
			created_at      INTEGER NOT NULL,
			filled_at       INTEGER,
			updated_at      INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS backtests (
			backtest_id      TEXT PRIMARY KEY,
			strategy_id      TEXT NOT NULL,
			symbol           TEXT NOT NULL,
			start_date       INTEGER NOT NULL,
			end_date         INTEGER NOT NULL,
			timeframe        TEXT NOT NULL,
			starting_balance TEXT NOT NULL,
			status           TEXT NOT NULL,
			error_message    TEXT,
			metrics          TEXT,
			created_at       INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS strategy_deployments (
			deployment_id        TEXT PRIMARY KEY,
			strategy_id          TEXT NOT NULL,
			broker_connection_id TEXT NOT NULL,
			symbol               TEXT NOT NULL,
			timeframe            TEXT NOT NULL,
			starting_balance     REAL,
			status               TEXT NOT NULL,
			error_message        TEXT,
			stopped_at           INTEGER,
			created_at           INTEGER NOT NULL,
			updated_at           INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS account_snapshots (
			snapshot_id   TEXT PRIMARY KEY,
			deployment_id TEXT NOT NULL,
			ts            INTEGER NOT NULL,
			snapshot_type TEXT NOT NULL,
			value         TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_deployment
			ON account_snapshots (deployment_id, ts);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
