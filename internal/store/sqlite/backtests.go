package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trading-platformv1/internal/model"
)

// GetBacktest fetches a backtest row by id.
func (s *Store) GetBacktest(ctx context.Context, backtestID string) (*model.Backtest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT backtest_id, strategy_id, symbol, start_date, end_date, timeframe,
			starting_balance, status, metrics, created_at
		FROM backtests WHERE backtest_id = ?
	`, backtestID)

	var b model.Backtest
	var tf, balance, status string
	var startDate, endDate, createdAt int64
	var metrics sql.NullString

	err := row.Scan(&b.BacktestID, &b.StrategyID, &b.Symbol, &startDate, &endDate, &tf,
		&balance, &status, &metrics, &createdAt)
	if err == sql.ErrNoRows {
		return nil, model.ErrRowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get backtest %s: %w", backtestID, err)
	}

	b.StartDate = time.Unix(startDate, 0).UTC()
	b.EndDate = time.Unix(endDate, 0).UTC()
	b.CreatedAt = time.Unix(createdAt, 0).UTC()
	b.Timeframe = model.Timeframe(tf)
	b.Status = model.BacktestStatus(status)
	if b.StartingBalance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("sqlite bad starting_balance %q: %w", balance, err)
	}
	if metrics.Valid && metrics.String != "" {
		var m model.BacktestMetrics
		if err := json.Unmarshal([]byte(metrics.String), &m); err != nil {
			return nil, fmt.Errorf("sqlite bad metrics for %s: %w", backtestID, err)
		}
		b.Metrics = &m
	}
	return &b, nil
}

// InsertBacktest creates a backtest row. Used by the CLI to queue runs.
func (s *Store) InsertBacktest(ctx context.Context, b model.Backtest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backtests (backtest_id, strategy_id, symbol, start_date, end_date,
			timeframe, starting_balance, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.BacktestID, b.StrategyID, b.Symbol, b.StartDate.Unix(), b.EndDate.Unix(),
		string(b.Timeframe), b.StartingBalance.String(), string(b.Status), b.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("sqlite insert backtest %s: %w", b.BacktestID, err)
	}
	return nil
}

// UpdateBacktestStatus moves a backtest through its lifecycle. The
// message lands in error_message for failed runs.
func (s *Store) UpdateBacktestStatus(ctx context.Context, backtestID string, status model.BacktestStatus, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE backtests SET status = ?, error_message = ? WHERE backtest_id = ?`,
		string(status), message, backtestID)
	if err != nil {
		return fmt.Errorf("sqlite update backtest %s: %w", backtestID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrRowNotFound
	}
	return nil
}

// SaveBacktestMetrics persists the metrics JSON on the backtest row.
func (s *Store) SaveBacktestMetrics(ctx context.Context, backtestID string, m *model.BacktestMetrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE backtests SET metrics = ? WHERE backtest_id = ?`,
		string(data), backtestID)
	if err != nil {
		return fmt.Errorf("sqlite save metrics %s: %w", backtestID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrRowNotFound
	}
	return nil
}
