package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BacktestStatus enumerates the backtest lifecycle.
type BacktestStatus string

const (
	BacktestPending   BacktestStatus = "pending"
	BacktestRunning   BacktestStatus = "running"
	BacktestCompleted BacktestStatus = "completed"
	BacktestFailed    BacktestStatus = "failed"
)

// Backtest is an offline replay of stored candles through a strategy.
type Backtest struct {
	BacktestID      string          `json:"backtest_id"`
	StrategyID      string          `json:"strategy_id"`
	Symbol          string          `json:"symbol"`
	StartDate       time.Time       `json:"start_date"`
	EndDate         time.Time       `json:"end_date"`
	Timeframe       Timeframe       `json:"timeframe"`
	StartingBalance decimal.Decimal `json:"starting_balance"`
	Status          BacktestStatus  `json:"status"`
	Metrics         *BacktestMetrics `json:"metrics,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// EquityPoint is one sample of the equity (or cash) curve.
type EquityPoint struct {
	Timestamp int64   `json:"ts"`
	Value     float64 `json:"value"`
}

// BacktestMetrics is the performance summary persisted as JSON on the
// backtest row. MaxDrawdown is a non-positive percentage.
type BacktestMetrics struct {
	RealisedPnL    float64       `json:"realised_pnl"`
	UnrealisedPnL  float64       `json:"unrealised_pnl"`
	TotalReturnPct float64       `json:"total_return_pct"`
	SharpeRatio    float64       `json:"sharpe_ratio"`
	MaxDrawdown    float64       `json:"max_drawdown"`
	TotalTrades    int           `json:"total_trades"`
	EquityCurve    []EquityPoint `json:"equity_curve"`
	CashCurve      []EquityPoint `json:"cash_curve"`
}

// SnapshotType distinguishes equity samples from cash-balance samples.
type SnapshotType string

const (
	SnapshotEquity  SnapshotType = "equity"
	SnapshotBalance SnapshotType = "balance"
)

// AccountSnapshot is one point-in-time sample of a deployment's account.
// Append-only; the first balance snapshot sets the deployment's
// starting_balance.
type AccountSnapshot struct {
	SnapshotID   string          `json:"snapshot_id"`
	DeploymentID string          `json:"deployment_id"`
	Timestamp    int64           `json:"timestamp"`
	SnapshotType SnapshotType    `json:"snapshot_type"`
	Value        decimal.Decimal `json:"value"`
}
