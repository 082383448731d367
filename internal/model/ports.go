package model

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ── Storage and bus port interfaces ──
// These decouple the engines from concrete implementations (SQLite,
// Redis). Each implementation satisfies one or more of these interfaces.

// CandleStore is the historical OHLCV store. Inserts are idempotent on
// (source, symbol, timeframe, timestamp).
type CandleStore interface {
	// InsertCandle writes one closed candle. Re-inserting the same key
	// is a no-op.
	InsertCandle(ctx context.Context, c Candle) error

	// StreamCandles calls fn for every stored candle in [from, to)
	// ordered by ascending timestamp, batched internally to bound memory.
	StreamCandles(ctx context.Context, source, symbol string, tf Timeframe, from, to int64, fn func(Candle) error) error

	// LastCandleTS returns the newest stored bucket timestamp, or 0.
	LastCandleTS(ctx context.Context, source, symbol string, tf Timeframe) (int64, error)
}

// TickStore persists raw trades. Insert-only, unique on (source, key).
type TickStore interface {
	InsertTicks(ctx context.Context, ticks []Tick) error
}

// OrderStore reconciles order events into the orders table.
type OrderStore interface {
	// UpsertOrder inserts by broker order id, or updates mutable fields
	// on conflict. Status moves only forward along the DAG.
	UpsertOrder(ctx context.Context, deploymentID string, o OrderResponse) error

	// UpdateOrder updates an existing row by broker order id. Returns
	// ErrRowNotFound when absent.
	UpdateOrder(ctx context.Context, o OrderResponse) error

	// MarkOrderCancelled transitions a row to cancelled by broker order id.
	MarkOrderCancelled(ctx context.Context, brokerOrderID string) error

	// GetOrder fetches a row by broker order id.
	GetOrder(ctx context.Context, brokerOrderID string) (*OrderResponse, error)
}

// BacktestStore persists backtest rows and their metrics JSON.
type BacktestStore interface {
	GetBacktest(ctx context.Context, backtestID string) (*Backtest, error)
	UpdateBacktestStatus(ctx context.Context, backtestID string, status BacktestStatus, message string) error
	SaveBacktestMetrics(ctx context.Context, backtestID string, m *BacktestMetrics) error
}

// DeploymentStore persists deployment rows.
type DeploymentStore interface {
	GetDeployment(ctx context.Context, deploymentID string) (*Deployment, error)
	UpdateDeploymentStatus(ctx context.Context, deploymentID string, status DeploymentStatus, errorMessage string, stoppedAt *time.Time) error

	// SetStartingBalanceIfUnset records the first balance snapshot value
	// as the deployment's starting balance. No-op when already set.
	SetStartingBalanceIfUnset(ctx context.Context, deploymentID string, value float64) error
}

// SnapshotStore persists append-only account snapshots.
type SnapshotStore interface {
	// InsertSnapshot writes one snapshot row. Re-inserting the same
	// snapshot id is a no-op (subscriber-side dedup).
	InsertSnapshot(ctx context.Context, s AccountSnapshot) error
}

// Bus is the keyed pub/sub message broker. Delivery is best-effort:
// subscribers joined after a publish never see it, and consumers rely on
// idempotent writes for convergence.
type Bus interface {
	// Publish sends a payload to a channel, bounded by ctx.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a channel of raw payloads. The channel closes
	// when ctx is cancelled or the subscription is lost past recovery.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)

	Close() error
}

// RecoveryCache persists in-progress aggregator candles and last trade
// prices so a restart can rehydrate before consuming new ticks.
type RecoveryCache interface {
	// SaveCandle caches the in-progress candle under ohlc:{source}:{symbol}:{tf}.
	SaveCandle(ctx context.Context, c Candle) error

	// LoadCandles scans all cached in-progress candles.
	LoadCandles(ctx context.Context) ([]Candle, error)

	// DeleteCandle drops the cached candle for one series.
	DeleteCandle(ctx context.Context, source, symbol string, tf Timeframe) error

	// SetLastPrice caches the latest observed trade price under price:{source}:{symbol}.
	SetLastPrice(ctx context.Context, source, symbol string, price decimal.Decimal) error

	// LastPrice returns the cached latest price, or ErrRowNotFound.
	LastPrice(ctx context.Context, source, symbol string) (decimal.Decimal, error)
}
