// Package broker defines the common contract that every trading venue
// adapter satisfies: order submission, account state, and historical or
// streaming candles. Live adapters translate venue errors into the
// model taxonomy before returning.
package broker

import (
	"context"
	"time"

	"trading-platformv1/internal/model"
)

// Broker is the uniform venue interface. Streaming operations always
// return a channel; adapters whose underlying client blocks run that
// work on a dedicated goroutine and forward through the channel.
type Broker interface {
	// SubmitOrder validates and places an order. Placement errors raise
	// synchronously; fill-time rejections mutate the order's status.
	SubmitOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResponse, error)

	// ModifyOrder replaces the mutable parameters of a working order.
	ModifyOrder(ctx context.Context, orderID string, req model.OrderRequest) (*model.OrderResponse, error)

	// CancelOrder cancels a working order by broker order id.
	CancelOrder(ctx context.Context, orderID string) error

	// GetOrder fetches the broker's current view of an order.
	GetOrder(ctx context.Context, orderID string) (*model.OrderResponse, error)

	// Account returns the account with equity derived at read time.
	Account(ctx context.Context) (*model.Account, error)

	// HistoricalCandles returns stored candles for [start, end).
	HistoricalCandles(ctx context.Context, symbol string, tf model.Timeframe, start, end time.Time) ([]model.Candle, error)

	// StreamCandles streams closed candles for one (symbol, timeframe).
	// The channel closes when ctx is cancelled or the stream is lost.
	StreamCandles(ctx context.Context, symbol string, tf model.Timeframe) (<-chan model.Candle, error)
}
