// Package riskgate wraps a broker with pre-trade risk checks. Orders
// that would breach a configured limit are rejected locally before they
// reach the venue; everything else passes through unchanged.
package riskgate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-platformv1/internal/broker"
	"trading-platformv1/internal/model"
)

// Limits holds the configurable thresholds. A zero value disables the
// corresponding check.
type Limits struct {
	// MaxOrderQty caps the quantity of a single order.
	MaxOrderQty decimal.Decimal

	// MaxOrderNotional caps the notional of a single order.
	MaxOrderNotional decimal.Decimal

	// MaxDrawdownPct blocks new orders once account equity has fallen
	// this far (percent) from its peak since the gate was created.
	MaxDrawdownPct float64
}

// Enabled reports whether any limit is configured.
func (l Limits) Enabled() bool {
	return l.MaxOrderQty.IsPositive() || l.MaxOrderNotional.IsPositive() || l.MaxDrawdownPct > 0
}

// Gate decorates an inner broker with risk checks on SubmitOrder and
// ModifyOrder. All other operations delegate.
type Gate struct {
	inner  broker.Broker
	limits Limits

	mu         sync.Mutex
	peakEquity decimal.Decimal
}

// New wraps inner with the given limits.
func New(inner broker.Broker, limits Limits) *Gate {
	return &Gate{inner: inner, limits: limits}
}

// SubmitOrder rejects the order if it breaches a limit, otherwise
// delegates.
func (g *Gate) SubmitOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResponse, error) {
	if err := g.check(ctx, req); err != nil {
		return nil, err
	}
	return g.inner.SubmitOrder(ctx, req)
}

// ModifyOrder applies the same per-order checks as SubmitOrder; a
// modification can raise quantity past the limit just as a new order can.
func (g *Gate) ModifyOrder(ctx context.Context, orderID string, req model.OrderRequest) (*model.OrderResponse, error) {
	if err := g.check(ctx, req); err != nil {
		return nil, err
	}
	return g.inner.ModifyOrder(ctx, orderID, req)
}

// CancelOrder delegates. Cancels always pass: reducing exposure must
// never be blocked.
func (g *Gate) CancelOrder(ctx context.Context, orderID string) error {
	return g.inner.CancelOrder(ctx, orderID)
}

// GetOrder delegates.
func (g *Gate) GetOrder(ctx context.Context, orderID string) (*model.OrderResponse, error) {
	return g.inner.GetOrder(ctx, orderID)
}

// Account delegates.
func (g *Gate) Account(ctx context.Context) (*model.Account, error) {
	return g.inner.Account(ctx)
}

// HistoricalCandles delegates.
func (g *Gate) HistoricalCandles(ctx context.Context, symbol string, tf model.Timeframe, start, end time.Time) ([]model.Candle, error) {
	return g.inner.HistoricalCandles(ctx, symbol, tf, start, end)
}

// StreamCandles delegates.
func (g *Gate) StreamCandles(ctx context.Context, symbol string, tf model.Timeframe) (<-chan model.Candle, error) {
	return g.inner.StreamCandles(ctx, symbol, tf)
}

func (g *Gate) check(ctx context.Context, req model.OrderRequest) error {
	if g.limits.MaxOrderQty.IsPositive() && req.Quantity != nil && req.Quantity.GreaterThan(g.limits.MaxOrderQty) {
		return fmt.Errorf("%w: quantity %s exceeds limit %s",
			model.ErrOrderRejected, req.Quantity, g.limits.MaxOrderQty)
	}
	if g.limits.MaxOrderNotional.IsPositive() && req.Notional != nil && req.Notional.GreaterThan(g.limits.MaxOrderNotional) {
		return fmt.Errorf("%w: notional %s exceeds limit %s",
			model.ErrOrderRejected, req.Notional, g.limits.MaxOrderNotional)
	}
	if g.limits.MaxDrawdownPct > 0 {
		if err := g.checkDrawdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

// checkDrawdown reads live equity and compares against the peak seen so
// far. An account read failure fails closed: without a fresh equity
// number the drawdown limit cannot be enforced.
func (g *Gate) checkDrawdown(ctx context.Context) error {
	acct, err := g.inner.Account(ctx)
	if err != nil {
		return fmt.Errorf("%w: equity unavailable for drawdown check: %v", model.ErrOrderRejected, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if acct.Equity.GreaterThan(g.peakEquity) {
		g.peakEquity = acct.Equity
	}
	if !g.peakEquity.IsPositive() {
		return nil
	}

	dd, _ := g.peakEquity.Sub(acct.Equity).Div(g.peakEquity).Mul(decimal.NewFromInt(100)).Float64()
	if dd > g.limits.MaxDrawdownPct {
		return fmt.Errorf("%w: drawdown %.2f%% exceeds limit %.2f%%",
			model.ErrOrderRejected, dd, g.limits.MaxDrawdownPct)
	}
	return nil
}
