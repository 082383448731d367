package riskgate

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"trading-platformv1/internal/broker/sim"
	"trading-platformv1/internal/model"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func feed(b *sim.Broker, ts int64, price float64) {
	b.Feed(model.Candle{
		Source: "sim", Symbol: "AAPL", Timeframe: model.TF1m,
		Timestamp: ts,
		Open:      dec(price), High: dec(price), Low: dec(price), Close: dec(price),
		Volume: decimal.NewFromInt(1),
	})
}

func marketBuy(qty float64) model.OrderRequest {
	q := dec(qty)
	return model.OrderRequest{
		Symbol: "AAPL", Side: model.SideBuy, Type: model.OrderTypeMarket,
		Quantity: &q, TimeInForce: model.TIFDay,
	}
}

func TestMaxOrderQty(t *testing.T) {
	inner := sim.New(dec(100000))
	feed(inner, 60, 100)
	g := New(inner, Limits{MaxOrderQty: dec(10)})
	ctx := context.Background()

	if _, err := g.SubmitOrder(ctx, marketBuy(11)); !errors.Is(err, model.ErrOrderRejected) {
		t.Fatalf("qty 11 err = %v, want ErrOrderRejected", err)
	}
	if _, err := g.SubmitOrder(ctx, marketBuy(10)); err != nil {
		t.Fatalf("qty 10 rejected: %v", err)
	}
}

func TestMaxOrderNotional(t *testing.T) {
	inner := sim.New(dec(100000))
	feed(inner, 60, 100)
	g := New(inner, Limits{MaxOrderNotional: dec(5000)})
	ctx := context.Background()

	n := dec(6000)
	req := model.OrderRequest{
		Symbol: "AAPL", Side: model.SideBuy, Type: model.OrderTypeMarket,
		Notional: &n, TimeInForce: model.TIFDay,
	}
	if _, err := g.SubmitOrder(ctx, req); !errors.Is(err, model.ErrOrderRejected) {
		t.Fatalf("notional 6000 err = %v, want ErrOrderRejected", err)
	}

	// Quantity orders are not bounded by the notional limit.
	if _, err := g.SubmitOrder(ctx, marketBuy(5)); err != nil {
		t.Fatalf("qty order rejected by notional limit: %v", err)
	}
}

func TestMaxDrawdownBlocksNewOrders(t *testing.T) {
	inner := sim.New(dec(100000))
	feed(inner, 60, 100)
	g := New(inner, Limits{MaxDrawdownPct: 5})
	ctx := context.Background()

	// At peak equity the gate passes.
	if _, err := g.SubmitOrder(ctx, marketBuy(500)); err != nil {
		t.Fatalf("first order rejected: %v", err)
	}

	// Price drops 20%: equity 50000 cash + 500*80 = 90000, 10% under peak.
	feed(inner, 120, 80)
	if _, err := g.SubmitOrder(ctx, marketBuy(1)); !errors.Is(err, model.ErrOrderRejected) {
		t.Fatalf("post-drawdown order err = %v, want ErrOrderRejected", err)
	}

	// Cancels still pass while drawn down.
	if err := g.CancelOrder(ctx, "no-such-order"); !errors.Is(err, model.ErrOrderNotFound) {
		t.Fatalf("cancel err = %v, want ErrOrderNotFound passthrough", err)
	}
}

func TestDisabledLimitsPassEverything(t *testing.T) {
	inner := sim.New(dec(100000))
	feed(inner, 60, 100)
	g := New(inner, Limits{})

	if g.limits.Enabled() {
		t.Fatal("zero limits reported enabled")
	}
	// The sim still enforces funds; the only acceptable error is its own.
	if _, err := g.SubmitOrder(context.Background(), marketBuy(1000000)); !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("huge order err = %v, want ErrInsufficientFunds from sim", err)
	}
}
