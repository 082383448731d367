package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"trading-platformv1/internal/model"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func candle(ts int64, o, h, l, c string) model.Candle {
	return model.Candle{
		Source:    "sim",
		Symbol:    "AAPL",
		Timeframe: model.TF1m,
		Timestamp: ts,
		Open:      d(o),
		High:      d(h),
		Low:       d(l),
		Close:     d(c),
		Volume:    d("100"),
	}
}

func TestMarketOrderRequiresCandle(t *testing.T) {
	b := New(d("1000"))
	_, err := b.SubmitOrder(context.Background(), model.OrderRequest{
		Symbol: "AAPL", Side: model.SideBuy, Type: model.OrderTypeMarket,
		Quantity: dp("1"), TimeInForce: model.TIFGTC,
	})
	if !errors.Is(err, model.ErrNoPriceData) {
		t.Fatalf("expected ErrNoPriceData, got %v", err)
	}
}

func TestMarketBuyFillsAtClose(t *testing.T) {
	b := New(d("100000"))
	b.Feed(candle(0, "99", "101", "98", "100"))

	resp, err := b.SubmitOrder(context.Background(), model.OrderRequest{
		Symbol: "AAPL", Side: model.SideBuy, Type: model.OrderTypeMarket,
		Quantity: dp("10"), TimeInForce: model.TIFGTC,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Status != model.StatusFilled {
		t.Errorf("expected filled, got %s", resp.Status)
	}
	if !resp.AvgFillPrice.Equal(d("100")) {
		t.Errorf("expected fill at 100, got %s", resp.AvgFillPrice)
	}
	if !b.Cash().Equal(d("99000")) {
		t.Errorf("expected cash 99000, got %s", b.Cash())
	}
}

func TestMarketBuyInsufficientFunds(t *testing.T) {
	b := New(d("500"))
	b.Feed(candle(0, "99", "101", "98", "100"))

	_, err := b.SubmitOrder(context.Background(), model.OrderRequest{
		Symbol: "AAPL", Side: model.SideBuy, Type: model.OrderTypeMarket,
		Quantity: dp("10"), TimeInForce: model.TIFGTC,
	})
	if !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !b.Cash().Equal(d("500")) {
		t.Errorf("cash mutated on failed fill: %s", b.Cash())
	}
}

func TestMarketSellWithoutPosition(t *testing.T) {
	b := New(d("100000"))
	b.Feed(candle(0, "99", "101", "98", "100"))

	_, err := b.SubmitOrder(context.Background(), model.OrderRequest{
		Symbol: "AAPL", Side: model.SideSell, Type: model.OrderTypeMarket,
		Quantity: dp("5"), TimeInForce: model.TIFGTC,
	})
	if !errors.Is(err, model.ErrPositionShort) {
		t.Fatalf("expected ErrPositionShort, got %v", err)
	}
}

func TestNotionalBuy(t *testing.T) {
	b := New(d("100000"))
	b.Feed(candle(0, "99", "101", "98", "100"))

	resp, err := b.SubmitOrder(context.Background(), model.OrderRequest{
		Symbol: "AAPL", Side: model.SideBuy, Type: model.OrderTypeMarket,
		Notional: dp("1000"), TimeInForce: model.TIFGTC,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !resp.FilledQuantity.Equal(d("10")) {
		t.Errorf("expected qty 10 from 1000 notional at 100, got %s", resp.FilledQuantity)
	}
	if !b.Cash().Equal(d("99000")) {
		t.Errorf("expected cash 99000, got %s", b.Cash())
	}
}

// Scenario: buy-limit above the reference price is rejected at
// placement, one below goes pending and fills when low reaches it.
func TestLimitPlacementAndFill(t *testing.T) {
	b := New(d("100000"))
	b.Feed(candle(0, "100", "100", "100", "100"))

	_, err := b.SubmitOrder(context.Background(), model.OrderRequest{
		Symbol: "AAPL", Side: model.SideBuy, Type: model.OrderTypeLimit,
		Quantity: dp("10"), LimitPrice: dp("105"), TimeInForce: model.TIFGTC,
	})
	if !errors.Is(err, model.ErrInvalidOrderParameters) {
		t.Fatalf("expected placement rejection, got %v", err)
	}

	resp, err := b.SubmitOrder(context.Background(), model.OrderRequest{
		Symbol: "AAPL", Side: model.SideBuy, Type: model.OrderTypeLimit,
		Quantity: dp("10"), LimitPrice: dp("95"), TimeInForce: model.TIFGTC,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if b.PendingCount() != 1 {
		t.Fatalf("expected 1 pending order, got %d", b.PendingCount())
	}

	// Next candle does not reach the limit: order stays pending.
	b.Feed(candle(60, "100", "101", "96", "100"))
	if b.PendingCount() != 1 {
		t.Fatalf("order triggered early")
	}

	// Low of 94 crosses the 95 limit: fill at the limit price.
	b.Feed(candle(120, "96", "97", "94", "95"))
	got, _ := b.GetOrder(context.Background(), resp.OrderID)
	if got.Status != model.StatusFilled {
		t.Fatalf("expected filled, got %s", got.Status)
	}
	if !got.AvgFillPrice.Equal(d("95")) {
		t.Errorf("expected fill at 95, got %s", got.AvgFillPrice)
	}
	if b.PendingCount() != 0 {
		t.Errorf("pending set not drained")
	}
}

func TestStopPlacementValidation(t *testing.T) {
	b := New(d("100000"))
	b.Feed(candle(0, "100", "100", "100", "100"))

	cases := []struct {
		name string
		side model.Side
		stop string
		ok   bool
	}{
		{"buy stop above ref", model.SideBuy, "105", true},
		{"buy stop at ref", model.SideBuy, "100", false},
		{"buy stop below ref", model.SideBuy, "95", false},
		{"sell stop below ref", model.SideSell, "95", true},
		{"sell stop at ref", model.SideSell, "100", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.SubmitOrder(context.Background(), model.OrderRequest{
				Symbol: "AAPL", Side: tc.side, Type: model.OrderTypeStop,
				Quantity: dp("1"), StopPrice: dp(tc.stop), TimeInForce: model.TIFGTC,
			})
			if tc.ok && err != nil {
				t.Fatalf("expected accept, got %v", err)
			}
			if !tc.ok && !errors.Is(err, model.ErrInvalidOrderParameters) {
				t.Fatalf("expected ErrInvalidOrderParameters, got %v", err)
			}
		})
	}
}

func TestStopFillsAtStopPrice(t *testing.T) {
	b := New(d("100000"))
	b.Feed(candle(0, "100", "100", "100", "100"))

	resp, err := b.SubmitOrder(context.Background(), model.OrderRequest{
		Symbol: "AAPL", Side: model.SideBuy, Type: model.OrderTypeStop,
		Quantity: dp("5"), StopPrice: dp("103"), TimeInForce: model.TIFGTC,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	b.Feed(candle(60, "101", "104", "100", "102"))
	got, _ := b.GetOrder(context.Background(), resp.OrderID)
	if got.Status != model.StatusFilled {
		t.Fatalf("expected filled, got %s", got.Status)
	}
	if !got.AvgFillPrice.Equal(d("103")) {
		t.Errorf("expected fill at stop 103, got %s", got.AvgFillPrice)
	}
}

// A pending order that would overdraw at fill time is rejected, not
// cancelled, and cash is untouched.
func TestPendingRejectedAtFillTime(t *testing.T) {
	b := New(d("200"))
	b.Feed(candle(0, "100", "100", "100", "100"))

	resp, err := b.SubmitOrder(context.Background(), model.OrderRequest{
		Symbol: "AAPL", Side: model.SideBuy, Type: model.OrderTypeLimit,
		Quantity: dp("10"), LimitPrice: dp("95"), TimeInForce: model.TIFGTC,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	b.Feed(candle(60, "96", "96", "94", "95"))
	got, _ := b.GetOrder(context.Background(), resp.OrderID)
	if got.Status != model.StatusRejected {
		t.Fatalf("expected rejected, got %s", got.Status)
	}
	if !b.Cash().Equal(d("200")) {
		t.Errorf("cash mutated on rejected fill: %s", b.Cash())
	}
}

func TestPendingUntilCancelled(t *testing.T) {
	b := New(d("100000"))
	b.Feed(candle(0, "100", "100", "100", "100"))

	resp, err := b.SubmitOrder(context.Background(), model.OrderRequest{
		Symbol: "AAPL", Side: model.SideBuy, Type: model.OrderTypeLimit,
		Quantity: dp("1"), LimitPrice: dp("50"), TimeInForce: model.TIFGTC,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Never triggers across many candles.
	for i := int64(1); i <= 20; i++ {
		b.Feed(candle(i*60, "100", "101", "99", "100"))
	}
	if b.PendingCount() != 1 {
		t.Fatalf("order left pending set without trigger or cancel")
	}

	if err := b.CancelOrder(context.Background(), resp.OrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := b.GetOrder(context.Background(), resp.OrderID)
	if got.Status != model.StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	if err := b.CancelOrder(context.Background(), resp.OrderID); !errors.Is(err, model.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound on double cancel, got %v", err)
	}
}

func TestModifyPendingOrder(t *testing.T) {
	b := New(d("100000"))
	b.Feed(candle(0, "100", "100", "100", "100"))

	resp, err := b.SubmitOrder(context.Background(), model.OrderRequest{
		Symbol: "AAPL", Side: model.SideBuy, Type: model.OrderTypeLimit,
		Quantity: dp("1"), LimitPrice: dp("90"), TimeInForce: model.TIFGTC,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	mod, err := b.ModifyOrder(context.Background(), resp.OrderID, model.OrderRequest{
		Symbol: "AAPL", Side: model.SideBuy, Type: model.OrderTypeLimit,
		Quantity: dp("2"), LimitPrice: dp("95"), TimeInForce: model.TIFGTC,
	})
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if !mod.LimitPrice.Equal(d("95")) || !mod.Quantity.Equal(d("2")) {
		t.Errorf("modify not applied: limit=%s qty=%s", mod.LimitPrice, mod.Quantity)
	}

	_, err = b.ModifyOrder(context.Background(), "missing", model.OrderRequest{})
	if !errors.Is(err, model.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

// Cash conservation: after every Feed, cash equals the starting balance
// minus buy fills plus sell fills.
func TestCashConservation(t *testing.T) {
	b := New(d("100000"))
	closes := []string{"100", "101", "102", "103", "104", "105"}
	for i, cl := range closes {
		b.Feed(candle(int64(i)*60, cl, cl, cl, cl))
		if i == 0 {
			if _, err := b.SubmitOrder(context.Background(), model.OrderRequest{
				Symbol: "AAPL", Side: model.SideBuy, Type: model.OrderTypeMarket,
				Quantity: dp("10"), TimeInForce: model.TIFGTC,
			}); err != nil {
				t.Fatalf("buy: %v", err)
			}
		}
		if i == 5 {
			if _, err := b.SubmitOrder(context.Background(), model.OrderRequest{
				Symbol: "AAPL", Side: model.SideSell, Type: model.OrderTypeMarket,
				Quantity: dp("10"), TimeInForce: model.TIFGTC,
			}); err != nil {
				t.Fatalf("sell: %v", err)
			}
		}

		var bought, sold decimal.Decimal
		for _, o := range b.Orders() {
			if o.Status != model.StatusFilled {
				continue
			}
			v := o.FilledQuantity.Mul(*o.AvgFillPrice)
			if o.Side == model.SideBuy {
				bought = bought.Add(v)
			} else {
				sold = sold.Add(v)
			}
		}
		want := d("100000").Sub(bought).Add(sold)
		if !b.Cash().Equal(want) {
			t.Fatalf("candle %d: cash %s, want %s", i, b.Cash(), want)
		}
	}

	if !b.RealisedPnL().Equal(d("50")) {
		t.Errorf("expected realised pnl 50, got %s", b.RealisedPnL())
	}
	if !b.NetOpenQty().IsZero() {
		t.Errorf("expected flat position, got %s", b.NetOpenQty())
	}
}

func TestEquityDerivation(t *testing.T) {
	b := New(d("100000"))
	b.Feed(candle(0, "100", "100", "100", "100"))
	if _, err := b.SubmitOrder(context.Background(), model.OrderRequest{
		Symbol: "AAPL", Side: model.SideBuy, Type: model.OrderTypeMarket,
		Quantity: dp("10"), TimeInForce: model.TIFGTC,
	}); err != nil {
		t.Fatalf("buy: %v", err)
	}

	b.Feed(candle(60, "101", "102", "100", "101"))
	acct, err := b.Account(context.Background())
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !acct.Cash.Equal(d("99000")) {
		t.Errorf("cash: got %s", acct.Cash)
	}
	if !acct.Equity.Equal(d("100010")) {
		t.Errorf("equity: got %s, want 100010", acct.Equity)
	}
}
