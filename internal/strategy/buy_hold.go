package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trading-platformv1/internal/model"
)

func init() {
	Register("buy_hold", func(p Params) (Strategy, error) {
		qty, err := paramDecimal(p, "quantity", "1")
		if err != nil {
			return nil, err
		}
		return &BuyHold{qty: qty}, nil
	})
}

// BuyHold buys once on the first candle and holds. Mostly a baseline
// for comparing backtest metrics against.
type BuyHold struct {
	qty    decimal.Decimal
	bought bool
}

func (b *BuyHold) Name() string { return "buy_hold" }

func (b *BuyHold) Startup(sc *Context) error  { return nil }
func (b *BuyHold) Shutdown(sc *Context) error { return nil }

func (b *BuyHold) OnCandle(sc *Context) error {
	if b.bought {
		return nil
	}
	qty := b.qty
	resp, err := sc.Broker.SubmitOrder(sc.Ctx, model.OrderRequest{
		Symbol:      sc.Candle.Symbol,
		Side:        model.SideBuy,
		Type:        model.OrderTypeMarket,
		Quantity:    &qty,
		TimeInForce: model.TIFGTC,
	})
	if err != nil {
		return fmt.Errorf("buy_hold entry: %w", err)
	}
	b.bought = true
	sc.Log.Info("buy_hold entered", "order_id", resp.OrderID, "qty", qty.String())
	return nil
}
