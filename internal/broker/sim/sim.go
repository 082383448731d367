// Package sim implements a deterministic simulated broker over a fed
// candle stream. It is the execution core of the backtest engine:
// pending limit/stop orders are matched against each candle's high/low,
// market orders fill at the candle close, and cash is re-checked at
// fill time rather than reserved at placement.
//
// The broker is single-writer: Feed and every order method are entered
// from one task only, so no internal locking is needed on the matching
// state.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trading-platformv1/internal/model"
)

// pendingOrder pairs a request with its live response while it waits
// for a trigger. Membership ends on fill, rejection, or cancellation.
type pendingOrder struct {
	req  model.OrderRequest
	resp *model.OrderResponse
}

// Broker is the simulated broker.
type Broker struct {
	cash            decimal.Decimal
	startingBalance decimal.Decimal

	current *model.Candle
	history []model.Candle

	pending []*pendingOrder
	orders  map[string]*model.OrderResponse
	seq     []*model.OrderResponse // submission order, for metrics

	buyQty       decimal.Decimal
	sellQty      decimal.Decimal
	buyCost      decimal.Decimal
	sellProceeds decimal.Decimal

	subMu sync.Mutex
	subs  []chan model.Candle
}

// New creates a simulated broker with the given starting balance.
func New(startingBalance decimal.Decimal) *Broker {
	return &Broker{
		cash:            startingBalance,
		startingBalance: startingBalance,
		orders:          make(map[string]*model.OrderResponse),
	}
}

// Feed advances the simulation by one candle: the candle becomes the
// current price reference, then pending orders are scanned in insertion
// order and triggered fills or rejections applied. Orders submitted by
// the strategy after Feed returns execute against this same candle.
func (b *Broker) Feed(c model.Candle) {
	b.current = &c
	b.history = append(b.history, c)
	b.matchPending()
	b.broadcast(c)
}

// matchPending applies the trigger table to every pending order against
// the current candle, removing filled, rejected, and expired entries.
func (b *Broker) matchPending() {
	c := b.current
	remaining := b.pending[:0]
	for _, p := range b.pending {
		price, triggered := triggerPrice(p.req, c)
		if !triggered {
			remaining = append(remaining, p)
			continue
		}
		// Balance is re-checked at fill time; an order that would
		// overdraw transitions to rejected, not cancelled.
		if err := b.fill(p.resp, p.req, price); err != nil {
			p.resp.Status = model.StatusRejected
		}
	}
	b.pending = remaining
}

// triggerPrice reports whether the order triggers against candle c and
// at what price. Stop orders fill exactly at the stop price; slippage is
// not modelled below candle granularity.
func triggerPrice(req model.OrderRequest, c *model.Candle) (decimal.Decimal, bool) {
	switch req.Type {
	case model.OrderTypeLimit:
		if req.Side == model.SideBuy && c.Low.LessThanOrEqual(*req.LimitPrice) {
			return *req.LimitPrice, true
		}
		if req.Side == model.SideSell && c.High.GreaterThanOrEqual(*req.LimitPrice) {
			return *req.LimitPrice, true
		}
	case model.OrderTypeStop, model.OrderTypeTrailingStop:
		if req.Side == model.SideBuy && c.High.GreaterThanOrEqual(*req.StopPrice) {
			return *req.StopPrice, true
		}
		if req.Side == model.SideSell && c.Low.LessThanOrEqual(*req.StopPrice) {
			return *req.StopPrice, true
		}
	case model.OrderTypeStopLimit:
		// Triggers like a stop, fills at the limit price.
		if req.Side == model.SideBuy && c.High.GreaterThanOrEqual(*req.StopPrice) {
			return *req.LimitPrice, true
		}
		if req.Side == model.SideSell && c.Low.LessThanOrEqual(*req.StopPrice) {
			return *req.LimitPrice, true
		}
	}
	return decimal.Zero, false
}

// fill applies the balance discipline and mutates the order to filled.
func (b *Broker) fill(o *model.OrderResponse, req model.OrderRequest, price decimal.Decimal) error {
	qty := o.Quantity
	if qty.IsZero() && req.Notional != nil {
		qty = req.Notional.DivRound(price, 8)
	}
	cost := qty.Mul(price)

	switch req.Side {
	case model.SideBuy:
		if b.cash.LessThan(cost) {
			return fmt.Errorf("%w: need %s, have %s", model.ErrInsufficientFunds, cost, b.cash)
		}
		b.cash = b.cash.Sub(cost)
		b.buyQty = b.buyQty.Add(qty)
		b.buyCost = b.buyCost.Add(cost)
	case model.SideSell:
		if b.netOpenQty().LessThan(qty) {
			return fmt.Errorf("%w: open %s, selling %s", model.ErrPositionShort, b.netOpenQty(), qty)
		}
		b.cash = b.cash.Add(cost)
		b.sellQty = b.sellQty.Add(qty)
		b.sellProceeds = b.sellProceeds.Add(cost)
	}

	now := time.Unix(b.current.Timestamp, 0).UTC()
	o.Quantity = qty
	o.FilledQuantity = qty
	o.AvgFillPrice = &price
	o.Status = model.StatusFilled
	o.FilledAt = &now
	return nil
}

// SubmitOrder validates and places an order. Market orders fill against
// the current candle at its close; limit and stop orders join the
// pending set after placement-time validation against the reference
// price (the current close).
func (b *Broker) SubmitOrder(_ context.Context, req model.OrderRequest) (*model.OrderResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if b.current == nil {
		return nil, model.ErrNoPriceData
	}
	ref := b.current.Close

	resp := b.newResponse(req)

	switch req.Type {
	case model.OrderTypeMarket:
		if err := b.fill(resp, req, ref); err != nil {
			return nil, err
		}
	case model.OrderTypeLimit:
		if req.Side == model.SideBuy && req.LimitPrice.GreaterThanOrEqual(ref) {
			return nil, fmt.Errorf("%w: buy limit %s above reference %s", model.ErrInvalidOrderParameters, req.LimitPrice, ref)
		}
		if req.Side == model.SideSell && req.LimitPrice.LessThanOrEqual(ref) {
			return nil, fmt.Errorf("%w: sell limit %s below reference %s", model.ErrInvalidOrderParameters, req.LimitPrice, ref)
		}
		b.pending = append(b.pending, &pendingOrder{req: req, resp: resp})
	case model.OrderTypeStop, model.OrderTypeStopLimit, model.OrderTypeTrailingStop:
		if req.Side == model.SideBuy && !req.StopPrice.GreaterThan(ref) {
			return nil, fmt.Errorf("%w: buy stop %s not above reference %s", model.ErrInvalidOrderParameters, req.StopPrice, ref)
		}
		if req.Side == model.SideSell && !req.StopPrice.LessThan(ref) {
			return nil, fmt.Errorf("%w: sell stop %s not below reference %s", model.ErrInvalidOrderParameters, req.StopPrice, ref)
		}
		b.pending = append(b.pending, &pendingOrder{req: req, resp: resp})
	}

	b.orders[resp.OrderID] = resp
	b.seq = append(b.seq, resp)
	out := *resp
	return &out, nil
}

func (b *Broker) newResponse(req model.OrderRequest) *model.OrderResponse {
	var qty decimal.Decimal
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	var created time.Time
	if b.current != nil {
		created = time.Unix(b.current.Timestamp, 0).UTC()
	}
	return &model.OrderResponse{
		OrderID:       uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      qty,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		Status:        model.StatusSubmitted,
		CreatedAt:     created,
		TimeInForce:   req.TimeInForce,
	}
}

// ModifyOrder replaces the price parameters of a pending order.
func (b *Broker) ModifyOrder(_ context.Context, orderID string, req model.OrderRequest) (*model.OrderResponse, error) {
	for _, p := range b.pending {
		if p.resp.OrderID != orderID {
			continue
		}
		if err := req.Validate(); err != nil {
			return nil, err
		}
		p.req.LimitPrice = req.LimitPrice
		p.req.StopPrice = req.StopPrice
		p.req.TimeInForce = req.TimeInForce
		p.resp.LimitPrice = req.LimitPrice
		p.resp.StopPrice = req.StopPrice
		p.resp.TimeInForce = req.TimeInForce
		if req.Quantity != nil {
			p.req.Quantity = req.Quantity
			p.resp.Quantity = *req.Quantity
		}
		out := *p.resp
		return &out, nil
	}
	return nil, model.ErrOrderNotFound
}

// CancelOrder removes a pending order, transitioning it to cancelled.
func (b *Broker) CancelOrder(_ context.Context, orderID string) error {
	for i, p := range b.pending {
		if p.resp.OrderID == orderID {
			p.resp.Status = model.StatusCancelled
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return nil
		}
	}
	return model.ErrOrderNotFound
}

// GetOrder returns the broker's view of any submitted order.
func (b *Broker) GetOrder(_ context.Context, orderID string) (*model.OrderResponse, error) {
	o, ok := b.orders[orderID]
	if !ok {
		return nil, model.ErrOrderNotFound
	}
	out := *o
	return &out, nil
}

// Account derives equity from cash plus the open position marked at the
// current close.
func (b *Broker) Account(_ context.Context) (*model.Account, error) {
	return &model.Account{
		AccountID: "sim",
		Cash:      b.cash,
		Equity:    b.Equity(),
	}, nil
}

// HistoricalCandles serves from the fed candle history.
func (b *Broker) HistoricalCandles(_ context.Context, symbol string, tf model.Timeframe, start, end time.Time) ([]model.Candle, error) {
	var out []model.Candle
	for _, c := range b.history {
		if c.Symbol != symbol || c.Timeframe != tf {
			continue
		}
		if c.Timestamp >= start.Unix() && c.Timestamp < end.Unix() {
			out = append(out, c)
		}
	}
	return out, nil
}

// StreamCandles returns a channel fed by subsequent Feed calls.
func (b *Broker) StreamCandles(ctx context.Context, symbol string, tf model.Timeframe) (<-chan model.Candle, error) {
	ch := make(chan model.Candle, 256)
	b.subMu.Lock()
	b.subs = append(b.subs, ch)
	b.subMu.Unlock()
	go func() {
		<-ctx.Done()
		b.subMu.Lock()
		for i, s := range b.subs {
			if s == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(ch)
				break
			}
		}
		b.subMu.Unlock()
	}()
	return ch, nil
}

func (b *Broker) broadcast(c model.Candle) {
	b.subMu.Lock()
	for _, ch := range b.subs {
		select {
		case ch <- c:
		default:
		}
	}
	b.subMu.Unlock()
}

// ── Accessors used by the backtest metrics ──

func (b *Broker) netOpenQty() decimal.Decimal {
	return b.buyQty.Sub(b.sellQty)
}

// Cash returns the running balance.
func (b *Broker) Cash() decimal.Decimal { return b.cash }

// StartingBalance returns the balance the broker was created with.
func (b *Broker) StartingBalance() decimal.Decimal { return b.startingBalance }

// NetOpenQty returns filled buys minus filled sells.
func (b *Broker) NetOpenQty() decimal.Decimal { return b.netOpenQty() }

// Equity returns cash plus net open quantity marked at the last close.
func (b *Broker) Equity() decimal.Decimal {
	eq := b.cash
	if b.current != nil && !b.netOpenQty().IsZero() {
		eq = eq.Add(b.netOpenQty().Mul(b.current.Close))
	}
	return eq
}

// AvgEntryPrice returns total buy cost over total bought quantity, or
// zero when nothing was bought.
func (b *Broker) AvgEntryPrice() decimal.Decimal {
	if b.buyQty.IsZero() {
		return decimal.Zero
	}
	return b.buyCost.DivRound(b.buyQty, 8)
}

// RealisedPnL returns sell proceeds minus the sold quantity at average
// entry price. Quantity still open contributes nothing until it is sold.
func (b *Broker) RealisedPnL() decimal.Decimal {
	if b.sellQty.IsZero() {
		return decimal.Zero
	}
	return b.sellProceeds.Sub(b.sellQty.Mul(b.AvgEntryPrice()))
}

// LastClose returns the close of the current candle, or zero before the
// first Feed.
func (b *Broker) LastClose() decimal.Decimal {
	if b.current == nil {
		return decimal.Zero
	}
	return b.current.Close
}

// Orders returns all submitted orders in submission order.
func (b *Broker) Orders() []model.OrderResponse {
	out := make([]model.OrderResponse, len(b.seq))
	for i, o := range b.seq {
		out[i] = *o
	}
	return out
}

// FilledCount returns the number of filled orders.
func (b *Broker) FilledCount() int {
	n := 0
	for _, o := range b.seq {
		if o.Status == model.StatusFilled {
			n++
		}
	}
	return n
}

// PendingCount returns the number of orders still awaiting a trigger.
func (b *Broker) PendingCount() int { return len(b.pending) }
