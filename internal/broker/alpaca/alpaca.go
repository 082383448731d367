// Package alpaca adapts the Alpaca trading API to the broker contract.
// Every call passes through a token-bucket rate limiter, and venue
// errors are translated into the model taxonomy before returning.
package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"trading-platformv1/internal/model"
	"trading-platformv1/internal/ratelimit"
)

// Source is the broker label stamped on candles and cache keys.
const Source = "alpaca"

// Config configures the adapter.
type Config struct {
	APIKey    string
	APISecret string
	// BaseURL selects paper vs live; empty uses the SDK default.
	BaseURL string

	// Limiter gates every API call. Nil gets the default budget of
	// 200 requests per 60s.
	Limiter *ratelimit.TokenBucket
}

// Broker is the live Alpaca adapter. Candle streaming rides the
// platform's own pipeline: StreamCandles subscribes to candles.close on
// the bus rather than opening a second venue connection per deployment.
type Broker struct {
	trade   *alpaca.Client
	md      *marketdata.Client
	bus     model.Bus
	limiter *ratelimit.TokenBucket
}

// New creates the adapter. The bus is only needed for StreamCandles and
// may be nil for backfill-style usage.
func New(cfg Config, bus model.Bus) *Broker {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewPerWindow(200, 60*time.Second)
	}
	return &Broker{
		trade: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		md: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
		}),
		bus:     bus,
		limiter: limiter,
	}
}

// SubmitOrder validates and places an order.
func (b *Broker) SubmitOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	placeReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           req.Quantity,
		Notional:      req.Notional,
		Side:          alpaca.Side(req.Side),
		Type:          mapOrderType(req.Type),
		TimeInForce:   alpaca.TimeInForce(req.TimeInForce),
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		ClientOrderID: req.ClientOrderID,
	}

	o, err := b.trade.PlaceOrder(placeReq)
	if err != nil {
		return nil, mapError(err, req.Symbol)
	}
	return mapOrder(o), nil
}

// ModifyOrder replaces the mutable parameters of a working order.
func (b *Broker) ModifyOrder(ctx context.Context, orderID string, req model.OrderRequest) (*model.OrderResponse, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	o, err := b.trade.ReplaceOrder(orderID, alpaca.ReplaceOrderRequest{
		Qty:        req.Quantity,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
	})
	if err != nil {
		return nil, mapError(err, req.Symbol)
	}
	return mapOrder(o), nil
}

// CancelOrder cancels a working order.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := b.trade.CancelOrder(orderID); err != nil {
		return mapError(err, "")
	}
	return nil
}

// GetOrder fetches the venue's current view of an order.
func (b *Broker) GetOrder(ctx context.Context, orderID string) (*model.OrderResponse, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	o, err := b.trade.GetOrder(orderID)
	if err != nil {
		return nil, mapError(err, "")
	}
	return mapOrder(o), nil
}

// Account returns the venue account.
func (b *Broker) Account(ctx context.Context) (*model.Account, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	a, err := b.trade.GetAccount()
	if err != nil {
		return nil, mapError(err, "")
	}
	return &model.Account{
		AccountID: a.ID,
		Equity:    a.Equity,
		Cash:      a.Cash,
	}, nil
}

// HistoricalCandles returns venue bars for [start, end).
func (b *Broker) HistoricalCandles(ctx context.Context, symbol string, tf model.Timeframe, start, end time.Time) ([]model.Candle, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	frame, err := mapTimeframe(tf)
	if err != nil {
		return nil, err
	}
	bars, err := b.md.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: frame,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, mapError(err, symbol)
	}

	candles := make([]model.Candle, 0, len(bars))
	for _, bar := range bars {
		candles = append(candles, model.Candle{
			Source:    Source,
			Symbol:    symbol,
			Timeframe: tf,
			Timestamp: tf.Bucket(bar.Timestamp.Unix()),
			Open:      decimalFromFloat(bar.Open),
			High:      decimalFromFloat(bar.High),
			Low:       decimalFromFloat(bar.Low),
			Close:     decimalFromFloat(bar.Close),
			Volume:    decimalFromUint(bar.Volume),
		})
	}
	return candles, nil
}

// StreamCandles subscribes to the pipeline's candles.close channel and
// filters for this (symbol, timeframe). Live deployments consume the
// same candles the aggregator persisted, so backtest and live see one
// source of truth.
func (b *Broker) StreamCandles(ctx context.Context, symbol string, tf model.Timeframe) (<-chan model.Candle, error) {
	if b.bus == nil {
		return nil, fmt.Errorf("alpaca: %w: no bus configured for streaming", model.ErrDataUnavailable)
	}

	raw, err := b.bus.Subscribe(ctx, model.ChannelCandlesClose)
	if err != nil {
		return nil, fmt.Errorf("alpaca: %w: %v", model.ErrSubscribeLost, err)
	}

	out := make(chan model.Candle, 64)
	go func() {
		defer close(out)
		for payload := range raw {
			var ev model.CandleCloseEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				log.Printf("[alpaca] bad candle event: %v", err)
				continue
			}
			if ev.Symbol != symbol || ev.Timeframe != tf {
				continue
			}
			c := ev.Candle()
			if c.Timestamp == 0 {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func mapOrderType(t model.OrderType) alpaca.OrderType {
	switch t {
	case model.OrderTypeMarket:
		return alpaca.Market
	case model.OrderTypeLimit:
		return alpaca.Limit
	case model.OrderTypeStop:
		return alpaca.Stop
	case model.OrderTypeStopLimit:
		return alpaca.StopLimit
	case model.OrderTypeTrailingStop:
		return alpaca.TrailingStop
	}
	return alpaca.Market
}

// mapStatus folds Alpaca's order states onto the lifecycle DAG.
func mapStatus(s string) model.OrderStatus {
	switch s {
	case "new", "accepted", "pending_new", "accepted_for_bidding":
		return model.StatusSubmitted
	case "partially_filled":
		return model.StatusPartiallyFilled
	case "filled":
		return model.StatusFilled
	case "canceled", "pending_cancel", "done_for_day":
		return model.StatusCancelled
	case "rejected", "stopped", "suspended":
		return model.StatusRejected
	case "expired":
		return model.StatusExpired
	}
	return model.StatusSubmitted
}

func mapOrder(o *alpaca.Order) *model.OrderResponse {
	if o == nil {
		return nil
	}

	resp := &model.OrderResponse{
		OrderID:        o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           model.Side(o.Side),
		Type:           model.OrderType(o.Type),
		FilledQuantity: o.FilledQty,
		LimitPrice:     o.LimitPrice,
		StopPrice:      o.StopPrice,
		AvgFillPrice:   o.FilledAvgPrice,
		Status:         mapStatus(string(o.Status)),
		CreatedAt:      o.CreatedAt,
		FilledAt:       o.FilledAt,
		TimeInForce:    model.TimeInForce(o.TimeInForce),
	}
	if o.Qty != nil {
		resp.Quantity = *o.Qty
	}
	if meta, err := json.Marshal(map[string]string{"venue_status": string(o.Status)}); err == nil {
		resp.BrokerMetadata = meta
	}
	return resp
}

func mapTimeframe(tf model.Timeframe) (marketdata.TimeFrame, error) {
	switch tf {
	case model.TF1m:
		return marketdata.OneMin, nil
	case model.TF5m:
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case model.TF15m:
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case model.TF30m:
		return marketdata.NewTimeFrame(30, marketdata.Min), nil
	case model.TF1h:
		return marketdata.OneHour, nil
	case model.TF4h:
		return marketdata.NewTimeFrame(4, marketdata.Hour), nil
	case model.TF1d:
		return marketdata.OneDay, nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("alpaca: unsupported timeframe %q", tf)
}

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func decimalFromUint(v uint64) decimal.Decimal {
	return decimal.NewFromInt(int64(v))
}

// mapError translates venue failures into the model taxonomy.
func mapError(err error, symbol string) error {
	var apiErr *alpaca.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", model.ErrConnectionLost, err)
	}

	switch apiErr.StatusCode {
	case 401, 403:
		return fmt.Errorf("%w: %s", model.ErrAuthenticationFailed, apiErr.Message)
	case 404:
		if symbol != "" {
			return fmt.Errorf("%w: %s", model.ErrSymbolNotFound, symbol)
		}
		return fmt.Errorf("%w: %s", model.ErrOrderNotFound, apiErr.Message)
	case 422:
		return fmt.Errorf("%w: %s", model.ErrOrderRejected, apiErr.Message)
	case 429:
		return &model.RateLimitedError{RetryAfter: 10 * time.Second}
	}
	if apiErr.StatusCode >= 500 {
		return fmt.Errorf("%w: venue %d: %s", model.ErrConnectionLost, apiErr.StatusCode, apiErr.Message)
	}
	return fmt.Errorf("alpaca: %s", apiErr.Message)
}
