package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType enumerates supported order types.
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

// TimeInForce enumerates order lifetimes.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
)

// OrderStatus enumerates order lifecycle states. Transitions form a DAG:
// pending → submitted → {partially_filled → filled | cancelled | rejected | expired}.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusSubmitted       OrderStatus = "submitted"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
)

// statusRank orders statuses along the DAG so that only forward
// transitions apply when bus events arrive out of order.
var statusRank = map[OrderStatus]int{
	StatusPending:         0,
	StatusSubmitted:       1,
	StatusPartiallyFilled: 2,
	StatusFilled:          3,
	StatusCancelled:       3,
	StatusRejected:        3,
	StatusExpired:         3,
}

// Terminal reports whether no further transitions are allowed.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether from → to is a valid forward move on the
// status DAG. Self-transitions are allowed (idempotent replays).
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	return statusRank[to] > statusRank[from]
}

// OrderRequest is a request to place an order. Exactly one of Quantity or
// Notional must be set, and both must be positive when present.
type OrderRequest struct {
	Symbol        string           `json:"symbol"`
	Side          Side             `json:"side"`
	Type          OrderType        `json:"type"`
	Quantity      *decimal.Decimal `json:"quantity,omitempty"`
	Notional      *decimal.Decimal `json:"notional,omitempty"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	TimeInForce   TimeInForce      `json:"time_in_force"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
}

// Validate enforces the type-specific parameter rules.
func (r *OrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidOrderParameters)
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("%w: invalid side %q", ErrInvalidOrderParameters, r.Side)
	}
	if (r.Quantity == nil) == (r.Notional == nil) {
		return fmt.Errorf("%w: exactly one of quantity or notional required", ErrInvalidOrderParameters)
	}
	if r.Quantity != nil && !r.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrderParameters)
	}
	if r.Notional != nil && !r.Notional.IsPositive() {
		return fmt.Errorf("%w: notional must be positive", ErrInvalidOrderParameters)
	}

	switch r.Type {
	case OrderTypeMarket:
		if r.LimitPrice != nil || r.StopPrice != nil {
			return fmt.Errorf("%w: market order must not carry limit/stop price", ErrInvalidOrderParameters)
		}
	case OrderTypeLimit:
		if r.LimitPrice == nil || !r.LimitPrice.IsPositive() {
			return fmt.Errorf("%w: limit order requires positive limit_price", ErrInvalidOrderParameters)
		}
	case OrderTypeStop, OrderTypeTrailingStop:
		if r.StopPrice == nil || !r.StopPrice.IsPositive() {
			return fmt.Errorf("%w: stop order requires positive stop_price", ErrInvalidOrderParameters)
		}
	case OrderTypeStopLimit:
		if r.LimitPrice == nil || !r.LimitPrice.IsPositive() {
			return fmt.Errorf("%w: stop_limit order requires positive limit_price", ErrInvalidOrderParameters)
		}
		if r.StopPrice == nil || !r.StopPrice.IsPositive() {
			return fmt.Errorf("%w: stop_limit order requires positive stop_price", ErrInvalidOrderParameters)
		}
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrderParameters, r.Type)
	}
	return nil
}

// OrderResponse is the broker's view of an order.
type OrderResponse struct {
	OrderID        string           `json:"order_id"`
	ClientOrderID  string           `json:"client_order_id,omitempty"`
	Symbol         string           `json:"symbol"`
	Side           Side             `json:"side"`
	Type           OrderType        `json:"type"`
	Quantity       decimal.Decimal  `json:"quantity"`
	FilledQuantity decimal.Decimal  `json:"filled_quantity"`
	LimitPrice     *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice      *decimal.Decimal `json:"stop_price,omitempty"`
	AvgFillPrice   *decimal.Decimal `json:"avg_fill_price,omitempty"`
	Status         OrderStatus      `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	FilledAt       *time.Time       `json:"filled_at,omitempty"`
	TimeInForce    TimeInForce      `json:"time_in_force"`
	BrokerMetadata json.RawMessage  `json:"broker_metadata,omitempty"`
}

// JSON returns the JSON-encoded order.
func (o *OrderResponse) JSON() []byte {
	b, _ := json.Marshal(o)
	return b
}
