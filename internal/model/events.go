package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Bus channel names. All payloads are JSON.
const (
	ChannelTicksRaw         = "ticks.raw"
	ChannelCandlesClose     = "candles.close"
	ChannelOrderEvents      = "orders.events"
	ChannelSnapshotEvents   = "snapshots.events"
	ChannelDeploymentEvents = "deployments.events"
)

// Event type discriminators carried in the "type" field.
const (
	EventOrderPlaced     = "order_placed"
	EventOrderModified   = "order_modified"
	EventOrderCancelled  = "order_cancelled"
	EventSnapshotCreated = "snapshot_created"
	EventDeploymentStop  = "stop"
	EventStrategyError   = "strategy_error"
)

// CandleCloseEvent is published on candles.close when the aggregator
// freezes a bucket. Timestamp is ISO-8601 on the wire.
type CandleCloseEvent struct {
	Broker    string          `json:"broker"`
	Symbol    string          `json:"symbol"`
	Timeframe Timeframe       `json:"timeframe"`
	Timestamp string          `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// NewCandleCloseEvent builds the wire form of a closed candle.
func NewCandleCloseEvent(c Candle) CandleCloseEvent {
	return CandleCloseEvent{
		Broker:    c.Source,
		Symbol:    c.Symbol,
		Timeframe: c.Timeframe,
		Timestamp: time.Unix(c.Timestamp, 0).UTC().Format(time.RFC3339),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	}
}

// Candle converts the wire form back into a Candle. Parse errors on the
// timestamp leave it zero; subscribers validate before use.
func (e *CandleCloseEvent) Candle() Candle {
	var ts int64
	if t, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
		ts = t.Unix()
	}
	return Candle{
		Source:    e.Broker,
		Symbol:    e.Symbol,
		Timeframe: e.Timeframe,
		Timestamp: ts,
		Open:      e.Open,
		High:      e.High,
		Low:       e.Low,
		Close:     e.Close,
		Volume:    e.Volume,
	}
}

// OrderEvent is the envelope published on orders.events. Type-specific
// fields are optional: placements and modifications carry the full order,
// cancellations only the broker order id.
type OrderEvent struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	DeploymentID string         `json:"deployment_id"`
	Timestamp    int64          `json:"timestamp"`
	Order        *OrderResponse `json:"order,omitempty"`
	OrderID      string         `json:"order_id,omitempty"`
	Success      *bool          `json:"success,omitempty"`
}

// SnapshotEvent is published on snapshots.events after every streamed
// candle, equity first then balance.
type SnapshotEvent struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	DeploymentID string          `json:"deployment_id"`
	SnapshotType SnapshotType    `json:"snapshot_type"`
	Value        decimal.Decimal `json:"value"`
	Timestamp    int64           `json:"timestamp"`
}

// DeploymentEvent is published on deployments.events to signal a stop
// request or a strategy error.
type DeploymentEvent struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	DeploymentID string `json:"deployment_id"`
	Timestamp    int64  `json:"timestamp"`
	Message      string `json:"message,omitempty"`
}

// envelope peeks at the "type" field without a full decode.
type envelope struct {
	Type string `json:"type"`
}

// EventType returns the "type" discriminator of a raw bus payload.
func EventType(payload []byte) string {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return ""
	}
	return env.Type
}
