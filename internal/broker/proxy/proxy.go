// Package proxy wraps any broker and publishes lifecycle events onto
// the bus: one order event per mutating call, and an equity plus a
// balance snapshot per streamed candle. Publishes are best-effort — a
// failed publish is logged and the underlying call's result is still
// returned; the event handler reconciles from the broker later.
package proxy

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"trading-platformv1/internal/broker"
	"trading-platformv1/internal/model"
)

const publishTimeout = time.Second

// Broker decorates an inner broker for one deployment.
type Broker struct {
	inner        broker.Broker
	bus          model.Bus
	deploymentID string
}

// New wraps inner so its order flow and account state surface on the bus.
func New(inner broker.Broker, bus model.Bus, deploymentID string) *Broker {
	return &Broker{inner: inner, bus: bus, deploymentID: deploymentID}
}

// SubmitOrder delegates and publishes OrderPlaced on success.
func (p *Broker) SubmitOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResponse, error) {
	resp, err := p.inner.SubmitOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	p.publishOrderEvent(ctx, model.OrderEvent{
		ID:           uuid.NewString(),
		Type:         model.EventOrderPlaced,
		DeploymentID: p.deploymentID,
		Timestamp:    time.Now().Unix(),
		Order:        resp,
	})
	return resp, nil
}

// ModifyOrder delegates and publishes OrderModified on success.
func (p *Broker) ModifyOrder(ctx context.Context, orderID string, req model.OrderRequest) (*model.OrderResponse, error) {
	resp, err := p.inner.ModifyOrder(ctx, orderID, req)
	if err != nil {
		return nil, err
	}
	success := true
	p.publishOrderEvent(ctx, model.OrderEvent{
		ID:           uuid.NewString(),
		Type:         model.EventOrderModified,
		DeploymentID: p.deploymentID,
		Timestamp:    time.Now().Unix(),
		Order:        resp,
		Success:      &success,
	})
	return resp, nil
}

// CancelOrder delegates and publishes OrderCancelled on success.
func (p *Broker) CancelOrder(ctx context.Context, orderID string) error {
	if err := p.inner.CancelOrder(ctx, orderID); err != nil {
		return err
	}
	success := true
	p.publishOrderEvent(ctx, model.OrderEvent{
		ID:           uuid.NewString(),
		Type:         model.EventOrderCancelled,
		DeploymentID: p.deploymentID,
		Timestamp:    time.Now().Unix(),
		OrderID:      orderID,
		Success:      &success,
	})
	return nil
}

// GetOrder delegates.
func (p *Broker) GetOrder(ctx context.Context, orderID string) (*model.OrderResponse, error) {
	return p.inner.GetOrder(ctx, orderID)
}

// Account delegates.
func (p *Broker) Account(ctx context.Context) (*model.Account, error) {
	return p.inner.Account(ctx)
}

// HistoricalCandles delegates.
func (p *Broker) HistoricalCandles(ctx context.Context, symbol string, tf model.Timeframe, start, end time.Time) ([]model.Candle, error) {
	return p.inner.HistoricalCandles(ctx, symbol, tf, start, end)
}

// StreamCandles delegates and, for every candle that passes through,
// publishes an equity snapshot followed by a balance snapshot.
func (p *Broker) StreamCandles(ctx context.Context, symbol string, tf model.Timeframe) (<-chan model.Candle, error) {
	inner, err := p.inner.StreamCandles(ctx, symbol, tf)
	if err != nil {
		return nil, err
	}

	out := make(chan model.Candle, cap(inner))
	go func() {
		defer close(out)
		for c := range inner {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
			p.publishSnapshots(ctx, c)
		}
	}()
	return out, nil
}

func (p *Broker) publishSnapshots(ctx context.Context, c model.Candle) {
	acct, err := p.inner.Account(ctx)
	if err != nil {
		log.Printf("[proxy] account read for snapshot: %v", err)
		return
	}

	// Equity first, then balance; the first balance snapshot sets the
	// deployment's starting balance downstream.
	for _, s := range []model.SnapshotEvent{
		{
			ID:           uuid.NewString(),
			Type:         model.EventSnapshotCreated,
			DeploymentID: p.deploymentID,
			SnapshotType: model.SnapshotEquity,
			Value:        acct.Equity,
			Timestamp:    c.Timestamp,
		},
		{
			ID:           uuid.NewString(),
			Type:         model.EventSnapshotCreated,
			DeploymentID: p.deploymentID,
			SnapshotType: model.SnapshotBalance,
			Value:        acct.Cash,
			Timestamp:    c.Timestamp,
		},
	} {
		p.publish(ctx, model.ChannelSnapshotEvents, s)
	}
}

func (p *Broker) publishOrderEvent(ctx context.Context, ev model.OrderEvent) {
	p.publish(ctx, model.ChannelOrderEvents, ev)
}

func (p *Broker) publish(ctx context.Context, channel string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("[proxy] marshal %s event: %v", channel, err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.bus.Publish(pubCtx, channel, payload); err != nil {
		log.Printf("[proxy] publish %s: %v", channel, err)
	}
}
