// Package events consumes order and snapshot events from the bus and
// reconciles them into the store. Handlers are idempotent: duplicate
// and out-of-order deliveries converge on the same rows, so the bus
// can stay best-effort.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"trading-platformv1/internal/model"
)

// Store is the persistence surface the handler writes through.
type Store interface {
	model.OrderStore
	model.SnapshotStore
	model.DeploymentStore
}

// Handler drains the order and snapshot channels into the store.
type Handler struct {
	store Store
	bus   model.Bus
	log   *slog.Logger
}

// New creates a handler.
func New(store Store, bus model.Bus, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: store, bus: bus, log: log}
}

// Run consumes both channels until ctx is cancelled. Malformed payloads
// and per-event store failures are logged and skipped; the loop only
// ends with the subscriptions.
func (h *Handler) Run(ctx context.Context) error {
	orders, err := h.bus.Subscribe(ctx, model.ChannelOrderEvents)
	if err != nil {
		return err
	}
	snapshots, err := h.bus.Subscribe(ctx, model.ChannelSnapshotEvents)
	if err != nil {
		return err
	}

	for orders != nil || snapshots != nil {
		select {
		case payload, ok := <-orders:
			if !ok {
				orders = nil
				continue
			}
			h.HandleOrderEvent(ctx, payload)
		case payload, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			h.HandleSnapshotEvent(ctx, payload)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// HandleOrderEvent applies one orders.events payload.
func (h *Handler) HandleOrderEvent(ctx context.Context, payload []byte) {
	var ev model.OrderEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		h.log.Warn("drop malformed order event", "err", err)
		return
	}

	switch ev.Type {
	case model.EventOrderPlaced:
		if ev.Order == nil {
			h.log.Warn("order_placed without order body", "event_id", ev.ID)
			return
		}
		if err := h.store.UpsertOrder(ctx, ev.DeploymentID, *ev.Order); err != nil {
			h.log.Error("upsert order", "order_id", ev.Order.OrderID, "err", err)
		}

	case model.EventOrderModified:
		if ev.Order == nil {
			h.log.Warn("order_modified without order body", "event_id", ev.ID)
			return
		}
		err := h.store.UpdateOrder(ctx, *ev.Order)
		if err == model.ErrRowNotFound {
			// The placement event may still be in flight; the next
			// poll or replay reconciles it.
			h.log.Warn("modify for unknown order", "order_id", ev.Order.OrderID)
			return
		}
		if err != nil {
			h.log.Error("update order", "order_id", ev.Order.OrderID, "err", err)
		}

	case model.EventOrderCancelled:
		if err := h.store.MarkOrderCancelled(ctx, ev.OrderID); err != nil && err != model.ErrRowNotFound {
			h.log.Error("cancel order", "order_id", ev.OrderID, "err", err)
		}

	default:
		h.log.Warn("drop unknown order event", "type", ev.Type)
	}
}

// HandleSnapshotEvent applies one snapshots.events payload. The first
// balance snapshot also pins the deployment's starting balance.
func (h *Handler) HandleSnapshotEvent(ctx context.Context, payload []byte) {
	var ev model.SnapshotEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		h.log.Warn("drop malformed snapshot event", "err", err)
		return
	}
	if ev.Type != model.EventSnapshotCreated {
		h.log.Warn("drop unknown snapshot event", "type", ev.Type)
		return
	}

	err := h.store.InsertSnapshot(ctx, model.AccountSnapshot{
		SnapshotID:   ev.ID,
		DeploymentID: ev.DeploymentID,
		Timestamp:    ev.Timestamp,
		SnapshotType: ev.SnapshotType,
		Value:        ev.Value,
	})
	if err != nil {
		h.log.Error("insert snapshot", "snapshot_id", ev.ID, "err", err)
		return
	}

	if ev.SnapshotType == model.SnapshotBalance {
		if err := h.store.SetStartingBalanceIfUnset(ctx, ev.DeploymentID, ev.Value.InexactFloat64()); err != nil {
			h.log.Error("set starting balance", "deployment_id", ev.DeploymentID, "err", err)
		}
	}
}
