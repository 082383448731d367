package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"trading-platformv1/internal/model"
)

// UpsertOrder inserts an order row keyed by broker order id, or updates
// the mutable fields on conflict. Status only moves forward along the
// lifecycle DAG; a stale event that would move it backwards is dropped
// inside the transaction, so out-of-order bus delivery converges.
func (s *Store) UpsertOrder(ctx context.Context, deploymentID string, o model.OrderResponse) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin upsert order: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM orders WHERE broker_order_id = ?`, o.OrderID,
	).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		if err := insertOrder(ctx, tx, deploymentID, o); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("sqlite select order %s: %w", o.OrderID, err)
	default:
		if !model.CanTransition(model.OrderStatus(existing), o.Status) {
			log.Printf("[sqlite] order %s: dropping stale transition %s -> %s", o.OrderID, existing, o.Status)
			return tx.Commit()
		}
		if err := updateOrder(ctx, tx, o); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertOrder(ctx context.Context, tx *sql.Tx, deploymentID string, o model.OrderResponse) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (broker_order_id, client_order_id, deployment_id, symbol, side, type,
			quantity, filled_quantity, limit_price, stop_price, avg_fill_price,
			status, time_in_force, broker_metadata, created_at, filled_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.OrderID, o.ClientOrderID, deploymentID, o.Symbol, string(o.Side), string(o.Type),
		o.Quantity.String(), o.FilledQuantity.String(),
		decimalPtrString(o.LimitPrice), decimalPtrString(o.StopPrice), decimalPtrString(o.AvgFillPrice),
		string(o.Status), string(o.TimeInForce), rawJSONString(o.BrokerMetadata),
		o.CreatedAt.Unix(), timePtrUnix(o.FilledAt), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite insert order %s: %w", o.OrderID, err)
	}
	return nil
}

func updateOrder(ctx context.Context, tx *sql.Tx, o model.OrderResponse) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET quantity = ?, filled_quantity = ?, limit_price = ?, stop_price = ?,
			avg_fill_price = ?, status = ?, broker_metadata = ?, filled_at = ?, updated_at = ?
		WHERE broker_order_id = ?
	`, o.Quantity.String(), o.FilledQuantity.String(),
		decimalPtrString(o.LimitPrice), decimalPtrString(o.StopPrice), decimalPtrString(o.AvgFillPrice),
		string(o.Status), rawJSONString(o.BrokerMetadata), timePtrUnix(o.FilledAt), time.Now().Unix(),
		o.OrderID)
	if err != nil {
		return fmt.Errorf("sqlite update order %s: %w", o.OrderID, err)
	}
	return nil
}

// UpdateOrder updates an existing row by broker order id with the same
// forward-only status discipline. Returns ErrRowNotFound when absent.
func (s *Store) UpdateOrder(ctx context.Context, o model.OrderResponse) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin update order: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM orders WHERE broker_order_id = ?`, o.OrderID,
	).Scan(&existing)
	if err == sql.ErrNoRows {
		return model.ErrRowNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite select order %s: %w", o.OrderID, err)
	}
	if !model.CanTransition(model.OrderStatus(existing), o.Status) {
		log.Printf("[sqlite] order %s: dropping stale transition %s -> %s", o.OrderID, existing, o.Status)
		return tx.Commit()
	}
	if err := updateOrder(ctx, tx, o); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkOrderCancelled transitions a row to cancelled by broker order id.
// Terminal rows are left alone.
func (s *Store) MarkOrderCancelled(ctx context.Context, brokerOrderID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin cancel order: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM orders WHERE broker_order_id = ?`, brokerOrderID,
	).Scan(&existing)
	if err == sql.ErrNoRows {
		return model.ErrRowNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite select order %s: %w", brokerOrderID, err)
	}
	if !model.CanTransition(model.OrderStatus(existing), model.StatusCancelled) {
		log.Printf("[sqlite] order %s: cancel dropped, already %s", brokerOrderID, existing)
		return tx.Commit()
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE broker_order_id = ?`,
		string(model.StatusCancelled), time.Now().Unix(), brokerOrderID)
	if err != nil {
		return fmt.Errorf("sqlite cancel order %s: %w", brokerOrderID, err)
	}
	return tx.Commit()
}

// GetOrder fetches a row by broker order id.
func (s *Store) GetOrder(ctx context.Context, brokerOrderID string) (*model.OrderResponse, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT broker_order_id, client_order_id, symbol, side, type,
			quantity, filled_quantity, limit_price, stop_price, avg_fill_price,
			status, time_in_force, broker_metadata, created_at, filled_at
		FROM orders WHERE broker_order_id = ?
	`, brokerOrderID)

	var o model.OrderResponse
	var side, otype, status, tif string
	var quantity, filled string
	var limitPrice, stopPrice, avgFill, metadata sql.NullString
	var createdAt int64
	var filledAt sql.NullInt64

	err := row.Scan(&o.OrderID, &o.ClientOrderID, &o.Symbol, &side, &otype,
		&quantity, &filled, &limitPrice, &stopPrice, &avgFill,
		&status, &tif, &metadata, &createdAt, &filledAt)
	if err == sql.ErrNoRows {
		return nil, model.ErrRowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get order %s: %w", brokerOrderID, err)
	}

	o.Side = model.Side(side)
	o.Type = model.OrderType(otype)
	o.Status = model.OrderStatus(status)
	o.TimeInForce = model.TimeInForce(tif)
	o.CreatedAt = time.Unix(createdAt, 0).UTC()

	if o.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("sqlite bad quantity %q: %w", quantity, err)
	}
	if o.FilledQuantity, err = decimal.NewFromString(filled); err != nil {
		return nil, fmt.Errorf("sqlite bad filled_quantity %q: %w", filled, err)
	}
	if o.LimitPrice, err = decimalFromNull(limitPrice); err != nil {
		return nil, err
	}
	if o.StopPrice, err = decimalFromNull(stopPrice); err != nil {
		return nil, err
	}
	if o.AvgFillPrice, err = decimalFromNull(avgFill); err != nil {
		return nil, err
	}
	if metadata.Valid && metadata.String != "" {
		o.BrokerMetadata = json.RawMessage(metadata.String)
	}
	if filledAt.Valid {
		t := time.Unix(filledAt.Int64, 0).UTC()
		o.FilledAt = &t
	}
	return &o, nil
}

func decimalPtrString(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func decimalFromNull(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, fmt.Errorf("sqlite bad decimal %q: %w", ns.String, err)
	}
	return &d, nil
}

func timePtrUnix(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func rawJSONString(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
