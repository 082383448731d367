package sqlite

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"trading-platformv1/internal/model"
)

// InsertTicks writes raw trades in one transaction. The primary key on
// (source, tick_key) drops venue-replayed duplicates.
func (s *Store) InsertTicks(ctx context.Context, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin ticks: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO ticks (source, symbol, market_type, tick_key, price, size, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, t := range ticks {
		_, err := stmt.Exec(t.Source, t.Symbol, t.MarketType, t.Key(),
			t.Price.String(), t.Size.String(), t.Timestamp)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// StreamTicks calls fn for every stored tick for the symbol in [from, to)
// ordered by ascending timestamp. Keyset-paginated like StreamCandles so
// long ranges never load into memory at once. Ticks sharing a timestamp
// are returned in tick_key order, which keeps pagination stable.
func (s *Store) StreamTicks(ctx context.Context, source, symbol string, from, to int64, fn func(model.Tick) error) error {
	cursorTS := from - 1
	cursorKey := ""
	for {
		rows, err := s.db.QueryContext(ctx, `
			SELECT source, symbol, market_type, tick_key, price, size, ts
			FROM ticks
			WHERE source = ? AND symbol = ? AND ts < ?
			  AND (ts > ? OR (ts = ? AND tick_key > ?))
			ORDER BY ts ASC, tick_key ASC
			LIMIT ?
		`, source, symbol, to, cursorTS, cursorTS, cursorKey, streamBatchSize)
		if err != nil {
			return fmt.Errorf("sqlite query ticks: %w", err)
		}

		n := 0
		for rows.Next() {
			var t model.Tick
			var key, price, size string
			if err := rows.Scan(&t.Source, &t.Symbol, &t.MarketType, &key, &price, &size, &t.Timestamp); err != nil {
				rows.Close()
				return fmt.Errorf("sqlite scan ticks: %w", err)
			}
			if t.Price, err = decimal.NewFromString(price); err != nil {
				rows.Close()
				return fmt.Errorf("sqlite bad tick price %q: %w", price, err)
			}
			if t.Size, err = decimal.NewFromString(size); err != nil {
				rows.Close()
				return fmt.Errorf("sqlite bad tick size %q: %w", size, err)
			}
			if err := fn(t); err != nil {
				rows.Close()
				return err
			}
			cursorTS, cursorKey = t.Timestamp, key
			n++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		if n < streamBatchSize {
			return nil
		}
	}
}

// RunTickWriter drains raw ticks from tickCh into batched transactions,
// flushing on size or on the delay timer. Runs until ctx is cancelled or
// the channel closes.
func (s *Store) RunTickWriter(ctx context.Context, tickCh <-chan model.Tick) {
	batch := make([]model.Tick, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := s.InsertTicks(context.Background(), batch); err != nil {
			log.Printf("[sqlite] tick batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d ticks in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case tick, ok := <-tickCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, tick)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}
