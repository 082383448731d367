package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"trading-platformv1/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond

	streamBatchSize = 500
)

// InsertCandle writes one closed candle. The primary key on
// (source, symbol, timeframe, ts) makes re-inserts a no-op, which is
// what lets the aggregator retry after a partial failure.
func (s *Store) InsertCandle(ctx context.Context, c model.Candle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO ohlc_levels (source, symbol, timeframe, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.Source, c.Symbol, string(c.Timeframe), c.Timestamp,
		c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String())
	if err != nil {
		return fmt.Errorf("sqlite insert candle %s: %w", c.Key(), err)
	}
	return nil
}

// RunCandleWriter reads closed candles from candleCh and inserts them in
// batched transactions. Flushes every defaultBatchSize candles OR every
// defaultFlushDelay, whichever first. Used by bulk paths (backfill,
// bus-fed archival); the aggregator inserts synchronously instead so the
// candle is durable before its close event publishes.
func (s *Store) RunCandleWriter(ctx context.Context, candleCh <-chan model.Candle) {
	batch := make([]model.Candle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := s.insertCandleBatch(batch); err != nil {
			log.Printf("[sqlite] candle batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d candles in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case candle, ok := <-candleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, candle)
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

func (s *Store) insertCandleBatch(candles []model.Candle) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO ohlc_levels (source, symbol, timeframe, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.Exec(c.Source, c.Symbol, string(c.Timeframe), c.Timestamp,
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String())
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// StreamCandles calls fn for every stored candle in [from, to) ordered
// by ascending timestamp. Reads are keyset-paginated so a multi-year
// range never loads into memory at once.
func (s *Store) StreamCandles(ctx context.Context, source, symbol string, tf model.Timeframe, from, to int64, fn func(model.Candle) error) error {
	cursor := from - 1
	for {
		batch, err := s.readCandleBatch(ctx, source, symbol, tf, cursor, to)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, c := range batch {
			if err := fn(c); err != nil {
				return err
			}
		}
		cursor = batch[len(batch)-1].Timestamp
		if len(batch) < streamBatchSize {
			return nil
		}
	}
}

func (s *Store) readCandleBatch(ctx context.Context, source, symbol string, tf model.Timeframe, afterTS, to int64) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, symbol, timeframe, ts, open, high, low, close, volume
		FROM ohlc_levels
		WHERE source = ? AND symbol = ? AND timeframe = ? AND ts > ? AND ts < ?
		ORDER BY ts ASC
		LIMIT ?
	`, source, symbol, string(tf), afterTS, to, streamBatchSize)
	if err != nil {
		return nil, fmt.Errorf("sqlite query ohlc_levels: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func scanCandle(rows *sql.Rows) (model.Candle, error) {
	var c model.Candle
	var tf, open, high, low, clos, volume string
	if err := rows.Scan(&c.Source, &c.Symbol, &tf, &c.Timestamp, &open, &high, &low, &clos, &volume); err != nil {
		return c, fmt.Errorf("sqlite scan ohlc_levels: %w", err)
	}
	c.Timeframe = model.Timeframe(tf)

	var err error
	if c.Open, err = decimal.NewFromString(open); err != nil {
		return c, fmt.Errorf("sqlite bad open %q: %w", open, err)
	}
	if c.High, err = decimal.NewFromString(high); err != nil {
		return c, fmt.Errorf("sqlite bad high %q: %w", high, err)
	}
	if c.Low, err = decimal.NewFromString(low); err != nil {
		return c, fmt.Errorf("sqlite bad low %q: %w", low, err)
	}
	if c.Close, err = decimal.NewFromString(clos); err != nil {
		return c, fmt.Errorf("sqlite bad close %q: %w", clos, err)
	}
	if c.Volume, err = decimal.NewFromString(volume); err != nil {
		return c, fmt.Errorf("sqlite bad volume %q: %w", volume, err)
	}
	return c, nil
}

// LastCandleTS returns the newest stored bucket timestamp for a series,
// or 0 when no candles exist.
func (s *Store) LastCandleTS(ctx context.Context, source, symbol string, tf model.Timeframe) (int64, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM ohlc_levels WHERE source = ? AND symbol = ? AND timeframe = ?`,
		source, symbol, string(tf),
	).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}
