// Package replay feeds stored ticks back through the live aggregation
// path. It is used to rebuild candle series after a schema change and to
// drive strategies against recorded market data at accelerated speed.
package replay

import (
	"context"
	"log"
	"time"

	"trading-platformv1/internal/model"
)

// TickReader is the slice of the tick store replay needs.
type TickReader interface {
	StreamTicks(ctx context.Context, source, symbol string, from, to int64, fn func(model.Tick) error) error
}

// Replayer reads stored ticks and emits them to a sink at a configurable
// speed multiplier.
type Replayer struct {
	reader TickReader
	source string
}

// New creates a Replayer over the given tick store.
func New(reader TickReader, source string) *Replayer {
	return &Replayer{reader: reader, source: source}
}

// Run replays all ticks for symbol in [from, to), calling sink for each
// in timestamp order. speed controls pacing: 1.0 = real-time, 10.0 =
// 10x, 0 = as fast as possible. The sink is typically the aggregator's
// HandleTick plus a bus publisher, so replayed ticks take the same path
// live ticks do.
func (r *Replayer) Run(ctx context.Context, symbol string, from, to int64, speed float64, sink func(model.Tick)) error {
	var prevTS int64
	emitted := 0

	err := r.reader.StreamTicks(ctx, r.source, symbol, from, to, func(t model.Tick) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Reproduce inter-tick gaps, scaled by speed. Capped so a
		// weekend gap in the data does not stall the replay.
		if speed > 0 && prevTS != 0 && t.Timestamp > prevTS {
			gap := time.Duration(t.Timestamp-prevTS) * time.Second
			scaled := time.Duration(float64(gap) / speed)
			if scaled > 5*time.Second {
				scaled = 5 * time.Second
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(scaled):
			}
		}
		prevTS = t.Timestamp

		sink(t)
		emitted++
		return nil
	})
	if err != nil {
		log.Printf("[replay] aborted after %d ticks: %v", emitted, err)
		return err
	}

	if emitted == 0 {
		log.Printf("[replay] no stored ticks for %s in [%d, %d)", symbol, from, to)
		return nil
	}
	log.Printf("[replay] completed: %d ticks replayed for %s", emitted, symbol)
	return nil
}
