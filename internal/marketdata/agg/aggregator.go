// Package agg builds OHLCV candles from a stream of raw trades. One
// aggregator goroutine owns all candle state, so updates for a given
// (source, symbol, timeframe) series are trivially atomic.
package agg

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"trading-platformv1/internal/model"
)

const (
	insertMaxRetries = 5
	insertRetryBase  = 100 * time.Millisecond

	// dedupWindow bounds how long a trade key is remembered. Venue
	// replays on reconnect land well inside this.
	dedupWindow = 120
)

// Aggregator folds ticks into one in-progress candle per
// (source, symbol, timeframe). A candle closes when the first tick of a
// later bucket arrives; the closed candle is made durable in the store
// before its close event publishes.
type Aggregator struct {
	store      model.CandleStore
	cache      model.RecoveryCache
	bus        model.Bus
	timeframes []model.Timeframe

	states map[string]*model.Candle // key = source:symbol:tf
	seen   map[string]int64         // source:symbol:tickKey -> tick ts

	// Metrics hooks (optional, set externally)
	OnDroppedTick  func()
	OnCandleClosed func(model.Candle)
}

// New creates an aggregator over the given timeframes. An empty list
// means all supported timeframes.
func New(store model.CandleStore, cache model.RecoveryCache, bus model.Bus, timeframes []model.Timeframe) *Aggregator {
	if len(timeframes) == 0 {
		timeframes = model.AllTimeframes()
	}
	return &Aggregator{
		store:      store,
		cache:      cache,
		bus:        bus,
		timeframes: timeframes,
		states:     make(map[string]*model.Candle),
		seen:       make(map[string]int64),
	}
}

// Recover rehydrates in-progress candles from the recovery cache. Call
// before Run so ticks arriving after a restart extend the interrupted
// buckets instead of opening fresh ones.
func (a *Aggregator) Recover(ctx context.Context) error {
	candles, err := a.cache.LoadCandles(ctx)
	if err != nil {
		return err
	}
	for i := range candles {
		c := candles[i]
		if err := c.Validate(); err != nil {
			log.Printf("[agg] skipping invalid cached candle: %v", err)
			continue
		}
		a.states[c.SeriesKey()] = &c
	}
	if len(candles) > 0 {
		log.Printf("[agg] recovered %d in-progress candles", len(candles))
	}
	return nil
}

// Run consumes ticks from tickCh until ctx is cancelled or the channel
// closes. On exit the in-progress candles stay in the recovery cache for
// the next run; nothing unfinished is ever emitted as closed.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-tickCh:
			if !ok {
				return
			}
			a.HandleTick(ctx, tick)
		}
	}
}

// HandleTick folds one tick into every timeframe series. Exported for
// synchronous use by the backfill path.
func (a *Aggregator) HandleTick(ctx context.Context, tick model.Tick) {
	if a.duplicate(tick) {
		if a.OnDroppedTick != nil {
			a.OnDroppedTick()
		}
		return
	}

	for _, tf := range a.timeframes {
		a.applyTick(ctx, tick, tf)
	}

	if err := a.cache.SetLastPrice(ctx, tick.Source, tick.Symbol, tick.Price); err != nil {
		log.Printf("[agg] cache last price %s:%s: %v", tick.Source, tick.Symbol, err)
	}
}

// duplicate reports whether this trade was already seen, and records it
// otherwise. Keys age out after dedupWindow seconds.
func (a *Aggregator) duplicate(tick model.Tick) bool {
	key := tick.Source + ":" + tick.Symbol + ":" + tick.Key()
	if _, ok := a.seen[key]; ok {
		return true
	}
	a.seen[key] = tick.Timestamp

	if len(a.seen)%1024 == 0 {
		cutoff := tick.Timestamp - dedupWindow
		for k, ts := range a.seen {
			if ts < cutoff {
				delete(a.seen, k)
			}
		}
	}
	return false
}

func (a *Aggregator) applyTick(ctx context.Context, tick model.Tick, tf model.Timeframe) {
	bucket := tf.Bucket(tick.Timestamp)
	key := tick.Source + ":" + tick.Symbol + ":" + string(tf)

	state, exists := a.states[key]

	if exists && bucket < state.Timestamp {
		// Late tick — belongs to an already-closed bucket, drop it
		log.Printf("[agg] dropping late tick %s ts=%d (open bucket %d)", key, tick.Timestamp, state.Timestamp)
		if a.OnDroppedTick != nil {
			a.OnDroppedTick()
		}
		return
	}

	if exists && bucket > state.Timestamp {
		// New bucket — the old candle is complete, close it first
		a.closeCandle(ctx, *state)
		delete(a.states, key)
		exists = false
	}

	if !exists {
		c := model.NewCandleFromTick(tick, tf)
		a.states[key] = &c
		a.saveInProgress(ctx, c)
		return
	}

	state.ApplyTick(tick)
	a.saveInProgress(ctx, *state)
}

// saveInProgress caches the open candle after every update. Cache
// failures only cost recovery fidelity, never pipeline progress.
func (a *Aggregator) saveInProgress(ctx context.Context, c model.Candle) {
	if err := a.cache.SaveCandle(ctx, c); err != nil {
		log.Printf("[agg] cache candle %s: %v", c.Key(), err)
	}
}

// closeCandle makes the candle durable, then publishes its close event.
// The insert retries with exponential backoff; past the retry cap the
// candle is logged and dropped rather than stalling the tick stream.
func (a *Aggregator) closeCandle(ctx context.Context, c model.Candle) {
	if err := c.Validate(); err != nil {
		log.Printf("[agg] refusing to close invalid candle: %v", err)
		return
	}

	var err error
	for attempt := 0; attempt < insertMaxRetries; attempt++ {
		if err = a.store.InsertCandle(ctx, c); err == nil {
			break
		}
		delay := insertRetryBase << uint(attempt)
		log.Printf("[agg] insert candle %s failed (attempt %d): %v, retrying in %v", c.Key(), attempt+1, err, delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	if err != nil {
		log.Printf("[agg] dropping candle %s past retry cap: %v", c.Key(), err)
		return
	}

	ev := model.NewCandleCloseEvent(c)
	payload, merr := json.Marshal(ev)
	if merr != nil {
		log.Printf("[agg] marshal close event %s: %v", c.Key(), merr)
	} else if err := a.bus.Publish(ctx, model.ChannelCandlesClose, payload); err != nil {
		// The candle is already durable; subscribers converge from the store.
		log.Printf("[agg] publish close %s: %v", c.Key(), err)
	}

	if err := a.cache.DeleteCandle(ctx, c.Source, c.Symbol, c.Timeframe); err != nil {
		log.Printf("[agg] cache delete %s: %v", c.Key(), err)
	}

	if a.OnCandleClosed != nil {
		a.OnCandleClosed(c)
	}
}

// OpenCandle returns a copy of the in-progress candle for a series, if any.
func (a *Aggregator) OpenCandle(source, symbol string, tf model.Timeframe) (model.Candle, bool) {
	state, ok := a.states[source+":"+symbol+":"+string(tf)]
	if !ok {
		return model.Candle{}, false
	}
	return *state, true
}
