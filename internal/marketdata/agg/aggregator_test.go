package agg

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"trading-platformv1/internal/model"
)

// fakeStore is an in-memory CandleStore keyed like the real table.
type fakeStore struct {
	mu      sync.Mutex
	candles map[string]model.Candle
	order   []model.Candle
	failN   int // fail the next N inserts
}

func newFakeStore() *fakeStore {
	return &fakeStore{candles: make(map[string]model.Candle)}
}

func (s *fakeStore) InsertCandle(_ context.Context, c model.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return errors.New("store unavailable")
	}
	if _, ok := s.candles[c.Key()]; ok {
		return nil // idempotent
	}
	s.candles[c.Key()] = c
	s.order = append(s.order, c)
	return nil
}

func (s *fakeStore) StreamCandles(_ context.Context, source, symbol string, tf model.Timeframe, from, to int64, fn func(model.Candle) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.order {
		if c.Source == source && c.Symbol == symbol && c.Timeframe == tf && c.Timestamp >= from && c.Timestamp < to {
			if err := fn(c); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *fakeStore) LastCandleTS(_ context.Context, source, symbol string, tf model.Timeframe) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last int64
	for _, c := range s.order {
		if c.Source == source && c.Symbol == symbol && c.Timeframe == tf && c.Timestamp > last {
			last = c.Timestamp
		}
	}
	return last, nil
}

// fakeCache is an in-memory RecoveryCache.
type fakeCache struct {
	mu      sync.Mutex
	candles map[string]model.Candle
	prices  map[string]decimal.Decimal
}

func newFakeCache() *fakeCache {
	return &fakeCache{candles: make(map[string]model.Candle), prices: make(map[string]decimal.Decimal)}
}

func (f *fakeCache) SaveCandle(_ context.Context, c model.Candle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candles[c.SeriesKey()] = c
	return nil
}

func (f *fakeCache) LoadCandles(_ context.Context) ([]model.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Candle
	for _, c := range f.candles {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCache) DeleteCandle(_ context.Context, source, symbol string, tf model.Timeframe) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.candles, source+":"+symbol+":"+string(tf))
	return nil
}

func (f *fakeCache) SetLastPrice(_ context.Context, source, symbol string, price decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[source+":"+symbol] = price
	return nil
}

func (f *fakeCache) LastPrice(_ context.Context, source, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[source+":"+symbol]
	if !ok {
		return decimal.Zero, model.ErrRowNotFound
	}
	return p, nil
}

// fakeBus records published payloads per channel.
type fakeBus struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{payloads: make(map[string][][]byte)}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads[channel] = append(b.payloads[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBus) Close() error { return nil }

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func tick(ts int64, price, size string) model.Tick {
	return model.Tick{
		Source:    "sim",
		Symbol:    "X",
		Price:     dec(price),
		Size:      dec(size),
		Timestamp: ts,
	}
}

func newTestAgg(tfs ...model.Timeframe) (*Aggregator, *fakeStore, *fakeCache, *fakeBus) {
	store := newFakeStore()
	cache := newFakeCache()
	bus := newFakeBus()
	return New(store, cache, bus, tfs), store, cache, bus
}

func TestBucketClose(t *testing.T) {
	a, store, _, bus := newTestAgg(model.TF1m)
	ctx := context.Background()

	// Ticks at 59, 60, 61: the tick at 60 crosses the 1m boundary and
	// freezes the first bucket.
	a.HandleTick(ctx, tick(59, "10", "1"))
	a.HandleTick(ctx, tick(60, "11", "1"))
	a.HandleTick(ctx, tick(61, "12", "1"))

	if len(store.order) != 1 {
		t.Fatalf("expected 1 closed candle, got %d", len(store.order))
	}
	closed := store.order[0]
	if closed.Timestamp != 0 {
		t.Errorf("expected closed bucket ts=0, got %d", closed.Timestamp)
	}
	if !closed.Open.Equal(dec("10")) || !closed.Close.Equal(dec("10")) {
		t.Errorf("expected o=c=10, got o=%s c=%s", closed.Open, closed.Close)
	}

	open, ok := a.OpenCandle("sim", "X", model.TF1m)
	if !ok {
		t.Fatal("expected an in-progress candle")
	}
	if open.Timestamp != 60 {
		t.Errorf("expected open bucket ts=60, got %d", open.Timestamp)
	}
	if !open.Open.Equal(dec("11")) || !open.Close.Equal(dec("12")) {
		t.Errorf("expected o=11 c=12, got o=%s c=%s", open.Open, open.Close)
	}

	events := bus.payloads[model.ChannelCandlesClose]
	if len(events) != 1 {
		t.Fatalf("expected 1 close event, got %d", len(events))
	}
	var ev model.CandleCloseEvent
	if err := json.Unmarshal(events[0], &ev); err != nil {
		t.Fatalf("bad event payload: %v", err)
	}
	if got := ev.Candle(); got.Timestamp != 0 || !got.Close.Equal(dec("10")) {
		t.Errorf("event round-trip mismatch: %+v", got)
	}
}

func TestOHLCVInvariantsWithinBucket(t *testing.T) {
	a, _, _, _ := newTestAgg(model.TF1m)
	ctx := context.Background()

	a.HandleTick(ctx, tick(0, "100", "1"))
	a.HandleTick(ctx, tick(10, "110", "2"))
	a.HandleTick(ctx, tick(20, "95", "1"))
	a.HandleTick(ctx, tick(30, "105", "0.5"))

	c, ok := a.OpenCandle("sim", "X", model.TF1m)
	if !ok {
		t.Fatal("expected open candle")
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("invariants violated: %v", err)
	}
	if !c.Open.Equal(dec("100")) || !c.High.Equal(dec("110")) || !c.Low.Equal(dec("95")) || !c.Close.Equal(dec("105")) {
		t.Errorf("unexpected OHLC: o=%s h=%s l=%s c=%s", c.Open, c.High, c.Low, c.Close)
	}
	if !c.Volume.Equal(dec("4.5")) {
		t.Errorf("expected volume 4.5, got %s", c.Volume)
	}
}

func TestAllTimeframesPerTick(t *testing.T) {
	a, _, _, _ := newTestAgg() // empty = all supported
	ctx := context.Background()

	a.HandleTick(ctx, tick(3700, "50", "1"))

	for _, tf := range model.AllTimeframes() {
		c, ok := a.OpenCandle("sim", "X", tf)
		if !ok {
			t.Fatalf("no candle for %s", tf)
		}
		if c.Timestamp != tf.Bucket(3700) {
			t.Errorf("%s: expected ts=%d, got %d", tf, tf.Bucket(3700), c.Timestamp)
		}
	}
}

func TestLateTickDropped(t *testing.T) {
	a, store, _, _ := newTestAgg(model.TF1m)
	ctx := context.Background()

	var dropped int
	a.OnDroppedTick = func() { dropped++ }

	a.HandleTick(ctx, tick(60, "10", "1"))
	a.HandleTick(ctx, tick(30, "999", "1")) // belongs to the closed [0,60) bucket

	if dropped != 1 {
		t.Errorf("expected 1 dropped tick, got %d", dropped)
	}
	c, _ := a.OpenCandle("sim", "X", model.TF1m)
	if !c.High.Equal(dec("10")) {
		t.Errorf("late tick mutated open candle: high=%s", c.High)
	}
	if len(store.order) != 0 {
		t.Errorf("late tick must not close anything, got %d closes", len(store.order))
	}
}

func TestDuplicateTickIgnored(t *testing.T) {
	a, _, _, _ := newTestAgg(model.TF1m)
	ctx := context.Background()

	a.HandleTick(ctx, tick(10, "100", "2"))
	a.HandleTick(ctx, tick(10, "100", "2")) // same ts:price:size

	c, _ := a.OpenCandle("sim", "X", model.TF1m)
	if !c.Volume.Equal(dec("2")) {
		t.Errorf("duplicate tick inflated volume: %s", c.Volume)
	}
}

func TestInsertRetrySucceeds(t *testing.T) {
	a, store, _, bus := newTestAgg(model.TF1m)
	ctx := context.Background()

	a.HandleTick(ctx, tick(0, "10", "1"))
	store.failN = 2 // first two attempts fail, third succeeds
	a.HandleTick(ctx, tick(60, "11", "1"))

	if len(store.order) != 1 {
		t.Fatalf("expected candle stored after retries, got %d", len(store.order))
	}
	if len(bus.payloads[model.ChannelCandlesClose]) != 1 {
		t.Errorf("expected close event after retries")
	}
}

func TestRecoverRehydratesInProgress(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	bus := newFakeBus()
	ctx := context.Background()

	// A previous run left an in-progress candle in the cache.
	cache.SaveCandle(ctx, model.Candle{
		Source: "sim", Symbol: "X", Timeframe: model.TF1m, Timestamp: 0,
		Open: dec("10"), High: dec("12"), Low: dec("9"), Close: dec("11"), Volume: dec("3"),
	})

	a := New(store, cache, bus, []model.Timeframe{model.TF1m})
	if err := a.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	// A tick in the same bucket extends the recovered candle.
	a.HandleTick(ctx, tick(59, "13", "1"))

	c, ok := a.OpenCandle("sim", "X", model.TF1m)
	if !ok {
		t.Fatal("expected recovered candle")
	}
	if !c.Open.Equal(dec("10")) {
		t.Errorf("recovery lost open: %s", c.Open)
	}
	if !c.High.Equal(dec("13")) || !c.Volume.Equal(dec("4")) {
		t.Errorf("tick did not extend recovered candle: h=%s v=%s", c.High, c.Volume)
	}
}

func TestCacheTracksOpenCandleAndPrice(t *testing.T) {
	a, _, cache, _ := newTestAgg(model.TF1m)
	ctx := context.Background()

	a.HandleTick(ctx, tick(0, "10", "1"))
	a.HandleTick(ctx, tick(5, "12", "1"))

	cached, ok := cache.candles["sim:X:1m"]
	if !ok {
		t.Fatal("expected cached in-progress candle")
	}
	if !cached.Close.Equal(dec("12")) {
		t.Errorf("cache stale: close=%s", cached.Close)
	}

	price, err := cache.LastPrice(ctx, "sim", "X")
	if err != nil {
		t.Fatalf("last price: %v", err)
	}
	if !price.Equal(dec("12")) {
		t.Errorf("expected last price 12, got %s", price)
	}

	// Closing the bucket moves the cache to the new bucket.
	a.HandleTick(ctx, tick(60, "13", "1"))
	if c, ok := cache.candles["sim:X:1m"]; !ok || c.Timestamp != 60 {
		t.Errorf("expected cache to hold the new bucket, got %+v ok=%v", c, ok)
	}
}

func TestDeterministicReplay(t *testing.T) {
	ticks := []model.Tick{
		tick(0, "10", "1"), tick(20, "12", "2"), tick(59, "9", "1"),
		tick(61, "11", "1"), tick(130, "14", "3"),
	}

	run := func() []model.Candle {
		a, store, _, _ := newTestAgg(model.TF1m)
		for _, tk := range ticks {
			a.HandleTick(context.Background(), tk)
		}
		return store.order
	}

	first, second := run(), run()
	if len(first) != len(second) || len(first) != 2 {
		t.Fatalf("expected 2 closed candles both runs, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Key() != second[i].Key() || !first[i].Close.Equal(second[i].Close) {
			t.Errorf("replay diverged at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestOnCandleClosedReceivesClosedCandle(t *testing.T) {
	a, _, _, _ := newTestAgg(model.TF1m)
	ctx := context.Background()

	var closed []model.Candle
	a.OnCandleClosed = func(c model.Candle) {
		closed = append(closed, c)
	}

	a.HandleTick(ctx, tick(59, "10", "1"))
	a.HandleTick(ctx, tick(60, "11", "1"))

	if len(closed) != 1 {
		t.Fatalf("hook fired %d times, want 1", len(closed))
	}
	c := closed[0]
	if c.Timeframe != model.TF1m || c.Timestamp != 0 {
		t.Errorf("hook got %s bucket ts=%d, want 1m ts=0", c.Timeframe, c.Timestamp)
	}
	if !c.Close.Equal(dec("10")) {
		t.Errorf("hook got close %s, want 10", c.Close)
	}
}
