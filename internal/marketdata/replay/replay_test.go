package replay

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"trading-platformv1/internal/model"
	"trading-platformv1/internal/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "replay.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func tick(ts int64, price float64) model.Tick {
	return model.Tick{
		Source:    "sim",
		Symbol:    "AAPL",
		Price:     decimal.NewFromFloat(price),
		Size:      decimal.NewFromInt(1),
		Timestamp: ts,
	}
}

func TestRun_EmitsStoredTicksInOrder(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// Inserted out of order; replay must come back sorted.
	ticks := []model.Tick{tick(300, 101), tick(100, 100), tick(200, 100.5)}
	if err := store.InsertTicks(ctx, ticks); err != nil {
		t.Fatalf("insert ticks: %v", err)
	}

	var got []model.Tick
	r := New(store, "sim")
	if err := r.Run(ctx, "AAPL", 0, 1000, 0, func(tk model.Tick) {
		got = append(got, tk)
	}); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("got %d ticks, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp < got[i-1].Timestamp {
			t.Errorf("tick %d out of order: %d after %d", i, got[i].Timestamp, got[i-1].Timestamp)
		}
	}
	if !got[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("first tick price = %s, want 100", got[0].Price)
	}
}

func TestRun_RangeIsHalfOpen(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.InsertTicks(ctx, []model.Tick{tick(100, 1), tick(200, 2), tick(300, 3)}); err != nil {
		t.Fatalf("insert ticks: %v", err)
	}

	var got []int64
	r := New(store, "sim")
	if err := r.Run(ctx, "AAPL", 100, 300, 0, func(tk model.Tick) {
		got = append(got, tk.Timestamp)
	}); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(got) != 2 || got[0] != 100 || got[1] != 200 {
		t.Errorf("got timestamps %v, want [100 200]", got)
	}
}

func TestRun_EmptyRange(t *testing.T) {
	store := newStore(t)

	calls := 0
	r := New(store, "sim")
	if err := r.Run(context.Background(), "AAPL", 0, 1000, 0, func(model.Tick) { calls++ }); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 0 {
		t.Errorf("sink called %d times on empty store", calls)
	}
}
