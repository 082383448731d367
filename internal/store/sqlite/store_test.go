package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-platformv1/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func testCandle(ts int64, close string) model.Candle {
	return model.Candle{
		Source:    "sim",
		Symbol:    "BTC-USD",
		Timeframe: model.TF1m,
		Timestamp: ts,
		Open:      dec("100"),
		High:      dec("110"),
		Low:       dec("90"),
		Close:     dec(close),
		Volume:    dec("5"),
	}
}

func TestInsertCandle_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := testCandle(60, "105")
	if err := s.InsertCandle(ctx, c); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Same key with different close: first write wins, no error.
	c2 := testCandle(60, "999")
	if err := s.InsertCandle(ctx, c2); err != nil {
		t.Fatalf("re-insert: %v", err)
	}

	var got []model.Candle
	err := s.StreamCandles(ctx, "sim", "BTC-USD", model.TF1m, 0, 1000, func(c model.Candle) error {
		got = append(got, c)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(got))
	}
	if !got[0].Close.Equal(dec("105")) {
		t.Errorf("expected first write to win, got close %s", got[0].Close)
	}
}

func TestStreamCandles_OrderAndRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Insert out of order; stream must come back ascending.
	for _, ts := range []int64{180, 60, 120, 240} {
		if err := s.InsertCandle(ctx, testCandle(ts, "100")); err != nil {
			t.Fatalf("insert ts=%d: %v", ts, err)
		}
	}

	var got []int64
	err := s.StreamCandles(ctx, "sim", "BTC-USD", model.TF1m, 60, 240, func(c model.Candle) error {
		got = append(got, c.Timestamp)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	// [from, to): 240 is excluded.
	want := []int64{60, 120, 180}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestLastCandleTS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ts, err := s.LastCandleTS(ctx, "sim", "BTC-USD", model.TF1m)
	if err != nil {
		t.Fatalf("last ts empty: %v", err)
	}
	if ts != 0 {
		t.Errorf("expected 0 for empty series, got %d", ts)
	}

	s.InsertCandle(ctx, testCandle(60, "100"))
	s.InsertCandle(ctx, testCandle(300, "100"))

	ts, err = s.LastCandleTS(ctx, "sim", "BTC-USD", model.TF1m)
	if err != nil {
		t.Fatalf("last ts: %v", err)
	}
	if ts != 300 {
		t.Errorf("expected 300, got %d", ts)
	}
}

func TestInsertTicks_Dedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tick := model.Tick{
		Source:    "sim",
		Symbol:    "BTC-USD",
		Price:     dec("100.5"),
		Size:      dec("0.25"),
		Timestamp: 1000,
	}
	// Same (ts, price, size) twice in one batch and again in a second batch.
	if err := s.InsertTicks(ctx, []model.Tick{tick, tick}); err != nil {
		t.Fatalf("insert batch: %v", err)
	}
	if err := s.InsertTicks(ctx, []model.Tick{tick}); err != nil {
		t.Fatalf("insert again: %v", err)
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ticks`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 tick row, got %d", n)
	}
}

func testOrder(id string, status model.OrderStatus) model.OrderResponse {
	return model.OrderResponse{
		OrderID:     id,
		Symbol:      "BTC-USD",
		Side:        model.SideBuy,
		Type:        model.OrderTypeMarket,
		Quantity:    dec("1"),
		Status:      status,
		TimeInForce: model.TIFGTC,
		CreatedAt:   time.Unix(1000, 0).UTC(),
	}
}

func TestUpsertOrder_ForwardOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertOrder(ctx, "dep-1", testOrder("ord-1", model.StatusSubmitted)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.UpsertOrder(ctx, "dep-1", testOrder("ord-1", model.StatusFilled)); err != nil {
		t.Fatalf("advance: %v", err)
	}

	// Stale redelivery must not move the row backwards.
	if err := s.UpsertOrder(ctx, "dep-1", testOrder("ord-1", model.StatusSubmitted)); err != nil {
		t.Fatalf("stale upsert: %v", err)
	}

	got, err := s.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusFilled {
		t.Errorf("expected filled, got %s", got.Status)
	}
}

func TestUpsertOrder_DuplicateEventOneRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := testOrder("ord-dup", model.StatusSubmitted)
	if err := s.UpsertOrder(ctx, "dep-1", o); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := s.UpsertOrder(ctx, "dep-1", o); err != nil {
		t.Fatalf("duplicate: %v", err)
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 order row, got %d", n)
	}
}

func TestUpdateOrder_Missing(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateOrder(context.Background(), testOrder("ghost", model.StatusFilled))
	if !errors.Is(err, model.ErrRowNotFound) {
		t.Errorf("expected ErrRowNotFound, got %v", err)
	}
}

func TestMarkOrderCancelled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.UpsertOrder(ctx, "dep-1", testOrder("ord-c", model.StatusSubmitted))
	if err := s.MarkOrderCancelled(ctx, "ord-c"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := s.GetOrder(ctx, "ord-c")
	if got.Status != model.StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}

	// Cancelling a filled order is dropped, not an error.
	s.UpsertOrder(ctx, "dep-1", testOrder("ord-f", model.StatusFilled))
	if err := s.MarkOrderCancelled(ctx, "ord-f"); err != nil {
		t.Fatalf("cancel filled: %v", err)
	}
	got, _ = s.GetOrder(ctx, "ord-f")
	if got.Status != model.StatusFilled {
		t.Errorf("expected filled to stay, got %s", got.Status)
	}
}

func TestGetOrder_RoundTripOptionalFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	limit := dec("99.5")
	filledAt := time.Unix(2000, 0).UTC()
	o := testOrder("ord-r", model.StatusFilled)
	o.Type = model.OrderTypeLimit
	o.LimitPrice = &limit
	o.AvgFillPrice = &limit
	o.FilledQuantity = dec("1")
	o.FilledAt = &filledAt

	if err := s.UpsertOrder(ctx, "dep-1", o); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.GetOrder(ctx, "ord-r")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LimitPrice == nil || !got.LimitPrice.Equal(limit) {
		t.Errorf("limit price lost: %v", got.LimitPrice)
	}
	if got.AvgFillPrice == nil || !got.AvgFillPrice.Equal(limit) {
		t.Errorf("avg fill price lost: %v", got.AvgFillPrice)
	}
	if got.FilledAt == nil || !got.FilledAt.Equal(filledAt) {
		t.Errorf("filled_at lost: %v", got.FilledAt)
	}
	if got.StopPrice != nil {
		t.Errorf("expected nil stop price, got %v", got.StopPrice)
	}
}

func TestDeploymentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := model.Deployment{
		DeploymentID:       "dep-1",
		StrategyID:         "sma_crossover",
		BrokerConnectionID: "paper",
		Symbol:             "BTC-USD",
		Timeframe:          model.TF1m,
		Status:             model.DeploymentPending,
	}
	if err := s.InsertDeployment(ctx, d); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.UpdateDeploymentStatus(ctx, "dep-1", model.DeploymentRunning, "", nil); err != nil {
		t.Fatalf("running: %v", err)
	}
	stopped := time.Unix(3000, 0).UTC()
	if err := s.UpdateDeploymentStatus(ctx, "dep-1", model.DeploymentStopped, "", &stopped); err != nil {
		t.Fatalf("stopped: %v", err)
	}

	// Terminal row cannot move again.
	err := s.UpdateDeploymentStatus(ctx, "dep-1", model.DeploymentRunning, "", nil)
	if !errors.Is(err, model.ErrTransactionConflict) {
		t.Errorf("expected ErrTransactionConflict, got %v", err)
	}

	got, err := s.GetDeployment(ctx, "dep-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.DeploymentStopped {
		t.Errorf("expected stopped, got %s", got.Status)
	}
	if got.StoppedAt == nil || !got.StoppedAt.Equal(stopped) {
		t.Errorf("stopped_at lost: %v", got.StoppedAt)
	}
}

func TestSetStartingBalanceIfUnset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.InsertDeployment(ctx, model.Deployment{
		DeploymentID:       "dep-b",
		StrategyID:         "buy_hold",
		BrokerConnectionID: "paper",
		Symbol:             "BTC-USD",
		Timeframe:          model.TF1m,
		Status:             model.DeploymentPending,
	})

	if err := s.SetStartingBalanceIfUnset(ctx, "dep-b", 100000); err != nil {
		t.Fatalf("first set: %v", err)
	}
	// Second balance snapshot must not overwrite.
	if err := s.SetStartingBalanceIfUnset(ctx, "dep-b", 95000); err != nil {
		t.Fatalf("second set: %v", err)
	}

	got, _ := s.GetDeployment(ctx, "dep-b")
	if got.StartingBalance == nil || *got.StartingBalance != 100000 {
		t.Errorf("expected starting balance 100000, got %v", got.StartingBalance)
	}
}

func TestInsertSnapshot_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := model.AccountSnapshot{
		SnapshotID:   "snap-1",
		DeploymentID: "dep-1",
		Timestamp:    1000,
		SnapshotType: model.SnapshotEquity,
		Value:        dec("100500"),
	}
	if err := s.InsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	n, err := s.SnapshotCount(ctx, "dep-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 snapshot, got %d", n)
	}
}

func TestBacktestMetricsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := model.Backtest{
		BacktestID:      "bt-1",
		StrategyID:      "sma_crossover",
		Symbol:          "BTC-USD",
		StartDate:       time.Unix(0, 0).UTC(),
		EndDate:         time.Unix(86400, 0).UTC(),
		Timeframe:       model.TF1h,
		StartingBalance: dec("100000"),
		Status:          model.BacktestPending,
		CreatedAt:       time.Unix(100, 0).UTC(),
	}
	if err := s.InsertBacktest(ctx, b); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.UpdateBacktestStatus(ctx, "bt-1", model.BacktestCompleted, ""); err != nil {
		t.Fatalf("status: %v", err)
	}

	m := &model.BacktestMetrics{
		RealisedPnL:    50,
		TotalReturnPct: 0.05,
		TotalTrades:    2,
		MaxDrawdown:    -1.2,
		EquityCurve:    []model.EquityPoint{{Timestamp: 60, Value: 100050}},
	}
	if err := s.SaveBacktestMetrics(ctx, "bt-1", m); err != nil {
		t.Fatalf("metrics: %v", err)
	}

	got, err := s.GetBacktest(ctx, "bt-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.BacktestCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.Metrics == nil || got.Metrics.RealisedPnL != 50 || len(got.Metrics.EquityCurve) != 1 {
		t.Errorf("metrics lost: %+v", got.Metrics)
	}

	if err := s.UpdateBacktestStatus(ctx, "ghost", model.BacktestFailed, "x"); !errors.Is(err, model.ErrRowNotFound) {
		t.Errorf("expected ErrRowNotFound, got %v", err)
	}
}
