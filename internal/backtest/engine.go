// Package backtest replays stored candles through a strategy against
// the simulated broker and persists a performance summary on the
// backtest row.
package backtest

import (
	"context"
	"fmt"
	"log/slog"

	"trading-platformv1/internal/broker/sim"
	"trading-platformv1/internal/model"
	"trading-platformv1/internal/strategy"
)

// Store is the persistence surface the engine needs: candles to replay
// and the backtest row to report into.
type Store interface {
	model.CandleStore
	model.BacktestStore
}

// Engine runs backtests one at a time.
type Engine struct {
	store Store
	// source selects which venue's candles feed the replay.
	source string
	log    *slog.Logger
}

// New creates an engine replaying candles recorded under source.
func New(store Store, source string, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, source: source, log: log}
}

// Run executes one backtest to completion. The row moves pending →
// running → completed, or → failed with the error message recorded.
// Strategy errors on individual candles are logged and skipped; only
// setup and storage failures abort the run.
func (e *Engine) Run(ctx context.Context, backtestID string, params strategy.Params) (*model.BacktestMetrics, error) {
	bt, err := e.store.GetBacktest(ctx, backtestID)
	if err != nil {
		return nil, fmt.Errorf("load backtest: %w", err)
	}

	metrics, err := e.run(ctx, bt, params)
	if err != nil {
		if uerr := e.store.UpdateBacktestStatus(ctx, backtestID, model.BacktestFailed, err.Error()); uerr != nil {
			e.log.Error("mark backtest failed", "backtest_id", backtestID, "err", uerr)
		}
		return nil, err
	}

	if err := e.store.SaveBacktestMetrics(ctx, backtestID, metrics); err != nil {
		return nil, fmt.Errorf("save metrics: %w", err)
	}
	if err := e.store.UpdateBacktestStatus(ctx, backtestID, model.BacktestCompleted, ""); err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}
	return metrics, nil
}

func (e *Engine) run(ctx context.Context, bt *model.Backtest, params strategy.Params) (*model.BacktestMetrics, error) {
	if err := e.store.UpdateBacktestStatus(ctx, bt.BacktestID, model.BacktestRunning, ""); err != nil {
		return nil, fmt.Errorf("mark running: %w", err)
	}

	strat, err := strategy.New(bt.StrategyID, params)
	if err != nil {
		return nil, err
	}

	broker := sim.New(bt.StartingBalance)
	sc := &strategy.Context{
		Ctx:    ctx,
		Broker: broker,
		Log:    e.log.With("backtest_id", bt.BacktestID, "strategy", bt.StrategyID),
	}

	if err := strat.Startup(sc); err != nil {
		return nil, fmt.Errorf("strategy startup: %w", err)
	}
	defer func() {
		if err := strat.Shutdown(sc); err != nil {
			e.log.Warn("strategy shutdown", "backtest_id", bt.BacktestID, "err", err)
		}
	}()

	var equity, cash []model.EquityPoint
	err = e.store.StreamCandles(ctx, e.source, bt.Symbol, bt.Timeframe,
		bt.StartDate.Unix(), bt.EndDate.Unix(), func(c model.Candle) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			broker.Feed(c)
			sc.Candle = c
			if err := strategy.Step(strat, sc); err != nil {
				// One bad candle must not sink the whole run.
				e.log.Warn("strategy step", "backtest_id", bt.BacktestID, "ts", c.Timestamp, "err", err)
			}
			equity = append(equity, model.EquityPoint{
				Timestamp: c.Timestamp,
				Value:     broker.Equity().InexactFloat64(),
			})
			cash = append(cash, model.EquityPoint{
				Timestamp: c.Timestamp,
				Value:     broker.Cash().InexactFloat64(),
			})
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("replay candles: %w", err)
	}
	if len(equity) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s %s in [%s, %s)",
			model.ErrDataUnavailable, bt.Symbol, bt.Timeframe, bt.StartDate, bt.EndDate)
	}

	return Compute(broker, equity, cash, bt.Timeframe), nil
}
