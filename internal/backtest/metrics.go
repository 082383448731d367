package backtest

import (
	"math"

	"trading-platformv1/internal/broker/sim"
	"trading-platformv1/internal/model"
)

// Compute summarises a finished replay. PnL figures come from the
// broker's fill ledger; sharpe and drawdown come from the recorded
// equity curve.
func Compute(broker *sim.Broker, equity, cash []model.EquityPoint, tf model.Timeframe) *model.BacktestMetrics {
	m := &model.BacktestMetrics{
		RealisedPnL: broker.RealisedPnL().InexactFloat64(),
		TotalTrades: broker.FilledCount(),
		EquityCurve: equity,
		CashCurve:   cash,
	}

	// Unrealised: open quantity marked at the last close against the
	// average entry price.
	open := broker.NetOpenQty()
	if !open.IsZero() {
		m.UnrealisedPnL = open.Mul(broker.LastClose().Sub(broker.AvgEntryPrice())).InexactFloat64()
	}

	starting := broker.StartingBalance().InexactFloat64()
	if starting > 0 && len(equity) > 0 {
		final := equity[len(equity)-1].Value
		m.TotalReturnPct = (final - starting) / starting * 100
	}

	m.SharpeRatio = sharpe(equity, tf.PeriodsPerYear())
	m.MaxDrawdown = maxDrawdown(equity)
	return m
}

// sharpe annualises the mean over the sample standard deviation of
// per-bucket returns. Degenerate curves (fewer than two returns, zero
// variance, a zero-equity point) score 0 rather than NaN or Inf.
func sharpe(equity []model.EquityPoint, periodsPerYear float64) float64 {
	var returns []float64
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Value
		if prev == 0 {
			return 0
		}
		returns = append(returns, (equity[i].Value-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sq float64
	for _, r := range returns {
		d := r - mean
		sq += d * d
	}
	stdev := math.Sqrt(sq / float64(len(returns)-1))
	if stdev == 0 || math.IsNaN(stdev) {
		return 0
	}
	return mean / stdev * math.Sqrt(periodsPerYear)
}

// maxDrawdown returns the worst peak-to-trough move as a non-positive
// percentage. A curve that never dips scores 0.
func maxDrawdown(equity []model.EquityPoint) float64 {
	var peak, worst float64
	for _, p := range equity {
		if p.Value > peak {
			peak = p.Value
		}
		if peak <= 0 {
			continue
		}
		dd := (p.Value - peak) / peak * 100
		if dd < worst {
			worst = dd
		}
	}
	return worst
}
