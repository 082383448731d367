// Package indicator provides technical indicator calculations over
// candle data. Indicators are plain accumulators owned by a single
// strategy instance; state is rebuilt by replaying candles, so there is
// no persistence here.
package indicator

import "trading-platformv1/internal/model"

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA", "EMA").
	Name() string

	// Update feeds a new closed candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}
