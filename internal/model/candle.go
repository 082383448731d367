package model

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Candle represents one OHLCV bucket for a (source, symbol, timeframe)
// triple. Timestamp is the bucket start in Unix seconds, always aligned
// to Timeframe.Seconds().
type Candle struct {
	Source    string          `json:"source"`
	Symbol    string          `json:"symbol"`
	Timeframe Timeframe       `json:"timeframe"`
	Timestamp int64           `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// NewCandleFromTick opens a candle from the first tick of a bucket.
func NewCandleFromTick(t Tick, tf Timeframe) Candle {
	return Candle{
		Source:    t.Source,
		Symbol:    t.Symbol,
		Timeframe: tf,
		Timestamp: tf.Bucket(t.Timestamp),
		Open:      t.Price,
		High:      t.Price,
		Low:       t.Price,
		Close:     t.Price,
		Volume:    t.Size,
	}
}

// ApplyTick folds a same-bucket tick into the candle.
func (c *Candle) ApplyTick(t Tick) {
	if t.Price.GreaterThan(c.High) {
		c.High = t.Price
	}
	if t.Price.LessThan(c.Low) {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume = c.Volume.Add(t.Size)
}

// Key returns the unique key "source:symbol:tf:ts".
func (c *Candle) Key() string {
	return c.Source + ":" + c.Symbol + ":" + string(c.Timeframe) + ":" + itoa(c.Timestamp)
}

// SeriesKey identifies the candle's series without the bucket: "source:symbol:tf".
func (c *Candle) SeriesKey() string {
	return c.Source + ":" + c.Symbol + ":" + string(c.Timeframe)
}

// Validate checks the OHLCV invariants.
func (c *Candle) Validate() error {
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) || c.Low.GreaterThan(c.High) {
		return fmt.Errorf("candle %s: low %s above open/close/high", c.Key(), c.Low)
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		return fmt.Errorf("candle %s: high %s below open/close", c.Key(), c.High)
	}
	if c.Volume.IsNegative() {
		return fmt.Errorf("candle %s: negative volume %s", c.Key(), c.Volume)
	}
	if c.Timestamp%c.Timeframe.Seconds() != 0 {
		return fmt.Errorf("candle %s: timestamp not aligned to %s", c.Key(), c.Timeframe)
	}
	return nil
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
