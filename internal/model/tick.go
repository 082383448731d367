package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Tick represents a single executed trade observed at a venue.
// Prices and sizes are decimals to avoid float drift across venues
// with fractional quantities.
type Tick struct {
	Source     string          `json:"broker"`
	Symbol     string          `json:"symbol"`
	MarketType string          `json:"market_type"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	Timestamp  int64           `json:"timestamp"` // Unix seconds
}

// Key returns the dedup key "timestamp:price:size". Two ticks with the
// same key from the same source are the same trade.
func (t *Tick) Key() string {
	return itoa(t.Timestamp) + ":" + t.Price.String() + ":" + t.Size.String()
}

// JSON returns the JSON-encoded tick (ignoring errors for hot-path usage).
func (t *Tick) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
