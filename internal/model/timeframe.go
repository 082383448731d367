package model

import (
	"fmt"
	"time"
)

// Timeframe is a fixed candle bucket width. The set is closed: the
// aggregator iterates All() for every tick, and stores key candles by
// the string form below.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

var timeframeSeconds = map[Timeframe]int64{
	TF1m:  60,
	TF5m:  300,
	TF15m: 900,
	TF30m: 1800,
	TF1h:  3600,
	TF4h:  14400,
	TF1d:  86400,
}

// AllTimeframes returns every supported timeframe, narrowest first.
func AllTimeframes() []Timeframe {
	return []Timeframe{TF1m, TF5m, TF15m, TF30m, TF1h, TF4h, TF1d}
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeSeconds[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Seconds returns the bucket width in seconds.
func (tf Timeframe) Seconds() int64 {
	return timeframeSeconds[tf]
}

// Duration returns the bucket width as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Seconds()) * time.Second
}

// Bucket aligns a Unix-seconds timestamp down to the start of its bucket.
func (tf Timeframe) Bucket(ts int64) int64 {
	sec := tf.Seconds()
	return ts - ts%sec
}

// PeriodsPerYear returns the annualization factor for per-bucket returns,
// used when scaling the sharpe ratio to a candle timeframe.
func (tf Timeframe) PeriodsPerYear() float64 {
	const tradingSecondsPerYear = 252 * 24 * 3600
	return tradingSecondsPerYear / float64(tf.Seconds())
}
