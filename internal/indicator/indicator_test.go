package indicator

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"trading-platformv1/internal/model"
)

func candle(close float64) model.Candle {
	return model.Candle{Close: decimal.NewFromFloat(close)}
}

func TestSMA_RollingWindow(t *testing.T) {
	sma := NewSMA(3)

	closes := []float64{10, 20, 30, 40}
	for i, c := range closes {
		sma.Update(candle(c))
		if i < 2 && sma.Ready() {
			t.Errorf("ready too early at %d values", i+1)
		}
	}

	if !sma.Ready() {
		t.Fatal("expected ready after 4 values")
	}
	// Last 3: (20+30+40)/3 = 30
	if got := sma.Value(); math.Abs(got-30) > 1e-9 {
		t.Errorf("expected 30, got %v", got)
	}
}

func TestSMA_Reset(t *testing.T) {
	sma := NewSMA(2)
	sma.Update(candle(10))
	sma.Update(candle(20))
	sma.Reset()

	if sma.Ready() || sma.Value() != 0 {
		t.Errorf("reset did not clear state: ready=%v value=%v", sma.Ready(), sma.Value())
	}
}

func TestEMA_SeedAndSmoothing(t *testing.T) {
	ema := NewEMA(3)

	for _, c := range []float64{10, 20, 30} {
		ema.Update(candle(c))
	}
	// SMA seed: (10+20+30)/3 = 20
	if got := ema.Value(); math.Abs(got-20) > 1e-9 {
		t.Fatalf("expected seed 20, got %v", got)
	}

	// multiplier = 2/(3+1) = 0.5: EMA = 40*0.5 + 20*0.5 = 30
	ema.Update(candle(40))
	if got := ema.Value(); math.Abs(got-30) > 1e-9 {
		t.Errorf("expected 30 after smoothing, got %v", got)
	}
}

func TestRSI_AllGainsIsHundred(t *testing.T) {
	rsi := NewRSI(3)
	for _, c := range []float64{10, 11, 12, 13, 14} {
		rsi.Update(candle(c))
	}
	if !rsi.Ready() {
		t.Fatal("expected ready")
	}
	if got := rsi.Value(); math.Abs(got-100) > 1e-9 {
		t.Errorf("monotonic gains should give RSI 100, got %v", got)
	}
}

func TestRSI_WilderSmoothing(t *testing.T) {
	rsi := NewRSI(2)
	for _, c := range []float64{10, 12, 11, 13, 12} {
		rsi.Update(candle(c))
	}
	got := rsi.Value()
	if got <= 0 || got >= 100 {
		t.Errorf("mixed moves must give RSI in (0,100), got %v", got)
	}
	// Gains outweigh losses in this series, so RSI sits above 50.
	if got <= 50 {
		t.Errorf("expected RSI above 50, got %v", got)
	}
}
