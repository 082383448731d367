package strategy

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"trading-platformv1/internal/indicator"
	"trading-platformv1/internal/model"
)

func init() {
	Register("sma_crossover", func(p Params) (Strategy, error) {
		fast := paramInt(p, "fast_period", 9)
		slow := paramInt(p, "slow_period", 21)
		if fast >= slow {
			return nil, fmt.Errorf("sma_crossover: fast_period %d must be below slow_period %d", fast, slow)
		}
		qty, err := paramDecimal(p, "quantity", "1")
		if err != nil {
			return nil, err
		}
		return &SMACrossover{
			fast:      indicator.NewSMA(fast),
			slow:      indicator.NewSMA(slow),
			rsi:       indicator.NewRSI(paramInt(p, "rsi_period", 14)),
			rsiFilter: p["rsi_filter"] == "true",
			qty:       qty,
		}, nil
	})
}

// SMACrossover trades the classic moving-average crossover.
//
// Buy when the fast SMA crosses above the slow SMA (golden cross),
// sell the position back when it crosses below (death cross). The
// optional RSI filter skips buys when overbought (>70) and sells when
// oversold (<30).
type SMACrossover struct {
	fast *indicator.SMA
	slow *indicator.SMA
	rsi  *indicator.RSI

	rsiFilter bool
	qty       decimal.Decimal

	prevFast float64
	prevSlow float64
	ready    bool
	long     bool
}

func (s *SMACrossover) Name() string { return "sma_crossover" }

func (s *SMACrossover) Startup(sc *Context) error {
	sc.Log.Info("sma_crossover starting", "qty", s.qty.String(), "rsi_filter", s.rsiFilter)
	return nil
}

func (s *SMACrossover) Shutdown(sc *Context) error {
	sc.Log.Info("sma_crossover shutting down", "long", s.long)
	return nil
}

func (s *SMACrossover) OnCandle(sc *Context) error {
	c := sc.Candle
	s.fast.Update(c)
	s.slow.Update(c)
	s.rsi.Update(c)

	if !s.slow.Ready() {
		return nil
	}

	fastV, slowV := s.fast.Value(), s.slow.Value()
	defer func() {
		s.prevFast, s.prevSlow = fastV, slowV
		s.ready = true
	}()

	if !s.ready {
		return nil
	}

	// Golden cross: fast crosses above slow
	if !s.long && s.prevFast <= s.prevSlow && fastV > slowV {
		if s.rsiFilter && s.rsi.Ready() && s.rsi.Value() > 70 {
			sc.Log.Info("golden cross filtered by RSI", "rsi", s.rsi.Value())
			return nil
		}
		if err := s.order(sc, model.SideBuy); err != nil {
			return err
		}
		s.long = true
		return nil
	}

	// Death cross: fast crosses below slow
	if s.long && s.prevFast >= s.prevSlow && fastV < slowV {
		if s.rsiFilter && s.rsi.Ready() && s.rsi.Value() < 30 {
			sc.Log.Info("death cross filtered by RSI", "rsi", s.rsi.Value())
			return nil
		}
		if err := s.order(sc, model.SideSell); err != nil {
			return err
		}
		s.long = false
	}
	return nil
}

func (s *SMACrossover) order(sc *Context, side model.Side) error {
	qty := s.qty
	resp, err := sc.Broker.SubmitOrder(sc.Ctx, model.OrderRequest{
		Symbol:      sc.Candle.Symbol,
		Side:        side,
		Type:        model.OrderTypeMarket,
		Quantity:    &qty,
		TimeInForce: model.TIFGTC,
	})
	if err != nil {
		return fmt.Errorf("sma_crossover %s: %w", side, err)
	}
	sc.Log.Info("crossover order", "side", side, "order_id", resp.OrderID, "status", resp.Status)
	return nil
}

func paramInt(p Params, key string, def int) int {
	if v, ok := p[key]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func paramDecimal(p Params, key, def string) (decimal.Decimal, error) {
	v, ok := p[key]
	if !ok {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("param %s: invalid decimal %q", key, v)
	}
	return d, nil
}
