// Package strategy hosts trading strategies. Strategies are
// pre-compiled Go objects addressed by strategy id through the
// registry; the backtest engine and the deployment runtime both drive
// them through the same Strategy interface.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"trading-platformv1/internal/broker"
	"trading-platformv1/internal/model"
)

// Context is what a strategy sees on every callback: the closed candle
// that triggered it, the broker to act through, and a logger scoped to
// the run.
type Context struct {
	Ctx    context.Context
	Broker broker.Broker
	Candle model.Candle
	Log    *slog.Logger
}

// Strategy is the contract every strategy implements. OnCandle is
// called once per closed candle in timestamp order; errors are logged
// by the host and the loop continues.
type Strategy interface {
	Name() string
	Startup(sc *Context) error
	OnCandle(sc *Context) error
	Shutdown(sc *Context) error
}

// Step runs OnCandle with panic capture so one bad bar cannot take down
// a long backtest or a live deployment.
func Step(s Strategy, sc *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
		}
	}()
	return s.OnCandle(sc)
}

// Params carries strategy construction parameters from the deployment
// or backtest row. Unknown keys are ignored by factories.
type Params map[string]string

// Factory builds a fresh strategy instance. Each backtest or deployment
// gets its own instance; strategies are stateful and never shared.
type Factory func(p Params) (Strategy, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a factory under a strategy id. Built-ins register from
// init; a duplicate id panics, since it is a programming error.
func Register(id string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[id]; exists {
		panic("strategy: duplicate registration of " + id)
	}
	registry[id] = f
}

// New instantiates the strategy registered under id.
func New(id string, p Params) (Strategy, error) {
	registryMu.RLock()
	f, ok := registry[id]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q not registered (known: %v)", id, Registered())
	}
	return f(p)
}

// Registered returns the sorted list of known strategy ids.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
