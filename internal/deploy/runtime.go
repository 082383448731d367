// Package deploy runs live strategy deployments. A deployment binds a
// registered strategy to a broker connection and a candle stream; the
// runtime drives the strategy loop, listens for stop requests on the
// bus, and walks the deployment row through its state machine.
package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"trading-platformv1/internal/broker"
	"trading-platformv1/internal/broker/proxy"
	"trading-platformv1/internal/model"
	"trading-platformv1/internal/strategy"
)

// stopGrace bounds how long a stop waits for the strategy loop to
// drain before the row is finalized anyway.
const stopGrace = 5 * time.Second

// BrokerFactory builds the broker for a deployment's connection.
type BrokerFactory func(ctx context.Context, d *model.Deployment) (broker.Broker, error)

// Runtime hosts one deployment per Run call.
type Runtime struct {
	store     model.DeploymentStore
	bus       model.Bus
	newBroker BrokerFactory
	log       *slog.Logger
	grace     time.Duration
}

// New creates a runtime. The factory decides live vs simulated
// execution per deployment.
func New(store model.DeploymentStore, bus model.Bus, factory BrokerFactory, log *slog.Logger) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	return &Runtime{store: store, bus: bus, newBroker: factory, log: log, grace: stopGrace}
}

// Run executes a deployment until its stream ends, a stop request
// arrives on the bus, or ctx is cancelled. The row finishes stopped on
// a clean shutdown and error when the strategy loop fails.
func (r *Runtime) Run(ctx context.Context, deploymentID string, params strategy.Params) error {
	dep, err := r.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return fmt.Errorf("load deployment: %w", err)
	}
	if dep.Status.Terminal() {
		return fmt.Errorf("%w: deployment %s already %s", model.ErrTransactionConflict, deploymentID, dep.Status)
	}

	log := r.log.With("deployment_id", deploymentID, "strategy", dep.StrategyID, "symbol", dep.Symbol)

	strat, err := strategy.New(dep.StrategyID, params)
	if err != nil {
		return r.fail(ctx, deploymentID, err)
	}
	inner, err := r.newBroker(ctx, dep)
	if err != nil {
		return r.fail(ctx, deploymentID, fmt.Errorf("broker: %w", err))
	}
	b := proxy.New(inner, r.bus, deploymentID)

	// Subscribe for stop requests before going running, so a stop sent
	// right after the transition cannot be missed.
	stopCh, err := r.watchStops(ctx, deploymentID)
	if err != nil {
		return r.fail(ctx, deploymentID, fmt.Errorf("subscribe stops: %w", err))
	}

	if err := r.store.UpdateDeploymentStatus(ctx, deploymentID, model.DeploymentRunning, "", nil); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	log.Info("deployment running")

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.strategyLoop(loopCtx, strat, b, dep, log) }()

	select {
	case err := <-done:
		if err != nil {
			return r.fail(ctx, deploymentID, err)
		}
		// Stream ended on its own; treat as a clean stop.
		return r.finish(ctx, deploymentID, log)

	case <-stopCh:
		log.Info("stop requested")
		if err := r.store.UpdateDeploymentStatus(ctx, deploymentID, model.DeploymentStopRequested, "", nil); err != nil {
			log.Warn("mark stop_requested", "err", err)
		}
		cancel()
		select {
		case <-done:
		case <-time.After(r.grace):
			log.Warn("strategy loop did not drain within grace period")
		}
		return r.finish(ctx, deploymentID, log)

	case <-ctx.Done():
		// Host shutdown: same path as a stop, with a fresh context for
		// the final row update.
		select {
		case <-done:
		case <-time.After(r.grace):
		}
		finalCtx, finalCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer finalCancel()
		return r.finish(finalCtx, deploymentID, log)
	}
}

// strategyLoop runs startup, the candle loop, and shutdown. Per-candle
// errors are logged and skipped; only startup and stream failures
// propagate.
func (r *Runtime) strategyLoop(ctx context.Context, strat strategy.Strategy, b broker.Broker, dep *model.Deployment, log *slog.Logger) error {
	sc := &strategy.Context{Ctx: ctx, Broker: b, Log: log}

	if err := strat.Startup(sc); err != nil {
		return fmt.Errorf("strategy startup: %w", err)
	}
	defer func() {
		if err := strat.Shutdown(sc); err != nil {
			log.Warn("strategy shutdown", "err", err)
		}
	}()

	stream, err := b.StreamCandles(ctx, dep.Symbol, dep.Timeframe)
	if err != nil {
		return fmt.Errorf("stream candles: %w", err)
	}

	for c := range stream {
		sc.Candle = c
		if err := strategy.Step(strat, sc); err != nil {
			log.Warn("strategy step", "ts", c.Timestamp, "err", err)
			r.publishStrategyError(ctx, dep.DeploymentID, err)
		}
	}
	return nil
}

// watchStops subscribes to deployment events and signals when a stop
// for this deployment arrives. Foreign and malformed events are skipped.
func (r *Runtime) watchStops(ctx context.Context, deploymentID string) (<-chan struct{}, error) {
	events, err := r.bus.Subscribe(ctx, model.ChannelDeploymentEvents)
	if err != nil {
		return nil, err
	}
	stopCh := make(chan struct{}, 1)
	go func() {
		for payload := range events {
			var ev model.DeploymentEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				continue
			}
			if ev.Type != model.EventDeploymentStop || ev.DeploymentID != deploymentID {
				continue
			}
			select {
			case stopCh <- struct{}{}:
			default:
			}
			return
		}
	}()
	return stopCh, nil
}

func (r *Runtime) publishStrategyError(ctx context.Context, deploymentID string, stepErr error) {
	payload, err := json.Marshal(model.DeploymentEvent{
		Type:         model.EventStrategyError,
		DeploymentID: deploymentID,
		Timestamp:    time.Now().Unix(),
		Message:      stepErr.Error(),
	})
	if err != nil {
		return
	}
	if err := r.bus.Publish(ctx, model.ChannelDeploymentEvents, payload); err != nil {
		r.log.Warn("publish strategy error", "deployment_id", deploymentID, "err", err)
	}
}

func (r *Runtime) finish(ctx context.Context, deploymentID string, log *slog.Logger) error {
	now := time.Now().UTC()
	if err := r.store.UpdateDeploymentStatus(ctx, deploymentID, model.DeploymentStopped, "", &now); err != nil {
		return fmt.Errorf("mark stopped: %w", err)
	}
	log.Info("deployment stopped")
	return nil
}

func (r *Runtime) fail(ctx context.Context, deploymentID string, cause error) error {
	now := time.Now().UTC()
	if err := r.store.UpdateDeploymentStatus(ctx, deploymentID, model.DeploymentError, cause.Error(), &now); err != nil {
		r.log.Error("mark deployment error", "deployment_id", deploymentID, "err", err)
	}
	return cause
}
