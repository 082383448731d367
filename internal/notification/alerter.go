package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"trading-platformv1/internal/model"
)

// Alerter turns deployment events on the bus into alerts: strategy
// errors as warnings, stop requests as info. Delivery failures are
// logged per backend; one dead channel does not block the others.
type Alerter struct {
	bus       model.Bus
	notifiers []Notifier
	log       *slog.Logger
}

// NewAlerter creates an alerter fanning out to the given backends.
func NewAlerter(bus model.Bus, log *slog.Logger, notifiers ...Notifier) *Alerter {
	if log == nil {
		log = slog.Default()
	}
	return &Alerter{bus: bus, notifiers: notifiers, log: log}
}

// Run consumes deployment events until ctx is cancelled.
func (a *Alerter) Run(ctx context.Context) error {
	events, err := a.bus.Subscribe(ctx, model.ChannelDeploymentEvents)
	if err != nil {
		return err
	}
	for payload := range events {
		var ev model.DeploymentEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			continue
		}
		alert, ok := alertFor(ev)
		if !ok {
			continue
		}
		for _, n := range a.notifiers {
			if err := n.Send(ctx, alert); err != nil {
				a.log.Warn("alert delivery", "deployment_id", ev.DeploymentID, "err", err)
			}
		}
	}
	return ctx.Err()
}

func alertFor(ev model.DeploymentEvent) (Alert, bool) {
	switch ev.Type {
	case model.EventStrategyError:
		return Alert{
			Level:   AlertWarning,
			Title:   "Strategy error in deployment " + ev.DeploymentID,
			Message: ev.Message,
		}, true
	case model.EventDeploymentStop:
		return Alert{
			Level:   AlertInfo,
			Title:   "Stop requested for deployment " + ev.DeploymentID,
			Message: fmt.Sprintf("stop requested at ts %d", ev.Timestamp),
		}, true
	}
	return Alert{}, false
}
