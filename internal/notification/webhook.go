package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookNotifier POSTs alerts as JSON to a configured URL, so any
// generic webhook receiver (Discord relay, PagerDuty bridge, in-house
// collector) can consume them.
type WebhookNotifier struct {
	url    string
	client *resty.Client
}

// NewWebhookNotifier creates a webhook notifier with retrying transport.
func NewWebhookNotifier(url string) *WebhookNotifier {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)

	return &WebhookNotifier{url: url, client: client}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{
			"level":   string(alert.Level),
			"title":   alert.Title,
			"message": alert.Message,
			"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode())
	}
	return nil
}
