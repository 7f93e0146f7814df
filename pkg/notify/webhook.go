package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"resty.dev/v3"

	"github.com/cascade-sh/cascade/pkg/log"
)

// WebhookNotifier posts events as JSON to a single HTTP endpoint.
// Transient delivery failures are retried with backoff before the event is
// given up on.
type WebhookNotifier struct {
	client *resty.Client
	url    string
	logger zerolog.Logger
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)

	return &WebhookNotifier{
		client: client,
		url:    url,
		logger: log.WithComponent("notify"),
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(event).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	n.logger.Debug().Str("kind", event.Kind).Str("environment", event.Environment).Msg("Webhook delivered")
	return nil
}

// Close releases the underlying HTTP client
func (n *WebhookNotifier) Close() error {
	return n.client.Close()
}
