package notify

import (
	"context"
	"net/http"
	"time"
)

// WebhookNotifier posts each message as JSON to a generic endpoint.
type WebhookNotifier struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookNotifier constructs a webhook channel.
func NewWebhookNotifier(url string, headers map[string]string, timeout time.Duration) (*WebhookNotifier, error) {
	if url == "" {
		return nil, configError("notify.webhook", "url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{url: url, headers: headers, client: &http.Client{Timeout: timeout}}, nil
}

// Name implements Notifier.
func (w *WebhookNotifier) Name() string { return "webhook" }

// Send implements Notifier.
func (w *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	return postJSON(ctx, w.client, "notify.webhook.send", w.url, w.headers, msg, nil)
}
