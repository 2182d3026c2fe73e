package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSNotifier publishes messages as JSON. Alerts go to the subject, reports to
// subject + ".report", so consumers can subscribe to either.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

// NewNATSNotifier connects to the NATS server at url.
func NewNATSNotifier(url, subject string) (*NATSNotifier, error) {
	if url == "" {
		return nil, configError("notify.nats", "url is required")
	}
	if subject == "" {
		subject = "sentinel.alerts"
	}
	conn, err := nats.Connect(url,
		nats.Name("mirador-sentinel"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, transientError("notify.nats.connect", "connect to nats", err)
	}
	return &NATSNotifier{conn: conn, subject: subject}, nil
}

// Name implements Notifier.
func (n *NATSNotifier) Name() string { return "nats" }

// Send implements Notifier.
func (n *NATSNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify.nats: marshal: %w", err)
	}
	subject := n.subject
	if msg.Type == TypeReport {
		subject += ".report"
	}
	if err := n.conn.Publish(subject, data); err != nil {
		return transientError("notify.nats.publish", subject, err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (n *NATSNotifier) Close() error {
	return n.conn.Drain()
}
