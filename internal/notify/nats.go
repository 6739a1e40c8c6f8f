package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"wallet-engine/internal/metrics"
)

// Publisher publishes raw payloads on a subject
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes events as JSON on <subject>.<event type>
type NATS struct {
	pub     Publisher
	subject string
}

// NewNATS notifier over pub rooted at subject
func NewNATS(pub Publisher, subject string) *NATS {
	return &NATS{pub: pub, subject: subject}
}

func (n *NATS) Notify(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	subject := n.subject + "." + string(event.Type)
	if err := n.pub.Publish(subject, data); err != nil {
		metrics.NotificationsSent.WithLabelValues("nats", "error").Inc()
		return fmt.Errorf("nats publish %s failed: %w", subject, err)
	}
	metrics.NotificationsSent.WithLabelValues("nats", "ok").Inc()
	return nil
}
