// README: Notification gateway; fire-and-forget event publishing over RabbitMQ.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"dishpatch/internal/types"
)

// Event types emitted by the order lifecycle and the dispatcher.
const (
	EventStatusChanged     = "status_changed"
	EventDriverAssigned    = "driver_assigned"
	EventDeliveryRequested = "delivery_requested"
	EventOrderCancelled    = "order_cancelled"
	EventRefundRequested   = "refund_requested"
)

// Event is the unit handed to driver/customer clients by the wider platform.
type Event struct {
	RecipientID types.ID       `json:"recipient_id"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
	EmittedAt   time.Time      `json:"emitted_at"`
}

// Publisher pushes events to a topic exchange. Publishing is bounded by
// publishTimeout and never gates the state transition that produced the
// event; failures are logged and dropped.
type Publisher struct {
	ch       *amqp.Channel
	exchange string

	mu sync.Mutex // amqp channels are not safe for concurrent publish
}

const publishTimeout = 3 * time.Second

func NewPublisher(ch *amqp.Channel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange}
}

// Fire publishes the event best-effort. It always returns; the caller never
// learns about delivery problems beyond the log line.
func (p *Publisher) Fire(ctx context.Context, recipientID types.ID, eventType string, payload map[string]any) {
	ev := Event{
		RecipientID: recipientID,
		Type:        eventType,
		Payload:     payload,
		EmittedAt:   time.Now().UTC(),
	}
	body, err := json.Marshal(ev)
	if err != nil {
		slog.Error("notify event not serializable", "type", eventType, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		"notify."+eventType,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Timestamp:    ev.EmittedAt,
			Body:         body,
		},
	)
	if err != nil {
		slog.Warn("notify publish failed", "type", eventType, "recipient_id", recipientID, "error", err)
	}
}
