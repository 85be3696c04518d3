// README: RabbitMQ connection and topic exchange declaration for notifications.
package infra

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"dishpatch/internal/config"
)

// NewMQChannel dials RabbitMQ and declares the durable topic exchange
// notifications are published to. The returned connection must be closed
// by the caller on shutdown.
func NewMQChannel(cfg config.MQConfig) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	return conn, ch, nil
}
