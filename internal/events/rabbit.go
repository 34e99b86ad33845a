package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 3 * time.Second

var errEmptyExchange = errors.New("events.rabbit.empty_exchange")

// RabbitPublisher publishes JSON events to a topic exchange.
type RabbitPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewRabbitPublisher dials the broker and declares a durable topic exchange.
func NewRabbitPublisher(url string, exchange string) (*RabbitPublisher, error) {
	if exchange == "" {
		return nil, errEmptyExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events.rabbit.dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events.rabbit.channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("events.rabbit.declare: %w", err)
	}
	return &RabbitPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

// Publish marshals the event and sends it with a fresh message id.
func (publisher *RabbitPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishTimeout)
		defer cancel()
	}
	return publisher.channel.PublishWithContext(ctx, publisher.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
	})
}

// Close shuts the channel and connection.
func (publisher *RabbitPublisher) Close() error {
	channelErr := publisher.channel.Close()
	connErr := publisher.conn.Close()
	return errors.Join(channelErr, connErr)
}

func encodeEvent(event any) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("events.encode: %w", err)
	}
	return body, nil
}
