package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var _ Notifier = (*RabbitMQ)(nil)

const (
	exchangeName = "attendance.events"
	queueName    = "attendance_notifications"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQ publishes notifications to a fanout exchange.
type RabbitMQ struct {
	ch       publisher
	userID   string
	deviceID string
	now      func() time.Time
}

// Dial connects to the broker at url.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}
	return conn, nil
}

// NewRabbitMQ declares the notification topology on a fresh channel.
func NewRabbitMQ(conn *amqp.Connection, userID, deviceID string) (*RabbitMQ, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchangeName, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(queueName, "", exchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	return newRabbitMQ(ch, userID, deviceID), nil
}

func newRabbitMQ(ch publisher, userID, deviceID string) *RabbitMQ {
	return &RabbitMQ{ch: ch, userID: userID, deviceID: deviceID, now: time.Now}
}

type notificationMessage struct {
	UserID    string `json:"user_id"`
	DeviceID  string `json:"device_id"`
	Kind      Kind   `json:"kind"`
	SiteName  string `json:"site_name"`
	Timestamp int64  `json:"timestamp"`
}

func (r *RabbitMQ) Notify(ctx context.Context, kind Kind, siteName string) error {
	body, err := json.Marshal(notificationMessage{
		UserID:    r.userID,
		DeviceID:  r.deviceID,
		Kind:      kind,
		SiteName:  siteName,
		Timestamp: r.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := r.ch.PublishWithContext(ctx, exchangeName, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
