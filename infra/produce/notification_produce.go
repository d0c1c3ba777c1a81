package produce

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	NotificationExchange   = "fleet.notifications"
	NotificationQueue      = "fleet.notifications.outbound"
	NotificationRoutingKey = "notify.event"
)

// Event kinds consumed by the notification gateway.
const (
	EventAlertOpened     = "alert_opened"
	EventAlertEscalated  = "alert_escalated"
	EventAlertResolved   = "alert_resolved"
	EventActionCompleted = "action_completed"
	EventActionFailed    = "action_failed"
	EventActionRejected  = "action_rejected"
)

// NotificationEvent is the notify(event) contract. Delivery and formatting
// belong to the gateway consuming the queue; the control plane only publishes.
type NotificationEvent struct {
	Kind      string                 `json:"kind"`
	ServerID  string                 `json:"server_id"`
	Severity  string                 `json:"severity,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// NotificationService publishes notification events to the gateway exchange.
type NotificationService struct {
	channel *amqp.Channel
}

func InitNotificationService(channel *amqp.Channel) *NotificationService {
	service := &NotificationService{
		channel: channel,
	}

	err := channel.ExchangeDeclare(
		NotificationExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		panic("Failed to declare Notification exchange: " + err.Error())
	}

	_, err = channel.QueueDeclare(
		NotificationQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		panic("Failed to declare Notification queue: " + err.Error())
	}

	err = channel.QueueBind(
		NotificationQueue,
		NotificationRoutingKey,
		NotificationExchange,
		false,
		nil,
	)
	if err != nil {
		panic("Failed to bind Notification queue: " + err.Error())
	}

	return service
}

// Publish sends one event. Callers treat failures as fire-and-forget: a
// publish error never rolls back the state change that produced the event.
func (s *NotificationService) Publish(ctx context.Context, event NotificationEvent) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return s.channel.PublishWithContext(ctx,
		NotificationExchange,
		NotificationRoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}
