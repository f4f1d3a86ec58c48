package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в конверте Message.
type MessageType string

const (
	MessageTypeOrderSubmit   MessageType = "order.submit"
	MessageTypeOrderProgress MessageType = "order.progress"
	MessageTypeOrderStatus   MessageType = "order.status"
)

// Message — JSON-конверт всех сообщений courier.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage заворачивает payload в конверт с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// OrderSubmitPayload — заявка на новый заказ.
type OrderSubmitPayload struct {
	Target   string   `json:"target"`
	Quantity int      `json:"quantity"`
	Backends []string `json:"backends,omitempty"`
	Priority string   `json:"priority,omitempty"`
}

// OrderEventPayload — событие прогресса или смены статуса заказа.
type OrderEventPayload struct {
	OrderID   uuid.UUID      `json:"order_id"`
	Seq       int            `json:"seq"`
	Status    string         `json:"status"`
	Percent   float64        `json:"percent"`
	Sent      int            `json:"sent"`
	Confirmed int            `json:"confirmed"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// route — куда публикуется сообщение данного типа.
type route struct {
	exchange Exchange
	key      RoutingKey
}

var routes = map[MessageType]route{
	MessageTypeOrderSubmit:   {ExchangeOrders, RoutingKeySubmit},
	MessageTypeOrderProgress: {ExchangeEvents, RoutingKeyProgress},
	MessageTypeOrderStatus:   {ExchangeEvents, RoutingKeyStatus},
}

// Publisher публикует сообщения courier в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher поверх conn.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger.With("component", "publisher")}
}

// Publish отправляет msg по маршруту его типа. Сообщения persistent.
func (p *Publisher) Publish(ctx context.Context, msg *Message) error {
	r, ok := routes[msg.Type]
	if !ok {
		return fmt.Errorf("no route for message type %q", msg.Type)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         string(msg.Type),
		Timestamp:    msg.Timestamp,
		Body:         body,
	}

	err = p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, string(r.exchange), string(r.key), false, false, pub)
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s/%s: %w", msg.Type, r.exchange, r.key, err)
	}

	p.logger.Debug("message published", "message_id", msg.ID, "type", msg.Type, "exchange", r.exchange)
	return nil
}

// PublishOrderSubmit публикует заявку на заказ для движка.
func (p *Publisher) PublishOrderSubmit(ctx context.Context, payload OrderSubmitPayload) error {
	return p.Publish(ctx, NewMessage(MessageTypeOrderSubmit, payload))
}

// PublishOrderEvent публикует событие заказа в courier.events.
// status=true — смена статуса, иначе прогресс.
func (p *Publisher) PublishOrderEvent(ctx context.Context, payload OrderEventPayload, status bool) error {
	msgType := MessageTypeOrderProgress
	if status {
		msgType = MessageTypeOrderStatus
	}
	return p.Publish(ctx, NewMessage(msgType, payload))
}
