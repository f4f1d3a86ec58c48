package mq

import (
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeOrders Exchange = "courier.orders"
	ExchangeEvents Exchange = "courier.events"
	ExchangeDLQ    Exchange = "courier.dlq"
)

const (
	QueueOrdersSubmit Queue = "orders.submit"
	QueueOrderEvents  Queue = "orders.events"
	QueueDLQOrders    Queue = "dlq.orders"
)

const (
	RoutingKeySubmit   RoutingKey = "submit"
	RoutingKeyProgress RoutingKey = "order.progress"
	RoutingKeyStatus   RoutingKey = "order.status"
	RoutingKeyAllOrder RoutingKey = "order.#"
	RoutingKeyDLQ      RoutingKey = "orders"
)

// exchangeSpec описывает exchange и очереди, привязанные к нему.
type exchangeSpec struct {
	name  Exchange
	kind  string
	binds []queueSpec
}

type queueSpec struct {
	name Queue
	key  RoutingKey
	args amqp.Table
}

// topology — всё, что движок объявляет на брокере. Всё durable.
var topology = []exchangeSpec{
	{ExchangeOrders, amqp.ExchangeDirect, []queueSpec{
		// отклонённые заявки уходят в DLQ
		{QueueOrdersSubmit, RoutingKeySubmit, amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQ),
		}},
	}},
	{ExchangeEvents, amqp.ExchangeTopic, []queueSpec{
		{QueueOrderEvents, RoutingKeyAllOrder, nil},
	}},
	{ExchangeDLQ, amqp.ExchangeDirect, []queueSpec{
		{QueueDLQOrders, RoutingKeyDLQ, nil},
	}},
}

// declareTopology объявляет topology на канале. Повторный вызов безопасен.
func declareTopology(ch *amqp.Channel) error {
	for _, ex := range topology {
		if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
		for _, q := range ex.binds {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
			if err := ch.QueueBind(string(q.name), string(q.key), string(ex.name), false, nil); err != nil {
				return fmt.Errorf("bind %s to %s: %w", q.name, ex.name, err)
			}
		}
	}
	return nil
}

// TopologyInfo описывает topology в виде дерева для логов и CLI.
func TopologyInfo() string {
	var b strings.Builder
	for _, ex := range topology {
		fmt.Fprintf(&b, "%s (%s)\n", ex.name, ex.kind)
		for _, q := range ex.binds {
			fmt.Fprintf(&b, "  └── %s [routing: %s]", q.name, q.key)
			if dlx, ok := q.args["x-dead-letter-exchange"]; ok {
				fmt.Fprintf(&b, " dlx=%v", dlx)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
