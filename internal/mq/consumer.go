package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// Handler обрабатывает одно сообщение.
// Ошибка с ErrReject отправляет сообщение в DLQ, любая другая возвращает его
// в очередь один раз.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — разобранное сообщение вместе с исходной AMQP доставкой.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// verdict — чем закончилась обработка доставки.
type verdict int

const (
	verdictAck verdict = iota
	verdictRequeue
	verdictDead
)

func (v verdict) String() string {
	switch v {
	case verdictAck:
		return "ack"
	case verdictRequeue:
		return "requeue"
	default:
		return "dead-letter"
	}
}

// judge выбирает verdict по ошибке обработчика.
// Повторно доставленное сообщение в очередь второй раз не возвращается.
func judge(err error, redelivered bool) verdict {
	switch {
	case err == nil:
		return verdictAck
	case errors.Is(err, ErrReject), redelivered:
		return verdictDead
	default:
		return verdictRequeue
	}
}

func settle(raw amqp.Delivery, v verdict) error {
	if v == verdictAck {
		return raw.Ack(false)
	}
	return raw.Nack(false, v == verdictRequeue)
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	Queue   string
	Handler Handler

	// Prefetch ограничивает и QoS канала, и число одновременно
	// обрабатываемых сообщений. По умолчанию 1.
	Prefetch int
}

// Consumer читает очередь и передаёт сообщения Handler.
// Сообщения обрабатываются параллельно, не больше Prefetch одновременно.
type Consumer struct {
	conn   *Connection
	logger *slog.Logger
	cfg    ConsumerConfig

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		conn:   conn,
		logger: logger.With("component", "consumer", "queue", cfg.Queue),
		cfg:    cfg,
	}
}

// Start блокируется, пока ctx не отменён или не вызван Stop.
// После разрыва соединения подписка восстанавливается на новом канале.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	for {
		// ждать переподключения подписываемся заранее, чтобы его не пропустить
		restored := c.conn.ReconnectNotify()

		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("subscribe failed", "error", err)
		} else {
			c.logger.Info("consumer started", "prefetch", c.cfg.Prefetch)
			c.drain(ctx, deliveries)
			if ctx.Err() == nil {
				c.logger.Warn("delivery stream closed, waiting for reconnect")
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-restored:
		}
	}
}

// Stop прерывает Start.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil || ch.IsClosed() {
		return nil, ErrNoChannel
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	// consumer tag генерирует брокер, подтверждение ручное
	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}
	return deliveries, nil
}

// drain обрабатывает поток доставок, пока он не закроется или ctx не
// отменят, и дожидается уже запущенных обработчиков.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	var g errgroup.Group
	g.SetLimit(c.cfg.Prefetch)
	defer g.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				return
			}
			g.Go(func() error {
				c.handleDelivery(ctx, raw)
				return nil
			})
		}
	}
}

// handleDelivery разбирает, обрабатывает и подтверждает одно сообщение.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("malformed message", "error", err, "size", len(raw.Body))
		if err := settle(raw, verdictDead); err != nil {
			c.logger.Warn("nack failed", "error", err)
		}
		return
	}

	log := c.logger.With("message_id", msg.ID, "type", msg.Type)
	log.Debug("message received", "redelivered", raw.Redelivered)

	herr := c.cfg.Handler(ctx, &Delivery{Message: msg, Raw: raw})
	v := judge(herr, raw.Redelivered)
	if herr != nil {
		log.Error("handler failed", "verdict", v.String(), "error", herr)
	}
	if err := settle(raw, v); err != nil {
		log.Warn("settle failed", "verdict", v.String(), "error", err)
	}
}

// ParsePayload приводит Payload сообщения к типу T.
// После json.Unmarshal в Message payload хранится как map[string]any.
func ParsePayload[T any](msg *Message) (T, error) {
	var out T
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return out, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("unmarshal payload: %w", err)
	}
	return out, nil
}

// SubmitHandler разбирает заявки order.submit и передаёт их submit.
// Сообщения другого типа и заявки без target/quantity отклоняются в DLQ.
func SubmitHandler(submit func(ctx context.Context, payload OrderSubmitPayload) error) Handler {
	return func(ctx context.Context, d *Delivery) error {
		if d.Message.Type != MessageTypeOrderSubmit {
			return fmt.Errorf("%w: unexpected message type %q", ErrReject, d.Message.Type)
		}

		payload, err := ParsePayload[OrderSubmitPayload](&d.Message)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrReject, err)
		}
		if payload.Target == "" || payload.Quantity <= 0 {
			return fmt.Errorf("%w: target and positive quantity are required", ErrReject)
		}

		return submit(ctx, payload)
	}
}
