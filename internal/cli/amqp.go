package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/shaiso/Courier/internal/mq"
)

// publishOrder публикует заказ в очередь orders.submit.
// Движок принимает его асинхронно, ID заказа в ответ не возвращается.
func publishOrder(ctx context.Context, amqpURL string, req CreateOrderRequest) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	conn, err := mq.NewConnection(amqpURL, logger)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer conn.Close()

	return mq.NewPublisher(conn, logger).PublishOrderSubmit(ctx, mq.OrderSubmitPayload{
		Target:   req.Target,
		Quantity: req.Quantity,
		Backends: req.Backends,
		Priority: req.Priority,
	})
}

// redactURL скрывает пароль в URL подключения.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "rabbitmq"
	}
	return u.Redacted()
}
