package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/pool"
	"github.com/shaiso/Courier/internal/telemetry"
)

// APIConfig — конфигурация APIBackend.
type APIConfig struct {
	Descriptor Descriptor

	// Endpoint — базовый URL внешнего API (без завершающего "/").
	Endpoint string

	// Client — HTTP-клиент (опционально).
	Client *http.Client

	// Timeout — таймаут запроса, если Client не задан (default: 30s).
	Timeout time.Duration
}

// APIBackend доставляет единицы через внешний API.
//
// Запрос: POST {endpoint}/v1/deliveries с арендованным ключом в Authorization.
//
// Классификация ответа:
//   - 2xx — success/partial по полю confirmed
//   - 408, 429, 5xx, транспортная ошибка — retryable_failure
//   - 401, 403 — fatal_failure, ключ отмечается как сбойный
//   - прочие 4xx — fatal_failure
type APIBackend struct {
	desc     Descriptor
	endpoint string
	client   *http.Client
}

// NewAPI создаёт APIBackend.
func NewAPI(cfg APIConfig) (*APIBackend, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: %s: endpoint is required", ErrInvalidDescriptor, cfg.Descriptor.Name)
	}

	desc := cfg.Descriptor.withDefaults()
	desc.Kind = KindAPI

	return &APIBackend{
		desc:     desc,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client:   newHTTPClient(cfg.Client, cfg.Timeout),
	}, nil
}

// Descriptor возвращает описание backend'а.
func (b *APIBackend) Descriptor() Descriptor {
	return b.desc
}

// Attempt выполняет одну попытку доставки.
func (b *APIBackend) Attempt(ctx context.Context, task *domain.Task, lease *pool.Lease) domain.DeliveryOutcome {
	logger := telemetry.FromContext(ctx)

	token := ""
	if lease != nil {
		token = lease.Value
	}

	res, err := doJSON(ctx, b.client, http.MethodPost, b.endpoint+"/v1/deliveries", token, deliveryRequest{
		OrderID:  task.OrderID.String(),
		TaskID:   task.ID.String(),
		Target:   task.Target,
		Quantity: task.Quantity,
		Attempt:  task.Attempt,
	})
	if err != nil {
		logger.Debug("api delivery transport error",
			"backend", b.desc.Name,
			"task_id", task.ID,
			"error", err,
		)
		return domain.Retryable(domain.CodeTransport)
	}

	return classifyReport(b.desc, task, res, logger)
}

// classifyReport превращает HTTP-ответ с deliveryReport в DeliveryOutcome.
func classifyReport(desc Descriptor, task *domain.Task, res *httpResult, logger *slog.Logger) domain.DeliveryOutcome {
	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
	case retryableStatus(res.StatusCode):
		return domain.Retryable(fmt.Sprintf("http_%d", res.StatusCode))
	case credentialStatus(res.StatusCode):
		return domain.Fatal(domain.CodeCredential)
	default:
		logger.Debug("delivery rejected",
			"backend", desc.Name,
			"task_id", task.ID,
			"status", res.StatusCode,
			"body", truncate(string(res.Body), 200),
		)
		return domain.Fatal(fmt.Sprintf("http_%d", res.StatusCode))
	}

	var report deliveryReport
	if err := json.Unmarshal(res.Body, &report); err != nil {
		return domain.Retryable(domain.CodeBadResponse)
	}

	out := domain.DeliveryOutcome{
		Attempted: report.Attempted,
		Confirmed: report.Confirmed,
		Class:     domain.OutcomeSuccess,
	}
	if report.Confirmed < task.Quantity {
		out.Class = domain.OutcomePartial
	}
	if report.Error != "" && report.Confirmed == 0 {
		out.Class = domain.OutcomeRetryable
		out.Code = domain.CodeProviderFail
	}
	return out
}
