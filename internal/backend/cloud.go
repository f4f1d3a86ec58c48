package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/pool"
	"github.com/shaiso/Courier/internal/telemetry"
)

const defaultJobPollInterval = 2 * time.Second

// Статусы задания у облачного провайдера.
const (
	jobQueued    = "queued"
	jobRunning   = "running"
	jobCompleted = "completed"
	jobFailed    = "failed"
)

// CloudConfig — конфигурация CloudBackend.
type CloudConfig struct {
	Descriptor Descriptor

	// Endpoint — базовый URL провайдера.
	Endpoint string

	// PollInterval — интервал опроса статуса задания (default: 2s).
	PollInterval time.Duration

	Client  *http.Client
	Timeout time.Duration
}

// CloudBackend отправляет task облачному провайдеру как задание
// и опрашивает его статус до завершения.
//
//	POST {endpoint}/jobs        → {"id": "..."}
//	GET  {endpoint}/jobs/{id}   → {"status": "...", "attempted": n, "confirmed": n}
//
// Если ctx завершился раньше задания, возвращается то, что подтверждено на этот момент.
type CloudBackend struct {
	desc         Descriptor
	endpoint     string
	pollInterval time.Duration
	client       *http.Client
}

// NewCloud создаёт CloudBackend.
func NewCloud(cfg CloudConfig) (*CloudBackend, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: %s: endpoint is required", ErrInvalidDescriptor, cfg.Descriptor.Name)
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultJobPollInterval
	}

	desc := cfg.Descriptor.withDefaults()
	desc.Kind = KindCloud

	return &CloudBackend{
		desc:         desc,
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		pollInterval: pollInterval,
		client:       newHTTPClient(cfg.Client, cfg.Timeout),
	}, nil
}

// Descriptor возвращает описание backend'а.
func (b *CloudBackend) Descriptor() Descriptor {
	return b.desc
}

// Attempt отправляет задание и ждёт его завершения.
func (b *CloudBackend) Attempt(ctx context.Context, task *domain.Task, lease *pool.Lease) domain.DeliveryOutcome {
	logger := telemetry.FromContext(ctx)

	token := ""
	if lease != nil {
		token = lease.Value
	}

	res, err := doJSON(ctx, b.client, http.MethodPost, b.endpoint+"/jobs", token, deliveryRequest{
		OrderID:  task.OrderID.String(),
		TaskID:   task.ID.String(),
		Target:   task.Target,
		Quantity: task.Quantity,
		Attempt:  task.Attempt,
	})
	if err != nil {
		return domain.Retryable(domain.CodeTransport)
	}
	if res.StatusCode >= 300 {
		return classifyReport(b.desc, task, res, logger)
	}

	var job deliveryReport
	if err := json.Unmarshal(res.Body, &job); err != nil || job.ID == "" {
		return domain.Retryable(domain.CodeBadResponse)
	}

	logger.Debug("cloud job submitted",
		"backend", b.desc.Name,
		"task_id", task.ID,
		"job_id", job.ID,
	)

	return b.waitJob(ctx, task, token, job.ID)
}

// waitJob опрашивает статус задания.
func (b *CloudBackend) waitJob(ctx context.Context, task *domain.Task, token, jobID string) domain.DeliveryOutcome {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	var last deliveryReport
	url := b.endpoint + "/jobs/" + jobID

	for {
		select {
		case <-ctx.Done():
			out := domain.Retryable(domain.CodeTimeout)
			out.Attempted = last.Attempted
			out.Confirmed = last.Confirmed
			if last.Confirmed > 0 {
				out.Class = domain.OutcomePartial
			}
			return out
		case <-ticker.C:
		}

		res, err := doJSON(ctx, b.client, http.MethodGet, url, token, nil)
		if err != nil {
			// Транспортный сбой при опросе — пробуем на следующем тике
			continue
		}
		if res.StatusCode >= 300 {
			if retryableStatus(res.StatusCode) {
				continue
			}
			return classifyReport(b.desc, task, res, telemetry.FromContext(ctx))
		}

		if err := json.Unmarshal(res.Body, &last); err != nil {
			return domain.Retryable(domain.CodeBadResponse)
		}

		switch last.Status {
		case jobQueued, jobRunning:
			continue
		case jobCompleted:
			out := domain.DeliveryOutcome{
				Attempted: last.Attempted,
				Confirmed: last.Confirmed,
				Class:     domain.OutcomeSuccess,
			}
			if last.Confirmed < task.Quantity {
				out.Class = domain.OutcomePartial
			}
			return out
		case jobFailed:
			out := domain.Retryable(domain.CodeProviderFail)
			out.Attempted = last.Attempted
			out.Confirmed = last.Confirmed
			if last.Confirmed > 0 {
				out.Class = domain.OutcomePartial
			}
			return out
		default:
			return domain.Retryable(domain.CodeBadResponse)
		}
	}
}
