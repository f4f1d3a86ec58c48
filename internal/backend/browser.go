package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/pool"
)

// SessionDriver выполняет доставку в рамках арендованной сессии браузера.
//
// Механика автоматизации находится за этим интерфейсом и движку не видна.
// Deliver возвращает количество подтверждённых единиц;
// ErrSessionInvalid означает проблему с сессией, ErrTargetRejected — с целью.
type SessionDriver interface {
	Deliver(ctx context.Context, session, target string, quantity int) (confirmed int, err error)
}

// BrowserConfig — конфигурация BrowserBackend.
type BrowserConfig struct {
	Descriptor Descriptor
	Driver     SessionDriver
}

// BrowserBackend — backend автоматизированного браузера.
// Требует ресурс из пула (сессию) в ResourceScope.
type BrowserBackend struct {
	desc   Descriptor
	driver SessionDriver
}

// NewBrowser создаёт BrowserBackend.
func NewBrowser(cfg BrowserConfig) (*BrowserBackend, error) {
	if cfg.Driver == nil {
		return nil, fmt.Errorf("%w: %s: session driver is required", ErrInvalidDescriptor, cfg.Descriptor.Name)
	}
	if cfg.Descriptor.ResourceScope == "" {
		return nil, fmt.Errorf("%w: %s: resource scope is required", ErrInvalidDescriptor, cfg.Descriptor.Name)
	}

	desc := cfg.Descriptor.withDefaults()
	desc.Kind = KindBrowser

	return &BrowserBackend{desc: desc, driver: cfg.Driver}, nil
}

// Descriptor возвращает описание backend'а.
func (b *BrowserBackend) Descriptor() Descriptor {
	return b.desc
}

// Attempt выполняет доставку через SessionDriver.
func (b *BrowserBackend) Attempt(ctx context.Context, task *domain.Task, lease *pool.Lease) domain.DeliveryOutcome {
	if lease == nil {
		return domain.Retryable(domain.CodeUnavailable)
	}

	confirmed, err := b.driver.Deliver(ctx, lease.Value, task.Target, task.Quantity)

	var out domain.DeliveryOutcome
	switch {
	case err == nil:
		out = domain.DeliveryOutcome{Class: domain.OutcomeSuccess}
		if confirmed < task.Quantity {
			out.Class = domain.OutcomePartial
		}
	case errors.Is(err, ErrTargetRejected):
		out = domain.Fatal(domain.CodeRejected)
	case errors.Is(err, ErrSessionInvalid):
		out = domain.Retryable(domain.CodeCredential)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		out = domain.Retryable(domain.CodeTimeout)
	default:
		out = domain.Retryable(domain.CodeProviderFail)
	}

	out.Attempted = task.Quantity
	out.Confirmed = confirmed
	return out
}

// RemoteDriver — SessionDriver, который передаёт работу внешнему сервису сессий.
//
//	POST {endpoint}/sessions/{session}/deliveries
type RemoteDriver struct {
	endpoint string
	client   *http.Client
}

// NewRemoteDriver создаёт RemoteDriver.
func NewRemoteDriver(endpoint string, timeout time.Duration) *RemoteDriver {
	return &RemoteDriver{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   newHTTPClient(nil, timeout),
	}
}

// Deliver реализует SessionDriver.
func (d *RemoteDriver) Deliver(ctx context.Context, session, target string, quantity int) (int, error) {
	u := d.endpoint + "/sessions/" + url.PathEscape(session) + "/deliveries"

	res, err := doJSON(ctx, d.client, http.MethodPost, u, "", map[string]any{
		"target":   target,
		"quantity": quantity,
	})
	if err != nil {
		return 0, err
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusGone:
		return 0, ErrSessionInvalid
	case res.StatusCode == http.StatusUnprocessableEntity:
		return 0, ErrTargetRejected
	case res.StatusCode >= 300:
		return 0, fmt.Errorf("session service: HTTP %d: %s", res.StatusCode, truncate(string(res.Body), 200))
	}

	var report deliveryReport
	if err := json.Unmarshal(res.Body, &report); err != nil {
		return 0, fmt.Errorf("session service: decode response: %w", err)
	}
	return report.Confirmed, nil
}
