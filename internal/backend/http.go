package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 1 << 20
)

// deliveryRequest — тело запроса на доставку к внешнему сервису.
type deliveryRequest struct {
	OrderID  string `json:"order_id"`
	TaskID   string `json:"task_id"`
	Target   string `json:"target"`
	Quantity int    `json:"quantity"`
	Attempt  int    `json:"attempt"`
}

// deliveryReport — ответ внешнего сервиса о доставке.
type deliveryReport struct {
	ID        string `json:"id,omitempty"`
	Status    string `json:"status,omitempty"`
	Attempted int    `json:"attempted"`
	Confirmed int    `json:"confirmed"`
	Error     string `json:"error,omitempty"`
}

// httpResult — результат HTTP-вызова.
type httpResult struct {
	StatusCode int
	Body       []byte
}

// doJSON выполняет HTTP-запрос с JSON-телом и bearer-токеном.
//
// Ошибка возвращается только для транспортных проблем;
// HTTP >= 400 — это результат, его классифицирует вызывающий.
func doJSON(ctx context.Context, client *http.Client, method, url, token string, body any) (*httpResult, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &httpResult{StatusCode: resp.StatusCode, Body: respBody}, nil
}

// retryableStatus — коды, при которых попытку можно повторить.
func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}

// credentialStatus — коды, указывающие на проблему с арендованным ключом.
func credentialStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// newHTTPClient возвращает клиент с таймаутом по умолчанию.
func newHTTPClient(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
