package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// BackendSummary — разбивка заказа по backend'у.
type BackendSummary struct {
	Backend   string `json:"backend"`
	State     string `json:"state"`
	Tasks     int    `json:"tasks"`
	Attempted int    `json:"attempted"`
	Confirmed int    `json:"confirmed"`
	Retryable int    `json:"retryable_failures"`
	Fatal     int    `json:"fatal_failures"`
}

// OrderResponse — заказ из API.
type OrderResponse struct {
	ID             string           `json:"id"`
	Target         string           `json:"target"`
	Quantity       int              `json:"quantity"`
	Sent           int              `json:"sent"`
	Confirmed      int              `json:"confirmed"`
	Percent        float64          `json:"percent"`
	Status         string           `json:"status"`
	Backends       []string         `json:"backends"`
	Priority       string           `json:"priority,omitempty"`
	Methods        []BackendSummary `json:"methods,omitempty"`
	Error          string           `json:"error,omitempty"`
	CreatedAt      string           `json:"created_at"`
	StartedAt      string           `json:"started_at,omitempty"`
	FinishedAt     string           `json:"finished_at,omitempty"`
	InFlight       *int             `json:"in_flight,omitempty"`
	CurrentBackend string           `json:"current_backend,omitempty"`
}

// ProgressEvent — событие прогресса из API.
type ProgressEvent struct {
	Seq       int            `json:"seq"`
	Percent   float64        `json:"percent"`
	Sent      int            `json:"sent"`
	Confirmed int            `json:"confirmed"`
	Status    string         `json:"status"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// ProgressResponse — прогресс заказа из API.
type ProgressResponse struct {
	OrderID   string           `json:"order_id"`
	Status    string           `json:"status"`
	Quantity  int              `json:"quantity"`
	Sent      int              `json:"sent"`
	Confirmed int              `json:"confirmed"`
	Percent   float64          `json:"percent"`
	Error     string           `json:"error,omitempty"`
	Methods   []BackendSummary `json:"methods"`
	Latest    *ProgressEvent   `json:"latest,omitempty"`
}

// BackendResponse — backend из API.
type BackendResponse struct {
	Name            string   `json:"name"`
	Kind            string   `json:"kind"`
	Priority        int      `json:"priority"`
	MaxConcurrency  int      `json:"max_concurrency"`
	MaxBatchSize    int      `json:"max_batch_size"`
	SupportsPartial bool     `json:"supports_partial"`
	ResourceScope   string   `json:"resource_scope,omitempty"`
	InUse           int      `json:"in_use"`
	SuccessRate     *float64 `json:"success_rate,omitempty"`
	Samples         int      `json:"samples"`
}

// ScopeResponse — состояние scope пула ресурсов.
type ScopeResponse struct {
	Scope       string `json:"scope"`
	Size        int    `json:"size"`
	Leased      int    `json:"leased"`
	Healthy     int    `json:"healthy"`
	Degraded    int    `json:"degraded"`
	Blacklisted int    `json:"blacklisted"`
}

// ScheduleResponse — повторяющийся заказ из API.
type ScheduleResponse struct {
	Name      string `json:"name"`
	Schedule  string `json:"schedule"`
	Disabled  bool   `json:"disabled"`
	NextDueAt string `json:"next_due_at"`
	LastRunAt string `json:"last_run_at,omitempty"`
	LastOrder string `json:"last_order_id,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// --- Request types ---

// CreateOrderRequest — создание заказа.
type CreateOrderRequest struct {
	Target   string   `json:"target"`
	Quantity int      `json:"quantity"`
	Backends []string `json:"backends,omitempty"`
	Priority string   `json:"priority,omitempty"`
}

// ListOrdersOpts — параметры фильтрации заказов.
type ListOrdersOpts struct {
	Status string
	Limit  int
	Offset int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Courier API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Orders ---

// ListOrders возвращает список заказов с фильтрацией.
func (c *Client) ListOrders(opts ListOrdersOpts) ([]OrderResponse, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", fmt.Sprintf("%d", opts.Offset))
	}

	var orders []OrderResponse
	err := c.list("/api/v1/orders", params, &orders)
	return orders, err
}

// CreateOrder создаёт заказ.
func (c *Client) CreateOrder(req CreateOrderRequest) (*OrderResponse, error) {
	var order OrderResponse
	err := c.post("/api/v1/orders", req, &order)
	return &order, err
}

// GetOrder возвращает заказ по ID.
func (c *Client) GetOrder(id string) (*OrderResponse, error) {
	var order OrderResponse
	err := c.get("/api/v1/orders/"+id, &order)
	return &order, err
}

// GetProgress возвращает прогресс заказа.
func (c *Client) GetProgress(id string) (*ProgressResponse, error) {
	var progress ProgressResponse
	err := c.get("/api/v1/orders/"+id+"/progress", &progress)
	return &progress, err
}

// ListEvents возвращает последние события прогресса заказа.
func (c *Client) ListEvents(id string, limit int) ([]ProgressEvent, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	var events []ProgressEvent
	err := c.list("/api/v1/orders/"+id+"/events", params, &events)
	return events, err
}

// CancelOrder отменяет заказ.
func (c *Client) CancelOrder(id string) (*OrderResponse, error) {
	var order OrderResponse
	err := c.post("/api/v1/orders/"+id+"/cancel", nil, &order)
	return &order, err
}

// --- Engine state ---

// ListBackends возвращает backend'ы в порядке приоритета.
func (c *Client) ListBackends() ([]BackendResponse, error) {
	var backends []BackendResponse
	err := c.list("/api/v1/backends", nil, &backends)
	return backends, err
}

// GetPool возвращает состояние пула ресурсов.
func (c *Client) GetPool() ([]ScopeResponse, error) {
	var scopes []ScopeResponse
	err := c.list("/api/v1/pool", nil, &scopes)
	return scopes, err
}

// ListSchedules возвращает повторяющиеся заказы.
func (c *Client) ListSchedules() ([]ScheduleResponse, error) {
	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", nil, &schedules)
	return schedules, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
