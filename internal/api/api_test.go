package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/Courier/internal/backend"
	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/orchestrator"
	"github.com/shaiso/Courier/internal/pool"
	"github.com/shaiso/Courier/internal/repo"
)

// fakeOrders хранит заказы в MemoryStore и имитирует Orchestrator.
type fakeOrders struct {
	store  *repo.MemoryStore
	active map[uuid.UUID]bool
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{store: repo.NewMemoryStore(), active: make(map[uuid.UUID]bool)}
}

func (f *fakeOrders) Submit(ctx context.Context, req orchestrator.OrderRequest) (*domain.Order, error) {
	if req.Target == "" || req.Quantity <= 0 {
		return nil, orchestrator.ErrInvalidOrder
	}
	order := &domain.Order{
		ID:       uuid.New(),
		Target:   req.Target,
		Quantity: req.Quantity,
		Status:   domain.OrderStatusDispatching,
		Backends: []string{"api"},
	}
	f.active[order.ID] = true
	return order, f.store.Save(ctx, order)
}

func (f *fakeOrders) Cancel(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.IsFinished() {
		return nil, orchestrator.ErrOrderFinished
	}
	order.MarkCancelled()
	delete(f.active, id)
	return order, f.store.Save(ctx, order)
}

func (f *fakeOrders) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, err := f.store.Load(ctx, id)
	if err != nil {
		return nil, orchestrator.ErrOrderNotFound
	}
	return order, nil
}

func (f *fakeOrders) GetProgress(ctx context.Context, id uuid.UUID) (orchestrator.Progress, error) {
	order, err := f.Get(ctx, id)
	if err != nil {
		return orchestrator.Progress{}, err
	}
	return orchestrator.Progress{OrderID: id, Status: order.Status, Quantity: order.Quantity}, nil
}

func (f *fakeOrders) Events(ctx context.Context, id uuid.UUID, limit int) ([]domain.ProgressEvent, error) {
	return f.store.ListEvents(ctx, id, limit)
}

func (f *fakeOrders) GetActiveOrderStats(id uuid.UUID) (orchestrator.OrderStats, bool) {
	if !f.active[id] {
		return orchestrator.OrderStats{}, false
	}
	return orchestrator.OrderStats{InFlight: 2, CurrentBackend: "api"}, true
}

type fixedStats struct{}

func (fixedStats) SuccessRate(string) (float64, int) { return 0.75, 4 }

type fixedSlots struct{}

func (fixedSlots) InUse(string) int { return 3 }

type testBackend struct{ desc backend.Descriptor }

func (b *testBackend) Descriptor() backend.Descriptor { return b.desc }

func (b *testBackend) Attempt(context.Context, *domain.Task, *pool.Lease) domain.DeliveryOutcome {
	return domain.DeliveryOutcome{}
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeOrders) {
	t.Helper()

	reg := backend.NewRegistry()
	if err := reg.Register(&testBackend{desc: backend.Descriptor{
		Name: "api", Kind: backend.KindAPI, Priority: 1, MaxConcurrency: 4, MaxBatchSize: 100,
	}}); err != nil {
		t.Fatal(err)
	}

	mgr, err := pool.New(pool.Config{Resources: []pool.Resource{{ID: "acc-1", Scope: "accounts"}}})
	if err != nil {
		t.Fatal(err)
	}

	orders := newFakeOrders()
	h := NewHandler(Config{
		Orders:   orders,
		Lister:   orders.store,
		Registry: reg,
		Slots:    fixedSlots{},
		Stats:    fixedStats{},
		Pool:     mgr,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, orders
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

type orderEnvelope struct {
	Data  OrderResponse `json:"data"`
	Error ErrorDetail   `json:"error"`
}

// --- Order Handler Tests ---

func TestCreateOrder(t *testing.T) {
	srv, _ := newTestServer(t)

	var got orderEnvelope
	status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/orders", `{"target":"content-1","quantity":50}`, &got)
	if status != http.StatusCreated {
		t.Fatalf("status = %d, want 201", status)
	}
	if got.Data.Target != "content-1" || got.Data.Quantity != 50 {
		t.Errorf("order = %+v", got.Data)
	}
	if got.Data.InFlight == nil || *got.Data.InFlight != 2 || got.Data.CurrentBackend != "api" {
		t.Errorf("active stats missing: %+v", got.Data)
	}
}

func TestCreateOrder_Invalid(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"target":`},
		{"zero quantity", `{"target":"content-1","quantity":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got orderEnvelope
			status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/orders", tt.body, &got)
			if status != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", status)
			}
			if got.Error.Code != ErrCodeBadRequest {
				t.Errorf("code = %s", got.Error.Code)
			}
		})
	}
}

func TestGetOrder(t *testing.T) {
	srv, orders := newTestServer(t)
	order, _ := orders.Submit(context.Background(), orchestrator.OrderRequest{Target: "t", Quantity: 5})

	var got orderEnvelope
	if status := doJSON(t, http.MethodGet, srv.URL+"/api/v1/orders/"+order.ID.String(), "", &got); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if got.Data.ID != order.ID {
		t.Errorf("id = %s, want %s", got.Data.ID, order.ID)
	}

	if status := doJSON(t, http.MethodGet, srv.URL+"/api/v1/orders/"+uuid.NewString(), "", nil); status != http.StatusNotFound {
		t.Errorf("unknown order status = %d, want 404", status)
	}
	if status := doJSON(t, http.MethodGet, srv.URL+"/api/v1/orders/not-a-uuid", "", nil); status != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", status)
	}
}

func TestCancelOrder(t *testing.T) {
	srv, orders := newTestServer(t)
	order, _ := orders.Submit(context.Background(), orchestrator.OrderRequest{Target: "t", Quantity: 5})
	url := srv.URL + "/api/v1/orders/" + order.ID.String() + "/cancel"

	var got orderEnvelope
	if status := doJSON(t, http.MethodPost, url, "", &got); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if got.Data.Status != string(domain.OrderStatusCancelled) {
		t.Errorf("status = %s", got.Data.Status)
	}
	if got.Data.InFlight != nil {
		t.Error("finished order should not report in_flight")
	}

	// повторная отмена — заказ уже завершён
	if status := doJSON(t, http.MethodPost, url, "", nil); status != http.StatusUnprocessableEntity {
		t.Errorf("second cancel status = %d, want 422", status)
	}
}

func TestListOrders(t *testing.T) {
	srv, orders := newTestServer(t)
	for i := 0; i < 3; i++ {
		orders.Submit(context.Background(), orchestrator.OrderRequest{Target: "t", Quantity: 1})
	}

	var got struct {
		Data  []OrderResponse `json:"data"`
		Total int             `json:"total"`
	}
	if status := doJSON(t, http.MethodGet, srv.URL+"/api/v1/orders?limit=2", "", &got); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(got.Data) != 2 {
		t.Errorf("orders = %d, want 2", len(got.Data))
	}

	if status := doJSON(t, http.MethodGet, srv.URL+"/api/v1/orders?status=BOGUS", "", nil); status != http.StatusBadRequest {
		t.Errorf("bad status filter = %d, want 400", status)
	}
}

// --- Backend Handler Tests ---

func TestListBackends(t *testing.T) {
	srv, _ := newTestServer(t)

	var got struct {
		Data []BackendResponse `json:"data"`
	}
	if status := doJSON(t, http.MethodGet, srv.URL+"/api/v1/backends", "", &got); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(got.Data) != 1 {
		t.Fatalf("backends = %d, want 1", len(got.Data))
	}

	b := got.Data[0]
	if b.Name != "api" || b.InUse != 3 || b.Samples != 4 {
		t.Errorf("backend = %+v", b)
	}
	if b.SuccessRate == nil || *b.SuccessRate != 0.75 {
		t.Errorf("success_rate = %v", b.SuccessRate)
	}
}

func TestGetPool(t *testing.T) {
	srv, _ := newTestServer(t)

	var got struct {
		Data []pool.ScopeStats `json:"data"`
	}
	if status := doJSON(t, http.MethodGet, srv.URL+"/api/v1/pool", "", &got); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(got.Data) != 1 || got.Data[0].Scope != "accounts" || got.Data[0].Size != 1 {
		t.Errorf("pool = %+v", got.Data)
	}
}

// --- Middleware Tests ---

func TestRequestID(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/orders/"+uuid.NewString(), nil)
	req.Header.Set(HeaderRequestID, "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get(HeaderRequestID); got != "req-42" {
		t.Errorf("request id header = %q, want req-42", got)
	}
	var env orderEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound || env.Error.RequestID != "req-42" {
		t.Errorf("status = %d, error = %+v", resp.StatusCode, env.Error)
	}

	resp2, err := http.Get(srv.URL + "/api/v1/backends")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if _, err := uuid.Parse(resp2.Header.Get(HeaderRequestID)); err != nil {
		t.Errorf("generated request id is not a uuid: %v", err)
	}
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Chain(RequestID(logger), Logging(), Recovery())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var env ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Error.Code != ErrCodeInternalError || env.Error.RequestID == "" {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestHandleOrderError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{orchestrator.ErrInvalidOrder, http.StatusBadRequest},
		{repo.ErrNotFound, http.StatusNotFound},
		{orchestrator.ErrOrderFinished, http.StatusUnprocessableEntity},
		{repo.ErrAlreadyExists, http.StatusConflict},
		{orchestrator.ErrOrchestratorStopped, http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if !HandleOrderError(rec, r, tt.err) {
				t.Fatal("error not handled")
			}
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if HandleOrderError(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), nil) {
		t.Error("nil error should not be handled")
	}
}
