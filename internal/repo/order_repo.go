package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Courier/internal/domain"
)

// OrderRepo — репозиторий заказов и их событий прогресса.
type OrderRepo struct {
	pool *pgxpool.Pool
}

// NewOrderRepo создаёт новый OrderRepo.
func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

const orderColumns = `id, target, quantity, sent, confirmed, status, backends, priority,
		       methods, error, created_at, started_at, finished_at`

// Save создаёт заказ или обновляет изменяемые поля существующего.
func (r *OrderRepo) Save(ctx context.Context, order *domain.Order) error {
	methods := order.Methods
	if methods == nil {
		methods = []domain.BackendSummary{}
	}
	methodsJSON, err := json.Marshal(methods)
	if err != nil {
		return fmt.Errorf("marshal methods: %w", err)
	}

	query := `
		INSERT INTO orders (id, target, quantity, sent, confirmed, status, backends, priority,
		                    methods, error, created_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE
		SET sent = EXCLUDED.sent,
		    confirmed = EXCLUDED.confirmed,
		    status = EXCLUDED.status,
		    methods = EXCLUDED.methods,
		    error = EXCLUDED.error,
		    started_at = EXCLUDED.started_at,
		    finished_at = EXCLUDED.finished_at
		WHERE orders.status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED')
		   OR orders.status = EXCLUDED.status
	`
	tag, err := r.pool.Exec(ctx, query,
		order.ID,
		order.Target,
		order.Quantity,
		order.Sent,
		order.Confirmed,
		order.Status,
		order.Backends,
		order.Priority,
		methodsJSON,
		nullString(order.Error),
		order.CreatedAt,
		order.StartedAt,
		order.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save order %s as %s: %w", order.ID, order.Status, ErrInvalidState)
	}
	return nil
}

// Load возвращает заказ по ID.
func (r *OrderRepo) Load(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(r.pool.QueryRow(ctx, query, id))
}

// List возвращает заказы с фильтрацией, новые первыми.
func (r *OrderRepo) List(ctx context.Context, filter OrderFilter) ([]domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.queryOrders(ctx, query,
		nullString(string(filter.Status)),
		filter.limit(),
		filter.Offset,
	)
}

// ListActive возвращает заказы в PENDING и DISPATCHING, старые первыми.
func (r *OrderRepo) ListActive(ctx context.Context, limit int) ([]domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status IN ('PENDING', 'DISPATCHING')
		ORDER BY created_at ASC
		LIMIT $1
	`
	return r.queryOrders(ctx, query, limit)
}

// AppendEvent добавляет событие прогресса.
func (r *OrderRepo) AppendEvent(ctx context.Context, event *domain.ProgressEvent) error {
	var detailJSON []byte
	if event.Detail != nil {
		var err error
		detailJSON, err = json.Marshal(event.Detail)
		if err != nil {
			return fmt.Errorf("marshal detail: %w", err)
		}
	}

	query := `
		INSERT INTO order_events (id, order_id, seq, percent, sent, confirmed, status, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		event.ID,
		event.OrderID,
		event.Seq,
		event.Percent,
		event.Sent,
		event.Confirmed,
		event.Status,
		detailJSON,
		event.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("order %s event %d: %w", event.OrderID, event.Seq, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

// ListEvents возвращает последние limit событий заказа в порядке seq.
// limit <= 0 — все события.
func (r *OrderRepo) ListEvents(ctx context.Context, orderID uuid.UUID, limit int) ([]domain.ProgressEvent, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}

	query := `
		SELECT id, order_id, seq, percent, sent, confirmed, status, detail, created_at
		FROM (
			SELECT * FROM order_events
			WHERE order_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) latest
		ORDER BY seq ASC
	`
	rows, err := r.pool.Query(ctx, query, orderID, lim)
	if err != nil {
		return nil, fmt.Errorf("list order events: %w", err)
	}
	defer rows.Close()

	var events []domain.ProgressEvent
	for rows.Next() {
		var ev domain.ProgressEvent
		var detailJSON []byte
		if err := rows.Scan(
			&ev.ID,
			&ev.OrderID,
			&ev.Seq,
			&ev.Percent,
			&ev.Sent,
			&ev.Confirmed,
			&ev.Status,
			&detailJSON,
			&ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &ev.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal detail: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Helpers ---

// OrderFilter — параметры фильтрации заказов.
type OrderFilter struct {
	Status domain.OrderStatus
	Limit  int
	Offset int
}

func (f OrderFilter) limit() int {
	if f.Limit <= 0 {
		return 50
	}
	return f.Limit
}

func (r *OrderRepo) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// scanOrder сканирует одну строку в Order. pgx.Rows тоже реализует pgx.Row.
func scanOrder(row pgx.Row) (*domain.Order, error) {
	var order domain.Order
	var methodsJSON []byte
	var orderError *string

	err := row.Scan(
		&order.ID,
		&order.Target,
		&order.Quantity,
		&order.Sent,
		&order.Confirmed,
		&order.Status,
		&order.Backends,
		&order.Priority,
		&methodsJSON,
		&orderError,
		&order.CreatedAt,
		&order.StartedAt,
		&order.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if methodsJSON != nil {
		if err := json.Unmarshal(methodsJSON, &order.Methods); err != nil {
			return nil, fmt.Errorf("unmarshal methods: %w", err)
		}
	}
	if orderError != nil {
		order.Error = *orderError
	}

	return &order, nil
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
