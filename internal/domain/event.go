package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProgressEvent — запись о прогрессе заказа. Только добавляется, не изменяется.
//
// Для одного заказа события выпускаются в порядке неубывания Confirmed.
type ProgressEvent struct {
	ID        uuid.UUID      `json:"id"`
	OrderID   uuid.UUID      `json:"order_id"`
	Seq       int            `json:"seq"`
	Percent   float64        `json:"percent"`
	Sent      int            `json:"sent"`
	Confirmed int            `json:"confirmed"`
	Status    OrderStatus    `json:"status"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
