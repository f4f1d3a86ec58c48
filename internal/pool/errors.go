package pool

import "errors"

// Ошибки пула ресурсов.
var (
	// ErrUnavailable — свободного ресурса нет в пределах CheckoutWait.
	ErrUnavailable = errors.New("resource unavailable")

	// ErrUnknownScope — scope не сконфигурирован в пуле.
	ErrUnknownScope = errors.New("unknown resource scope")

	// ErrLeaseNotHeld — аренда уже возвращена (или отобрана Reap).
	ErrLeaseNotHeld = errors.New("lease not held")

	// ErrDuplicateResource — ресурс с таким ID уже есть в пуле.
	ErrDuplicateResource = errors.New("duplicate resource")
)
