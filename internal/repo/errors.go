package repo

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound — заказа с таким ID нет.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — событие с таким seq уже записано для заказа.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — попытка сменить статус завершённого заказа.
	ErrInvalidState = errors.New("invalid state")
)

// pgUniqueViolation — SQLSTATE нарушения уникальности.
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
