// Package repo хранит заказы и события прогресса.
//
// Две реализации с одинаковым набором методов:
//   - OrderRepo — PostgreSQL (pgx/v5)
//   - MemoryStore — в памяти, для тестов и запуска без БД
//
// Обе возвращают ErrNotFound для отсутствующего заказа.
package repo
