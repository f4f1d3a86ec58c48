// Package pool управляет арендуемыми ресурсами (прокси, API-ключи, токены провайдера,
// сессии браузера), которые нужны backend'ам для выполнения tasks.
//
// Manager — единственный, кто меняет состояние аренд. Остальные компоненты
// только запрашивают (Checkout) и возвращают (Checkin) аренды через его интерфейс.
//
// Жизненный цикл ресурса:
//
//	healthy ──(DegradeAfter ошибок подряд)──▶ degraded
//	degraded ──(BlacklistAfter ошибок подряд)──▶ blacklisted
//	blacklisted ──(Cooldown истёк)──▶ probation ──(успех)──▶ healthy
//	                                           └──(ошибка)──▶ blacklisted
//
// Checkout никогда не блокирует дольше CheckoutWait: если свободного ресурса
// нет, возвращается ErrUnavailable, и вызывающий должен вернуть task в очередь.
//
// Инвариант: количество выданных аренд в scope не превышает размер scope.
package pool
