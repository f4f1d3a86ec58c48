// Package cli реализует инструмент командной строки Courier.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Courier API.
// Работает через HTTP и не зависит от внутреннего устройства движка.
// Единственное исключение — order submit --amqp-url, который публикует
// заказ напрямую в RabbitMQ через пакет mq.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Courier API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	orders, err := client.ListOrders(cli.ListOrdersOpts{Status: "DISPATCHING"})
//
// ## Output
//
// Таблицы через text/tabwriter по умолчанию, JSON с флагом --json.
// Данные выводятся в stdout, сообщения (Infof/Errorf) в stderr.
// Это позволяет использовать pipe: courier order list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - order: list, submit, show, progress, events, cancel, watch
//   - backend: list
//   - pool
//   - schedule: list
//
// Каждая группа создаётся через фабричную функцию (NewOrderCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
