package mq

import "errors"

var (
	// ErrNoChannel — соединение с брокером сейчас не установлено.
	ErrNoChannel = errors.New("no amqp channel available")

	// ErrReject — сообщение некорректно и не должно возвращаться в очередь.
	// Handler оборачивает её, чтобы сообщение ушло в DLQ.
	ErrReject = errors.New("message rejected")
)
