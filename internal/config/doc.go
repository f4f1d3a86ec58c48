// Package config загружает конфигурацию courier-engine из YAML и окружения.
//
// Файл описывает backend'ы, ресурсы пула, политику retry и повторяющиеся
// заказы. URL инфраструктуры можно переопределить переменными окружения.
package config
