package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// ParseLevel переводит строку уровня (DEBUG, INFO, WARN, ERROR) в slog.Level.
// Неизвестные значения дают INFO.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// NewLogger создаёт логгер движка и делает его логгером по умолчанию.
//
// format "text" — человекочитаемый вывод для разработки, всё остальное JSON.
// На DEBUG в записи добавляется место вызова.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if format == "text" {
		h = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(h).With("service", "courier")
	slog.SetDefault(logger)
	return logger
}

type ctxKey int

const (
	loggerKey ctxKey = iota
	requestIDKey
)

// WithLogger кладёт логгер в контекст. Backend'ы берут его через FromContext.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext достаёт логгер из контекста, иначе slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithRequestID кладёт ID HTTP-запроса в контекст.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID возвращает ID запроса или "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ForOrder добавляет к логгеру order_id.
func ForOrder(logger *slog.Logger, orderID uuid.UUID) *slog.Logger {
	return logger.With("order_id", orderID.String())
}

// ForTask добавляет к логгеру task_id, order_id и имя backend'а.
func ForTask(logger *slog.Logger, taskID, orderID uuid.UUID, backend string) *slog.Logger {
	return logger.With(
		"task_id", taskID.String(),
		"order_id", orderID.String(),
		"backend", backend,
	)
}
