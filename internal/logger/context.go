package logger

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type ctxKey struct{}

// Context кладет логгер в контекст. Обработчики ниже по цепочке достают его
// через FromContext и получают уже заполненные reqID и прочие атрибуты.
func Context(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}

// With дополняет логгер из контекста атрибутами и возвращает новый контекст
// вместе с этим логгером.
func With(ctx context.Context, args ...any) (context.Context, *slog.Logger) {
	log := FromContext(ctx).With(args...)
	return Context(ctx, log), log
}

// NewRequestID короткий идентификатор запроса для связывания записей лога.
func NewRequestID() string {
	return uuid.NewString()[:8]
}
