package uploader

import (
	"context"
	"errors"
	"strings"

	"github.com/StayAlive96/Bitrix-task-bot/internal/bitrix"
)

// признаки временных сбоев в тексте ошибки
var retryMarkers = []string{
	"timeout",
	"timed out",
	"readtimeout",
	"connecttimeout",
	"protocol error",
	"remoteprotocolerror",
	"temporar",
	"service unavailable",
	"gateway timeout",
	"too many request",
	"internal",
	"network",
	"502",
	"503",
	"504",
}

// IsRetryable сообщает, имеет ли смысл повторить загрузку после err.
//
// Повторяются транспортные ошибки и ответы Bitrix24, текст которых похож на
// временный сбой. Локальные ошибки (например, нет файла) не повторяются, даже
// если в пути встретилось что-то похожее на код статуса. Отмена контекста
// вызывающим не повторяется никогда.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var te *bitrix.TransportError
	if errors.As(err, &te) {
		return true
	}

	return transientRemote(err)
}

// transientRemote обходит все дерево ошибок: errors.As нашел бы только
// первый *bitrix.RemoteError, а в StrategiesError их несколько.
func transientRemote(err error) bool {
	switch e := err.(type) {
	case *bitrix.RemoteError:
		return hasRetryMarker(e.Error())
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if transientRemote(inner) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return transientRemote(e.Unwrap())
	}
	return false
}

func hasRetryMarker(text string) bool {
	msg := strings.ToLower(text)
	for _, marker := range retryMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
