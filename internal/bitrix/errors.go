package bitrix

import (
	"context"
	"errors"
	"net"
	"os"
)

const (
	CodeNonJSON      = "non_json"
	CodeParseFailure = "parse_failure"
	CodeUnknown      = "bitrix_error"
)

// RemoteError ошибка, полученная от Bitrix24 или при разборе его ответа.
type RemoteError struct {
	Code   string
	Detail string
}

func (e *RemoteError) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return e.Code + ": " + e.Detail
}

// TransportError сетевая ошибка: соединение, таймаут, ожидание свободного
// соединения в пуле, нарушение протокола.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout сообщает, что причиной ошибки стал один из таймаутов.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, os.ErrDeadlineExceeded) || errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// IsParseFailure сообщает, что ответ получен, но нужные данные из него извлечь
// не удалось.
func IsParseFailure(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == CodeParseFailure
}
