package uploader

import (
	"errors"
	"strings"
)

// StrategiesError все стратегии одной попытки завершились ошибкой.
type StrategiesError struct {
	Failures []string // "<strategy>: <ошибка>" в порядке запуска
	Errs     []error
}

func (e *StrategiesError) Error() string {
	return "sequential strategies failed: " + strings.Join(e.Failures, " | ")
}

func (e *StrategiesError) Unwrap() []error {
	return e.Errs
}

func (e *StrategiesError) add(strategy Strategy, err error) {
	e.Failures = append(e.Failures, string(strategy)+": "+brief(err))
	e.Errs = append(e.Errs, err)
}

// brief первая строка текста ошибки.
func brief(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i != -1 {
		msg = msg[:i]
	}
	return msg
}

// ErrNoStrategies план попытки пуст.
var ErrNoStrategies = errors.New("no upload strategies planned")
