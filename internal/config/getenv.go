package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var ErrEnvRequired = errors.New("env is required")

type getenv struct {
	errs []error
}

func (ge *getenv) Err() error {
	return errors.Join(ge.errs...)
}

type parseFunc[T any] func(s string) (T, error)

func getValue[T any](key string, required bool, defaultValue T, parse parseFunc[T]) (T, error) {
	s, ok := os.LookupEnv(key)
	if !ok || s == "" {
		if required {
			var zero T
			return zero, fmt.Errorf("%s %w", key, ErrEnvRequired)
		}
		return defaultValue, nil
	}
	return parse(s)
}

func (ge *getenv) String(key string, required bool, defaultValue string) string {
	v, err := getValue(key, required, defaultValue, func(s string) (string, error) {
		return s, nil
	})
	if err != nil {
		ge.errs = append(ge.errs, err)
	}
	return v
}

func (ge *getenv) Int(key string, required bool, defaultValue int) int {
	v, err := getValue(key, required, defaultValue, func(s string) (int, error) {
		return strconv.Atoi(s)
	})
	if err != nil {
		ge.errs = append(ge.errs, err)
	}
	return v
}

func (ge *getenv) LogLevel(key string, required bool, defaultValue slog.Level) slog.Level {
	v, err := getValue(key, required, defaultValue, func(s string) (slog.Level, error) {
		var v slog.Level
		err := v.UnmarshalText([]byte(s))
		return v, err
	})
	if err != nil {
		ge.errs = append(ge.errs, err)
	}
	return v
}

func (ge *getenv) Bool(key string, required bool, defaultValue bool) bool {
	v, err := getValue(key, required, defaultValue, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "yes", "on", "1":
			return true, nil
		case "false", "no", "off", "0":
			return false, nil
		default:
			return false, fmt.Errorf("invalid boolean value %q for %q, want: true/false, yes/no, on/off, 1/0", s, key)
		}
	})
	if err != nil {
		ge.errs = append(ge.errs, err)
	}
	return v
}

func (ge *getenv) Duration(key string, required bool, defaultValue time.Duration) time.Duration {
	v, err := getValue(key, required, defaultValue, func(s string) (time.Duration, error) {
		return time.ParseDuration(s)
	})
	if err != nil {
		ge.errs = append(ge.errs, err)
	}
	return v
}

func (ge *getenv) Int64(key string, required bool, defaultValue int64) int64 {
	v, err := getValue(key, required, defaultValue, func(s string) (int64, error) {
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	})
	if err != nil {
		ge.errs = append(ge.errs, fmt.Errorf("%s: %w", key, err))
	}
	return v
}

// OptionalInt64 возвращает nil, если переменная не задана.
func (ge *getenv) OptionalInt64(key string) *int64 {
	v, err := getValue(key, false, nil, func(s string) (*int64, error) {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, err
		}
		return &n, nil
	})
	if err != nil {
		ge.errs = append(ge.errs, fmt.Errorf("%s: %w", key, err))
	}
	return v
}

func (ge *getenv) Float(key string, required bool, defaultValue float64) float64 {
	v, err := getValue(key, required, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	})
	if err != nil {
		ge.errs = append(ge.errs, fmt.Errorf("%s: %w", key, err))
	}
	return v
}

// IDs список целых, разделенных запятыми или пробелами.
func (ge *getenv) IDs(key string, required bool, defaultValue []int64) []int64 {
	v, err := getValue(key, required, defaultValue, func(s string) ([]int64, error) {
		fields := strings.FieldsFunc(s, func(r rune) bool {
			return r == ',' || r == ';' || unicode.IsSpace(r)
		})
		ids := make([]int64, 0, len(fields))
		for _, f := range fields {
			id, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid id %q: %w", f, err)
			}
			ids = append(ids, id)
		}
		return ids, nil
	})
	if err != nil {
		ge.errs = append(ge.errs, fmt.Errorf("%s: %w", key, err))
	}
	return v
}

// Seconds принимает длительность ("90s", "1m30s") или число секунд ("90", "2.5").
func (ge *getenv) Seconds(key string, required bool, defaultValue time.Duration) time.Duration {
	v, err := getValue(key, required, defaultValue, func(s string) (time.Duration, error) {
		s = strings.TrimSpace(s)
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return time.ParseDuration(s)
	})
	if err != nil {
		ge.errs = append(ge.errs, fmt.Errorf("%s: %w", key, err))
	}
	return v
}
