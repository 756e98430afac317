package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/StayAlive96/Bitrix-task-bot/internal/bitrix"
	"github.com/nalgeon/be"
)

func TestIsRetryable(t *testing.T) {
	strategies := func(errs ...error) error {
		se := &StrategiesError{}
		for _, err := range errs {
			se.add(InlineContent, err)
		}
		return se
	}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gateway_timeout", fmt.Errorf("upload: %w", &bitrix.RemoteError{Code: bitrix.CodeNonJSON, Detail: "HTTP 504: Gateway Timeout"}), true},
		{"http_503", &bitrix.RemoteError{Code: bitrix.CodeNonJSON, Detail: "HTTP 503: <html></html>"}, true},
		{"http_502", &bitrix.RemoteError{Code: bitrix.CodeNonJSON, Detail: "HTTP 502: Bad Gateway"}, true},
		{"too_many_requests", &bitrix.RemoteError{Code: "QUERY_LIMIT_EXCEEDED", Detail: "Too many requests"}, true},
		{"internal", &bitrix.RemoteError{Code: "INTERNAL_SERVER_ERROR"}, true},
		{"temporary", &bitrix.RemoteError{Code: "OVERLOAD_LIMIT", Detail: "Temporarily unavailable"}, true},
		{"local_path", fmt.Errorf("stat file failed: %w", &os.PathError{Op: "stat", Path: "uploads/2025-01-02/15031/a504c1/scan.pdf", Err: os.ErrNotExist}), false},
		{"local_read", errors.New("read file failed: timeout.txt: permission denied"), false},
		{"transport", &bitrix.TransportError{Op: "request", Err: io.ErrUnexpectedEOF}, true},
		{"wrapped_transport", fmt.Errorf("upload: %w", &bitrix.TransportError{Op: "read body", Err: io.EOF}), true},
		{"invalid_responsible", &bitrix.RemoteError{Code: "INVALID_RESPONSIBLE", Detail: "Responsible not found"}, false},
		{"parse_failure", &bitrix.RemoteError{Code: bitrix.CodeParseFailure, Detail: `{"result":{}}`}, false},
		{"cancelled", fmt.Errorf("request: %w", context.Canceled), false},
		{"strategies_transient", strategies(&bitrix.RemoteError{Code: "ACCESS_DENIED"}, &bitrix.TransportError{Op: "request", Err: io.EOF}), true},
		{"strategies_second_transient", strategies(&bitrix.RemoteError{Code: "ACCESS_DENIED"}, &bitrix.RemoteError{Code: bitrix.CodeNonJSON, Detail: "HTTP 503: busy"}), true},
		{"strategies_local", strategies(fmt.Errorf("read file failed: %w", &os.PathError{Op: "open", Path: "/tmp/502/a.pdf", Err: os.ErrNotExist})), false},
		{"strategies_terminal", strategies(&bitrix.RemoteError{Code: "ACCESS_DENIED"}, &bitrix.RemoteError{Code: bitrix.CodeParseFailure}), false},
		{"strategies_cancelled", strategies(&bitrix.TransportError{Op: "request", Err: io.EOF}, context.Canceled), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be.Equal(t, IsRetryable(tt.err), tt.want)
		})
	}
}
