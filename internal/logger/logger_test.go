package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nalgeon/be"

	"github.com/StayAlive96/Bitrix-task-bot/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(config.Logger{Level: slog.LevelInfo}, &buf)
		log.Debug("hidden")
		log.Info("shown", "taskID", 7)

		var rec map[string]any
		be.Err(t, json.Unmarshal(buf.Bytes(), &rec), nil)
		be.Equal(t, rec["msg"], any("shown"))
		be.Equal(t, rec["taskID"], any(float64(7)))
	})

	t.Run("plaintext", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(config.Logger{Level: slog.LevelDebug, Plaintext: true}, &buf)
		log.Debug("visible")
		be.True(t, strings.Contains(buf.String(), "msg=visible"))
	})
}

func TestFromContext(t *testing.T) {
	be.Equal(t, FromContext(context.Background()), slog.Default())

	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := Context(context.Background(), log)
	be.Equal(t, FromContext(ctx), log)
}

func TestHTTPLogging(t *testing.T) {
	var buf bytes.Buffer
	log := New(config.Logger{Level: slog.LevelDebug}, &buf)

	t.Run("status", func(t *testing.T) {
		h := HTTPLogging(log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			be.True(t, FromContext(r.Context()) != slog.Default())
			w.WriteHeader(http.StatusTeapot)
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
		be.Equal(t, rec.Code, http.StatusTeapot)
	})

	t.Run("panic", func(t *testing.T) {
		h := HTTPLogging(log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		be.Equal(t, rec.Code, http.StatusInternalServerError)
		be.True(t, strings.Contains(buf.String(), "panic recovered"))
	})
}

func TestRecover(t *testing.T) {
	var buf bytes.Buffer
	log := New(config.Logger{Level: slog.LevelInfo}, &buf)

	called := false
	func() {
		defer Recover(log, func() { called = true })
		panic("boom")
	}()
	be.True(t, called)
	be.True(t, strings.Contains(buf.String(), "boom"))
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	base := New(config.Logger{Level: slog.LevelInfo}, &buf)

	ctx, log := With(Context(context.Background(), base), "userID", 42)
	be.Equal(t, FromContext(ctx), log)

	log.Info("hello")
	be.True(t, strings.Contains(buf.String(), `"userID":42`))
	be.Equal(t, len(NewRequestID()), 8)
}
