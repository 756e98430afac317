package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/StayAlive96/Bitrix-task-bot/internal/config"
)

// New создает логгер: текстовый, если cfg.Plaintext, иначе JSON.
func New(cfg config.Logger, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if cfg.Plaintext {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func SetupDefault(cfg config.Logger) {
	slog.SetDefault(New(cfg, os.Stdout))
}
