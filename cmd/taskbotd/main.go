package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/StayAlive96/Bitrix-task-bot/internal/api"
	"github.com/StayAlive96/Bitrix-task-bot/internal/bitrix"
	"github.com/StayAlive96/Bitrix-task-bot/internal/config"
	"github.com/StayAlive96/Bitrix-task-bot/internal/dialog"
	"github.com/StayAlive96/Bitrix-task-bot/internal/loader"
	"github.com/StayAlive96/Bitrix-task-bot/internal/logger"
	"github.com/StayAlive96/Bitrix-task-bot/internal/manager"
	"github.com/StayAlive96/Bitrix-task-bot/internal/memstor"
	"github.com/StayAlive96/Bitrix-task-bot/internal/protect"
	"github.com/StayAlive96/Bitrix-task-bot/internal/redistor"
	"github.com/StayAlive96/Bitrix-task-bot/internal/telegram"
	"github.com/StayAlive96/Bitrix-task-bot/internal/uploader"
	"github.com/StayAlive96/Bitrix-task-bot/internal/usermap"
)

const (
	shutdownTimeout = 30 * time.Second
	apiBasePath     = "/api"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	logger.SetupDefault(cfg.Logger)

	slog.Debug("server config",
		"server", cfg.Server, "bitrix", redactedBitrix(cfg.Bitrix),
		"upload", cfg.Upload, "storage", redactedStorage(cfg.Storage))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	users, err := usermap.Open(cfg.Storage.UserMapDB)
	if err != nil {
		log.Fatalf("open user map failed: %v", err)
	}
	defer users.Close()
	if err := users.Init(ctx); err != nil {
		log.Fatalf("init user map failed: %v", err)
	}

	sessions, closeSessions, err := newSessionStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("create session store failed: %v", err)
	}
	defer closeSessions()

	client, err := bitrix.New(bitrix.Config{
		WebhookBase: cfg.Bitrix.WebhookBase,
		Timeout:     cfg.Bitrix.HTTPTimeout,
		RateLimit:   cfg.Bitrix.RateLimit,
		RateBurst:   cfg.Bitrix.RateBurst,
	})
	if err != nil {
		log.Fatalf("create bitrix client failed: %v", err)
	}
	defer client.CloseIdleConnections()

	upl := uploader.New(client, uploader.Config{
		UploadTimeout:    cfg.Upload.Timeout,
		UploadURLTimeout: cfg.Upload.URLTimeout,
		ProbeTimeout:     cfg.Upload.ProbeTimeout,
		FinalTimeout:     cfg.Upload.FinalTimeout,
		MaxAttempts:      cfg.Upload.MaxAttempts,
		Parallelism:      cfg.Upload.Parallelism,
	})
	mgr := manager.New(cfg.Bitrix, cfg.Upload, upl, client)
	ldr := loader.New(newHTTPClient(), cfg.Storage.MaxAttachmentBytes)

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		log.Fatalf("connect to telegram failed: %v", err)
	}
	slog.Info("telegram bot authorized", "username", bot.Self.UserName)

	wizard := dialog.New(dialog.Config{
		AllowedUsers:       cfg.Telegram.AllowedUsers,
		UploadDir:          cfg.Storage.UploadDir,
		MaxAttachments:     cfg.Storage.MaxAttachments,
		MaxAttachmentBytes: cfg.Storage.MaxAttachmentBytes,
		ResponsibleID:      cfg.Bitrix.ResponsibleID,
		PortalBase:         cfg.Bitrix.PortalBase,
		TaskURLTemplate:    cfg.Bitrix.TaskURLTemplate,
	}, sessions, users, mgr, bot, ldr)

	handler := logger.HTTPLogging(slog.Default(), api.New(mgr, ldr, api.Config{
		BasePath:       apiBasePath,
		UploadDir:      cfg.Storage.UploadDir,
		MaxAttachments: cfg.Storage.MaxAttachments,
	}))
	server := newServer(cfg.Server.Addr, handler)

	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		if err := telegram.New(bot, wizard, cfg.Telegram.PollTimeout).Run(ctx); err != nil {
			slog.Error("telegram bot failed", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown by signal")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()

	slog.Info("server startup", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		stop()
	}

	<-botDone
	slog.Info("server stopped")
}

// newSessionStore выбирает хранилище сессий диалога по конфигурации.
func newSessionStore(ctx context.Context, cfg config.Storage) (dialog.SessionStore, func(), error) {
	switch cfg.SessionStore {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, err
		}
		slog.Info("session store", "kind", "redis", "addr", cfg.RedisAddr)
		return redistor.New(rdb, cfg.SessionTTL), func() { rdb.Close() }, nil

	default:
		stor := memstor.New(memstor.Config{
			MaxTotal:   cfg.MaxSessions,
			SessionTTL: cfg.SessionTTL,
		})
		slog.Info("session store", "kind", "memory", "maxSessions", cfg.MaxSessions)
		return stor, stor.Cancel, nil
	}
}

// newHTTPClient создаёт клиент для скачивания вложений с разумными таймаутами
// и защитой от SSRF.
func newHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           protect.Dial(dialer.DialContext),
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// newServer создаёт HTTP-сервер служебного API.
func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: handler,

		// Таймауты на уровне соединения
		ReadTimeout:       2 * time.Minute, // вложения приходят в теле запроса
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      5 * time.Minute, // загрузка в Bitrix24 идет до ответа
		IdleTimeout:       1 * time.Minute,

		// Ограничение на размер заголовков
		MaxHeaderBytes: 8192, // 8 KB
	}
}

func redactedBitrix(cfg config.Bitrix) config.Bitrix {
	if cfg.WebhookBase != "" {
		cfg.WebhookBase = "***"
	}
	return cfg
}

func redactedStorage(cfg config.Storage) config.Storage {
	if cfg.RedisPassword != "" {
		cfg.RedisPassword = "***"
	}
	return cfg
}
