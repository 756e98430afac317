package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Logger struct {
	Level     slog.Level
	Plaintext bool
}

type Server struct {
	Addr string
}

type Telegram struct {
	Token        string
	AllowedUsers []int64       // пустой список - доступ для всех
	PollTimeout  time.Duration // таймаут long polling
}

type Bitrix struct {
	WebhookBase     string        // входящий вебхук, заканчивается на '/'
	ResponsibleID   int64         // ответственный по умолчанию
	DiskFolderID    int64         // папка диска для вложений
	GroupID         *int64        // группа (проект), опционально
	Priority        *int64        // приоритет, опционально
	PortalBase      string        // адрес портала для ссылок на задачи
	TaskURLTemplate string        // шаблон ссылки с {task_id}
	HTTPTimeout     time.Duration // таймаут обычных вызовов
	RateLimit       float64       // запросов в секунду, 0 - без ограничения
	RateBurst       int
}

type Upload struct {
	Timeout      time.Duration // основной таймаут загрузки
	URLTimeout   time.Duration // таймаут uploadUrl для маленьких файлов
	ProbeTimeout time.Duration // пробные попытки маленьких файлов
	FinalTimeout time.Duration // последняя попытка маленьких файлов
	MaxAttempts  int           // не меньше 1
	Parallelism  int           // не меньше 1
	MaxActive    int           // одновременных отправок задач, < 0 - неограничено
}

type Storage struct {
	UploadDir          string
	UserMapDB          string
	SessionStore       string // memory или redis
	SessionTTL         time.Duration
	MaxSessions        int // для memory, < 0 - неограничено
	RedisAddr          string
	RedisPassword      string
	MaxAttachments     int
	MaxAttachmentBytes int64
}

type Config struct {
	Logger   Logger
	Server   Server
	Telegram Telegram
	Bitrix   Bitrix
	Upload   Upload
	Storage  Storage
}

var (
	ErrInvalidWebhook      = errors.New("BITRIX_WEBHOOK_BASE must end with '/'")
	ErrInvalidSessionStore = errors.New("SESSION_STORE must be memory or redis")
)

func Load() (Config, error) {
	var ge getenv
	cfg := Config{
		Logger: loadLogger(&ge),
		Server: Server{
			Addr: ge.String("SERVER_ADDR", false, ":8080"),
		},
		Telegram: Telegram{
			Token:        ge.String("TG_BOT_TOKEN", true, ""),
			AllowedUsers: ge.IDs("ALLOWED_TG_USERS", false, nil),
			PollTimeout:  ge.Duration("TG_POLL_TIMEOUT", false, 60*time.Second),
		},
		Bitrix: loadBitrix(&ge, true),
		Upload: loadUpload(&ge),
		Storage: Storage{
			UploadDir:          ge.String("UPLOAD_DIR", false, "./uploads"),
			UserMapDB:          ge.String("USERMAP_DB", false, "./data/users.db"),
			SessionStore:       strings.ToLower(ge.String("SESSION_STORE", false, "memory")),
			SessionTTL:         ge.Duration("SESSION_TTL", false, 1*time.Hour),
			MaxSessions:        ge.Int("MAX_SESSIONS", false, 10000),
			RedisAddr:          ge.String("REDIS_ADDR", false, "localhost:6379"),
			RedisPassword:      ge.String("REDIS_PASSWORD", false, ""),
			MaxAttachments:     ge.Int("MAX_ATTACHMENTS", false, 10),
			MaxAttachmentBytes: ge.Int64("MAX_ATTACHMENT_BYTES", false, 20*1024*1024),
		},
	}

	checkWebhook(&ge, cfg.Bitrix.WebhookBase)
	if s := cfg.Storage.SessionStore; s != "memory" && s != "redis" {
		ge.errs = append(ge.errs, ErrInvalidSessionStore)
	}

	return cfg, ge.Err()
}

// Tool настройки утилит командной строки, которым нужен только Bitrix24.
type Tool struct {
	Logger Logger
	Bitrix Bitrix
	Upload Upload
}

// LoadTool читает настройки Bitrix24 и загрузки. Обязателен только вебхук,
// остальное утилита может задать флагами.
func LoadTool() (Tool, error) {
	var ge getenv
	cfg := Tool{
		Logger: loadLogger(&ge),
		Bitrix: loadBitrix(&ge, false),
		Upload: loadUpload(&ge),
	}
	if cfg.Bitrix.WebhookBase == "" {
		ge.errs = append(ge.errs, fmt.Errorf("BITRIX_WEBHOOK_BASE %w", ErrEnvRequired))
	}
	checkWebhook(&ge, cfg.Bitrix.WebhookBase)
	return cfg, ge.Err()
}

func loadLogger(ge *getenv) Logger {
	return Logger{
		Level:     ge.LogLevel("LOG_LEVEL", false, slog.LevelInfo),
		Plaintext: ge.Bool("LOG_PLAINTEXT", false, false),
	}
}

func loadBitrix(ge *getenv, required bool) Bitrix {
	return Bitrix{
		WebhookBase:     ge.String("BITRIX_WEBHOOK_BASE", required, ""),
		ResponsibleID:   ge.Int64("BITRIX_DEFAULT_RESPONSIBLE_ID", required, 0),
		DiskFolderID:    ge.Int64("BITRIX_DISK_FOLDER_ID", required, 0),
		GroupID:         ge.OptionalInt64("BITRIX_GROUP_ID"),
		Priority:        ge.OptionalInt64("BITRIX_PRIORITY"),
		PortalBase:      ge.String("BITRIX_PORTAL_BASE", false, ""),
		TaskURLTemplate: ge.String("BITRIX_TASK_URL_TEMPLATE", false, ""),
		HTTPTimeout:     ge.Seconds("BITRIX_HTTP_TIMEOUT", false, 20*time.Second),
		RateLimit:       ge.Float("BITRIX_RATE_LIMIT", false, 0),
		RateBurst:       ge.Int("BITRIX_RATE_BURST", false, 2),
	}
}

func loadUpload(ge *getenv) Upload {
	return Upload{
		Timeout:      ge.Seconds("BITRIX_UPLOAD_TIMEOUT", false, 90*time.Second),
		URLTimeout:   ge.Seconds("BITRIX_UPLOAD_URL_TIMEOUT", false, 25*time.Second),
		ProbeTimeout: ge.Seconds("BITRIX_SMALL_UPLOAD_PROBE_TIMEOUT", false, 4*time.Second),
		FinalTimeout: ge.Seconds("BITRIX_SMALL_UPLOAD_FINAL_TIMEOUT", false, 5*time.Second),
		MaxAttempts:  max(1, ge.Int("BITRIX_UPLOAD_MAX_ATTEMPTS", false, 4)),
		Parallelism:  max(1, ge.Int("BITRIX_UPLOAD_PARALLELISM", false, 2)),
		MaxActive:    ge.Int("MANAGER_MAX_ACTIVE", false, 8),
	}
}

func checkWebhook(ge *getenv, base string) {
	if base != "" && !strings.HasSuffix(base, "/") {
		ge.errs = append(ge.errs, ErrInvalidWebhook)
	}
}
