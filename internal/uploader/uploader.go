// Package uploader загружает вложения на диск Bitrix24: выбирает стратегии по
// размеру файла и номеру попытки, повторяет временные сбои и загружает пачку
// файлов с ограниченным параллелизмом.
package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/StayAlive96/Bitrix-task-bot/internal/metrics"
	"github.com/StayAlive96/Bitrix-task-bot/internal/model"
)

// SmallFileThreshold файлы не больше этого размера считаются маленькими.
const SmallFileThreshold = 2 * 1024 * 1024

type Strategy string

const (
	InlineContent Strategy = "inline_content"
	SignedURL     Strategy = "signed_url"
)

// Client загрузка одного файла одной стратегией. Реализуется *bitrix.Client.
type Client interface {
	UploadInline(ctx context.Context, folderID int64, path, name string, timeout time.Duration) (int64, error)
	UploadSignedURL(ctx context.Context, folderID int64, path, name string, timeout time.Duration) (int64, error)
}

type Config struct {
	UploadTimeout    time.Duration // основной таймаут загрузки
	UploadURLTimeout time.Duration // таймаут загрузки через uploadUrl для маленьких файлов
	ProbeTimeout     time.Duration // таймаут пробных попыток для маленьких файлов
	FinalTimeout     time.Duration // таймаут последней попытки для маленьких файлов
	MaxAttempts      int
	Parallelism      int
}

func DefaultConfig() Config {
	return Config{
		UploadTimeout:    90 * time.Second,
		UploadURLTimeout: 25 * time.Second,
		ProbeTimeout:     4 * time.Second,
		FinalTimeout:     5 * time.Second,
		MaxAttempts:      4,
		Parallelism:      2,
	}
}

type Uploader struct {
	client Client
	cfg    Config
}

func New(client Client, cfg Config) *Uploader {
	cfg.MaxAttempts = max(1, cfg.MaxAttempts)
	cfg.Parallelism = max(1, cfg.Parallelism)
	return &Uploader{
		client: client,
		cfg:    cfg,
	}
}

// step одна стратегия в плане попытки.
type step struct {
	strategy Strategy
	timeout  time.Duration
}

// plan список стратегий для попытки attempt из maxAttempts.
//
// Маленькие файлы до последней попытки пробуются только inline с коротким
// таймаутом, на последней попытке inline и затем uploadUrl. Большие файлы
// всегда идут через uploadUrl, затем inline.
func (u *Uploader) plan(size int64, attempt, maxAttempts int) []step {
	if size <= SmallFileThreshold {
		if attempt < maxAttempts {
			return []step{
				{InlineContent, min(u.cfg.UploadTimeout, u.cfg.ProbeTimeout)},
			}
		}
		return []step{
			{InlineContent, min(u.cfg.UploadTimeout, u.cfg.FinalTimeout)},
			{SignedURL, min(u.cfg.UploadURLTimeout, u.cfg.FinalTimeout)},
		}
	}
	return []step{
		{SignedURL, u.cfg.UploadTimeout},
		{InlineContent, u.cfg.UploadTimeout},
	}
}

// UploadFile выполняет одну попытку: стратегии плана по очереди до первой
// успешной. Если не удалась ни одна, возвращается *StrategiesError.
func (u *Uploader) UploadFile(ctx context.Context, folderID int64, file model.RemoteFile, attempt, maxAttempts int) (model.UploadResult, error) {
	log := slog.With("op", "uploadFile", "file", file.Label(), "attempt", attempt, "maxAttempts", maxAttempts)

	info, err := os.Stat(file.LocalPath)
	if err != nil {
		return model.UploadResult{}, fmt.Errorf("stat file failed: %w", err)
	}
	size := info.Size()

	steps := u.plan(size, attempt, maxAttempts)
	if len(steps) == 0 {
		return model.UploadResult{}, ErrNoStrategies
	}

	failure := &StrategiesError{}
	for _, s := range steps {
		start := time.Now()
		id, err := u.run(ctx, s, folderID, file)
		elapsed := time.Since(start)

		if err == nil {
			metrics.RecordStrategy(string(s.strategy), metrics.ResultSuccess, elapsed.Seconds())
			log.Info("upload strategy succeeded",
				"strategy", s.strategy, "size", size, "elapsedMs", elapsed.Milliseconds(),
				"timeout", s.timeout, "fileID", id)
			return model.UploadResult{FileID: id, Strategy: string(s.strategy), Elapsed: elapsed}, nil
		}

		metrics.RecordStrategy(string(s.strategy), metrics.ResultFailed, elapsed.Seconds())
		log.Warn("upload strategy failed",
			"strategy", s.strategy, "size", size, "elapsedMs", elapsed.Milliseconds(),
			"timeout", s.timeout, "error", err)
		failure.add(s.strategy, err)

		if ctx.Err() != nil {
			break
		}
	}

	return model.UploadResult{}, failure
}

func (u *Uploader) run(ctx context.Context, s step, folderID int64, file model.RemoteFile) (int64, error) {
	name := file.Label()
	switch s.strategy {
	case InlineContent:
		return u.client.UploadInline(ctx, folderID, file.LocalPath, name, s.timeout)
	case SignedURL:
		return u.client.UploadSignedURL(ctx, folderID, file.LocalPath, name, s.timeout)
	default:
		return 0, fmt.Errorf("unknown strategy %q", s.strategy)
	}
}

// UploadWithRetry повторяет попытки, пока ошибка временная и попытки не
// исчерпаны.
func (u *Uploader) UploadWithRetry(ctx context.Context, folderID int64, file model.RemoteFile, maxAttempts int) (model.UploadResult, error) {
	log := slog.With("op", "uploadWithRetry", "file", file.Label())
	maxAttempts = max(1, maxAttempts)

	for attempt := 1; ; attempt++ {
		res, err := u.UploadFile(ctx, folderID, file, attempt, maxAttempts)
		if err == nil {
			metrics.UploadAttemptsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
			return res, nil
		}

		if attempt < maxAttempts && ctx.Err() == nil && IsRetryable(err) {
			metrics.UploadAttemptsTotal.WithLabelValues(metrics.ResultRetry).Inc()
			log.Warn("upload attempt failed, retrying", "attempt", attempt, "maxAttempts", maxAttempts, "error", err)
			continue
		}

		metrics.UploadAttemptsTotal.WithLabelValues(metrics.ResultFailed).Inc()
		log.Error("upload failed", "attempt", attempt, "maxAttempts", maxAttempts, "error", err)
		return model.UploadResult{}, err
	}
}

// Batch пачка файлов для загрузки в одну папку. Нулевые MaxAttempts и
// Parallelism заменяются значениями из конфигурации.
type Batch struct {
	FolderID    int64
	Files       []model.RemoteFile
	MaxAttempts int
	Parallelism int
}

// Upload загружает все файлы пачки. Каждый файл со всеми своими попытками
// занимает один слот из min(Parallelism, len(Files)). Ошибка одного файла не
// останавливает остальные.
func (u *Uploader) Upload(ctx context.Context, b Batch) model.UploadOutcome {
	if len(b.Files) == 0 {
		return model.UploadOutcome{}
	}

	maxAttempts := b.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = u.cfg.MaxAttempts
	}
	parallelism := b.Parallelism
	if parallelism <= 0 {
		parallelism = u.cfg.Parallelism
	}
	slots := semaphore.NewWeighted(int64(min(parallelism, len(b.Files))))

	var wg sync.WaitGroup
	wg.Add(len(b.Files))

	ids := make([]int64, len(b.Files))
	errs := make([]error, len(b.Files))

	for i, file := range b.Files {
		go func() {
			defer wg.Done()

			if err := slots.Acquire(ctx, 1); err != nil {
				errs[i] = err
				return
			}
			defer slots.Release(1)

			res, err := u.UploadWithRetry(ctx, b.FolderID, file, maxAttempts)
			ids[i] = res.FileID
			errs[i] = err
		}()
	}

	wg.Wait()

	var outcome model.UploadOutcome
	for i, file := range b.Files {
		if errs[i] == nil {
			outcome.FileIDs = append(outcome.FileIDs, ids[i])
			metrics.RecordFile(true)
			continue
		}
		outcome.Failed = append(outcome.Failed, file.Label())
		metrics.RecordFile(false)
	}

	slog.Info("upload batch finished",
		"folderID", b.FolderID, "files", len(b.Files),
		"uploaded", len(outcome.FileIDs), "failed", len(outcome.Failed))
	return outcome
}
