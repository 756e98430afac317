package manager

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/StayAlive96/Bitrix-task-bot/internal/bitrix"
	"github.com/StayAlive96/Bitrix-task-bot/internal/config"
	"github.com/StayAlive96/Bitrix-task-bot/internal/metrics"
	"github.com/StayAlive96/Bitrix-task-bot/internal/model"
	"github.com/StayAlive96/Bitrix-task-bot/internal/uploader"
)

var (
	ErrNoAttachmentsUploaded = model.ErrNoAttachmentsUploaded
	ErrServerBusy            = model.ErrServerBusy
)

type Uploader interface {
	Upload(ctx context.Context, b uploader.Batch) model.UploadOutcome
}

type TaskCreator interface {
	CreateTask(ctx context.Context, req model.TaskRequest) (int64, error)
}

// Progress получает события отправки задачи, чтобы показать их пользователю.
type Progress interface {
	Uploading(files int)
	Uploaded(outcome model.UploadOutcome)
	Creating()
}

// Draft данные задачи, собранные диалогом или API.
type Draft struct {
	Title       string
	Description string
	CreatedBy   *int64
	Files       []model.RemoteFile
	Progress    Progress // может быть nil
}

type Result struct {
	TaskID         int64    `json:"task_id"`
	FileIDs        []int64  `json:"file_ids"`
	Failed         []string `json:"failed"`
	CreatorDropped bool     `json:"creator_dropped,omitempty"` // задача создана без CREATED_BY
}

type Manager struct {
	cfg      config.Bitrix
	upload   config.Upload
	uploader Uploader
	creator  TaskCreator
	muActive sync.Mutex
	active   int // количество выполняющихся Submit
}

func New(cfg config.Bitrix, upload config.Upload, upl Uploader, creator TaskCreator) *Manager {
	return &Manager{
		cfg:      cfg,
		upload:   upload,
		uploader: upl,
		creator:  creator,
	}
}

func (m *Manager) getSlot() bool {
	m.muActive.Lock()
	defer m.muActive.Unlock()

	if m.upload.MaxActive < 0 || m.active < m.upload.MaxActive { // если MaxActive < 0, то неограничено
		m.active++
		return true
	}

	return false
}

func (m *Manager) freeSlot() {
	m.muActive.Lock()
	defer m.muActive.Unlock()
	m.active--
}

// UploadAttachments загружает вложения в папку из конфигурации. Если файлы
// были, но не загрузился ни один, возвращает ErrNoAttachmentsUploaded вместе с
// итогом.
func (m *Manager) UploadAttachments(ctx context.Context, files []model.RemoteFile) (model.UploadOutcome, error) {
	if len(files) == 0 {
		return model.UploadOutcome{}, nil
	}

	outcome := m.uploader.Upload(ctx, uploader.Batch{
		FolderID:    m.cfg.DiskFolderID,
		Files:       files,
		MaxAttempts: m.upload.MaxAttempts,
		Parallelism: m.upload.Parallelism,
	})

	if outcome.AllFailed() {
		return outcome, ErrNoAttachmentsUploaded
	}
	return outcome, nil
}

// CreateTask создает задачу с уже загруженными файлами.
//
// Если задан CreatedBy и Bitrix24 вернул ошибку, задача создается еще раз без
// CreatedBy. Результат этого повтора окончательный.
func (m *Manager) CreateTask(ctx context.Context, d Draft, fileIDs []int64) (Result, error) {
	log := slog.With("op", "createTask")

	req, err := model.NewTaskRequest(d.Title, d.Description, m.cfg.ResponsibleID)
	if err != nil {
		return Result{}, err
	}
	req.GroupID = m.cfg.GroupID
	req.Priority = m.cfg.Priority
	req.CreatedBy = d.CreatedBy
	req.FileIDs = fileIDs

	res := Result{FileIDs: fileIDs}

	res.TaskID, err = m.creator.CreateTask(ctx, req)
	if err != nil && req.CreatedBy != nil && isCreatorRejection(err) {
		log.Warn("create task with creator failed, retrying without creator",
			"createdBy", *req.CreatedBy, "error", err)
		metrics.CreatorFallbacks.Inc()

		res.CreatorDropped = true
		res.TaskID, err = m.creator.CreateTask(ctx, req.WithoutCreator())
	}

	if err != nil {
		metrics.TasksCreated.WithLabelValues(metrics.ResultFailed).Inc()
		log.Error("create task failed", "error", err)
		return Result{}, err
	}

	metrics.TasksCreated.WithLabelValues(metrics.ResultSuccess).Inc()
	log.Info("task created", "taskID", res.TaskID, "files", len(fileIDs), "creatorDropped", res.CreatorDropped)
	return res, nil
}

// isCreatorRejection ответ Bitrix24 с ошибкой. Нераспознанный ответ и сетевые
// сбои повтором без CreatedBy не лечатся.
func isCreatorRejection(err error) bool {
	var re *bitrix.RemoteError
	return errors.As(err, &re) && re.Code != bitrix.CodeParseFailure
}

// Submit загружает вложения и создает задачу. При полном провале загрузки
// задача не создается.
func (m *Manager) Submit(ctx context.Context, d Draft) (Result, error) {
	if !m.getSlot() {
		return Result{}, ErrServerBusy
	}
	defer m.freeSlot()

	if _, err := model.NewTaskRequest(d.Title, d.Description, m.cfg.ResponsibleID); err != nil {
		return Result{}, err
	}

	if d.Progress != nil && len(d.Files) > 0 {
		d.Progress.Uploading(len(d.Files))
	}

	outcome, err := m.UploadAttachments(ctx, d.Files)
	if err != nil {
		return Result{Failed: outcome.Failed}, err
	}

	if d.Progress != nil {
		if len(d.Files) > 0 {
			d.Progress.Uploaded(outcome)
		}
		d.Progress.Creating()
	}

	res, err := m.CreateTask(ctx, d, outcome.FileIDs)
	if err != nil {
		return Result{FileIDs: outcome.FileIDs, Failed: outcome.Failed}, err
	}
	res.Failed = outcome.Failed
	return res, nil
}
