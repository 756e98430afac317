package api

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/StayAlive96/Bitrix-task-bot/internal/loader"
	"github.com/StayAlive96/Bitrix-task-bot/internal/manager"
	"github.com/StayAlive96/Bitrix-task-bot/internal/model"
)

const maxFormMemory = 8 << 20

type Submitter interface {
	Submit(ctx context.Context, d manager.Draft) (manager.Result, error)
}

// Files сохраняет вложения запроса на диск.
type Files interface {
	Store(dir, name string, body io.Reader, mimeTypes ...string) (model.RemoteFile, error)
	SaveAll(ctx context.Context, reqs []loader.Request) ([]model.RemoteFile, error)
}

type Config struct {
	BasePath       string // например, /api
	UploadDir      string
	MaxAttachments int
}

func New(m Submitter, files Files, cfg Config) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET " /***/ +cfg.BasePath+"/ping", Ping())
	mux.HandleFunc("POST " /**/ +cfg.BasePath+"/tasks", CreateTask(m, files, cfg))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func Ping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := newHelper(w, r, "Ping")
		h.WriteResponse(struct {
			Status string `json:"status"`
		}{"ok"}, http.StatusOK)
	}
}

// CreateTask создает задачу из multipart-формы:
//
//	title        - название (обязательно)
//	description  - описание (обязательно)
//	created_by   - ID постановщика в Bitrix24
//	files        - файлы вложений
//	urls         - ссылки на вложения, скачиваются сервером
func CreateTask(m Submitter, files Files, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := newHelper(w, r, "CreateTask")

		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			h.WriteError(&httpError{http.StatusBadRequest, "can't parse multipart form"})
			return
		}
		defer r.MultipartForm.RemoveAll()

		d := manager.Draft{
			Title:       r.FormValue("title"),
			Description: r.FormValue("description"),
		}

		if s := strings.TrimSpace(r.FormValue("created_by")); s != "" {
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil || id <= 0 {
				h.WriteError(&httpError{http.StatusBadRequest, "created_by must be positive integer"})
				return
			}
			d.CreatedBy = &id
		}

		parts := r.MultipartForm.File["files"]
		urls := r.MultipartForm.Value["urls"]
		if cfg.MaxAttachments > 0 && len(parts)+len(urls) > cfg.MaxAttachments {
			h.WriteError(model.ErrTooManyAttachments)
			return
		}

		dir := filepath.Join(cfg.UploadDir, "api", uuid.NewString())
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				h.log.Warn("remove upload dir failed", "dir", dir, "error", err)
			}
		}()

		for _, part := range parts {
			file, err := storePart(files, dir, part)
			if err != nil {
				h.log.Debug("store part failed", "name", part.Filename, "error", err)
				h.WriteError(err)
				return
			}
			d.Files = append(d.Files, file)
		}

		if len(urls) > 0 {
			reqs := make([]loader.Request, len(urls))
			for i, u := range urls {
				reqs[i] = loader.Request{URL: u, Dir: dir}
			}
			fetched, err := files.SaveAll(h.Ctx(), reqs)
			if err != nil {
				h.log.Debug("fetch attachments failed", "error", err)
				h.WriteError(err)
				return
			}
			d.Files = append(d.Files, fetched...)
		}

		res, err := m.Submit(h.Ctx(), d)
		if err != nil {
			h.WriteError(err)
			return
		}

		h.WriteResponse(res, http.StatusCreated)
	}
}

func storePart(files Files, dir string, part *multipart.FileHeader) (model.RemoteFile, error) {
	f, err := part.Open()
	if err != nil {
		return model.RemoteFile{}, err
	}
	defer f.Close()
	return files.Store(dir, part.Filename, f, part.Header.Get("Content-Type"))
}
