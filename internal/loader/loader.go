package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/StayAlive96/Bitrix-task-bot/internal/model"
)

const (
	magicLen      = 8
	maxUniqueNums = 1000
)

var ErrAttachmentTooLarge = model.ErrAttachmentTooLarge

// Request что скачать и куда положить.
type Request struct {
	URL      string
	Dir      string
	Name     string // имя файла у отправителя, может быть пустым
	MIMEType string // тип, заявленный отправителем
}

type Loader struct {
	client   *http.Client
	maxBytes int64
}

// New создает загрузчик. Если maxBytes <= 0, размер не ограничивается.
func New(client *http.Client, maxBytes int64) *Loader {
	return &Loader{
		client:   client,
		maxBytes: maxBytes,
	}
}

// SaveAll скачивает файлы параллельно. Порядок результатов совпадает с
// порядком запросов.
func (ldr *Loader) SaveAll(ctx context.Context, reqs []Request) ([]model.RemoteFile, error) {
	var wg sync.WaitGroup
	wg.Add(len(reqs))

	files := make([]model.RemoteFile, len(reqs))
	errs := make([]error, len(reqs))

	for i, req := range reqs {
		go func(i int, req Request) {
			defer wg.Done()
			file, err := ldr.Save(ctx, req)
			files[i] = file
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", redactURL(req.URL), err)
			}
		}(i, req)
	}

	wg.Wait()

	return files, errors.Join(errs...)
}

// Save скачивает файл в req.Dir под безопасным уникальным именем.
func (ldr *Loader) Save(ctx context.Context, req Request) (model.RemoteFile, error) {
	log := slog.With("op", "saveFile", "name", req.Name)

	// Валидация URL
	u, err := url.ParseRequestURI(req.URL)
	if err != nil {
		err = hideURL(err)
		log.Debug("invalid url", "error", err)
		return model.RemoteFile{}, fmt.Errorf("invalid url: %w", err)
	}

	// Запрос файла
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.RemoteFile{}, fmt.Errorf("create request failed: %w", err)
	}

	resp, err := ldr.client.Do(httpReq)
	if err != nil {
		err = hideURL(err)
		log.Debug("request failed", "error", err)
		return model.RemoteFile{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Проверка статуса
	if resp.StatusCode != http.StatusOK {
		log.Debug("unexpected status", "status", resp.StatusCode)
		return model.RemoteFile{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if size := resp.ContentLength; ldr.maxBytes > 0 && size > ldr.maxBytes {
		log.Debug("blocked by content-length", "size", size)
		return model.RemoteFile{}, ErrAttachmentTooLarge
	}

	return ldr.Store(req.Dir, req.Name, resp.Body, req.MIMEType, resp.Header.Get("Content-Type"))
}

// Store сохраняет содержимое body в dir под безопасным уникальным именем.
// Расширение берется из имени, иначе определяется по сигнатуре и mimeTypes.
func (ldr *Loader) Store(dir, name string, body io.Reader, mimeTypes ...string) (model.RemoteFile, error) {
	log := slog.With("op", "storeFile", "name", name)

	buf := make([]byte, magicLen)

	// Чтение первого чанка (нужен для проверки сигнатуры)
	n, readErr := io.ReadFull(body, buf)
	if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
		log.Debug("first chunk read failed", "error", readErr)
		return model.RemoteFile{}, fmt.Errorf("read failed: %w", readErr)
	}
	magic := buf[:n]

	ext := detectExtension(magic, mimeTypes...)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.RemoteFile{}, fmt.Errorf("create dir failed: %w", err)
	}

	f, path, err := createUnique(dir, name, ext)
	if err != nil {
		log.Error("create file failed", "error", err)
		return model.RemoteFile{}, err
	}

	size, err := ldr.copy(f, magic, body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		log.Debug("save failed", "error", err)
		return model.RemoteFile{}, err
	}

	file := model.RemoteFile{
		LocalPath:   path,
		DisplayName: displayName(name, ext, filepath.Base(path)),
		Size:        size,
	}
	log.Debug("success", "path", path, "size", size)
	return file, nil
}

// copy пишет уже прочитанное начало и остаток тела, следя за лимитом.
func (ldr *Loader) copy(w io.Writer, head []byte, body io.Reader) (int64, error) {
	if _, err := w.Write(head); err != nil {
		return 0, fmt.Errorf("write failed: %w", err)
	}
	size := int64(len(head))

	src := body
	if ldr.maxBytes > 0 {
		// на байт больше лимита, чтобы заметить превышение
		src = io.LimitReader(body, ldr.maxBytes-size+1)
	}

	n, err := io.Copy(w, src)
	size += n
	if err != nil {
		return size, fmt.Errorf("read failed: %w", err)
	}
	if ldr.maxBytes > 0 && size > ldr.maxBytes {
		return size, ErrAttachmentTooLarge
	}
	return size, nil
}

// createUnique создает новый файл, добавляя к имени номер при совпадении.
func createUnique(dir, name, ext string) (*os.File, string, error) {
	for num := 0; num < maxUniqueNums; num++ {
		path := filepath.Join(dir, constructFileName(name, ext, num))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create file failed: %w", err)
		}
	}
	return nil, "", fmt.Errorf("create file failed: too many files named %q", name)
}

// displayName имя для пользователя и диска: исходное имя без пути, с
// расширением, если его не было.
func displayName(name, ext, fallback string) string {
	if p := strings.LastIndexAny(name, `/\`); p != -1 {
		name = name[p+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	if filepath.Ext(name) == "" {
		name += ext
	}
	return name
}

// redactURL оставляет от адреса схему, хост и имя файла. В пути адресов
// файлов чата лежит токен бота.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<url>"
	}
	name := u.Path[strings.LastIndexByte(u.Path, '/')+1:]
	return u.Scheme + "://" + u.Host + "/***/" + name
}

// hideURL убирает полный адрес из *url.Error, который его печатает.
func hideURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = redactURL(ue.URL)
	}
	return err
}
