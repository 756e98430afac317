// Package bitrixtest поддельный портал Bitrix24 для тестов и локального запуска.
//
// Реализует disk.folder.uploadfile (с содержимым и через uploadUrl) и
// tasks.task.add, умеет отвечать заданными сбоями.
package bitrixtest

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	Token      = "testtoken"
	uploadPath = "/upload/"
	slotField  = "file"
	maxMemory  = 64 << 20
)

type SlotMode int

const (
	SlotUploadURL SlotMode = iota // выдавать uploadUrl
	SlotResolved                  // сразу возвращать ID файла
)

// Failure сбой, которым портал ответит на очередной вызов метода.
//
// Если Drop, соединение закрывается без ответа. Если Status == 0, после Delay
// запрос обрабатывается как обычно.
type Failure struct {
	Status int
	Body   string
	Delay  time.Duration
	Drop   bool
}

type Call struct {
	Method string
	Form   url.Values
}

type StoredFile struct {
	ID   int64
	Name string
	Data []byte
}

type Task struct {
	ID     int64
	Fields url.Values
}

type Portal struct {
	mu              sync.Mutex
	slotMode        SlotMode
	rejectCreatedBy bool
	nextID          int64
	failures        map[string][]Failure
	calls           []Call
	slots           map[string]string // slotID -> имя файла
	files           []StoredFile
	tasks           []Task
	server          *httptest.Server
}

func New() *Portal {
	return &Portal{
		nextID:   100,
		failures: make(map[string][]Failure),
		slots:    make(map[string]string),
	}
}

// Start запускает httptest-сервер и возвращает адрес вебхука.
func (p *Portal) Start() string {
	p.server = httptest.NewServer(p)
	return p.WebhookBase(p.server.URL)
}

func (p *Portal) Close() {
	if p.server != nil {
		p.server.Close()
	}
}

func (p *Portal) WebhookBase(serverURL string) string {
	return strings.TrimSuffix(serverURL, "/") + "/rest/1/" + Token + "/"
}

func (p *Portal) SetSlotMode(mode SlotMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slotMode = mode
}

// RejectCreatedBy заставляет tasks.task.add отвечать ошибкой, если передан
// fields[CREATED_BY].
func (p *Portal) RejectCreatedBy(reject bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectCreatedBy = reject
}

// FailNext добавляет сбои для метода. Для загрузки по uploadUrl метод "upload".
func (p *Portal) FailNext(method string, failures ...Failure) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[method] = append(p.failures[method], failures...)
}

// Calls возвращает вызовы метода; пустой method - все вызовы.
func (p *Portal) Calls(method string) []Call {
	p.mu.Lock()
	defer p.mu.Unlock()

	var calls []Call
	for _, c := range p.calls {
		if method == "" || c.Method == method {
			calls = append(calls, c)
		}
	}
	return calls
}

func (p *Portal) Files() []StoredFile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.files)
}

func (p *Portal) Tasks() []Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.tasks)
}

func (p *Portal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, uploadPath):
		p.handleUpload(w, r, strings.TrimPrefix(r.URL.Path, uploadPath))
	case strings.HasPrefix(r.URL.Path, "/rest/1/"+Token+"/"):
		p.handleMethod(w, r, strings.TrimPrefix(r.URL.Path, "/rest/1/"+Token+"/"))
	default:
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":             "INVALID_CREDENTIALS",
			"error_description": "Invalid request credentials",
		})
	}
}

func (p *Portal) handleMethod(w http.ResponseWriter, r *http.Request, method string) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.record(method, r.PostForm)

	if p.applyFailure(w, r, method) {
		return
	}

	switch method {
	case "disk.folder.uploadfile":
		p.uploadFile(w, r)
	case "tasks.task.add":
		p.addTask(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":             "ERROR_METHOD_NOT_FOUND",
			"error_description": "Method not found!",
		})
	}
}

func (p *Portal) uploadFile(w http.ResponseWriter, r *http.Request) {
	name := r.PostForm.Get("data[NAME]")

	if content, ok := r.PostForm["fileContent[1]"]; ok {
		data, err := base64.StdEncoding.DecodeString(content[0])
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":             "ERROR_ARGUMENT",
				"error_description": "fileContent is not valid base64",
			})
			return
		}
		id := p.store(name, data)
		writeJSON(w, http.StatusOK, map[string]any{
			"result": map[string]any{"ID": id, "NAME": name},
		})
		return
	}

	p.mu.Lock()
	mode := p.slotMode
	p.mu.Unlock()

	if mode == SlotResolved {
		id := p.store(name, nil)
		writeJSON(w, http.StatusOK, map[string]any{
			"result": map[string]any{"file": map[string]any{"ID": strconv.FormatInt(id, 10)}},
		})
		return
	}

	p.mu.Lock()
	p.nextID++
	slotID := strconv.FormatInt(p.nextID, 10)
	p.slots[slotID] = name
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"result": map[string]any{
			"field":     slotField,
			"uploadUrl": "http://" + r.Host + uploadPath + slotID,
		},
	})
}

func (p *Portal) handleUpload(w http.ResponseWriter, r *http.Request, slotID string) {
	p.record("upload", url.Values{"slot": {slotID}})

	if p.applyFailure(w, r, "upload") {
		return
	}

	p.mu.Lock()
	name, ok := p.slots[slotID]
	delete(p.slots, slotID)
	p.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":             "ERROR_NOT_FOUND",
			"error_description": "upload slot not found",
		})
		return
	}

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, _, err := r.FormFile(slotField)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := p.store(name, data)
	writeJSON(w, http.StatusOK, map[string]any{
		"result": map[string]any{"ID": id, "NAME": name},
	})
}

func (p *Portal) addTask(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	reject := p.rejectCreatedBy
	p.mu.Unlock()

	if reject && r.PostForm.Has("fields[CREATED_BY]") {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "ACCESS_DENIED",
			"error_description": "Creator cannot be set",
		})
		return
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.tasks = append(p.tasks, Task{ID: id, Fields: r.PostForm})
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"result": map[string]any{"task": map[string]any{"id": strconv.FormatInt(id, 10)}},
	})
}

func (p *Portal) record(method string, form url.Values) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: method, Form: form})
}

func (p *Portal) store(name string, data []byte) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.files = append(p.files, StoredFile{ID: p.nextID, Name: name, Data: data})
	return p.nextID
}

// applyFailure отвечает очередным сбоем метода, если он задан.
func (p *Portal) applyFailure(w http.ResponseWriter, r *http.Request, method string) bool {
	p.mu.Lock()
	queue := p.failures[method]
	if len(queue) == 0 {
		p.mu.Unlock()
		return false
	}
	f := queue[0]
	p.failures[method] = queue[1:]
	p.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-r.Context().Done():
			return true
		}
	}

	if f.Drop {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return true
			}
		}
		panic(http.ErrAbortHandler)
	}

	if f.Status == 0 {
		return false
	}

	w.WriteHeader(f.Status)
	io.WriteString(w, f.Body)
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err)
	}
}
