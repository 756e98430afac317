package logger

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"
)

// HTTPLogging middleware: логгер запроса с reqID в контексте, статус ответа
// и длительность в логе, паники обработчика превращаются в 500.
func HTTPLogging(log *slog.Logger, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log := log.With("reqID", NewRequestID(), "from", r.RemoteAddr, "method", r.Method, "path", r.URL.Path)
		log.Debug("request received")

		si := &statusInterceptor{ResponseWriter: w, log: log}
		r = r.WithContext(Context(r.Context(), log))

		defer func() {
			log.Debug("request done", "status", si.status, "elapsedMs", time.Since(start).Milliseconds())
		}()
		defer Recover(log, func() {
			http.Error(si, "internal error", http.StatusInternalServerError)
		})

		h.ServeHTTP(si, r)
	})
}

// Recover логирует панику со стеком и вызывает onPanic, если он задан.
// Вызывается только через defer.
func Recover(log *slog.Logger, onPanic func()) {
	if p := recover(); p != nil {
		log.Error("*** panic recovered ***",
			"panic", p,
			"stack", string(debug.Stack()))
		if onPanic != nil {
			onPanic()
		}
	}
}

// statusInterceptor запоминает статус ответа и предупреждает о повторных
// WriteHeader.
type statusInterceptor struct {
	http.ResponseWriter
	log    *slog.Logger
	status int // 0 пока не записан; 1xx сюда не попадают
}

func (si *statusInterceptor) WriteHeader(status int) {
	switch {
	case status >= 100 && status < 200:
		si.log.Debug("informational status", "status", status)
		si.ResponseWriter.WriteHeader(status)

	case si.status == 0:
		si.status = status
		si.log.Debug("response status", "status", status)
		si.ResponseWriter.WriteHeader(status)

	case si.status != status:
		si.log.Warn("status code conflict", "origStatus", si.status, "newStatus", status)

	default:
		si.log.Warn("redundant WriteHeader call", "status", status)
	}
}

func (si *statusInterceptor) Write(b []byte) (int, error) {
	if si.status == 0 {
		si.status = http.StatusOK
	}
	n, err := si.ResponseWriter.Write(b)
	if err != nil {
		si.log.Error("write failed", "error", err)
	}
	return n, err
}
