package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/StayAlive96/Bitrix-task-bot/internal/bitrix"
	"github.com/StayAlive96/Bitrix-task-bot/internal/logger"
	"github.com/StayAlive96/Bitrix-task-bot/internal/model"
	"github.com/StayAlive96/Bitrix-task-bot/internal/protect"
)

type httpError struct {
	StatusCode int
	StatusMsg  string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.StatusMsg)
}

type helper struct {
	ctx context.Context
	log *slog.Logger
	r   *http.Request
	w   http.ResponseWriter
}

func newHelper(w http.ResponseWriter, r *http.Request, op string) *helper {
	ctx := r.Context()
	return &helper{
		ctx: ctx,
		log: logger.FromContext(ctx).With("op", op),
		w:   w,
		r:   r,
	}
}

func (h *helper) Ctx() context.Context {
	return h.ctx
}

func (h *helper) WriteError(err error) {
	httpErr := h.mapError(err)
	http.Error(h.w, httpErr.StatusMsg, httpErr.StatusCode)
}

func (h *helper) mapError(err error) *httpError {
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	switch {
	case errors.Is(err, model.ErrEmptyTitle),
		errors.Is(err, model.ErrEmptyDescription),
		errors.Is(err, model.ErrTooManyAttachments):
		return &httpError{http.StatusBadRequest, err.Error()}
	case errors.Is(err, protect.ErrSSRF):
		return &httpError{http.StatusBadRequest, "attachment url is not allowed"}
	case errors.Is(err, model.ErrAttachmentTooLarge):
		return &httpError{http.StatusRequestEntityTooLarge, err.Error()}
	case errors.Is(err, model.ErrServerBusy),
		errors.Is(err, model.ErrServerCancelled):
		return &httpError{http.StatusServiceUnavailable, err.Error()}
	case errors.Is(err, model.ErrNoAttachmentsUploaded):
		return &httpError{http.StatusBadGateway, err.Error()}
	}

	var remoteErr *bitrix.RemoteError
	if errors.As(err, &remoteErr) {
		h.log.Warn("bitrix error", "error", err)
		return &httpError{http.StatusBadGateway, remoteErr.Error()}
	}

	var transportErr *bitrix.TransportError
	if errors.As(err, &transportErr) {
		h.log.Warn("bitrix unavailable", "error", err)
		if transportErr.Timeout() {
			return &httpError{http.StatusGatewayTimeout, "bitrix timeout"}
		}
		return &httpError{http.StatusBadGateway, "bitrix unavailable"}
	}

	h.log.Warn("unhandled error has been detected", "error", err)
	return &httpError{500, "internal error"}
}

func (h *helper) WriteResponse(resp any, statusCode int) {
	h.w.Header().Add("content-type", "application/json")
	h.w.WriteHeader(statusCode)
	err := json.NewEncoder(h.w).Encode(resp)
	if err != nil {
		h.log.Error("write respose failed", "error", err)
	}
}
