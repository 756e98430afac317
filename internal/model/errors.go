package model

import "errors"

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrServerBusy            = errors.New("server busy")
	ErrServerCancelled       = errors.New("server has been cancelled")
	ErrTooManyAttachments    = errors.New("maximum attachments exceeded")
	ErrAttachmentTooLarge    = errors.New("attachment too large")
	ErrEmptyTitle            = errors.New("title is required")
	ErrEmptyDescription      = errors.New("description is required")
	ErrNoAttachmentsUploaded = errors.New("no attachments uploaded, task not created")
)
