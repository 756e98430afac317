package model

import (
	"slices"
	"strings"
)

// TaskRequest поля создаваемой задачи. Опциональные поля передаются только если
// заданы.
type TaskRequest struct {
	Title         string
	Description   string
	ResponsibleID int64
	GroupID       *int64
	Priority      *int64
	CreatedBy     *int64
	FileIDs       []int64
}

// NewTaskRequest проверяет, что название и описание не пустые.
func NewTaskRequest(title, description string, responsibleID int64) (TaskRequest, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if title == "" {
		return TaskRequest{}, ErrEmptyTitle
	}
	if description == "" {
		return TaskRequest{}, ErrEmptyDescription
	}
	return TaskRequest{
		Title:         title,
		Description:   description,
		ResponsibleID: responsibleID,
	}, nil
}

// WithoutCreator возвращает копию запроса без CreatedBy.
func (r TaskRequest) WithoutCreator() TaskRequest {
	r.CreatedBy = nil
	r.FileIDs = slices.Clone(r.FileIDs)
	return r
}
