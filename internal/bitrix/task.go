package bitrix

import (
	"context"
	"strconv"

	"github.com/StayAlive96/Bitrix-task-bot/internal/model"
)

const methodTaskAdd = "tasks.task.add"

func taskFields(req model.TaskRequest) []Field {
	fields := []Field{
		F("fields[TITLE]", req.Title),
		F("fields[DESCRIPTION]", req.Description),
		F("fields[RESPONSIBLE_ID]", strconv.FormatInt(req.ResponsibleID, 10)),
	}
	if req.GroupID != nil {
		fields = append(fields, F("fields[GROUP_ID]", strconv.FormatInt(*req.GroupID, 10)))
	}
	if req.Priority != nil {
		fields = append(fields, F("fields[PRIORITY]", strconv.FormatInt(*req.Priority, 10)))
	}
	if req.CreatedBy != nil {
		fields = append(fields, F("fields[CREATED_BY]", strconv.FormatInt(*req.CreatedBy, 10)))
	}
	for i, id := range req.FileIDs {
		// префикс n означает файл диска
		fields = append(fields, F("fields[UF_TASK_WEBDAV_FILES]["+strconv.Itoa(i)+"]", "n"+strconv.FormatInt(id, 10)))
	}
	return fields
}

// CreateTask создает задачу и возвращает ее ID.
func (c *Client) CreateTask(ctx context.Context, req model.TaskRequest) (int64, error) {
	payload, err := c.Call(ctx, methodTaskAdd, taskFields(req), 0)
	if err != nil {
		return 0, err
	}

	if id, ok := extractTaskID(payload); ok {
		return id, nil
	}

	return 0, &RemoteError{
		Code:   CodeParseFailure,
		Detail: "no task id in response: " + truncate(payload.String(), maxDetailLen),
	}
}

// extractTaskID берет result.task.id, иначе result.id.
func extractTaskID(p Payload) (int64, bool) {
	result, ok := p.Result()
	if !ok {
		return 0, false
	}
	if task, ok := result["task"].(map[string]any); ok {
		if id, ok := parseID(task["id"]); ok {
			return id, true
		}
	}
	return parseID(result["id"])
}
