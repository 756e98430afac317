package model

import (
	"path/filepath"
	"strings"
	"time"
)

// RemoteFile представляет вложение, сохраненное локально и ожидающее загрузки
// на диск Bitrix24.
//
// После получения удаленного ID (или отказа от загрузки) локальная копия больше
// не нужна.
type RemoteFile struct {
	LocalPath   string `json:"local_path" msgpack:"local_path"`
	DisplayName string `json:"display_name,omitempty" msgpack:"display_name"` // имя для пользователя и удаленного диска
	Size        int64  `json:"size,omitempty" msgpack:"size"`
}

// Label возвращает имя файла для отчетов: DisplayName, а если он пуст, то
// базовое имя локального файла.
func (f RemoteFile) Label() string {
	if name := strings.TrimSpace(f.DisplayName); name != "" {
		return name
	}
	if f.LocalPath != "" {
		return filepath.Base(f.LocalPath)
	}
	return "file"
}

// UploadResult используется только для наблюдаемости.
type UploadResult struct {
	FileID   int64         `json:"file_id"`
	Strategy string        `json:"strategy"`
	Elapsed  time.Duration `json:"elapsed"`
}

// UploadOutcome итог загрузки пачки файлов.
//
// Каждый входной файл попадает ровно в один из списков, порядок входа
// сохраняется в обоих.
type UploadOutcome struct {
	FileIDs []int64  `json:"file_ids"`
	Failed  []string `json:"failed"`
}

// AllFailed сообщает, что файлы были, но не загрузился ни один.
func (o UploadOutcome) AllFailed() bool {
	return len(o.FileIDs) == 0 && len(o.Failed) > 0
}
