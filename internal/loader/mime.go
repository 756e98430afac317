package loader

import (
	"bytes"
	"errors"
	"mime"
	"strings"
)

const defaultExt = ".bin"

type FileType struct {
	MIMEType   string
	Magic      []byte // сигнатура файла
	Extensions []string
}

func (f FileType) Extension() string {
	if len(f.Extensions) == 0 {
		return ""
	}
	return f.Extensions[0]
}

var fileTypes = []FileType{
	{
		MIMEType:   "image/jpeg",
		Magic:      []byte{0xFF, 0xD8, 0xFF},
		Extensions: []string{".jpg", ".jpeg"},
	},
	{
		MIMEType:   "image/png",
		Magic:      []byte{0x89, 0x50, 0x4E, 0x47}, // ‰PNG
		Extensions: []string{".png"},
	},
	{
		MIMEType:   "image/gif",
		Magic:      []byte{0x47, 0x49, 0x46, 0x38}, // GIF8
		Extensions: []string{".gif"},
	},
	{
		MIMEType:   "image/webp",
		Magic:      []byte{0x52, 0x49, 0x46, 0x46}, // RIFF
		Extensions: []string{".webp"},
	},
	{
		MIMEType:   "application/pdf",
		Magic:      []byte{0x25, 0x50, 0x44, 0x46}, // %PDF
		Extensions: []string{".pdf"},
	},
	{
		MIMEType:   "application/zip",
		Magic:      []byte{0x50, 0x4B, 0x03, 0x04}, // PK
		Extensions: []string{".zip", ".docx", ".xlsx"},
	},
	{
		MIMEType:   "video/mp4",
		Extensions: []string{".mp4"},
	},
	{
		MIMEType:   "text/plain",
		Extensions: []string{".txt", ".log"},
	},
	{
		MIMEType:   "text/csv",
		Extensions: []string{".csv"},
	},
	{
		MIMEType:   "application/msword",
		Extensions: []string{".doc"},
	},
	{
		MIMEType:   "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		Extensions: []string{".docx"},
	},
	{
		MIMEType:   "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Extensions: []string{".xlsx"},
	},
}

var ErrUnknownFileType = errors.New("unknown file type")

func getFileTypeBySignature(magic []byte) (FileType, error) {
	for _, ft := range fileTypes {
		if len(ft.Magic) > 0 && bytes.HasPrefix(magic, ft.Magic) {
			return ft, nil
		}
	}
	return FileType{}, ErrUnknownFileType
}

// getFileTypeByMIME принимает и значение заголовка Content-Type с параметрами.
func getFileTypeByMIME(mimeType string) (FileType, error) {
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	} else {
		mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	}
	for _, ft := range fileTypes {
		if ft.MIMEType == mimeType {
			return ft, nil
		}
	}
	return FileType{}, ErrUnknownFileType
}

// detectExtension расширение по сигнатуре, затем по заявленным MIME-типам.
// Если тип не распознан, возвращает ".bin".
func detectExtension(magic []byte, mimeTypes ...string) string {
	if ft, err := getFileTypeBySignature(magic); err == nil {
		return ft.Extension()
	}
	for _, mt := range mimeTypes {
		if mt == "" {
			continue
		}
		if ft, err := getFileTypeByMIME(mt); err == nil {
			return ft.Extension()
		}
	}
	return defaultExt
}
