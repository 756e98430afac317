package bitrix

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"strconv"
	"time"
)

const methodUploadFile = "disk.folder.uploadfile"

// Slot ответ на запрос загрузки без содержимого: либо файл уже создан
// (ResolvedSlot), либо выдан адрес для загрузки (UploadSlot).
type Slot interface {
	isSlot()
}

type ResolvedSlot struct {
	FileID int64
}

type UploadSlot struct {
	URL   string
	Field string
}

func (ResolvedSlot) isSlot() {}
func (UploadSlot) isSlot()   {}

func decodeSlot(p Payload) (Slot, error) {
	if id, ok := ExtractDiskFileID(p); ok {
		return ResolvedSlot{FileID: id}, nil
	}

	if result, ok := p.Result(); ok {
		uploadURL, _ := result["uploadUrl"].(string)
		field, _ := result["field"].(string)
		if uploadURL != "" && field != "" {
			return UploadSlot{URL: uploadURL, Field: field}, nil
		}
	}

	return nil, &RemoteError{
		Code:   CodeParseFailure,
		Detail: "no file id or uploadUrl/field in upload response: " + truncate(p.String(), maxDetailLen),
	}
}

// UploadInline загружает файл одним вызовом, передавая содержимое в base64.
func (c *Client) UploadInline(ctx context.Context, folderID int64, path, name string, timeout time.Duration) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read file failed: %w", err)
	}

	payload, err := c.Call(ctx, methodUploadFile, []Field{
		F("id", strconv.FormatInt(folderID, 10)),
		F("data[NAME]", name),
		F("generateUniqueName", "true"),
		F("fileContent[0]", name),
		F("fileContent[1]", base64.StdEncoding.EncodeToString(data)),
	}, timeout)
	if err != nil {
		return 0, err
	}

	id, ok := ExtractDiskFileID(payload)
	if !ok {
		return 0, &RemoteError{
			Code:   CodeParseFailure,
			Detail: "no file id in upload response: " + truncate(payload.String(), maxDetailLen),
		}
	}
	return id, nil
}

// RequestSlot запрашивает загрузку без содержимого.
func (c *Client) RequestSlot(ctx context.Context, folderID int64, name string, timeout time.Duration) (Slot, error) {
	payload, err := c.Call(ctx, methodUploadFile, []Field{
		F("id", strconv.FormatInt(folderID, 10)),
		F("data[NAME]", name),
		F("generateUniqueName", "true"),
	}, timeout)
	if err != nil {
		return nil, err
	}
	return decodeSlot(payload)
}

// UploadToSlot отправляет файл потоком multipart на выданный адрес.
func (c *Client) UploadToSlot(ctx context.Context, slot UploadSlot, path, name string, timeout time.Duration) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open file failed: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer f.Close()

		part, err := mw.CreateFormFile(slot.Field, name)
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	status, body, err := c.post(ctx, slot.URL, mw.FormDataContentType(), pr, timeout)
	if err != nil {
		return 0, err
	}

	payload, err := decodePayload(status, body)
	if err != nil {
		return 0, err
	}

	id, ok := ExtractDiskFileID(payload)
	if !ok {
		return 0, &RemoteError{
			Code:   CodeParseFailure,
			Detail: "no file id in upload url response: " + truncate(payload.String(), maxDetailLen),
		}
	}
	return id, nil
}

// UploadSignedURL загружает файл в две фазы: запрос слота, затем отправка
// содержимого на выданный адрес. Если слот разрешился сразу, вторая фаза не
// нужна.
func (c *Client) UploadSignedURL(ctx context.Context, folderID int64, path, name string, timeout time.Duration) (int64, error) {
	slot, err := c.RequestSlot(ctx, folderID, name, timeout)
	if err != nil {
		return 0, err
	}

	switch s := slot.(type) {
	case ResolvedSlot:
		return s.FileID, nil
	case UploadSlot:
		return c.UploadToSlot(ctx, s, path, name, timeout)
	default:
		return 0, fmt.Errorf("unexpected slot type %T", slot)
	}
}
