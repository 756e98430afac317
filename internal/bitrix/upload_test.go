package bitrix

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/StayAlive96/Bitrix-task-bot/internal/bitrixtest"
	"github.com/nalgeon/be"
)

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	be.Err(t, os.WriteFile(path, data, 0o644), nil)
	return path
}

func TestUploadInline(t *testing.T) {
	portal := bitrixtest.New()
	c := newTestClient(t, portal.Start())
	defer portal.Close()

	path := writeTempFile(t, "scan.pdf", []byte("%PDF-1.7 test"))
	id, err := c.UploadInline(context.Background(), 42, path, "Скан.pdf", time.Second)
	be.Err(t, err, nil)

	files := portal.Files()
	be.Equal(t, len(files), 1)
	be.Equal(t, files[0].ID, id)
	be.Equal(t, files[0].Name, "Скан.pdf")
	be.Equal(t, string(files[0].Data), "%PDF-1.7 test")

	call := portal.Calls("disk.folder.uploadfile")[0]
	be.Equal(t, call.Form.Get("id"), "42")
	be.Equal(t, call.Form.Get("generateUniqueName"), "true")
	be.Equal(t, call.Form.Get("fileContent[0]"), "Скан.pdf")
}

func TestUploadInline_MissingFile(t *testing.T) {
	portal := bitrixtest.New()
	c := newTestClient(t, portal.Start())
	defer portal.Close()

	_, err := c.UploadInline(context.Background(), 42, filepath.Join(t.TempDir(), "nope"), "nope", time.Second)
	be.Err(t, err, os.ErrNotExist)
	be.Equal(t, len(portal.Calls("")), 0)
}

func TestUploadSignedURL(t *testing.T) {
	t.Run("upload_url", func(t *testing.T) {
		portal := bitrixtest.New()
		c := newTestClient(t, portal.Start())
		defer portal.Close()

		path := writeTempFile(t, "big.bin", []byte("0123456789"))
		id, err := c.UploadSignedURL(context.Background(), 42, path, "big.bin", time.Second)
		be.Err(t, err, nil)

		files := portal.Files()
		be.Equal(t, len(files), 1)
		be.Equal(t, files[0].ID, id)
		be.Equal(t, string(files[0].Data), "0123456789")
		be.Equal(t, len(portal.Calls("upload")), 1)

		call := portal.Calls("disk.folder.uploadfile")[0]
		be.True(t, !call.Form.Has("fileContent[1]"))
	})

	t.Run("resolved_slot", func(t *testing.T) {
		portal := bitrixtest.New()
		portal.SetSlotMode(bitrixtest.SlotResolved)
		c := newTestClient(t, portal.Start())
		defer portal.Close()

		path := writeTempFile(t, "big.bin", []byte("0123456789"))
		id, err := c.UploadSignedURL(context.Background(), 42, path, "big.bin", time.Second)
		be.Err(t, err, nil)
		be.True(t, id > 0)
		be.Equal(t, len(portal.Calls("upload")), 0)
	})

	t.Run("upload_phase_fails", func(t *testing.T) {
		portal := bitrixtest.New()
		portal.FailNext("upload", bitrixtest.Failure{Status: 503, Body: "Service Unavailable"})
		c := newTestClient(t, portal.Start())
		defer portal.Close()

		path := writeTempFile(t, "big.bin", []byte("0123456789"))
		_, err := c.UploadSignedURL(context.Background(), 42, path, "big.bin", time.Second)
		be.Err(t, err, "HTTP 503")
		be.Equal(t, len(portal.Files()), 0)
	})
}
