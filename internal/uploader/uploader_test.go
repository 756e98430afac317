package uploader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/StayAlive96/Bitrix-task-bot/internal/bitrix"
	"github.com/StayAlive96/Bitrix-task-bot/internal/model"
	"github.com/nalgeon/be"
)

const mb = 1024 * 1024

var testConfig = Config{
	UploadTimeout:    90 * time.Second,
	UploadURLTimeout: 25 * time.Second,
	ProbeTimeout:     4 * time.Second,
	FinalTimeout:     5 * time.Second,
	MaxAttempts:      4,
	Parallelism:      2,
}

type call struct {
	Strategy Strategy
	Name     string
	Timeout  time.Duration
}

// fakeClient отвечает функцией handle и запоминает вызовы.
type fakeClient struct {
	mu     sync.Mutex
	calls  []call
	handle func(s Strategy, name string, n int) (int64, error) // n - номер вызова для файла, с 1
	counts map[string]int
	delay  time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeClient(handle func(s Strategy, name string, n int) (int64, error)) *fakeClient {
	return &fakeClient{handle: handle, counts: make(map[string]int)}
}

func (c *fakeClient) do(ctx context.Context, s Strategy, name string, timeout time.Duration) (int64, error) {
	cur := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		prev := c.maxActive.Load()
		if cur <= prev || c.maxActive.CompareAndSwap(prev, cur) {
			break
		}
	}

	c.mu.Lock()
	c.calls = append(c.calls, call{s, name, timeout})
	c.counts[name]++
	n := c.counts[name]
	c.mu.Unlock()

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return c.handle(s, name, n)
}

func (c *fakeClient) UploadInline(ctx context.Context, folderID int64, path, name string, timeout time.Duration) (int64, error) {
	return c.do(ctx, InlineContent, name, timeout)
}

func (c *fakeClient) UploadSignedURL(ctx context.Context, folderID int64, path, name string, timeout time.Duration) (int64, error) {
	return c.do(ctx, SignedURL, name, timeout)
}

func (c *fakeClient) callsFor(name string) []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	var res []call
	for _, cl := range c.calls {
		if cl.Name == name {
			res = append(res, cl)
		}
	}
	return res
}

// sparseFile создает файл нужного размера без записи данных.
func sparseFile(t *testing.T, name string, size int64) model.RemoteFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	be.Err(t, err, nil)
	be.Err(t, f.Truncate(size), nil)
	be.Err(t, f.Close(), nil)
	return model.RemoteFile{LocalPath: path, DisplayName: name}
}

func timeoutErr() error {
	return &bitrix.TransportError{Op: "request", Err: os.ErrDeadlineExceeded}
}

func TestPlan(t *testing.T) {
	u := New(nil, testConfig)

	tests := []struct {
		name        string
		size        int64
		attempt     int
		maxAttempts int
		want        []step
	}{
		{
			name: "small_probe", size: 1 * mb, attempt: 1, maxAttempts: 4,
			want: []step{{InlineContent, 4 * time.Second}},
		},
		{
			name: "small_before_final", size: 1 * mb, attempt: 3, maxAttempts: 4,
			want: []step{{InlineContent, 4 * time.Second}},
		},
		{
			name: "small_final", size: 1 * mb, attempt: 4, maxAttempts: 4,
			want: []step{{InlineContent, 5 * time.Second}, {SignedURL, 5 * time.Second}},
		},
		{
			name: "small_single_attempt", size: 10, attempt: 1, maxAttempts: 1,
			want: []step{{InlineContent, 5 * time.Second}, {SignedURL, 5 * time.Second}},
		},
		{
			name: "threshold_is_small", size: SmallFileThreshold, attempt: 1, maxAttempts: 4,
			want: []step{{InlineContent, 4 * time.Second}},
		},
		{
			name: "empty_is_small", size: 0, attempt: 1, maxAttempts: 2,
			want: []step{{InlineContent, 4 * time.Second}},
		},
		{
			name: "large_first", size: SmallFileThreshold + 1, attempt: 1, maxAttempts: 4,
			want: []step{{SignedURL, 90 * time.Second}, {InlineContent, 90 * time.Second}},
		},
		{
			name: "large_final", size: 25 * mb, attempt: 4, maxAttempts: 4,
			want: []step{{SignedURL, 90 * time.Second}, {InlineContent, 90 * time.Second}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be.Equal(t, u.plan(tt.size, tt.attempt, tt.maxAttempts), tt.want)
		})
	}
}

func TestPlan_TimeoutCeilings(t *testing.T) {
	cfg := testConfig
	cfg.UploadTimeout = 3 * time.Second
	cfg.UploadURLTimeout = 2 * time.Second
	u := New(nil, cfg)

	be.Equal(t, u.plan(1, 1, 2), []step{{InlineContent, 3 * time.Second}})
	be.Equal(t, u.plan(1, 2, 2), []step{{InlineContent, 3 * time.Second}, {SignedURL, 2 * time.Second}})
}

func TestUploadFile(t *testing.T) {
	ctx := context.Background()

	t.Run("large_falls_back_to_inline", func(t *testing.T) {
		client := newFakeClient(func(s Strategy, name string, n int) (int64, error) {
			if s == SignedURL {
				return 0, timeoutErr()
			}
			return 7, nil
		})
		u := New(client, testConfig)
		file := sparseFile(t, "big.bin", 25*mb)

		res, err := u.UploadFile(ctx, 1, file, 1, 4)
		be.Err(t, err, nil)
		be.Equal(t, res.FileID, int64(7))
		be.Equal(t, res.Strategy, string(InlineContent))
		be.Equal(t, client.callsFor("big.bin"), []call{
			{SignedURL, "big.bin", 90 * time.Second},
			{InlineContent, "big.bin", 90 * time.Second},
		})
	})

	t.Run("all_strategies_fail", func(t *testing.T) {
		client := newFakeClient(func(s Strategy, name string, n int) (int64, error) {
			if s == SignedURL {
				return 0, &bitrix.RemoteError{Code: bitrix.CodeParseFailure, Detail: "no uploadUrl"}
			}
			return 0, &bitrix.RemoteError{Code: "ACCESS_DENIED"}
		})
		u := New(client, testConfig)
		file := sparseFile(t, "big.bin", 3*mb)

		_, err := u.UploadFile(ctx, 1, file, 1, 4)
		var se *StrategiesError
		be.True(t, errors.As(err, &se))
		be.Equal(t, se.Failures, []string{
			"signed_url: parse_failure: no uploadUrl",
			"inline_content: ACCESS_DENIED",
		})
		be.Err(t, err, "sequential strategies failed")
		be.True(t, !IsRetryable(err))
	})

	t.Run("missing_file", func(t *testing.T) {
		client := newFakeClient(func(s Strategy, name string, n int) (int64, error) { return 1, nil })
		u := New(client, testConfig)

		_, err := u.UploadFile(ctx, 1, model.RemoteFile{LocalPath: filepath.Join(t.TempDir(), "nope")}, 1, 4)
		be.Err(t, err, os.ErrNotExist)
		be.Equal(t, len(client.calls), 0)
	})
}

func TestUploadWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("retries_transient", func(t *testing.T) {
		client := newFakeClient(func(s Strategy, name string, n int) (int64, error) {
			if n < 3 {
				return 0, &bitrix.RemoteError{Code: bitrix.CodeNonJSON, Detail: "HTTP 503: Service Unavailable"}
			}
			return 11, nil
		})
		u := New(client, testConfig)
		file := sparseFile(t, "a.txt", 100)

		res, err := u.UploadWithRetry(ctx, 1, file, 4)
		be.Err(t, err, nil)
		be.Equal(t, res.FileID, int64(11))
		be.Equal(t, len(client.callsFor("a.txt")), 3)
	})

	t.Run("terminal_error_stops", func(t *testing.T) {
		client := newFakeClient(func(s Strategy, name string, n int) (int64, error) {
			return 0, &bitrix.RemoteError{Code: "INVALID_RESPONSIBLE", Detail: "Responsible not found"}
		})
		u := New(client, testConfig)
		file := sparseFile(t, "a.txt", 100)

		_, err := u.UploadWithRetry(ctx, 1, file, 4)
		be.Err(t, err, "INVALID_RESPONSIBLE")
		be.Equal(t, len(client.callsFor("a.txt")), 1)
	})

	t.Run("exhausts_attempts", func(t *testing.T) {
		client := newFakeClient(func(s Strategy, name string, n int) (int64, error) {
			return 0, timeoutErr()
		})
		u := New(client, testConfig)
		file := sparseFile(t, "a.txt", 100)

		_, err := u.UploadWithRetry(ctx, 1, file, 3)
		var te *bitrix.TransportError
		be.True(t, errors.As(err, &te))
		be.Equal(t, client.callsFor("a.txt"), []call{
			{InlineContent, "a.txt", 4 * time.Second},
			{InlineContent, "a.txt", 4 * time.Second},
			{InlineContent, "a.txt", 5 * time.Second},
			{SignedURL, "a.txt", 5 * time.Second},
		})
	})

	t.Run("cancelled_not_retried", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		client := newFakeClient(func(s Strategy, name string, n int) (int64, error) {
			cancel()
			return 0, timeoutErr()
		})
		u := New(client, testConfig)
		file := sparseFile(t, "a.txt", 100)

		_, err := u.UploadWithRetry(ctx, 1, file, 4)
		be.True(t, err != nil)
		be.Equal(t, len(client.callsFor("a.txt")), 1)
	})
}

func TestUpload_Batch(t *testing.T) {
	ctx := context.Background()

	client := newFakeClient(func(s Strategy, name string, n int) (int64, error) {
		switch name {
		case "bad1.txt", "bad2.txt":
			return 0, &bitrix.RemoteError{Code: "ACCESS_DENIED"}
		case "a.txt":
			return 1, nil
		case "b.txt":
			return 2, nil
		default:
			return 3, nil
		}
	})
	client.delay = 20 * time.Millisecond
	u := New(client, testConfig)

	files := []model.RemoteFile{
		sparseFile(t, "a.txt", 10),
		sparseFile(t, "bad1.txt", 10),
		sparseFile(t, "b.txt", 10),
		sparseFile(t, "bad2.txt", 10),
		sparseFile(t, "c.txt", 10),
	}

	outcome := u.Upload(ctx, Batch{FolderID: 1, Files: files, MaxAttempts: 2, Parallelism: 2})
	be.Equal(t, outcome.FileIDs, []int64{1, 2, 3})
	be.Equal(t, outcome.Failed, []string{"bad1.txt", "bad2.txt"})
	be.Equal(t, len(outcome.FileIDs)+len(outcome.Failed), len(files))
	be.True(t, client.maxActive.Load() <= 2)
}

func TestUpload_Empty(t *testing.T) {
	u := New(newFakeClient(nil), testConfig)
	outcome := u.Upload(context.Background(), Batch{FolderID: 1})
	be.Equal(t, len(outcome.FileIDs), 0)
	be.Equal(t, len(outcome.Failed), 0)
}

func TestUpload_ParallelismBound(t *testing.T) {
	client := newFakeClient(func(s Strategy, name string, n int) (int64, error) { return int64(n), nil })
	client.delay = 30 * time.Millisecond
	u := New(client, testConfig)

	var files []model.RemoteFile
	for _, name := range []string{"1", "2", "3", "4", "5", "6"} {
		files = append(files, sparseFile(t, name, 1))
	}

	outcome := u.Upload(context.Background(), Batch{FolderID: 1, Files: files, Parallelism: 3})
	be.Equal(t, len(outcome.FileIDs), 6)
	be.True(t, client.maxActive.Load() <= 3)
	be.True(t, client.maxActive.Load() >= 2)
}

func TestUpload_ThreeFileScenario(t *testing.T) {
	client := newFakeClient(func(s Strategy, name string, n int) (int64, error) {
		if name == "video.mp4" && n <= 2 {
			return 0, timeoutErr()
		}
		switch name {
		case "one.jpg":
			return 1, nil
		case "two.jpg":
			return 2, nil
		default:
			return 3, nil
		}
	})
	u := New(client, testConfig)

	files := []model.RemoteFile{
		sparseFile(t, "one.jpg", 1*mb),
		sparseFile(t, "two.jpg", 1*mb),
		sparseFile(t, "video.mp4", 25*mb),
	}

	outcome := u.Upload(context.Background(), Batch{FolderID: 1, Files: files, MaxAttempts: 2, Parallelism: 2})
	be.Equal(t, outcome.FileIDs, []int64{1, 2, 3})
	be.Equal(t, len(outcome.Failed), 0)

	be.Equal(t, client.callsFor("one.jpg"), []call{{InlineContent, "one.jpg", 4 * time.Second}})
	be.Equal(t, client.callsFor("two.jpg"), []call{{InlineContent, "two.jpg", 4 * time.Second}})
	be.Equal(t, client.callsFor("video.mp4"), []call{
		{SignedURL, "video.mp4", 90 * time.Second},
		{InlineContent, "video.mp4", 90 * time.Second},
		{SignedURL, "video.mp4", 90 * time.Second},
	})
}

func TestUpload_AllFailTerminally(t *testing.T) {
	client := newFakeClient(func(s Strategy, name string, n int) (int64, error) {
		return 0, &bitrix.RemoteError{Code: "ACCESS_DENIED"}
	})
	u := New(client, testConfig)

	files := []model.RemoteFile{
		sparseFile(t, "one.jpg", 1*mb),
		sparseFile(t, "two.jpg", 1*mb),
		sparseFile(t, "video.mp4", 25*mb),
	}

	outcome := u.Upload(context.Background(), Batch{FolderID: 1, Files: files, MaxAttempts: 2})
	be.True(t, outcome.AllFailed())
	be.Equal(t, outcome.Failed, []string{"one.jpg", "two.jpg", "video.mp4"})
	be.Equal(t, len(client.callsFor("one.jpg")), 1)
	be.Equal(t, len(client.callsFor("video.mp4")), 2)
}
