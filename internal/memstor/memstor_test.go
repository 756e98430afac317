package memstor

import (
	"context"
	"testing"
	"time"

	"github.com/StayAlive96/Bitrix-task-bot/internal/model"
	"github.com/nalgeon/be"
)

func newTestStore(t *testing.T, cfg Config) (*Memstor, *time.Time) {
	t.Helper()
	m := New(cfg)
	t.Cleanup(m.Cancel)

	now := time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestSaveGet(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestStore(t, Config{MaxTotal: 10, SessionTTL: time.Hour})

	_, err := m.Get(ctx, 1)
	be.Err(t, err, ErrSessionNotFound)

	sess := Session{UserID: 1, ChatID: 100, Step: model.StepTitle, Files: []model.RemoteFile{{LocalPath: "a"}}}
	be.Err(t, m.Save(ctx, sess), nil)

	got, err := m.Get(ctx, 1)
	be.Err(t, err, nil)
	be.Equal(t, got.Step, model.StepTitle)
	be.Equal(t, got.Files, sess.Files)
	be.True(t, !got.CreatedAt.IsZero())

	// изменения копии не влияют на хранилище
	got.Files[0].LocalPath = "changed"
	again, _ := m.Get(ctx, 1)
	be.Equal(t, again.Files[0].LocalPath, "a")
}

func TestSave_KeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	m, now := newTestStore(t, Config{MaxTotal: 10, SessionTTL: time.Hour})

	be.Err(t, m.Save(ctx, Session{UserID: 1}), nil)
	created := *now

	*now = now.Add(10 * time.Minute)
	be.Err(t, m.Save(ctx, Session{UserID: 1, Step: model.StepDescription}), nil)

	got, err := m.Get(ctx, 1)
	be.Err(t, err, nil)
	be.Equal(t, got.CreatedAt, created)
	be.Equal(t, got.UpdatedAt, *now)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	m, now := newTestStore(t, Config{MaxTotal: 10, SessionTTL: time.Minute})

	be.Err(t, m.Save(ctx, Session{UserID: 1}), nil)
	*now = now.Add(2 * time.Minute)

	_, err := m.Get(ctx, 1)
	be.Err(t, err, ErrSessionNotFound)

	m.cleanExpiredSessions()
	be.Equal(t, len(m.sessions), 0)
}

func TestCapacity(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestStore(t, Config{MaxTotal: 1, SessionTTL: time.Hour})

	be.Err(t, m.Save(ctx, Session{UserID: 1}), nil)
	be.Err(t, m.Save(ctx, Session{UserID: 2}), ErrServerBusy)
	be.Err(t, m.Save(ctx, Session{UserID: 1, Title: "update"}), nil)

	be.Err(t, m.Delete(ctx, 1), nil)
	be.Err(t, m.Delete(ctx, 1), nil)
	be.Err(t, m.Save(ctx, Session{UserID: 2}), nil)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestStore(t, Config{MaxTotal: 10, SessionTTL: time.Hour})

	m.Cancel()
	be.Err(t, m.Save(ctx, Session{UserID: 1}), ErrServerCancelled)
	_, err := m.Get(ctx, 1)
	be.Err(t, err, ErrServerCancelled)
}
