package memstor

import (
	"context"
	"sync"
	"time"

	"github.com/StayAlive96/Bitrix-task-bot/internal/metrics"
	"github.com/StayAlive96/Bitrix-task-bot/internal/model"
)

const (
	cleanTimeout = 1 * time.Minute
)

type Session = model.Session

type Config struct {
	MaxTotal   int // максимальное количество сессий
	SessionTTL time.Duration
}

var (
	ErrSessionNotFound = model.ErrSessionNotFound
	ErrServerBusy      = model.ErrServerBusy
	ErrServerCancelled = model.ErrServerCancelled
)

// Memstor хранит сессии диалогов в памяти процесса.
type Memstor struct {
	cfg       Config
	mu        sync.RWMutex
	sessions  map[int64]*model.Session
	cancel    context.CancelFunc
	cancelled bool
	now       func() time.Time
}

func New(cfg Config) *Memstor {
	m := &Memstor{
		cfg:      cfg,
		sessions: make(map[int64]*model.Session),
		now:      time.Now,
	}
	m.startSessionCleaner()
	return m
}

func (m *Memstor) Get(ctx context.Context, userID int64) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.cancelled {
		return Session{}, ErrServerCancelled
	}

	sess, exists := m.sessions[userID]
	if !exists || sess.ExpiresAt.Before(m.now()) {
		return Session{}, ErrSessionNotFound
	}

	return sess.Clone(), nil
}

// Save создает или заменяет сессию пользователя и продлевает ее жизнь.
func (m *Memstor) Save(ctx context.Context, sess Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelled {
		return ErrServerCancelled
	}

	old, exists := m.sessions[sess.UserID]
	if !exists {
		if m.cfg.MaxTotal >= 0 && len(m.sessions) >= m.cfg.MaxTotal { // если m.cfg.MaxTotal < 0, то неограничено, если 0 - запрешено
			return ErrServerBusy
		}
	}

	now := m.now()
	sess = sess.Clone()
	if exists && sess.CreatedAt.IsZero() {
		sess.CreatedAt = old.CreatedAt
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	sess.ExpiresAt = now.Add(m.cfg.SessionTTL)

	m.sessions[sess.UserID] = &sess
	metrics.SessionsActive.Set(float64(len(m.sessions)))
	return nil
}

func (m *Memstor) Delete(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelled {
		return ErrServerCancelled
	}

	// не проверяем наличие сессии для обеспечения идемпотентности
	delete(m.sessions, userID)
	metrics.SessionsActive.Set(float64(len(m.sessions)))
	return nil
}

func (m *Memstor) cleanExpiredSessions() {
	// FIXME: для перформанса нужно использовать PriorityQueue по ExpiresAt

	var expired []int64
	func() {
		m.mu.RLock()
		defer m.mu.RUnlock()

		now := m.now()
		for _, sess := range m.sessions {
			if sess.ExpiresAt.Before(now) {
				expired = append(expired, sess.UserID)
			}
		}
	}()

	if len(expired) > 0 {
		m.mu.Lock()
		defer m.mu.Unlock()

		now := m.now()
		for _, userID := range expired {
			// сессия могла быть продлена между блокировками
			if sess, ok := m.sessions[userID]; ok && sess.ExpiresAt.Before(now) {
				delete(m.sessions, userID)
			}
		}
		metrics.SessionsActive.Set(float64(len(m.sessions)))
	}
}

func (m *Memstor) startSessionCleaner() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	go func() {
		tm := time.NewTimer(cleanTimeout)
		defer tm.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-tm.C:
				m.cleanExpiredSessions()
				tm.Reset(cleanTimeout)
			}
		}
	}()
}

func (m *Memstor) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cancelled {
		m.cancel()
		clear(m.sessions)
		m.cancelled = true
		metrics.SessionsActive.Set(0)
	}
}
