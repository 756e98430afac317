// Package redistor хранит сессии диалогов в Redis, чтобы они переживали
// перезапуск бота.
package redistor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/StayAlive96/Bitrix-task-bot/internal/model"
)

const keyPrefix = "taskbot:session:"

type Redistor struct {
	rdb redis.Cmdable
	ttl time.Duration
	now func() time.Time
}

func New(rdb redis.Cmdable, ttl time.Duration) *Redistor {
	return &Redistor{
		rdb: rdb,
		ttl: ttl,
		now: time.Now,
	}
}

func key(userID int64) string {
	return keyPrefix + strconv.FormatInt(userID, 10)
}

func (s *Redistor) Get(ctx context.Context, userID int64) (model.Session, error) {
	data, err := s.rdb.Get(ctx, key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Session{}, model.ErrSessionNotFound
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("redis get: %w", err)
	}

	var sess model.Session
	if err := msgpack.Unmarshal(data, &sess); err != nil {
		return model.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

// Save сохраняет сессию и продлевает ее TTL.
func (s *Redistor) Save(ctx context.Context, sess model.Session) error {
	now := s.now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	sess.ExpiresAt = now.Add(s.ttl)

	data, err := msgpack.Marshal(&sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := s.rdb.Set(ctx, key(sess.UserID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Redistor) Delete(ctx context.Context, userID int64) error {
	if err := s.rdb.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
