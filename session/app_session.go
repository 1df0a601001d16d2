package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("session not found")

type AppSessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewAppSessionStore(rdb *redis.Client, ttl time.Duration) *AppSessionStore {
	return &AppSessionStore{rdb: rdb, ttl: ttl}
}

// AppSession 浏览器会话。UserID/IsAdmin 只用于预填和显示，授权永远走 /me
type AppSession struct {
	UserID       int64  `json:"uid"`
	Name         string `json:"name"`
	IsAdmin      bool   `json:"adm"`
	BackendToken string `json:"bt"`
	IssuedAt     int64  `json:"iat"`
	ExpiresAt    int64  `json:"exp"`
}

func key(id string) string        { return fmt.Sprintf("app:sess:%s", id) }
func userSetKey(uid int64) string { return fmt.Sprintf("app:user_sessions:%d", uid) }

func (s *AppSessionStore) TTL() time.Duration { return s.ttl }

func (s *AppSessionStore) Create(ctx context.Context, id string, as AppSession) error {
	now := time.Now()
	as.IssuedAt = now.Unix()
	as.ExpiresAt = now.Add(s.ttl).Unix()
	b, _ := json.Marshal(as)
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key(id), b, s.ttl)
	pipe.SAdd(ctx, userSetKey(as.UserID), id)
	pipe.Expire(ctx, userSetKey(as.UserID), s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *AppSessionStore) Get(ctx context.Context, id string) (*AppSession, error) {
	b, err := s.rdb.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var as AppSession
	if err := json.Unmarshal(b, &as); err != nil {
		return nil, err
	}
	return &as, nil
}

// Touch 续期（滑动过期）
func (s *AppSessionStore) Touch(ctx context.Context, id string) error {
	as, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	as.ExpiresAt = time.Now().Add(s.ttl).Unix()
	b, _ := json.Marshal(as)
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key(id), b, s.ttl)
	pipe.Expire(ctx, userSetKey(as.UserID), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *AppSessionStore) Delete(ctx context.Context, id string) error {
	as, _ := s.Get(ctx, id) // 忽略失败
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key(id))
	if as != nil {
		pipe.SRem(ctx, userSetKey(as.UserID), id)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// 停用用户时，撤销该用户的所有会话
func (s *AppSessionStore) RevokeAllForUser(ctx context.Context, userID int64) error {
	ids, err := s.rdb.SMembers(ctx, userSetKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	for _, sid := range ids {
		pipe.Del(ctx, key(sid))
	}
	pipe.Del(ctx, userSetKey(userID))
	_, err = pipe.Exec(ctx)
	return err
}
