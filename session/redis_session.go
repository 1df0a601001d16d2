package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// FlashTTL 与匿名提示 Cookie 的 MaxAge 一致
const FlashTTL = 5 * time.Minute

// Store keeps short-lived per-session state: flash notices and in-flight locks.
// ttl 只用于锁，提示用 FlashTTL
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, lockTTL time.Duration) *Store { return &Store{rdb: rdb, ttl: lockTTL} }

func flashKey(sid string) string { return fmt.Sprintf("app:flash:%s", sid) }
func lockKey(k string) string    { return fmt.Sprintf("app:inflight:%s", k) }
func touchKey(sid string) string { return fmt.Sprintf("app:sess:touch:%s", sid) }

const (
	FlashInfo  = "info"
	FlashError = "error"
)

// Flash 重定向后只显示一次的提示
type Flash struct {
	Kind    string `json:"kind"`
	Message string `json:"msg"`
}

func (s *Store) SetFlash(ctx context.Context, sid string, f Flash) error {
	b, _ := json.Marshal(f)
	return s.rdb.Set(ctx, flashKey(sid), b, FlashTTL).Err()
}

// PopFlash returns nil when there is nothing to show.
func (s *Store) PopFlash(ctx context.Context, sid string) (*Flash, error) {
	b, err := s.rdb.GetDel(ctx, flashKey(sid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var f Flash
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Acquire 抢占 in-flight 锁，值为持有者 token，ttl 到期自动释放
func (s *Store) Acquire(ctx context.Context, k string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, lockKey(k), token, s.ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// 只删除自己持有的锁；过期后被别人拿走的锁不动
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *Store) Release(ctx context.Context, k, token string) error {
	return releaseScript.Run(ctx, s.rdb, []string{lockKey(k)}, token).Err()
}

// ShouldTouch reports true at most once per throttle window for sid.
func (s *Store) ShouldTouch(ctx context.Context, sid string, throttle time.Duration) bool {
	ok, _ := s.rdb.SetNX(ctx, touchKey(sid), "1", throttle).Result()
	return ok
}
