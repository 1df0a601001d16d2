package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestAppSessionLifecycle(t *testing.T) {
	mr, rdb := newRedis(t)
	s := NewAppSessionStore(rdb, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "sid1", AppSession{UserID: 7, Name: "Bob", BackendToken: "tok"}))
	got, err := s.Get(ctx, "sid1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, "tok", got.BackendToken)
	assert.Equal(t, got.IssuedAt+3600, got.ExpiresAt)
	assert.True(t, mr.Exists("app:user_sessions:7"))

	require.NoError(t, s.Delete(ctx, "sid1"))
	_, err = s.Get(ctx, "sid1")
	assert.ErrorIs(t, err, ErrNotFound)
	members, _ := mr.Members("app:user_sessions:7")
	assert.Empty(t, members)
}

func TestAppSessionExpires(t *testing.T) {
	mr, rdb := newRedis(t)
	s := NewAppSessionStore(rdb, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "sid", AppSession{UserID: 1}))
	mr.FastForward(30 * time.Second)
	require.NoError(t, s.Touch(ctx, "sid"))
	mr.FastForward(45 * time.Second)
	_, err := s.Get(ctx, "sid")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	_, err = s.Get(ctx, "sid")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRevokeAllForUser(t *testing.T) {
	_, rdb := newRedis(t)
	s := NewAppSessionStore(rdb, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "a", AppSession{UserID: 3}))
	require.NoError(t, s.Create(ctx, "b", AppSession{UserID: 3}))
	require.NoError(t, s.Create(ctx, "c", AppSession{UserID: 4}))

	require.NoError(t, s.RevokeAllForUser(ctx, 3))
	for _, sid := range []string{"a", "b"} {
		_, err := s.Get(ctx, sid)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	_, err := s.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestFlashIsShownOnce(t *testing.T) {
	_, rdb := newRedis(t)
	s := NewStore(rdb, time.Minute)
	ctx := context.Background()

	f, err := s.PopFlash(ctx, "sid")
	require.NoError(t, err)
	assert.Nil(t, f)

	require.NoError(t, s.SetFlash(ctx, "sid", Flash{Kind: FlashInfo, Message: "Request sent"}))
	f, err = s.PopFlash(ctx, "sid")
	require.NoError(t, err)
	assert.Equal(t, &Flash{Kind: FlashInfo, Message: "Request sent"}, f)

	f, err = s.PopFlash(ctx, "sid")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestInFlightLock(t *testing.T) {
	mr, rdb := newRedis(t)
	s := NewStore(rdb, 10*time.Second)
	ctx := context.Background()

	tok, ok, err := s.Acquire(ctx, "7:tx:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, tok)

	_, ok, err = s.Acquire(ctx, "7:tx:1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = s.Acquire(ctx, "7:tx:2")
	assert.True(t, ok)

	require.NoError(t, s.Release(ctx, "7:tx:1", tok))
	_, ok, _ = s.Acquire(ctx, "7:tx:1")
	assert.True(t, ok)

	// 锁过期后自动释放
	mr.FastForward(11 * time.Second)
	_, ok, _ = s.Acquire(ctx, "7:tx:2")
	assert.True(t, ok)
}

func TestInFlightReleaseKeepsNextHoldersLock(t *testing.T) {
	mr, rdb := newRedis(t)
	s := NewStore(rdb, time.Second)
	ctx := context.Background()

	first, ok, err := s.Acquire(ctx, "7:tx:1")
	require.NoError(t, err)
	require.True(t, ok)

	// 第一个持有者超时，第二个拿到锁
	mr.FastForward(2 * time.Second)
	second, ok, err := s.Acquire(ctx, "7:tx:1")
	require.NoError(t, err)
	require.True(t, ok)

	// 迟到的第一个持有者释放，不能删掉第二个的锁
	require.NoError(t, s.Release(ctx, "7:tx:1", first))
	_, ok, err = s.Acquire(ctx, "7:tx:1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Release(ctx, "7:tx:1", second))
	_, ok, _ = s.Acquire(ctx, "7:tx:1")
	assert.True(t, ok)
}

func TestFlashOutlivesShortLockTTL(t *testing.T) {
	mr, rdb := newRedis(t)
	s := NewStore(rdb, time.Second)
	ctx := context.Background()

	require.NoError(t, s.SetFlash(ctx, "sid", Flash{Kind: FlashInfo, Message: "saved"}))
	assert.Equal(t, FlashTTL, mr.TTL("app:flash:sid"))
	mr.FastForward(10 * time.Second)
	f, err := s.PopFlash(ctx, "sid")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "saved", f.Message)
}

func TestShouldTouchThrottles(t *testing.T) {
	mr, rdb := newRedis(t)
	s := NewStore(rdb, time.Minute)
	ctx := context.Background()

	assert.True(t, s.ShouldTouch(ctx, "sid", time.Minute))
	assert.False(t, s.ShouldTouch(ctx, "sid", time.Minute))
	mr.FastForward(61 * time.Second)
	assert.True(t, s.ShouldTouch(ctx, "sid", time.Minute))
}
