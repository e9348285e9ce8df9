package repository_test

import (
	"context"
	"testing"
	"time"

	"checkout_system/errs"
	"checkout_system/lock"
	"checkout_system/model"
	"checkout_system/repository"
	"checkout_system/test"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRedisLocker_AcquireRelease 互斥获取，令牌不匹配时不释放
func TestRedisLocker_AcquireRelease(t *testing.T) {
	mr, client := test.NewTestRedis(t)
	locker := repository.NewRedisLocker(client)
	ctx := context.Background()
	key := lock.DiscountKey(42)

	token, ok, err := locker.Acquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)
	assert.Equal(t, 10*time.Second, mr.TTL(key))

	_, ok, err = locker.Acquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// 他人的令牌不能释放
	require.NoError(t, locker.Release(ctx, key, "someone-else"))
	assert.True(t, mr.Exists(key))

	require.NoError(t, locker.Release(ctx, key, token))
	assert.False(t, mr.Exists(key))

	// 重复释放为空操作
	require.NoError(t, locker.Release(ctx, key, token))
}

// TestRedisLocker_Expiry 锁过期后可被重新获取
func TestRedisLocker_Expiry(t *testing.T) {
	mr, client := test.NewTestRedis(t)
	locker := repository.NewRedisLocker(client)
	ctx := context.Background()

	_, ok, err := locker.Acquire(ctx, "lock:discount:1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = locker.Acquire(ctx, "lock:discount:1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestRedisLocker_WithCoordinator 协调器通过Redis实现互斥
func TestRedisLocker_WithCoordinator(t *testing.T) {
	_, client := test.NewTestRedis(t)
	c := lock.NewCoordinator(repository.NewRedisLocker(client), lock.Policy{Attempts: 2, Interval: time.Millisecond, TTL: time.Second})
	ctx := context.Background()
	key := lock.DiscountKey(7)

	err := c.WithLock(ctx, key, func(ctx context.Context) error {
		_, err := c.Acquire(ctx, key)
		return err
	})
	assert.True(t, errs.Is(err, errs.ErrLockUnavailable))

	// 作用域结束后锁已释放
	assert.NoError(t, c.WithLock(ctx, key, func(context.Context) error { return nil }))
}

// TestRedisLocker_BackendDown Redis不可用时返回错误
func TestRedisLocker_BackendDown(t *testing.T) {
	mr, client := test.NewTestRedis(t)
	mr.Close()

	_, ok, err := repository.NewRedisLocker(client).Acquire(context.Background(), "lock:discount:1", time.Second)
	assert.Error(t, err)
	assert.False(t, ok)
}

// TestSnapshotRepository 快照保存、按用户读取与删除
func TestSnapshotRepository(t *testing.T) {
	mr, client := test.NewTestRedis(t)
	repo := repository.NewSnapshotRepository(client)
	ctx := context.Background()

	snap := &model.CheckoutSnapshot{
		CheckoutID: "abc",
		UserID:     1,
		Groups: []model.CartShopGroup{
			test.CartGroup(10, test.CartLine{SkuID: 1001, Price: "99.90", Quantity: 2}),
		},
	}
	require.NoError(t, repo.SaveSnapshot(ctx, snap, time.Minute))
	assert.True(t, mr.Exists("checkout_snapshot:abc"))
	assert.Equal(t, time.Minute, mr.TTL("checkout_snapshot:abc"))

	got, err := repo.LoadSnapshot(ctx, "abc", 1)
	require.NoError(t, err)
	require.Len(t, got.Groups, 1)
	assert.True(t, test.Dec("99.90").Equal(got.Groups[0].Items[0].Price))

	_, err = repo.LoadSnapshot(ctx, "abc", 2)
	assert.True(t, errs.Is(err, errs.ErrForbidden))

	_, err = repo.LoadSnapshot(ctx, "missing", 1)
	assert.True(t, errs.Is(err, errs.ErrNotFound))

	require.NoError(t, repo.DeleteSnapshot(ctx, "abc"))
	_, err = repo.LoadSnapshot(ctx, "abc", 1)
	assert.True(t, errs.Is(err, errs.ErrNotFound))
}

// TestSnapshotRepository_Expired 过期快照视为不存在
func TestSnapshotRepository_Expired(t *testing.T) {
	mr, client := test.NewTestRedis(t)
	repo := repository.NewSnapshotRepository(client)
	ctx := context.Background()

	require.NoError(t, repo.SaveSnapshot(ctx, &model.CheckoutSnapshot{CheckoutID: "old", UserID: 1}, time.Second))
	mr.FastForward(2 * time.Second)

	_, err := repo.LoadSnapshot(ctx, "old", 1)
	assert.True(t, errs.Is(err, errs.ErrNotFound))
}
