package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"checkout_system/errs"
	"checkout_system/model"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockLua string

// 包级变量，存储Lua脚本
var releaseLockScript = redis.NewScript(releaseLockLua)

// RedisLocker 基于Redis的分布式锁
// 获取使用 SET NX PX，释放使用Lua脚本比较令牌后删除
type RedisLocker struct {
	client redis.UniversalClient // Redis客户端（单机或集群）
}

// NewRedisLocker 创建Redis锁实例
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire 键不存在时写入随机令牌并设置过期时间
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx %s failed: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release 令牌匹配时删除锁键，锁已过期或被他人持有时为空操作
func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if err := releaseLockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis release %s failed: %w", key, err)
	}
	return nil
}

// SnapshotRepository 结算快照缓存
// 预览时保存购物车，确认成功后删除（一次性使用）
type SnapshotRepository struct {
	client redis.UniversalClient // Redis客户端
}

// NewSnapshotRepository 创建结算快照仓库实例
func NewSnapshotRepository(client redis.UniversalClient) *SnapshotRepository {
	return &SnapshotRepository{client: client}
}

func snapshotKey(checkoutID string) string {
	return fmt.Sprintf("checkout_snapshot:%s", checkoutID)
}

// SaveSnapshot 保存结算快照并设置过期时间
func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, snap *model.CheckoutSnapshot, ttl time.Duration) error {
	now := time.Now()
	snap.CreatedAt = now
	snap.ExpireAt = now.Add(ttl)

	// 序列化快照数据为JSON
	jsonData, err := json.Marshal(snap)
	if err != nil {
		return errs.Wrap(err, "marshal checkout snapshot")
	}

	if err := r.client.Set(ctx, snapshotKey(snap.CheckoutID), jsonData, ttl).Err(); err != nil {
		return errs.Wrapf(err, "store checkout snapshot %s", snap.CheckoutID)
	}

	slog.Info("Checkout snapshot stored",
		"checkout_id", snap.CheckoutID,
		"user_id", snap.UserID,
		"groups", len(snap.Groups),
		"expire_at", snap.ExpireAt,
	)
	return nil
}

// LoadSnapshot 读取结算快照并校验归属用户
func (r *SnapshotRepository) LoadSnapshot(ctx context.Context, checkoutID string, userID int64) (*model.CheckoutSnapshot, error) {
	key := snapshotKey(checkoutID)
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			slog.Warn("Checkout snapshot not found", "checkout_id", checkoutID)
			return nil, errs.Wrapf(errs.ErrNotFound, "checkout %s", checkoutID)
		}
		return nil, errs.Wrapf(err, "get checkout snapshot %s", checkoutID)
	}

	// 反序列化快照数据
	var snap model.CheckoutSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errs.Wrapf(err, "unmarshal checkout snapshot %s", checkoutID)
	}

	// 检查快照是否过期
	if time.Now().After(snap.ExpireAt) {
		r.client.Del(ctx, key)
		slog.Warn("Checkout snapshot expired", "checkout_id", checkoutID, "user_id", snap.UserID)
		return nil, errs.Wrapf(errs.ErrNotFound, "checkout %s expired", checkoutID)
	}

	// 验证用户是否匹配
	if snap.UserID != userID {
		slog.Warn("Checkout snapshot user mismatch",
			"checkout_id", checkoutID,
			"expected_user", userID,
			"actual_user", snap.UserID,
		)
		return nil, errs.Wrapf(errs.ErrForbidden, "checkout %s belongs to another user", checkoutID)
	}
	return &snap, nil
}

// DeleteSnapshot 删除结算快照
func (r *SnapshotRepository) DeleteSnapshot(ctx context.Context, checkoutID string) error {
	if err := r.client.Del(ctx, snapshotKey(checkoutID)).Err(); err != nil {
		return errs.Wrapf(err, "delete checkout snapshot %s", checkoutID)
	}
	slog.Info("Checkout snapshot consumed", "checkout_id", checkoutID)
	return nil
}
