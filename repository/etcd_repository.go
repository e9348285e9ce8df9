package repository

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Etcd相关配置键常量
const (
	EtcdKeyRedemptionEnabled = "/checkout/config/redemption_enabled" // 核销开关配置键
	EtcdKeyConfigPrefix      = "/checkout/config/"                   // 配置键前缀
)

// EtcdLocker 基于Etcd的分布式锁
// 通过租约实现过期，通过事务比较 CreateRevision 实现互斥
type EtcdLocker struct {
	client *clientv3.Client // Etcd客户端实例
}

// NewEtcdLocker 创建Etcd锁实例
func NewEtcdLocker(client *clientv3.Client) *EtcdLocker {
	return &EtcdLocker{client: client}
}

// Acquire 键不存在时写入令牌并绑定租约
func (e *EtcdLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	// 创建租约，最短1秒
	seconds := int64(math.Ceil(ttl.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	lease, err := e.client.Grant(ctx, seconds)
	if err != nil {
		return "", false, fmt.Errorf("grant lease failed: %w", err)
	}

	token := lockToken(lease.ID)
	// 使用事务实现原子操作
	resp, err := e.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).     // 检查key不存在
		Then(clientv3.OpPut(key, token, clientv3.WithLease(lease.ID))). // 写入锁
		Commit()
	if err != nil {
		e.revoke(lease.ID)
		return "", false, fmt.Errorf("etcd transaction failed: %w", err)
	}
	if !resp.Succeeded {
		e.revoke(lease.ID)
		return "", false, nil
	}
	return token, true, nil
}

// Release 令牌匹配时删除锁键并回收令牌中记录的租约
func (e *EtcdLocker) Release(ctx context.Context, key, token string) error {
	resp, err := e.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(key), "=", token)).
		Then(clientv3.OpDelete(key)).
		Commit()
	if err != nil {
		return fmt.Errorf("delete etcd key failed: %w", err)
	}
	if !resp.Succeeded {
		return nil
	}
	if id, ok := leaseOf(token); ok {
		e.revoke(id)
	}
	return nil
}

// lockToken 锁令牌：十六进制租约ID与随机串，释放时据此回收租约
func lockToken(id clientv3.LeaseID) string {
	return strconv.FormatInt(int64(id), 16) + ":" + uuid.NewString()
}

// leaseOf 从锁令牌中解析租约ID
func leaseOf(token string) (clientv3.LeaseID, bool) {
	prefix, _, found := strings.Cut(token, ":")
	if !found {
		return 0, false
	}
	id, err := strconv.ParseInt(prefix, 16, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return clientv3.LeaseID(id), true
}

// revoke 回收未使用的租约，失败时等待其自然过期
func (e *EtcdLocker) revoke(id clientv3.LeaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := e.client.Revoke(ctx, id); err != nil {
		slog.Warn("Failed to revoke etcd lease", "lease_id", id, "error", err)
	}
}

// RuntimeSwitch 运行时开关，存储在Etcd中
type RuntimeSwitch struct {
	client *clientv3.Client // Etcd客户端实例
}

// NewRuntimeSwitch 创建运行时开关实例
func NewRuntimeSwitch(client *clientv3.Client) *RuntimeSwitch {
	return &RuntimeSwitch{client: client}
}

// RedemptionEnabled 获取核销开关状态，未配置时默认开启
func (s *RuntimeSwitch) RedemptionEnabled(ctx context.Context) (bool, error) {
	resp, err := s.client.Get(ctx, EtcdKeyRedemptionEnabled)
	if err != nil {
		return false, fmt.Errorf("get redemption enabled failed: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return true, nil
	}
	return string(resp.Kvs[0].Value) == "true", nil
}

// SetRedemptionEnabled 设置核销开关状态
func (s *RuntimeSwitch) SetRedemptionEnabled(ctx context.Context, enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}
	if _, err := s.client.Put(ctx, EtcdKeyRedemptionEnabled, value); err != nil {
		return fmt.Errorf("set redemption enabled failed: %w", err)
	}
	slog.Info("Redemption switch updated", "enabled", enabled)
	return nil
}

// EnsureDefaults 初始化Etcd中缺失的默认配置
func (s *RuntimeSwitch) EnsureDefaults(ctx context.Context) {
	defaults := map[string]string{
		EtcdKeyRedemptionEnabled: "true", // 默认开启核销
	}
	for key, value := range defaults {
		// 仅在键不存在时写入
		_, err := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
			Then(clientv3.OpPut(key, value)).
			Commit()
		if err != nil {
			slog.Warn("Failed to set etcd config", "key", key, "error", err)
		}
	}
}

// Watch 监听配置变化，ctx 取消后停止
func (s *RuntimeSwitch) Watch(ctx context.Context, callback func(key, value string)) {
	rch := s.client.Watch(ctx, EtcdKeyConfigPrefix, clientv3.WithPrefix())
	go func() {
		for wresp := range rch {
			for _, ev := range wresp.Events {
				slog.Info("Etcd config changed",
					"type", ev.Type.String(),
					"key", string(ev.Kv.Key),
					"value", string(ev.Kv.Value),
				)
				if callback != nil {
					callback(string(ev.Kv.Key), string(ev.Kv.Value))
				}
			}
		}
	}()
}
