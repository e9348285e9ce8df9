// Package lock 分布式锁协调器：有界重试获取、作用域内保证释放
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"checkout_system/errs"
)

// Locker 协调存储需要提供的原子操作
// Acquire 在键不存在时写入并设置TTL，成功返回令牌；已被占用时 ok 为 false
// Release 仅当令牌匹配时删除键，键不存在或已过期时为空操作
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// Policy 锁获取重试策略
type Policy struct {
	Attempts int           // 最大尝试次数
	Interval time.Duration // 两次尝试之间的等待时间
	TTL      time.Duration // 每次写入的锁过期时间
}

// DefaultPolicy 默认策略：10次尝试，间隔50ms，TTL 10秒
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 10,
		Interval: 50 * time.Millisecond,
		TTL:      10 * time.Second,
	}
}

// Observer 锁获取结果回调，用于指标采集
type Observer func(key string, wait time.Duration, acquired bool)

// Coordinator 锁协调器
type Coordinator struct {
	locker   Locker        // 协调存储
	policy   Policy        // 重试策略
	observer Observer      // 获取结果回调，可为空
	release  time.Duration // 释放锁使用的独立超时
}

// Option 协调器可选配置
type Option func(*Coordinator)

// WithObserver 设置锁获取结果回调
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// NewCoordinator 创建锁协调器，策略中非正值使用默认值
func NewCoordinator(locker Locker, policy Policy, opts ...Option) *Coordinator {
	def := DefaultPolicy()
	if policy.Attempts <= 0 {
		policy.Attempts = def.Attempts
	}
	if policy.Interval < 0 {
		policy.Interval = def.Interval
	}
	if policy.TTL <= 0 {
		policy.TTL = def.TTL
	}
	c := &Coordinator{
		locker:  locker,
		policy:  policy,
		release: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key 构造锁键，格式 lock:<domain>:<id>
func Key(domain string, id int64) string {
	return fmt.Sprintf("lock:%s:%d", domain, id)
}

// DiscountKey 折扣核销锁键
func DiscountKey(discountID int64) string {
	return Key("discount", discountID)
}

// Acquire 按策略有界重试获取锁，重试耗尽返回 ErrLockUnavailable
// 等待期间响应 ctx 取消
func (c *Coordinator) Acquire(ctx context.Context, key string) (string, error) {
	start := time.Now()
	var lastErr error
	for attempt := 1; ; attempt++ {
		token, ok, err := c.locker.Acquire(ctx, key, c.policy.TTL)
		if err == nil && ok {
			c.observe(key, time.Since(start), true)
			return token, nil
		}
		if err != nil {
			lastErr = err
			slog.Warn("Lock acquire attempt failed",
				"key", key,
				"attempt", attempt,
				"error", err,
			)
		}
		if attempt >= c.policy.Attempts {
			break
		}

		timer := time.NewTimer(c.policy.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.observe(key, time.Since(start), false)
			return "", errs.Mark(errs.Wrapf(ctx.Err(), "acquire lock %s", key), errs.ErrLockUnavailable)
		case <-timer.C:
		}
	}

	c.observe(key, time.Since(start), false)
	if lastErr != nil {
		return "", errs.Mark(errs.Wrapf(lastErr, "acquire lock %s after %d attempts", key, c.policy.Attempts), errs.ErrLockUnavailable)
	}
	return "", errs.Wrapf(errs.ErrLockUnavailable, "lock %s still held after %d attempts", key, c.policy.Attempts)
}

// Release 释放锁，使用独立的context，避免调用方context已取消导致锁残留
func (c *Coordinator) Release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.release)
	defer cancel()
	if err := c.locker.Release(ctx, key, token); err != nil {
		slog.Warn("Failed to release lock, it will expire by TTL",
			"key", key,
			"ttl", c.policy.TTL,
			"error", err,
		)
	}
}

// WithLock 在持有锁的情况下执行 fn，任何退出路径（包括 panic）都只释放一次
func (c *Coordinator) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token, err := c.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer c.Release(key, token)
	return fn(ctx)
}

func (c *Coordinator) observe(key string, wait time.Duration, acquired bool) {
	if c.observer != nil {
		c.observer(key, wait, acquired)
	}
}

// CheckoutKey 结算单确认锁键，防止同一结算单被并发确认
func CheckoutKey(checkoutID string) string {
	return "lock:checkout:" + checkoutID
}

// CodeKey 折扣码锁键，owner 为卖家ID或 platform，串行化同一作用域内同一折扣码的冲突检查与写入
func CodeKey(owner, code string) string {
	return "lock:discount_code:" + owner + ":" + code
}
