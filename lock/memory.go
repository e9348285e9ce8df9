package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	token    string
	expireAt time.Time
}

// MemoryLocker 进程内锁实现，用于测试与单机开发
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
	now   func() time.Time
}

// NewMemoryLocker 创建进程内锁
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

// Acquire 键不存在或已过期时写入
func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.locks[key]; ok && now.Before(e.expireAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	m.locks[key] = memoryEntry{token: token, expireAt: now.Add(ttl)}
	return token, true, nil
}

// Release 令牌匹配时删除
func (m *MemoryLocker) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.locks[key]; ok && e.token == token {
		delete(m.locks, key)
	}
	return nil
}

// Held 判断键当前是否被持有
func (m *MemoryLocker) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[key]
	return ok && m.now().Before(e.expireAt)
}
