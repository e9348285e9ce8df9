package test

import (
	"context"
	"errors"
	"sync"

	"checkout_system/model"

	"github.com/stretchr/testify/mock"
)

// MockEventPublisher 事件发布的模拟实现 - 使用testify/mock框架
type MockEventPublisher struct {
	mock.Mock
}

// NewMockEventPublisher 创建模拟事件发布实例
func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

// SendCheckoutMessage 发送结算确认消息
func (m *MockEventPublisher) SendCheckoutMessage(ctx context.Context, msg *model.CheckoutMessage) error {
	// 调用mock框架记录方法调用和参数
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// SendRedemptionMessage 发送核销撤销消息
func (m *MockEventPublisher) SendRedemptionMessage(ctx context.Context, msg *model.RedemptionMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// MockRedemptionSwitch 核销开关的模拟实现
type MockRedemptionSwitch struct {
	mu          sync.Mutex
	Enabled     bool // 开关状态
	ShouldError bool // 是否模拟读取错误
}

// NewMockRedemptionSwitch 创建默认开启的模拟开关
func NewMockRedemptionSwitch() *MockRedemptionSwitch {
	return &MockRedemptionSwitch{Enabled: true}
}

// RedemptionEnabled 获取开关状态
func (m *MockRedemptionSwitch) RedemptionEnabled(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldError {
		return false, errors.New("mock etcd error")
	}
	return m.Enabled, nil
}

// SetRedemptionEnabled 设置开关状态
func (m *MockRedemptionSwitch) SetRedemptionEnabled(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldError {
		return errors.New("mock etcd error")
	}
	m.Enabled = enabled
	return nil
}
