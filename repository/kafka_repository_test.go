package repository_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"checkout_system/model"
	"checkout_system/repository"
	"checkout_system/test"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWriter 记录写入的消息，前 failures 次写入返回错误
type fakeWriter struct {
	mu       sync.Mutex
	failures int
	calls    int
	messages []kafka.Message
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.calls <= w.failures {
		return errors.New("broker unavailable")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// TestKafkaRepository_SendCheckoutMessage 消息以订单号为key并携带类型头
func TestKafkaRepository_SendCheckoutMessage(t *testing.T) {
	w := &fakeWriter{}
	repo := repository.NewKafkaRepository(w).WithRetry(3, time.Millisecond)

	msg := &model.CheckoutMessage{
		OrderRef:      "order-1",
		CheckoutID:    "chk-1",
		UserID:        1,
		TotalCheckout: test.Dec("60515"),
		DiscountIDs:   []int64{3, 4},
		CreatedAt:     time.Now(),
	}
	require.NoError(t, repo.SendCheckoutMessage(context.Background(), msg))
	require.Len(t, w.messages, 1)

	sent := w.messages[0]
	assert.Equal(t, "order-1", string(sent.Key))
	assert.Equal(t, model.EventCheckoutConfirmed, header(sent, "message_type"))

	var decoded model.CheckoutMessage
	require.NoError(t, json.Unmarshal(sent.Value, &decoded))
	assert.Equal(t, []int64{3, 4}, decoded.DiscountIDs)
	assert.True(t, test.Dec("60515").Equal(decoded.TotalCheckout))
}

// TestKafkaRepository_Retry 失败后重试直到成功
func TestKafkaRepository_Retry(t *testing.T) {
	w := &fakeWriter{failures: 2}
	repo := repository.NewKafkaRepository(w).WithRetry(3, time.Millisecond)

	err := repo.SendRedemptionMessage(context.Background(), &model.RedemptionMessage{OrderRef: "order-2", DiscountID: 9, UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, w.calls)
	require.Len(t, w.messages, 1)
	assert.Equal(t, "9", header(w.messages[0], "discount_id"))
	assert.Equal(t, model.EventRedemptionCancelled, header(w.messages[0], "message_type"))
}

// TestKafkaRepository_RetryExhausted 重试耗尽后立即返回最后一次错误，最后一次失败后不再退避等待
func TestKafkaRepository_RetryExhausted(t *testing.T) {
	w := &fakeWriter{failures: 10}
	repo := repository.NewKafkaRepository(w).WithRetry(2, time.Hour)

	start := time.Now()
	err := repo.SendRedemptionMessage(context.Background(), &model.RedemptionMessage{OrderRef: "order-3"})
	assert.Less(t, time.Since(start), time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
	assert.Equal(t, 2, w.calls)

	require.NoError(t, repo.Close())
	assert.True(t, w.closed)
}

// TestKafkaRepository_ContextCancelled 取消后停止重试
func TestKafkaRepository_ContextCancelled(t *testing.T) {
	w := &fakeWriter{failures: 10}
	repo := repository.NewKafkaRepository(w).WithRetry(5, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := repo.SendRedemptionMessage(ctx, &model.RedemptionMessage{OrderRef: "order-4"})
	assert.ErrorIs(t, err, context.Canceled)
}
