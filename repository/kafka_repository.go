package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"checkout_system/model"

	"github.com/segmentio/kafka-go"
)

// MessageWriter Kafka生产者需要提供的方法，*kafka.Writer 满足该接口
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRepository 封装与Kafka交互的仓库操作
type KafkaRepository struct {
	writer     MessageWriter // Kafka生产者客户端
	maxRetries int           // 最大发送次数
	backoff    time.Duration // 退避基数，第i次重试等待 i*i*backoff
}

// NewKafkaRepository 创建Kafka仓库实例
func NewKafkaRepository(writer MessageWriter) *KafkaRepository {
	return &KafkaRepository{
		writer:     writer,
		maxRetries: 3,
		backoff:    time.Second,
	}
}

// WithRetry 调整重试次数与退避基数
func (k *KafkaRepository) WithRetry(maxRetries int, backoff time.Duration) *KafkaRepository {
	k.maxRetries = maxRetries
	k.backoff = backoff
	return k
}

// SendCheckoutMessage 发送结算确认消息
func (k *KafkaRepository) SendCheckoutMessage(ctx context.Context, msg *model.CheckoutMessage) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal checkout message failed: %w", err)
	}

	// 使用订单号作为key，确保同一订单的消息路由到同一分区
	return k.sendWithRetry(ctx, kafka.Message{
		Key:   []byte(msg.OrderRef),
		Value: jsonData,
		Headers: []kafka.Header{
			{Key: "order_ref", Value: []byte(msg.OrderRef)},
			{Key: "message_type", Value: []byte(model.EventCheckoutConfirmed)},
		},
	})
}

// SendRedemptionMessage 发送核销撤销消息
func (k *KafkaRepository) SendRedemptionMessage(ctx context.Context, msg *model.RedemptionMessage) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal redemption message failed: %w", err)
	}

	return k.sendWithRetry(ctx, kafka.Message{
		Key:   []byte(msg.OrderRef),
		Value: jsonData,
		Headers: []kafka.Header{
			{Key: "order_ref", Value: []byte(msg.OrderRef)},
			{Key: "discount_id", Value: []byte(strconv.FormatInt(msg.DiscountID, 10))},
			{Key: "message_type", Value: []byte(model.EventRedemptionCancelled)},
		},
	})
}

// sendWithRetry 带重试的消息发送，按平方退避
func (k *KafkaRepository) sendWithRetry(ctx context.Context, msg kafka.Message) error {
	var lastErr error
	for i := 0; i < k.maxRetries; i++ {
		err := k.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn("Kafka send attempt failed",
			"attempt", i+1,
			"key", string(msg.Key),
			"error", err,
		)
		if i == k.maxRetries-1 {
			break
		}

		backoff := time.Duration(i*i) * k.backoff
		select {
		case <-time.After(backoff):
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to send message after %d retries: %w", k.maxRetries, lastErr)
}

// Close 关闭Kafka生产者
func (k *KafkaRepository) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer failed: %w", err)
	}
	return nil
}
