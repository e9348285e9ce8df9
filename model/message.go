package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 事件类型常量
const (
	EventCheckoutConfirmed   = "checkout_confirmed"   // 结算确认，折扣已核销
	EventRedemptionCancelled = "redemption_cancelled" // 核销已撤销
)

// CheckoutMessage 结算确认消息（用于消息队列）
type CheckoutMessage struct {
	OrderRef      string          `json:"order_ref"`      // 订单号
	CheckoutID    string          `json:"checkout_id"`    // 结算单ID
	UserID        int64           `json:"user_id"`        // 用户ID
	TotalCheckout decimal.Decimal `json:"total_checkout"` // 应付总额
	DiscountIDs   []int64         `json:"discount_ids"`   // 已核销折扣ID
	CreatedAt     time.Time       `json:"created_at"`     // 确认时间
}

// RedemptionMessage 核销撤销消息（用于消息队列）
type RedemptionMessage struct {
	OrderRef   string    `json:"order_ref"`   // 订单号
	DiscountID int64     `json:"discount_id"` // 折扣ID
	UserID     int64     `json:"user_id"`     // 用户ID
	CreatedAt  time.Time `json:"created_at"`  // 撤销时间
}
