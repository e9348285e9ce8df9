package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemStatus 购物车商品状态
type ItemStatus string

const (
	ItemStatusActive  ItemStatus = "active"  // 参与结算
	ItemStatusRemoved ItemStatus = "removed" // 已移除，不参与结算
)

// CartItem 购物车商品
type CartItem struct {
	SkuID    int64           `json:"sku_id"`   // 商品ID
	Name     string          `json:"name"`     // 商品名称
	Price    decimal.Decimal `json:"price"`    // 单价
	Quantity int64           `json:"quantity"` // 数量
	Thumb    string          `json:"thumb"`    // 缩略图
	Status   ItemStatus      `json:"status"`   // 商品状态
}

// CartShopGroup 按卖家分组的购物车
type CartShopGroup struct {
	SellerID int64      `json:"seller_id"` // 卖家ID
	Items    []CartItem `json:"items"`     // 商品列表
}

// DiscountSelection 用户为某个卖家选择的折扣
type DiscountSelection struct {
	SellerID   int64 `json:"seller_id"`   // 卖家ID
	DiscountID int64 `json:"discount_id"` // 折扣ID
}

// CheckoutItem 结算明细中的商品行
type CheckoutItem struct {
	CartItem
	RawPrice decimal.Decimal `json:"raw_price"` // 数量×单价
}

// AppliedDiscount 结算中已应用的折扣
type AppliedDiscount struct {
	DiscountID int64           `json:"discount_id"` // 折扣ID
	SellerID   *int64          `json:"seller_id"`   // 所属卖家，平台券为空
	Code       string          `json:"code"`        // 折扣码
	Name       string          `json:"name"`        // 折扣名称
	Type       DiscountType    `json:"type"`        // 折扣类型
	Amount     decimal.Decimal `json:"amount"`      // 折扣金额
}

// SellerCheckout 单个卖家的结算明细
type SellerCheckout struct {
	SellerID       int64            `json:"seller_id"`        // 卖家ID
	Items          []CheckoutItem   `json:"items"`            // 参与结算的商品
	TotalPriceRaw  decimal.Decimal  `json:"total_price_raw"`  // 原价合计
	FeeShip        decimal.Decimal  `json:"fee_ship"`         // 运费
	Discount       *AppliedDiscount `json:"discount"`         // 卖家折扣，未达门槛时为空
	DiscountAmount decimal.Decimal  `json:"discount_amount"`  // 卖家折扣金额
}

// CheckoutResult 结算结果
type CheckoutResult struct {
	Sellers                 []SellerCheckout `json:"sellers"`                    // 各卖家明细
	AdminDiscount           *AppliedDiscount `json:"admin_discount"`             // 平台折扣，未达门槛时为空
	TotalPriceRaw           decimal.Decimal  `json:"total_price_raw"`            // 原价总计
	TotalFeeShip            decimal.Decimal  `json:"total_fee_ship"`             // 运费总计
	TotalDiscountShopPrice  decimal.Decimal  `json:"total_discount_shop_price"`  // 卖家折扣总计
	TotalDiscountAdminPrice decimal.Decimal  `json:"total_discount_admin_price"` // 平台折扣金额
	TotalDiscountPrice      decimal.Decimal  `json:"total_discount_price"`       // 折扣总计
	TotalCheckout           decimal.Decimal  `json:"total_checkout"`             // 应付总额
}

// AppliedDiscounts 返回结算中实际生效（已通过门槛）的折扣，卖家折扣在前，平台折扣在后
func (r *CheckoutResult) AppliedDiscounts() []AppliedDiscount {
	var applied []AppliedDiscount
	for _, s := range r.Sellers {
		if s.Discount != nil {
			applied = append(applied, *s.Discount)
		}
	}
	if r.AdminDiscount != nil {
		applied = append(applied, *r.AdminDiscount)
	}
	return applied
}

// CheckoutSnapshot 预览结算时保存的购物车快照（Redis存储）
type CheckoutSnapshot struct {
	CheckoutID string          `json:"checkout_id"` // 结算单ID
	UserID     int64           `json:"user_id"`     // 用户ID
	Groups     []CartShopGroup `json:"groups"`      // 购物车分组
	ExpireAt   time.Time       `json:"expire_at"`   // 过期时间
	CreatedAt  time.Time       `json:"created_at"`  // 创建时间
}

// CheckoutPreview 预览结算返回值
type CheckoutPreview struct {
	CheckoutID string          `json:"checkout_id"` // 结算单ID，确认下单时使用
	Result     *CheckoutResult `json:"result"`      // 价格明细
}

// CheckoutConfirmation 确认下单返回值
type CheckoutConfirmation struct {
	OrderRef    string          `json:"order_ref"`   // 订单号
	Result      *CheckoutResult `json:"result"`      // 确认时重新计算的价格明细
	Redemptions []DiscountUsage `json:"redemptions"` // 核销记录
}
