package model

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType 折扣计算类型
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage" // 按百分比折扣
	DiscountTypeFixed      DiscountType = "fixed"      // 固定值折扣
)

// Valid 判断折扣类型是否合法
func (t DiscountType) Valid() bool {
	return t == DiscountTypePercentage || t == DiscountTypeFixed
}

// ApplyTo 折扣适用商品范围
type ApplyTo string

const (
	ApplyToAll      ApplyTo = "all"      // 作用域内全部商品
	ApplyToSpecific ApplyTo = "specific" // 仅白名单商品
)

// Valid 判断适用范围是否合法
func (a ApplyTo) Valid() bool {
	return a == ApplyToAll || a == ApplyToSpecific
}

// Scope 折扣作用域：卖家券或平台券
type Scope int

const (
	ScopeShop     Scope = iota // 0: 卖家折扣，仅作用于该卖家商品
	ScopePlatform              // 1: 平台折扣，跨卖家生效
)

func (s Scope) String() string {
	if s == ScopePlatform {
		return "platform"
	}
	return "shop"
}

// Discount 折扣表
type Discount struct {
	ID           int64               `gorm:"primaryKey;column:id" json:"id"`                                         // 折扣ID，主键
	SellerID     *int64              `gorm:"index:idx_discount_scope_code;column:seller_id" json:"seller_id"`        // 所属卖家ID，为空表示平台券
	Name         string              `gorm:"size:100;column:name" json:"name"`                                       // 折扣名称
	Code         string              `gorm:"size:6;index:idx_discount_scope_code;column:code" json:"code"`           // 折扣码，6位大写字母数字
	Type         DiscountType        `gorm:"size:16;column:type" json:"type"`                                        // 折扣类型
	Value        decimal.Decimal     `gorm:"type:decimal(20,2);column:value" json:"value"`                           // 折扣值
	MaxValue     decimal.NullDecimal `gorm:"type:decimal(20,2);column:max_value" json:"max_value"`                   // 单次折扣上限，仅百分比类型有效
	MinOrderCost decimal.NullDecimal `gorm:"type:decimal(20,2);column:min_order_cost" json:"min_order_cost"`         // 最低订单金额门槛
	Count        *int64              `gorm:"column:count" json:"count"`                                              // 总可核销次数，为空表示不限
	UsedCount    int64               `gorm:"column:used_count;default:0" json:"used_count"`                          // 已核销次数
	StartAt      time.Time           `gorm:"column:start_at" json:"start_at"`                                        // 生效开始时间
	EndAt        time.Time           `gorm:"column:end_at" json:"end_at"`                                            // 生效结束时间
	ApplyTo      ApplyTo             `gorm:"size:16;column:apply_to" json:"apply_to"`                                // 适用范围
	IsAvailable  bool                `gorm:"column:is_available" json:"is_available"`                                // 是否可用
	IsPublish    bool                `gorm:"column:is_publish" json:"is_publish"`                                    // 是否已发布
	Skus         []DiscountSku       `gorm:"foreignKey:DiscountID;constraint:OnDelete:CASCADE" json:"skus"`          // 白名单商品
	CreatedAt    time.Time           `gorm:"autoCreateTime;column:created_at" json:"created_at"`                     // 创建时间
	UpdatedAt    time.Time           `gorm:"autoUpdateTime;column:updated_at" json:"updated_at"`                     // 更新时间
}

// DiscountSku 折扣白名单商品关联表
type DiscountSku struct {
	DiscountID int64 `gorm:"primaryKey;column:discount_id" json:"discount_id"` // 折扣ID，联合主键
	SkuID      int64 `gorm:"primaryKey;column:sku_id" json:"sku_id"`           // 商品ID，联合主键
}

// DiscountUsage 折扣核销记录表
type DiscountUsage struct {
	ID         int64           `gorm:"primaryKey;column:id" json:"id"`                     // 记录ID
	DiscountID int64           `gorm:"index;column:discount_id" json:"discount_id"`        // 折扣ID
	UserID     int64           `gorm:"index;column:user_id" json:"user_id"`                // 核销用户ID
	Amount     decimal.Decimal `gorm:"type:decimal(20,2);column:amount" json:"amount"`     // 折扣金额
	OrderRef   string          `gorm:"size:64;index;column:order_ref" json:"order_ref"`    // 订单号
	CreatedAt  time.Time       `gorm:"autoCreateTime;column:created_at" json:"created_at"` // 核销时间
}

// Seller 卖家表
type Seller struct {
	ID        int64     `gorm:"primaryKey;column:id" json:"id"`                     // 卖家ID
	Name      string    `gorm:"size:100;column:name" json:"name"`                   // 店铺名称
	CreatedAt time.Time `gorm:"autoCreateTime;column:created_at" json:"created_at"` // 创建时间
}

// Sku 商品表
type Sku struct {
	ID        int64           `gorm:"primaryKey;column:id" json:"id"`               // 商品ID
	SellerID  int64           `gorm:"index;column:seller_id" json:"seller_id"`      // 所属卖家ID
	Name      string          `gorm:"size:200;column:name" json:"name"`             // 商品名称
	Price     decimal.Decimal `gorm:"type:decimal(20,2);column:price" json:"price"` // 售价
	Thumb     string          `gorm:"size:255;column:thumb" json:"thumb"`           // 缩略图
	IsPublish bool            `gorm:"column:is_publish" json:"is_publish"`          // 是否上架
}

// Scope 根据所属卖家推导折扣作用域
func (d *Discount) Scope() Scope {
	if d.SellerID == nil {
		return ScopePlatform
	}
	return ScopeShop
}

// Owner 返回折扣所属作用域的标识：卖家ID或 platform，用于日志与锁键
func (d *Discount) Owner() string {
	if d.SellerID == nil {
		return ScopePlatform.String()
	}
	return strconv.FormatInt(*d.SellerID, 10)
}

// OwnedBy 判断折扣是否属于指定卖家
func (d *Discount) OwnedBy(sellerID int64) bool {
	return d.SellerID != nil && *d.SellerID == sellerID
}

// IsUsable 判断折扣在指定时刻是否可用（开关与有效期）
func (d *Discount) IsUsable(now time.Time) bool {
	return d.IsAvailable && d.IsPublish && !now.Before(d.StartAt) && !now.After(d.EndAt)
}

// HasCapacity 判断折扣是否仍有剩余核销次数
func (d *Discount) HasCapacity() bool {
	return d.Count == nil || d.UsedCount < *d.Count
}

// SkuIDs 返回白名单商品ID列表
func (d *Discount) SkuIDs() []int64 {
	ids := make([]int64, 0, len(d.Skus))
	for _, s := range d.Skus {
		ids = append(ids, s.SkuID)
	}
	return ids
}

// TableName 指定Discount模型对应的数据库表名
func (Discount) TableName() string {
	return "discounts"
}

// TableName 指定DiscountSku模型对应的数据库表名
func (DiscountSku) TableName() string {
	return "discount_skus"
}

// TableName 指定DiscountUsage模型对应的数据库表名
func (DiscountUsage) TableName() string {
	return "discount_usages"
}

// TableName 指定Seller模型对应的数据库表名
func (Seller) TableName() string {
	return "sellers"
}

// TableName 指定Sku模型对应的数据库表名
func (Sku) TableName() string {
	return "skus"
}
