// Package pricing 折扣金额计算与商品适用性判断，纯函数，无I/O
package pricing

import (
	"checkout_system/model"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CalculateAmount 根据折扣类型计算折扣金额
// 百分比：eligible*value/100，设置了上限时截断到 maxValue
// 固定值：eligible-value
func CalculateAmount(eligible, value decimal.Decimal, typ model.DiscountType, maxValue decimal.NullDecimal) decimal.Decimal {
	switch typ {
	case model.DiscountTypePercentage:
		amount := eligible.Mul(value).Div(hundred)
		if maxValue.Valid && amount.GreaterThan(maxValue.Decimal) {
			amount = maxValue.Decimal
		}
		return amount
	case model.DiscountTypeFixed:
		// TODO: 与产品确认固定值折扣是否应改为 min(value, eligible)，现有结算结果依赖 eligible-value
		return eligible.Sub(value)
	default:
		return decimal.Zero
	}
}

// Covers 判断卖家 sellerID 的商品 skuID 是否适用该折扣
func Covers(d *model.Discount, sellerID, skuID int64) bool {
	switch d.Scope() {
	case model.ScopePlatform:
		return coversItem(d, skuID)
	case model.ScopeShop:
		return d.OwnedBy(sellerID) && coversItem(d, skuID)
	default:
		return false
	}
}

func coversItem(d *model.Discount, skuID int64) bool {
	switch d.ApplyTo {
	case model.ApplyToAll:
		return true
	case model.ApplyToSpecific:
		for _, s := range d.Skus {
			if s.SkuID == skuID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// EligibleSum 汇总某卖家商品中适用该折扣的原价合计
func EligibleSum(d *model.Discount, sellerID int64, items []model.CheckoutItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		if Covers(d, sellerID, item.SkuID) {
			sum = sum.Add(item.RawPrice)
		}
	}
	return sum
}

// MeetsMinOrder 判断适用金额是否达到最低订单门槛
func MeetsMinOrder(d *model.Discount, eligible decimal.Decimal) bool {
	return !d.MinOrderCost.Valid || eligible.GreaterThanOrEqual(d.MinOrderCost.Decimal)
}

// Apply 对一个作用域的适用金额计算折扣
// 没有适用商品、未达门槛或计算结果不为正时返回零且 applied 为 false
func Apply(d *model.Discount, eligible decimal.Decimal) (amount decimal.Decimal, applied bool) {
	if !eligible.IsPositive() || !MeetsMinOrder(d, eligible) {
		return decimal.Zero, false
	}
	amount = CalculateAmount(eligible, d.Value, d.Type, d.MaxValue)
	if !amount.IsPositive() {
		return decimal.Zero, false
	}
	return amount, true
}

// RawPrice 计算商品行原价（数量×单价）
func RawPrice(item model.CartItem) decimal.Decimal {
	return item.Price.Mul(decimal.NewFromInt(item.Quantity))
}
