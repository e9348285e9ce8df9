package handler

import (
	"context"
	"log/slog"
	"time"

	"checkout_system/errs"
	"checkout_system/model"
	"checkout_system/pricing"

	"github.com/shopspring/decimal"
)

// DiscountReader 结算预览读取折扣
type DiscountReader interface {
	FindByID(ctx context.Context, id int64, fields ...string) (*model.Discount, error)
}

// SellerReader 批量查询卖家
type SellerReader interface {
	FindSellers(ctx context.Context, sellerIDs []int64) (map[int64]model.Seller, error)
}

// CheckoutHandler 结算聚合处理器
// 只读：不加锁，不修改任何折扣的 used_count
type CheckoutHandler struct {
	discounts DiscountReader   // 折扣读取
	sellers   SellerReader     // 卖家读取
	shipFee   decimal.Decimal  // 每个卖家的固定运费
	now       func() time.Time // 当前时间
}

// NewCheckoutHandler 创建结算聚合处理器实例
func NewCheckoutHandler(discounts DiscountReader, sellers SellerReader, shipFee decimal.Decimal) *CheckoutHandler {
	return &CheckoutHandler{
		discounts: discounts,
		sellers:   sellers,
		shipFee:   shipFee,
		now:       time.Now,
	}
}

// ComputeCheckout 计算多卖家购物车的结算明细
// 卖家折扣按卖家内适用商品合计计算一次，平台折扣按全部卖家的适用商品合计计算一次
// 预览阶段只校验折扣归属与有效期，不校验剩余额度
func (h *CheckoutHandler) ComputeCheckout(ctx context.Context, groups []model.CartShopGroup, selections []model.DiscountSelection, adminDiscountID *int64) (*model.CheckoutResult, error) {
	sellerIDs, err := validateGroups(groups)
	if err != nil {
		return nil, err
	}
	selected, err := validateSelections(selections, groups)
	if err != nil {
		return nil, err
	}

	if len(sellerIDs) > 0 {
		found, err := h.sellers.FindSellers(ctx, sellerIDs)
		if err != nil {
			return nil, err
		}
		for _, id := range sellerIDs {
			if _, ok := found[id]; !ok {
				return nil, errs.Wrapf(errs.ErrNotFound, "seller %d", id)
			}
		}
	}

	now := h.now()
	result := &model.CheckoutResult{
		TotalPriceRaw:           decimal.Zero,
		TotalFeeShip:            decimal.Zero,
		TotalDiscountShopPrice:  decimal.Zero,
		TotalDiscountAdminPrice: decimal.Zero,
	}

	for _, g := range groups {
		items := activeItems(g.Items)
		if len(items) == 0 {
			continue
		}
		sc := model.SellerCheckout{
			SellerID:       g.SellerID,
			Items:          items,
			TotalPriceRaw:  decimal.Zero,
			FeeShip:        h.shipFee,
			DiscountAmount: decimal.Zero,
		}
		for _, it := range items {
			sc.TotalPriceRaw = sc.TotalPriceRaw.Add(it.RawPrice)
		}

		if discountID, ok := selected[g.SellerID]; ok {
			d, err := h.loadSellerDiscount(ctx, discountID, g.SellerID, now)
			if err != nil {
				return nil, err
			}
			if amount, applied := pricing.Apply(d, pricing.EligibleSum(d, g.SellerID, items)); applied {
				sc.Discount = appliedDiscount(d, amount)
				sc.DiscountAmount = amount
			}
		}

		result.Sellers = append(result.Sellers, sc)
		result.TotalPriceRaw = result.TotalPriceRaw.Add(sc.TotalPriceRaw)
		result.TotalFeeShip = result.TotalFeeShip.Add(sc.FeeShip)
		result.TotalDiscountShopPrice = result.TotalDiscountShopPrice.Add(sc.DiscountAmount)
	}

	if adminDiscountID != nil {
		d, err := h.loadAdminDiscount(ctx, *adminDiscountID, now)
		if err != nil {
			return nil, err
		}
		eligible := decimal.Zero
		for _, sc := range result.Sellers {
			eligible = eligible.Add(pricing.EligibleSum(d, sc.SellerID, sc.Items))
		}
		if amount, applied := pricing.Apply(d, eligible); applied {
			result.AdminDiscount = appliedDiscount(d, amount)
			result.TotalDiscountAdminPrice = amount
		}
	}

	result.TotalDiscountPrice = result.TotalDiscountShopPrice.Add(result.TotalDiscountAdminPrice)
	result.TotalCheckout = result.TotalPriceRaw.Add(result.TotalFeeShip).Sub(result.TotalDiscountPrice)

	slog.Debug("Checkout computed",
		"sellers", len(result.Sellers),
		"total_price_raw", result.TotalPriceRaw,
		"total_discount", result.TotalDiscountPrice,
		"total_checkout", result.TotalCheckout,
	)
	return result, nil
}

// loadSellerDiscount 读取卖家选择的折扣并校验归属与有效期
func (h *CheckoutHandler) loadSellerDiscount(ctx context.Context, discountID, sellerID int64, now time.Time) (*model.Discount, error) {
	d, err := h.discounts.FindByID(ctx, discountID)
	if err != nil {
		return nil, err
	}
	if d.Scope() != model.ScopeShop || !d.OwnedBy(sellerID) {
		return nil, errs.Wrapf(errs.ErrForbidden, "discount %d does not belong to seller %d", discountID, sellerID)
	}
	if !d.IsUsable(now) {
		return nil, errs.Wrapf(errs.ErrBadRequest, "discount %d is not currently usable", discountID)
	}
	return d, nil
}

// loadAdminDiscount 读取平台折扣并校验作用域与有效期
func (h *CheckoutHandler) loadAdminDiscount(ctx context.Context, discountID int64, now time.Time) (*model.Discount, error) {
	d, err := h.discounts.FindByID(ctx, discountID)
	if err != nil {
		return nil, err
	}
	if d.Scope() != model.ScopePlatform {
		return nil, errs.Wrapf(errs.ErrForbidden, "discount %d is not a platform discount", discountID)
	}
	if !d.IsUsable(now) {
		return nil, errs.Wrapf(errs.ErrBadRequest, "discount %d is not currently usable", discountID)
	}
	return d, nil
}

// validateGroups 校验购物车分组，返回含有效商品的卖家ID
func validateGroups(groups []model.CartShopGroup) ([]int64, error) {
	seen := make(map[int64]bool, len(groups))
	var ids []int64
	for _, g := range groups {
		if g.SellerID <= 0 {
			return nil, errs.Wrapf(errs.ErrBadRequest, "invalid seller id %d", g.SellerID)
		}
		if seen[g.SellerID] {
			return nil, errs.Wrapf(errs.ErrBadRequest, "duplicate cart group for seller %d", g.SellerID)
		}
		seen[g.SellerID] = true

		active := false
		for _, it := range g.Items {
			if it.Status != model.ItemStatusActive {
				continue
			}
			if it.Quantity <= 0 {
				return nil, errs.Wrapf(errs.ErrBadRequest, "sku %d has invalid quantity %d", it.SkuID, it.Quantity)
			}
			if it.Price.IsNegative() {
				return nil, errs.Wrapf(errs.ErrBadRequest, "sku %d has negative price", it.SkuID)
			}
			active = true
		}
		if active {
			ids = append(ids, g.SellerID)
		}
	}
	return ids, nil
}

// validateSelections 校验卖家折扣选择，每个卖家至多一个且必须在购物车中
func validateSelections(selections []model.DiscountSelection, groups []model.CartShopGroup) (map[int64]int64, error) {
	inCart := make(map[int64]bool, len(groups))
	for _, g := range groups {
		for _, it := range g.Items {
			if it.Status == model.ItemStatusActive {
				inCart[g.SellerID] = true
				break
			}
		}
	}

	selected := make(map[int64]int64, len(selections))
	for _, s := range selections {
		if !inCart[s.SellerID] {
			return nil, errs.Wrapf(errs.ErrBadRequest, "selection for seller %d which has no items in the cart", s.SellerID)
		}
		if _, dup := selected[s.SellerID]; dup {
			return nil, errs.Wrapf(errs.ErrBadRequest, "more than one discount selected for seller %d", s.SellerID)
		}
		selected[s.SellerID] = s.DiscountID
	}
	return selected, nil
}

func activeItems(items []model.CartItem) []model.CheckoutItem {
	var out []model.CheckoutItem
	for _, it := range items {
		if it.Status != model.ItemStatusActive {
			continue
		}
		out = append(out, model.CheckoutItem{CartItem: it, RawPrice: pricing.RawPrice(it)})
	}
	return out
}

func appliedDiscount(d *model.Discount, amount decimal.Decimal) *model.AppliedDiscount {
	return &model.AppliedDiscount{
		DiscountID: d.ID,
		SellerID:   d.SellerID,
		Code:       d.Code,
		Name:       d.Name,
		Type:       d.Type,
		Amount:     amount,
	}
}
