package service

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"checkout_system/errs"
	"checkout_system/lock"
	"checkout_system/model"

	"github.com/shopspring/decimal"
)

// codePattern 折扣码：6位大写字母或数字
var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

var hundred = decimal.NewFromInt(100)

// Actor 发起操作的用户身份
type Actor struct {
	UserID   int64  // 用户ID
	SellerID *int64 // 卖家身份，非卖家为空
	Admin    bool   // 是否为平台管理员
}

// DiscountInput 创建折扣的参数
type DiscountInput struct {
	Name         string             `json:"name"`
	Code         string             `json:"code"`
	Type         model.DiscountType `json:"type"`
	Value        decimal.Decimal    `json:"value"`
	MaxValue     *decimal.Decimal   `json:"max_value"`
	MinOrderCost *decimal.Decimal   `json:"min_order_cost"`
	Count        *int64             `json:"count"`
	StartAt      time.Time          `json:"start_at"`
	EndAt        time.Time          `json:"end_at"`
	ApplyTo      model.ApplyTo      `json:"apply_to"`
	SkuIDs       []int64            `json:"sku_ids"`
	IsPublish    bool               `json:"is_publish"`
}

// DiscountPatch 更新折扣的参数，为空的字段保持不变
type DiscountPatch struct {
	Name         *string          `json:"name"`
	Code         *string          `json:"code"`
	Value        *decimal.Decimal `json:"value"`
	MaxValue     *decimal.Decimal `json:"max_value"`
	MinOrderCost *decimal.Decimal `json:"min_order_cost"`
	Count        *int64           `json:"count"`
	StartAt      *time.Time       `json:"start_at"`
	EndAt        *time.Time       `json:"end_at"`
	ApplyTo      *model.ApplyTo   `json:"apply_to"`
	SkuIDs       []int64          `json:"sku_ids"`
	IsAvailable  *bool            `json:"is_available"`
	IsPublish    *bool            `json:"is_publish"`
}

// DiscountRepo 折扣注册表需要的存储操作
type DiscountRepo interface {
	Create(ctx context.Context, d *model.Discount) error
	FindByID(ctx context.Context, id int64, fields ...string) (*model.Discount, error)
	FindByCode(ctx context.Context, code string) ([]model.Discount, error)
	FindValidByCode(ctx context.Context, code string, now time.Time) ([]model.Discount, error)
	FindConflict(ctx context.Context, sellerID *int64, code string, start, end time.Time, excludeID int64) (*model.Discount, error)
	List(ctx context.Context, sellerID *int64) ([]model.Discount, error)
	Update(ctx context.Context, d *model.Discount, replaceSkus bool) error
	Delete(ctx context.Context, id int64) (bool, error)
	CountUsages(ctx context.Context, discountID int64) (int64, error)
}

// SkuCatalog 商品目录查询
type SkuCatalog interface {
	FindSkus(ctx context.Context, skuIDs []int64) ([]model.Sku, error)
}

// DiscountService 折扣注册表服务
// 负责折扣的创建、查询、更新与删除，以及折扣码冲突与商品归属校验
type DiscountService struct {
	discounts DiscountRepo      // 折扣存储
	catalog   SkuCatalog        // 商品目录
	locks     *lock.Coordinator // 折扣码锁与核销锁
	now       func() time.Time  // 当前时间
}

// NewDiscountService 创建折扣服务实例
func NewDiscountService(discounts DiscountRepo, catalog SkuCatalog, locks *lock.Coordinator) *DiscountService {
	return &DiscountService{
		discounts: discounts,
		catalog:   catalog,
		locks:     locks,
		now:       time.Now,
	}
}

// Create 创建折扣
// 管理员创建平台券，卖家创建本店折扣；同一作用域内折扣码的有效期不能重叠
func (s *DiscountService) Create(ctx context.Context, actor Actor, in DiscountInput) (*model.Discount, error) {
	var sellerID *int64
	switch {
	case actor.SellerID != nil:
		id := *actor.SellerID
		sellerID = &id
	case actor.Admin:
	default:
		return nil, errs.Wrap(errs.ErrForbidden, "only sellers and admins can create discounts")
	}

	d := &model.Discount{
		SellerID:    sellerID,
		Name:        strings.TrimSpace(in.Name),
		Code:        normalizeCode(in.Code),
		Type:        in.Type,
		Value:       in.Value,
		Count:       in.Count,
		StartAt:     in.StartAt,
		EndAt:       in.EndAt,
		ApplyTo:     in.ApplyTo,
		IsAvailable: true,
		IsPublish:   in.IsPublish,
	}
	if in.MaxValue != nil {
		d.MaxValue = decimal.NewNullDecimal(*in.MaxValue)
	}
	if in.MinOrderCost != nil {
		d.MinOrderCost = decimal.NewNullDecimal(*in.MinOrderCost)
	}
	if d.ApplyTo == model.ApplyToSpecific {
		d.Skus = skuRows(in.SkuIDs)
	}

	if err := s.validate(ctx, d, true); err != nil {
		return nil, err
	}
	// 冲突检查与写入在折扣码锁内完成
	err := s.locks.WithLock(ctx, lock.CodeKey(d.Owner(), d.Code), func(ctx context.Context) error {
		if err := s.checkConflict(ctx, d, 0); err != nil {
			return err
		}
		return s.discounts.Create(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Get 查询单个折扣，fields 非空时只返回指定列
func (s *DiscountService) Get(ctx context.Context, id int64, fields ...string) (*model.Discount, error) {
	return s.discounts.FindByID(ctx, id, fields...)
}

// FindByCode 查询所有作用域下使用该折扣码的折扣
func (s *DiscountService) FindByCode(ctx context.Context, code string) ([]model.Discount, error) {
	return s.discounts.FindByCode(ctx, normalizeCode(code))
}

// FindValidByCode 查询当前可用的折扣，结果仅用于预筛选
func (s *DiscountService) FindValidByCode(ctx context.Context, code string) ([]model.Discount, error) {
	return s.discounts.FindValidByCode(ctx, normalizeCode(code), s.now())
}

// FindConflict 查询与给定折扣码和时间区间冲突的折扣，没有冲突时返回 nil
func (s *DiscountService) FindConflict(ctx context.Context, sellerID *int64, code string, start, end time.Time) (*model.Discount, error) {
	return s.discounts.FindConflict(ctx, sellerID, normalizeCode(code), start, end, 0)
}

// List 列出卖家的折扣，sellerID 为空时列出平台券
func (s *DiscountService) List(ctx context.Context, sellerID *int64) ([]model.Discount, error) {
	return s.discounts.List(ctx, sellerID)
}

// Update 更新折扣条款
// 持有与核销相同的折扣锁，used_count 在读取与写入之间不会变化
// 折扣码或有效期变化时在折扣码锁内重新做冲突检查，白名单变化时重新校验商品归属
func (s *DiscountService) Update(ctx context.Context, actor Actor, id int64, patch DiscountPatch) (*model.Discount, error) {
	var updated *model.Discount
	err := s.locks.WithLock(ctx, lock.DiscountKey(id), func(ctx context.Context) error {
		var err error
		updated, err = s.update(ctx, actor, id, patch)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *DiscountService) update(ctx context.Context, actor Actor, id int64, patch DiscountPatch) (*model.Discount, error) {
	d, err := s.discounts.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, d) {
		return nil, errs.Wrapf(errs.ErrForbidden, "discount %d is not managed by user %d", id, actor.UserID)
	}

	rangeChanged := false
	if patch.Name != nil {
		d.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Code != nil {
		code := normalizeCode(*patch.Code)
		rangeChanged = rangeChanged || code != d.Code
		d.Code = code
	}
	if patch.Value != nil {
		d.Value = *patch.Value
	}
	if patch.MaxValue != nil {
		d.MaxValue = decimal.NewNullDecimal(*patch.MaxValue)
	}
	if patch.MinOrderCost != nil {
		d.MinOrderCost = decimal.NewNullDecimal(*patch.MinOrderCost)
	}
	if patch.Count != nil {
		d.Count = patch.Count
	}
	if patch.StartAt != nil {
		rangeChanged = rangeChanged || !patch.StartAt.Equal(d.StartAt)
		d.StartAt = *patch.StartAt
	}
	if patch.EndAt != nil {
		rangeChanged = rangeChanged || !patch.EndAt.Equal(d.EndAt)
		d.EndAt = *patch.EndAt
	}
	if patch.IsAvailable != nil {
		d.IsAvailable = *patch.IsAvailable
	}
	if patch.IsPublish != nil {
		d.IsPublish = *patch.IsPublish
	}

	replaceSkus := false
	if patch.ApplyTo != nil && *patch.ApplyTo != d.ApplyTo {
		d.ApplyTo = *patch.ApplyTo
		replaceSkus = true
		if d.ApplyTo == model.ApplyToAll {
			d.Skus = nil
		}
	}
	if patch.SkuIDs != nil && d.ApplyTo == model.ApplyToSpecific {
		d.Skus = skuRows(patch.SkuIDs)
		replaceSkus = true
	}

	if err := s.validate(ctx, d, replaceSkus); err != nil {
		return nil, err
	}
	if d.Count != nil && *d.Count < d.UsedCount {
		return nil, errs.Wrapf(errs.ErrBadRequest, "count %d is below used count %d", *d.Count, d.UsedCount)
	}
	if !rangeChanged {
		if err := s.discounts.Update(ctx, d, replaceSkus); err != nil {
			return nil, err
		}
		return d, nil
	}
	err = s.locks.WithLock(ctx, lock.CodeKey(d.Owner(), d.Code), func(ctx context.Context) error {
		if err := s.checkConflict(ctx, d, d.ID); err != nil {
			return err
		}
		return s.discounts.Update(ctx, d, replaceSkus)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Delete 硬删除折扣，有核销记录的折扣不能删除，只能停用
func (s *DiscountService) Delete(ctx context.Context, actor Actor, id int64) (bool, error) {
	d, err := s.discounts.FindByID(ctx, id, "id", "seller_id")
	if err != nil {
		if errs.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !canManage(actor, d) {
		return false, errs.Wrapf(errs.ErrForbidden, "discount %d is not managed by user %d", id, actor.UserID)
	}

	// 与核销互斥，检查核销记录后到删除前不会有新的核销
	var removed bool
	err = s.locks.WithLock(ctx, lock.DiscountKey(id), func(ctx context.Context) error {
		used, err := s.discounts.CountUsages(ctx, id)
		if err != nil {
			return err
		}
		if used > 0 {
			return errs.Wrapf(errs.ErrConflict, "discount %d has %d usage records, deactivate it instead", id, used)
		}
		removed, err = s.discounts.Delete(ctx, id)
		return err
	})
	return removed, err
}

// validate 校验折扣条款，checkSkus 为 true 时同时校验白名单商品
func (s *DiscountService) validate(ctx context.Context, d *model.Discount, checkSkus bool) error {
	if d.Name == "" {
		return errs.Wrap(errs.ErrBadRequest, "name is required")
	}
	if !codePattern.MatchString(d.Code) {
		return errs.Wrapf(errs.ErrBadRequest, "code %q must be 6 letters or digits", d.Code)
	}
	if !d.Type.Valid() {
		return errs.Wrapf(errs.ErrBadRequest, "unknown discount type %q", d.Type)
	}
	if !d.Value.IsPositive() {
		return errs.Wrap(errs.ErrBadRequest, "value must be positive")
	}
	if d.Type == model.DiscountTypePercentage && d.Value.GreaterThan(hundred) {
		return errs.Wrap(errs.ErrBadRequest, "percentage value must not exceed 100")
	}
	if d.Type != model.DiscountTypePercentage {
		d.MaxValue = decimal.NullDecimal{}
	}
	if d.MaxValue.Valid && !d.MaxValue.Decimal.IsPositive() {
		return errs.Wrap(errs.ErrBadRequest, "max value must be positive")
	}
	if d.MinOrderCost.Valid && d.MinOrderCost.Decimal.IsNegative() {
		return errs.Wrap(errs.ErrBadRequest, "min order cost must not be negative")
	}
	if d.Count != nil && *d.Count <= 0 {
		return errs.Wrap(errs.ErrBadRequest, "count must be positive")
	}
	if !d.StartAt.Before(d.EndAt) {
		return errs.Wrap(errs.ErrBadRequest, "start_at must be before end_at")
	}
	if !d.ApplyTo.Valid() {
		return errs.Wrapf(errs.ErrBadRequest, "unknown apply_to %q", d.ApplyTo)
	}
	if d.ApplyTo == model.ApplyToSpecific {
		if len(d.Skus) == 0 {
			return errs.Wrap(errs.ErrBadRequest, "specific discounts need at least one sku")
		}
		if checkSkus {
			return s.checkSkus(ctx, d.SellerID, d.SkuIDs())
		}
	}
	return nil
}

// checkSkus 白名单商品必须存在、已上架，卖家折扣还要求商品属于该卖家
func (s *DiscountService) checkSkus(ctx context.Context, sellerID *int64, skuIDs []int64) error {
	skus, err := s.catalog.FindSkus(ctx, skuIDs)
	if err != nil {
		return err
	}
	found := make(map[int64]model.Sku, len(skus))
	for _, sku := range skus {
		found[sku.ID] = sku
	}
	for _, id := range skuIDs {
		sku, ok := found[id]
		if !ok {
			return errs.Wrapf(errs.ErrBadRequest, "sku %d does not exist", id)
		}
		if !sku.IsPublish {
			return errs.Wrapf(errs.ErrBadRequest, "sku %d is not published", id)
		}
		if sellerID != nil && sku.SellerID != *sellerID {
			return errs.Wrapf(errs.ErrBadRequest, "sku %d does not belong to seller %d", id, *sellerID)
		}
	}
	return nil
}

func (s *DiscountService) checkConflict(ctx context.Context, d *model.Discount, excludeID int64) error {
	clash, err := s.discounts.FindConflict(ctx, d.SellerID, d.Code, d.StartAt, d.EndAt, excludeID)
	if err != nil {
		return err
	}
	if clash != nil {
		slog.Warn("Discount code conflicts with existing discount",
			"code", d.Code,
			"owner", d.Owner(),
			"conflict_id", clash.ID,
		)
		return errs.Wrapf(errs.ErrConflict, "code %s overlaps discount %d (%s - %s)",
			clash.Code, clash.ID, clash.StartAt.Format(time.RFC3339), clash.EndAt.Format(time.RFC3339))
	}
	return nil
}

// canManage 卖家管理本店折扣，管理员管理平台券
func canManage(actor Actor, d *model.Discount) bool {
	if d.SellerID == nil {
		return actor.Admin
	}
	return actor.SellerID != nil && *actor.SellerID == *d.SellerID
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// skuRows 去重后构造白名单行
func skuRows(ids []int64) []model.DiscountSku {
	seen := make(map[int64]bool, len(ids))
	rows := make([]model.DiscountSku, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		rows = append(rows, model.DiscountSku{SkuID: id})
	}
	return rows
}
