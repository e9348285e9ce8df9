package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"checkout_system/errs"
	"checkout_system/model"

	"gorm.io/gorm"
)

// 有剩余额度的条件：不限次数或已用次数小于总次数
const hasCapacityCond = "(`count` IS NULL OR used_count < `count`)"

// DiscountRepository 折扣数据访问层
// 负责折扣、白名单商品与核销记录的数据库操作
// 核销路径上的方法（FindByID、IncrementUsed、AddUsage 等）在锁内调用，不输出日志
type DiscountRepository struct {
	db *gorm.DB // 数据库连接实例
}

// NewDiscountRepository 创建折扣仓库实例
func NewDiscountRepository(db *gorm.DB) *DiscountRepository {
	return &DiscountRepository{db: db}
}

// Create 创建折扣，白名单商品随之写入
func (r *DiscountRepository) Create(ctx context.Context, d *model.Discount) error {
	err := r.db.WithContext(ctx).Create(d).Error
	if err != nil {
		slog.Error("Failed to create discount",
			"code", d.Code,
			"owner", d.Owner(),
			"error", err,
		)
		return errs.Wrapf(err, "create discount %s", d.Code)
	}
	slog.Info("Discount created",
		"discount_id", d.ID,
		"code", d.Code,
		"owner", d.Owner(),
		"skus", len(d.Skus),
	)
	return nil
}

// FindByID 根据ID查询折扣
// 指定 fields 时只查询这些列且不加载白名单，否则返回完整记录
// fields 必须是折扣表的列名或字段名，其他值返回 ErrBadRequest
func (r *DiscountRepository) FindByID(ctx context.Context, id int64, fields ...string) (*model.Discount, error) {
	var d model.Discount
	q := r.db.WithContext(ctx)
	if len(fields) > 0 {
		columns, err := r.projection(fields)
		if err != nil {
			return nil, err
		}
		q = q.Select(columns)
	} else {
		q = q.Preload("Skus")
	}
	if err := q.Where("id = ?", id).First(&d).Error; err != nil {
		return nil, notFound(err, "discount %d", id)
	}
	return &d, nil
}

// FindByCode 查询所有作用域下使用该折扣码的折扣
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) ([]model.Discount, error) {
	var list []model.Discount
	err := r.db.WithContext(ctx).
		Preload("Skus").
		Where("code = ?", code).
		Order("id").
		Find(&list).Error
	if err != nil {
		return nil, errs.Wrapf(err, "find discounts by code %s", code)
	}
	return list, nil
}

// FindValidByCode 查询当前可用且有剩余额度的折扣
// 结果仅供预筛选，核销时以锁内重新读取的记录为准
func (r *DiscountRepository) FindValidByCode(ctx context.Context, code string, now time.Time) ([]model.Discount, error) {
	var list []model.Discount
	err := r.db.WithContext(ctx).
		Preload("Skus").
		Where("code = ? AND is_available = ? AND is_publish = ?", code, true, true).
		Where("start_at <= ? AND end_at >= ?", now, now).
		Where(hasCapacityCond).
		Order("id").
		Find(&list).Error
	if err != nil {
		return nil, errs.Wrapf(err, "find valid discounts by code %s", code)
	}
	return list, nil
}

// FindConflict 查询同一作用域、同一折扣码且时间区间与 [start, end] 相交的折扣
// 三种相交情况：新开始时间落在已有区间内、新结束时间落在已有区间内、已有区间被新区间包含
// excludeID 大于0时排除该记录（更新场景）；没有冲突时返回 nil, nil
func (r *DiscountRepository) FindConflict(ctx context.Context, sellerID *int64, code string, start, end time.Time, excludeID int64) (*model.Discount, error) {
	q := r.db.WithContext(ctx).Where("code = ?", code)
	if sellerID == nil {
		q = q.Where("seller_id IS NULL")
	} else {
		q = q.Where("seller_id = ?", *sellerID)
	}
	if excludeID > 0 {
		q = q.Where("id <> ?", excludeID)
	}
	q = q.Where("((start_at <= ? AND end_at >= ?) OR (start_at <= ? AND end_at >= ?) OR (start_at >= ? AND end_at <= ?))",
		start, start,
		end, end,
		start, end,
	)

	var d model.Discount
	err := q.Order("id").First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrapf(err, "find conflicting discount for code %s", code)
	}
	return &d, nil
}

// List 按作用域列出折扣，sellerID 为空时列出平台券
func (r *DiscountRepository) List(ctx context.Context, sellerID *int64) ([]model.Discount, error) {
	q := r.db.WithContext(ctx).Preload("Skus")
	if sellerID == nil {
		q = q.Where("seller_id IS NULL")
	} else {
		q = q.Where("seller_id = ?", *sellerID)
	}
	var list []model.Discount
	if err := q.Order("id").Find(&list).Error; err != nil {
		return nil, errs.Wrap(err, "list discounts")
	}
	return list, nil
}

// Update 更新折扣条款，replaceSkus 为 true 时整体替换白名单
// used_count 不在此处修改，只能通过核销路径变更
func (r *DiscountRepository) Update(ctx context.Context, d *model.Discount, replaceSkus bool) error {
	return r.WithTransaction(ctx, func(tx *gorm.DB) error {
		q := tx.Model(&model.Discount{}).Where("id = ?", d.ID)
		if d.Count != nil {
			// 总次数不能低于数据库中当前的已核销次数
			q = q.Where("used_count <= ?", *d.Count)
		}
		result := q.Updates(map[string]any{
				"name":           d.Name,
				"code":           d.Code,
				"type":           d.Type,
				"value":          d.Value,
				"max_value":      d.MaxValue,
				"min_order_cost": d.MinOrderCost,
				"count":          d.Count,
				"start_at":       d.StartAt,
				"end_at":         d.EndAt,
				"apply_to":       d.ApplyTo,
				"is_available":   d.IsAvailable,
				"is_publish":     d.IsPublish,
			})
		if result.Error != nil {
			slog.Error("Failed to update discount",
				"discount_id", d.ID,
				"error", result.Error,
			)
			return errs.Wrapf(result.Error, "update discount %d", d.ID)
		}
		if result.RowsAffected == 0 {
			// 行不存在，或总次数低于已核销次数；MySQL 对未变化的行同样返回 0
			var current model.Discount
			err := tx.Select("id", "used_count").Where("id = ?", d.ID).First(&current).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.Wrapf(errs.ErrNotFound, "discount %d", d.ID)
			}
			if err != nil {
				return errs.Wrapf(err, "check discount %d", d.ID)
			}
			if d.Count != nil && *d.Count < current.UsedCount {
				return errs.Wrapf(errs.ErrBadRequest, "count %d is below used count %d of discount %d", *d.Count, current.UsedCount, d.ID)
			}
		}

		if replaceSkus {
			if err := tx.Where("discount_id = ?", d.ID).Delete(&model.DiscountSku{}).Error; err != nil {
				return errs.Wrapf(err, "clear skus of discount %d", d.ID)
			}
			if len(d.Skus) > 0 {
				for i := range d.Skus {
					d.Skus[i].DiscountID = d.ID
				}
				if err := tx.Create(&d.Skus).Error; err != nil {
					return errs.Wrapf(err, "insert skus of discount %d", d.ID)
				}
			}
		}

		slog.Info("Discount updated",
			"discount_id", d.ID,
			"code", d.Code,
			"replace_skus", replaceSkus,
		)
		return nil
	})
}

// Delete 硬删除折扣及其白名单，返回是否删除了记录
func (r *DiscountRepository) Delete(ctx context.Context, id int64) (bool, error) {
	var removed bool
	err := r.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("discount_id = ?", id).Delete(&model.DiscountSku{}).Error; err != nil {
			return errs.Wrapf(err, "delete skus of discount %d", id)
		}
		result := tx.Delete(&model.Discount{}, id)
		if result.Error != nil {
			return errs.Wrapf(result.Error, "delete discount %d", id)
		}
		removed = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		slog.Error("Failed to delete discount", "discount_id", id, "error", err)
		return false, err
	}
	slog.Info("Discount deleted", "discount_id", id, "removed", removed)
	return removed, nil
}

// CountUsages 统计折扣的核销记录数
func (r *DiscountRepository) CountUsages(ctx context.Context, discountID int64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.DiscountUsage{}).Where("discount_id = ?", discountID).Count(&n).Error
	if err != nil {
		return 0, errs.Wrapf(err, "count usages of discount %d", discountID)
	}
	return n, nil
}

// IncrementUsed 在额度允许的条件下将 used_count 加1
// 返回受影响行数，为0表示额度已耗尽
func (r *DiscountRepository) IncrementUsed(tx *gorm.DB, discountID int64) (int64, error) {
	result := tx.Model(&model.Discount{}).
		Where("id = ?", discountID).
		Where(hasCapacityCond).
		Update("used_count", gorm.Expr("used_count + 1"))
	if result.Error != nil {
		return 0, errs.Wrapf(result.Error, "increment used_count of discount %d", discountID)
	}
	return result.RowsAffected, nil
}

// DecrementUsed 将 used_count 减1，不会减到负数
func (r *DiscountRepository) DecrementUsed(tx *gorm.DB, discountID int64) (int64, error) {
	result := tx.Model(&model.Discount{}).
		Where("id = ? AND used_count > 0", discountID).
		Update("used_count", gorm.Expr("used_count - 1"))
	if result.Error != nil {
		return 0, errs.Wrapf(result.Error, "decrement used_count of discount %d", discountID)
	}
	return result.RowsAffected, nil
}

// AddUsage 写入核销记录
func (r *DiscountRepository) AddUsage(tx *gorm.DB, usage *model.DiscountUsage) error {
	if err := tx.Create(usage).Error; err != nil {
		return errs.Wrapf(err, "add usage of discount %d", usage.DiscountID)
	}
	return nil
}

// FindUsage 查询用户在某订单上对折扣的核销记录
func (r *DiscountRepository) FindUsage(tx *gorm.DB, discountID, userID int64, orderRef string) (*model.DiscountUsage, error) {
	var u model.DiscountUsage
	err := tx.Where("discount_id = ? AND user_id = ? AND order_ref = ?", discountID, userID, orderRef).
		Order("id").
		First(&u).Error
	if err != nil {
		return nil, notFound(err, "usage of discount %d by user %d on order %s", discountID, userID, orderRef)
	}
	return &u, nil
}

// DeleteUsage 删除核销记录
func (r *DiscountRepository) DeleteUsage(tx *gorm.DB, usageID int64) error {
	if err := tx.Delete(&model.DiscountUsage{}, usageID).Error; err != nil {
		return errs.Wrapf(err, "delete usage %d", usageID)
	}
	return nil
}

// WithTransaction 执行数据库事务
// 传入的事务函数会在事务中执行
func (r *DiscountRepository) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// projection 将投影字段解析为折扣表的列名，关联字段与未知名称都会被拒绝
func (r *DiscountRepository) projection(fields []string) ([]string, error) {
	stmt := &gorm.Statement{DB: r.db}
	if err := stmt.Parse(&model.Discount{}); err != nil {
		return nil, errs.Wrap(err, "parse discount schema")
	}
	columns := make([]string, 0, len(fields))
	for _, name := range fields {
		field := stmt.Schema.LookUpField(name)
		if field == nil || field.DBName == "" {
			return nil, errs.Wrapf(errs.ErrBadRequest, "unknown discount field %q", name)
		}
		columns = append(columns, field.DBName)
	}
	return columns, nil
}

// notFound 将 gorm 的记录不存在转换为 ErrNotFound
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.Wrapf(errs.ErrNotFound, format, args...)
	}
	return errs.Wrapf(err, format, args...)
}
