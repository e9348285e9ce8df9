package handler

import (
	"context"
	"time"

	"checkout_system/errs"
	"checkout_system/lock"
	"checkout_system/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Outcome 核销或撤销的结果
type Outcome int

const (
	OutcomeCommitted       Outcome = iota // 0: 核销成功
	OutcomeRejected                       // 1: 额度耗尽或折扣已不可用
	OutcomeLockFailed                     // 2: 锁重试耗尽，操作未执行
	OutcomeCancelled                      // 3: 撤销成功
	OutcomeNothingToCancel                // 4: 没有可撤销的核销记录
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeLockFailed:
		return "lock_failed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeNothingToCancel:
		return "nothing_to_cancel"
	default:
		return "unknown"
	}
}

// RejectReason 核销被拒绝的原因
type RejectReason string

const (
	ReasonNotFound    RejectReason = "discount_not_found"   // 折扣已删除
	ReasonUnavailable RejectReason = "discount_unavailable" // 已下架或不在有效期
	ReasonExhausted   RejectReason = "discount_exhausted"   // 核销次数已用完
)

// RedemptionResult 核销结果
type RedemptionResult struct {
	Outcome Outcome              `json:"outcome"` // 结果
	Reason  RejectReason         `json:"reason"`  // 拒绝原因，仅 OutcomeRejected 时有值
	Usage   *model.DiscountUsage `json:"usage"`   // 核销记录，仅 OutcomeCommitted 时有值
}

// CancelResult 撤销结果
type CancelResult struct {
	Outcome Outcome              `json:"outcome"` // 结果
	Usage   *model.DiscountUsage `json:"usage"`   // 被删除的核销记录，仅 OutcomeCancelled 时有值
}

// DiscountStore 核销需要的折扣存储操作，*repository.DiscountRepository 满足该接口
type DiscountStore interface {
	FindByID(ctx context.Context, id int64, fields ...string) (*model.Discount, error)
	IncrementUsed(tx *gorm.DB, discountID int64) (int64, error)
	DecrementUsed(tx *gorm.DB, discountID int64) (int64, error)
	AddUsage(tx *gorm.DB, usage *model.DiscountUsage) error
	FindUsage(tx *gorm.DB, discountID, userID int64, orderRef string) (*model.DiscountUsage, error)
	DeleteUsage(tx *gorm.DB, usageID int64) error
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RedemptionHandler 折扣核销处理器
// 同一折扣的核销与撤销通过分布式锁串行化，锁内只做额度校验、计数变更与记录读写
type RedemptionHandler struct {
	discounts DiscountStore     // 折扣存储
	locks     *lock.Coordinator // 锁协调器
	now       func() time.Time  // 当前时间
}

// NewRedemptionHandler 创建核销处理器实例
func NewRedemptionHandler(discounts DiscountStore, locks *lock.Coordinator) *RedemptionHandler {
	return &RedemptionHandler{
		discounts: discounts,
		locks:     locks,
		now:       time.Now,
	}
}

// errCapacityRace 条件更新未命中，额度已被占满
var errCapacityRace = errs.New("used_count guard rejected increment")

// Redeem 核销折扣：加锁后重新读取折扣，校验可用性与剩余额度，通过后在同一事务中计数加1并写入核销记录
// 额度不足或不可用返回 OutcomeRejected，锁重试耗尽返回 OutcomeLockFailed，二者都不是 error
func (h *RedemptionHandler) Redeem(ctx context.Context, discountID, userID int64, amount decimal.Decimal, orderRef string) (RedemptionResult, error) {
	var result RedemptionResult
	err := h.locks.WithLock(ctx, lock.DiscountKey(discountID), func(ctx context.Context) error {
		// 锁内重新读取，不使用任何预览阶段的数据
		d, err := h.discounts.FindByID(ctx, discountID)
		if err != nil {
			if errs.Is(err, errs.ErrNotFound) {
				result = RedemptionResult{Outcome: OutcomeRejected, Reason: ReasonNotFound}
				return nil
			}
			return err
		}
		if !d.IsUsable(h.now()) {
			result = RedemptionResult{Outcome: OutcomeRejected, Reason: ReasonUnavailable}
			return nil
		}
		if !d.HasCapacity() {
			result = RedemptionResult{Outcome: OutcomeRejected, Reason: ReasonExhausted}
			return nil
		}

		usage := &model.DiscountUsage{
			DiscountID: discountID,
			UserID:     userID,
			Amount:     amount,
			OrderRef:   orderRef,
		}
		err = h.discounts.WithTransaction(ctx, func(tx *gorm.DB) error {
			rows, err := h.discounts.IncrementUsed(tx, discountID)
			if err != nil {
				return err
			}
			if rows == 0 {
				return errCapacityRace
			}
			return h.discounts.AddUsage(tx, usage)
		})
		if errs.Is(err, errCapacityRace) {
			result = RedemptionResult{Outcome: OutcomeRejected, Reason: ReasonExhausted}
			return nil
		}
		if err != nil {
			return err
		}
		result = RedemptionResult{Outcome: OutcomeCommitted, Usage: usage}
		return nil
	})
	if errs.Is(err, errs.ErrLockUnavailable) {
		return RedemptionResult{Outcome: OutcomeLockFailed}, nil
	}
	if err != nil {
		return RedemptionResult{}, errs.Wrapf(err, "redeem discount %d", discountID)
	}
	return result, nil
}

// Cancel 撤销核销：加锁后删除核销记录并将计数减1
// 找不到核销记录时返回 OutcomeNothingToCancel，计数保持不变
func (h *RedemptionHandler) Cancel(ctx context.Context, discountID, userID int64, orderRef string) (CancelResult, error) {
	var result CancelResult
	err := h.locks.WithLock(ctx, lock.DiscountKey(discountID), func(ctx context.Context) error {
		return h.discounts.WithTransaction(ctx, func(tx *gorm.DB) error {
			usage, err := h.discounts.FindUsage(tx, discountID, userID, orderRef)
			if err != nil {
				if errs.Is(err, errs.ErrNotFound) {
					result = CancelResult{Outcome: OutcomeNothingToCancel}
					return nil
				}
				return err
			}
			if err := h.discounts.DeleteUsage(tx, usage.ID); err != nil {
				return err
			}
			if _, err := h.discounts.DecrementUsed(tx, discountID); err != nil {
				return err
			}
			result = CancelResult{Outcome: OutcomeCancelled, Usage: usage}
			return nil
		})
	})
	if errs.Is(err, errs.ErrLockUnavailable) {
		return CancelResult{Outcome: OutcomeLockFailed}, nil
	}
	if err != nil {
		return CancelResult{}, errs.Wrapf(err, "cancel redemption of discount %d", discountID)
	}
	return result, nil
}
