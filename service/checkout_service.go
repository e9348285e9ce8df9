package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"checkout_system/errs"
	"checkout_system/handler"
	"checkout_system/lock"
	"checkout_system/metrics"
	"checkout_system/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Selections 用户在结算中选择的折扣
type Selections struct {
	Sellers         []model.DiscountSelection `json:"sellers"`           // 各卖家选择的折扣
	AdminDiscountID *int64                    `json:"admin_discount_id"` // 平台折扣ID
}

// SnapshotStore 结算快照存储
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *model.CheckoutSnapshot, ttl time.Duration) error
	LoadSnapshot(ctx context.Context, checkoutID string, userID int64) (*model.CheckoutSnapshot, error)
	DeleteSnapshot(ctx context.Context, checkoutID string) error
}

// EventPublisher 结算事件发布
type EventPublisher interface {
	SendCheckoutMessage(ctx context.Context, msg *model.CheckoutMessage) error
	SendRedemptionMessage(ctx context.Context, msg *model.RedemptionMessage) error
}

// RedemptionSwitch 核销总开关
type RedemptionSwitch interface {
	RedemptionEnabled(ctx context.Context) (bool, error)
}

// CheckoutDeps 结算服务依赖
type CheckoutDeps struct {
	Discounts   handler.DiscountStore // 折扣存储
	Sellers     handler.SellerReader  // 卖家查询
	Locks       *lock.Coordinator     // 锁协调器
	Snapshots   SnapshotStore         // 结算快照
	Events      EventPublisher        // 事件发布
	Switch      RedemptionSwitch      // 核销开关
	Metrics     *metrics.Metrics      // 指标，可为空
	ShipFee     decimal.Decimal       // 每个卖家的固定运费
	SnapshotTTL time.Duration         // 结算快照有效期
}

// CheckoutService 结算服务
// 预览只读不加锁；确认在结算单锁内逐个核销折扣，任一失败时倒序撤销已核销的折扣
type CheckoutService struct {
	checkout    *handler.CheckoutHandler
	redemption  *handler.RedemptionHandler
	locks       *lock.Coordinator
	snapshots   SnapshotStore
	events      EventPublisher
	switcher    RedemptionSwitch
	metrics     *metrics.Metrics
	snapshotTTL time.Duration
}

// NewCheckoutService 创建结算服务实例
func NewCheckoutService(deps CheckoutDeps) *CheckoutService {
	return &CheckoutService{
		checkout:    handler.NewCheckoutHandler(newCoalescedReader(deps.Discounts), deps.Sellers, deps.ShipFee),
		redemption:  handler.NewRedemptionHandler(deps.Discounts, deps.Locks),
		locks:       deps.Locks,
		snapshots:   deps.Snapshots,
		events:      deps.Events,
		switcher:    deps.Switch,
		metrics:     deps.Metrics,
		snapshotTTL: deps.SnapshotTTL,
	}
}

// Preview 计算结算价格并保存购物车快照，不修改任何折扣状态
func (s *CheckoutService) Preview(ctx context.Context, userID int64, groups []model.CartShopGroup, sel Selections) (*model.CheckoutPreview, error) {
	preview, err := s.preview(ctx, userID, groups, sel)
	s.metrics.ObserveCheckout("preview", err)
	return preview, err
}

func (s *CheckoutService) preview(ctx context.Context, userID int64, groups []model.CartShopGroup, sel Selections) (*model.CheckoutPreview, error) {
	result, err := s.checkout.ComputeCheckout(ctx, groups, sel.Sellers, sel.AdminDiscountID)
	if err != nil {
		return nil, err
	}

	snap := &model.CheckoutSnapshot{
		CheckoutID: uuid.NewString(),
		UserID:     userID,
		Groups:     groups,
	}
	if err := s.snapshots.SaveSnapshot(ctx, snap, s.snapshotTTL); err != nil {
		return nil, err
	}

	slog.Info("Checkout previewed",
		"checkout_id", snap.CheckoutID,
		"user_id", userID,
		"sellers", len(result.Sellers),
		"total_checkout", result.TotalCheckout,
	)
	return &model.CheckoutPreview{CheckoutID: snap.CheckoutID, Result: result}, nil
}

// Confirm 确认结算：按快照重新计算价格，对每个生效的折扣执行一次核销
// 核销被拒绝或锁不可用时撤销本次已提交的核销再返回错误，快照保留以便重试
func (s *CheckoutService) Confirm(ctx context.Context, userID int64, checkoutID string, sel Selections) (*model.CheckoutConfirmation, error) {
	confirmation, err := s.confirm(ctx, userID, checkoutID, sel)
	s.metrics.ObserveCheckout("confirm", err)
	if err != nil {
		slog.Warn("Checkout confirmation failed",
			"checkout_id", checkoutID,
			"user_id", userID,
			"error", err,
		)
		return nil, err
	}

	s.publishConfirmed(ctx, userID, checkoutID, confirmation)
	slog.Info("Checkout confirmed",
		"checkout_id", checkoutID,
		"order_ref", confirmation.OrderRef,
		"user_id", userID,
		"redemptions", len(confirmation.Redemptions),
		"total_checkout", confirmation.Result.TotalCheckout,
	)
	return confirmation, nil
}

func (s *CheckoutService) confirm(ctx context.Context, userID int64, checkoutID string, sel Selections) (*model.CheckoutConfirmation, error) {
	if err := s.checkSwitch(ctx); err != nil {
		return nil, err
	}

	var (
		confirmation *model.CheckoutConfirmation
		outcomes     []string
		compensated  []int64
	)
	err := s.locks.WithLock(ctx, lock.CheckoutKey(checkoutID), func(ctx context.Context) error {
		snap, err := s.snapshots.LoadSnapshot(ctx, checkoutID, userID)
		if err != nil {
			return err
		}
		result, err := s.checkout.ComputeCheckout(ctx, snap.Groups, sel.Sellers, sel.AdminDiscountID)
		if err != nil {
			return err
		}

		orderRef := uuid.NewString()
		var committed []model.DiscountUsage
		for _, applied := range result.AppliedDiscounts() {
			res, err := s.redemption.Redeem(ctx, applied.DiscountID, userID, applied.Amount, orderRef)
			if err != nil {
				compensated = s.compensate(ctx, committed)
				return err
			}
			outcomes = append(outcomes, res.Outcome.String())
			switch res.Outcome {
			case handler.OutcomeCommitted:
				committed = append(committed, *res.Usage)
			case handler.OutcomeRejected:
				compensated = s.compensate(ctx, committed)
				return errs.Wrapf(errs.ErrRedemptionRejected, "discount %d (%s) is no longer redeemable: %s", applied.DiscountID, applied.Code, res.Reason)
			default:
				compensated = s.compensate(ctx, committed)
				return errs.Wrapf(errs.ErrLockUnavailable, "discount %d is busy, retry the checkout", applied.DiscountID)
			}
		}

		if err := s.snapshots.DeleteSnapshot(ctx, checkoutID); err != nil {
			slog.Warn("Failed to delete checkout snapshot", "checkout_id", checkoutID, "error", err)
		}
		confirmation = &model.CheckoutConfirmation{
			OrderRef:    orderRef,
			Result:      result,
			Redemptions: committed,
		}
		return nil
	})

	for _, o := range outcomes {
		s.metrics.ObserveRedemption("redeem", o)
	}
	if len(compensated) > 0 {
		slog.Info("Rolled back redemptions of failed checkout",
			"checkout_id", checkoutID,
			"user_id", userID,
			"discount_ids", compensated,
		)
	}
	if err != nil {
		return nil, err
	}
	return confirmation, nil
}

// compensate 倒序撤销已提交的核销，返回成功撤销的折扣ID
func (s *CheckoutService) compensate(ctx context.Context, committed []model.DiscountUsage) []int64 {
	// 请求取消后仍需完成回滚
	ctx = context.WithoutCancel(ctx)
	var cancelled []int64
	for i := len(committed) - 1; i >= 0; i-- {
		u := committed[i]
		res, err := s.redemption.Cancel(ctx, u.DiscountID, u.UserID, u.OrderRef)
		if err == nil && res.Outcome != handler.OutcomeCancelled {
			err = errs.Newf("cancel finished with outcome %s", res.Outcome)
		}
		if err != nil {
			slog.Error("Failed to roll back redemption, manual reconciliation required",
				"discount_id", u.DiscountID,
				"user_id", u.UserID,
				"order_ref", u.OrderRef,
				"error", err,
			)
			continue
		}
		s.metrics.ObserveRedemption("cancel", res.Outcome.String())
		cancelled = append(cancelled, u.DiscountID)
	}
	return cancelled
}

// CancelRedemption 撤销用户在某订单上的折扣核销
// 没有对应核销记录时返回 OutcomeNothingToCancel，锁不可用时返回 ErrLockUnavailable
func (s *CheckoutService) CancelRedemption(ctx context.Context, userID, discountID int64, orderRef string) (*handler.CancelResult, error) {
	res, err := s.redemption.Cancel(ctx, discountID, userID, orderRef)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveRedemption("cancel", res.Outcome.String())

	switch res.Outcome {
	case handler.OutcomeLockFailed:
		return nil, errs.Wrapf(errs.ErrLockUnavailable, "discount %d is busy, retry the cancellation", discountID)
	case handler.OutcomeCancelled:
		msg := &model.RedemptionMessage{
			OrderRef:   orderRef,
			DiscountID: discountID,
			UserID:     userID,
			CreatedAt:  time.Now(),
		}
		if err := s.events.SendRedemptionMessage(ctx, msg); err != nil {
			slog.Warn("Failed to publish redemption cancelled event",
				"order_ref", orderRef,
				"discount_id", discountID,
				"error", err,
			)
		}
	}

	slog.Info("Redemption cancellation processed",
		"discount_id", discountID,
		"user_id", userID,
		"order_ref", orderRef,
		"outcome", res.Outcome.String(),
	)
	return &res, nil
}

// checkSwitch 核销开关关闭或无法读取时拒绝确认
func (s *CheckoutService) checkSwitch(ctx context.Context) error {
	if s.switcher == nil {
		return nil
	}
	enabled, err := s.switcher.RedemptionEnabled(ctx)
	if err != nil {
		return errs.Mark(errs.Wrap(err, "read redemption switch"), errs.ErrServiceDisabled)
	}
	if !enabled {
		return errs.Wrap(errs.ErrServiceDisabled, "discount redemption is temporarily disabled")
	}
	return nil
}

func (s *CheckoutService) publishConfirmed(ctx context.Context, userID int64, checkoutID string, c *model.CheckoutConfirmation) {
	ids := make([]int64, 0, len(c.Redemptions))
	for _, u := range c.Redemptions {
		ids = append(ids, u.DiscountID)
	}
	msg := &model.CheckoutMessage{
		OrderRef:      c.OrderRef,
		CheckoutID:    checkoutID,
		UserID:        userID,
		TotalCheckout: c.Result.TotalCheckout,
		DiscountIDs:   ids,
		CreatedAt:     time.Now(),
	}
	if err := s.events.SendCheckoutMessage(ctx, msg); err != nil {
		slog.Warn("Failed to publish checkout confirmed event",
			"order_ref", c.OrderRef,
			"checkout_id", checkoutID,
			"error", err,
		)
	}
}

// coalescedReader 合并同一折扣的并发读取
type coalescedReader struct {
	inner handler.DiscountReader
	group singleflight.Group
}

func newCoalescedReader(inner handler.DiscountReader) *coalescedReader {
	return &coalescedReader{inner: inner}
}

// FindByID 同一时刻对同一折扣的多次读取只查询一次存储
// 共享查询不跟随任何一个调用方的取消，每个调用方只在自己的 ctx 结束时提前返回
func (r *coalescedReader) FindByID(ctx context.Context, id int64, fields ...string) (*model.Discount, error) {
	if len(fields) > 0 {
		return r.inner.FindByID(ctx, id, fields...)
	}
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(strconv.FormatInt(id, 10), func() (any, error) {
		return r.inner.FindByID(shared, id)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Discount), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
