package handler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"checkout_system/handler"
	"checkout_system/lock"
	"checkout_system/model"
	"checkout_system/repository"
	"checkout_system/test"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// redemptionFixture 内存库 + 内存锁
type redemptionFixture struct {
	db      *gorm.DB
	repo    *repository.DiscountRepository
	locker  *lock.MemoryLocker
	handler *handler.RedemptionHandler
}

func newRedemptionFixture(t *testing.T, policy lock.Policy) *redemptionFixture {
	t.Helper()
	db := test.NewTestDB(t)
	repo := repository.NewDiscountRepository(db)
	locker := lock.NewMemoryLocker()
	return &redemptionFixture{
		db:      db,
		repo:    repo,
		locker:  locker,
		handler: handler.NewRedemptionHandler(repo, lock.NewCoordinator(locker, policy)),
	}
}

func (f *redemptionFixture) usedCount(t *testing.T, id int64) int64 {
	t.Helper()
	var d model.Discount
	require.NoError(t, f.db.First(&d, id).Error)
	return d.UsedCount
}

func (f *redemptionFixture) usageCount(t *testing.T, id int64) int64 {
	t.Helper()
	n, err := f.repo.CountUsages(context.Background(), id)
	require.NoError(t, err)
	return n
}

// TestRedeem_Commits 正常核销：计数加1并写入核销记录
func TestRedeem_Commits(t *testing.T) {
	f := newRedemptionFixture(t, lock.DefaultPolicy())
	d := test.NewTestDiscount(test.Int64(1), "SAVE10", 10)
	d.Count = test.Int64(5)
	test.CreateTestDiscount(t, f.db, d)

	res, err := f.handler.Redeem(context.Background(), d.ID, 42, test.Dec("550"), "order-1")
	require.NoError(t, err)
	assert.Equal(t, handler.OutcomeCommitted, res.Outcome)
	require.NotNil(t, res.Usage)
	assert.Equal(t, int64(42), res.Usage.UserID)
	assert.True(t, test.Dec("550").Equal(res.Usage.Amount))

	assert.Equal(t, int64(1), f.usedCount(t, d.ID))
	assert.Equal(t, int64(1), f.usageCount(t, d.ID))
	assert.False(t, f.locker.Held(lock.DiscountKey(d.ID)), "lock must be released after redeem")
}

// TestRedeem_Exhausted 额度用完后拒绝
func TestRedeem_Exhausted(t *testing.T) {
	f := newRedemptionFixture(t, lock.DefaultPolicy())
	d := test.NewTestDiscount(test.Int64(1), "ONEUSE", 10)
	d.Count = test.Int64(1)
	test.CreateTestDiscount(t, f.db, d)

	ctx := context.Background()
	first, err := f.handler.Redeem(ctx, d.ID, 1, test.Dec("10"), "order-1")
	require.NoError(t, err)
	assert.Equal(t, handler.OutcomeCommitted, first.Outcome)

	second, err := f.handler.Redeem(ctx, d.ID, 2, test.Dec("10"), "order-2")
	require.NoError(t, err)
	assert.Equal(t, handler.OutcomeRejected, second.Outcome)
	assert.Equal(t, handler.ReasonExhausted, second.Reason)
	assert.Nil(t, second.Usage)

	assert.Equal(t, int64(1), f.usedCount(t, d.ID))
	assert.Equal(t, int64(1), f.usageCount(t, d.ID))
}

// TestRedeem_Unlimited 未设置次数上限的折扣可以反复核销
func TestRedeem_Unlimited(t *testing.T) {
	f := newRedemptionFixture(t, lock.DefaultPolicy())
	d := test.CreateTestDiscount(t, f.db, test.NewTestDiscount(nil, "PLAT05", 5))

	for i := 0; i < 3; i++ {
		res, err := f.handler.Redeem(context.Background(), d.ID, int64(i+1), test.Dec("1"), "order")
		require.NoError(t, err)
		assert.Equal(t, handler.OutcomeCommitted, res.Outcome)
	}
	assert.Equal(t, int64(3), f.usedCount(t, d.ID))
}

// TestRedeem_Unavailable 已过期或已下架的折扣被拒绝
func TestRedeem_Unavailable(t *testing.T) {
	f := newRedemptionFixture(t, lock.DefaultPolicy())

	expired := test.NewTestDiscount(test.Int64(1), "OLD001", 10)
	expired.StartAt = time.Now().Add(-48 * time.Hour)
	expired.EndAt = time.Now().Add(-24 * time.Hour)
	test.CreateTestDiscount(t, f.db, expired)

	res, err := f.handler.Redeem(context.Background(), expired.ID, 1, test.Dec("1"), "order-1")
	require.NoError(t, err)
	assert.Equal(t, handler.OutcomeRejected, res.Outcome)
	assert.Equal(t, handler.ReasonUnavailable, res.Reason)
	assert.Equal(t, int64(0), f.usedCount(t, expired.ID))
}

// TestRedeem_MissingDiscount 折扣已删除时拒绝而非报错
func TestRedeem_MissingDiscount(t *testing.T) {
	f := newRedemptionFixture(t, lock.DefaultPolicy())

	res, err := f.handler.Redeem(context.Background(), 999, 1, test.Dec("1"), "order-1")
	require.NoError(t, err)
	assert.Equal(t, handler.OutcomeRejected, res.Outcome)
	assert.Equal(t, handler.ReasonNotFound, res.Reason)
}

// TestRedeem_LockUnavailable 锁被长期占用时返回 OutcomeLockFailed，数据不变
func TestRedeem_LockUnavailable(t *testing.T) {
	f := newRedemptionFixture(t, lock.Policy{Attempts: 3, Interval: time.Millisecond, TTL: time.Minute})
	d := test.NewTestDiscount(test.Int64(1), "BUSY01", 10)
	d.Count = test.Int64(5)
	test.CreateTestDiscount(t, f.db, d)

	_, ok, err := f.locker.Acquire(context.Background(), lock.DiscountKey(d.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.handler.Redeem(context.Background(), d.ID, 1, test.Dec("1"), "order-1")
	require.NoError(t, err)
	assert.Equal(t, handler.OutcomeLockFailed, res.Outcome)
	assert.Equal(t, int64(0), f.usedCount(t, d.ID))
	assert.Equal(t, int64(0), f.usageCount(t, d.ID))
}

// guardMissStore 模拟条件更新未命中
type guardMissStore struct {
	*repository.DiscountRepository
}

func (guardMissStore) IncrementUsed(_ *gorm.DB, _ int64) (int64, error) {
	return 0, nil
}

// TestRedeem_GuardMiss 条件更新影响0行时不写核销记录
func TestRedeem_GuardMiss(t *testing.T) {
	db := test.NewTestDB(t)
	repo := repository.NewDiscountRepository(db)
	h := handler.NewRedemptionHandler(guardMissStore{repo}, lock.NewCoordinator(lock.NewMemoryLocker(), lock.DefaultPolicy()))

	d := test.NewTestDiscount(test.Int64(1), "RACE01", 10)
	d.Count = test.Int64(1)
	test.CreateTestDiscount(t, db, d)

	res, err := h.Redeem(context.Background(), d.ID, 1, test.Dec("1"), "order-1")
	require.NoError(t, err)
	assert.Equal(t, handler.OutcomeRejected, res.Outcome)
	assert.Equal(t, handler.ReasonExhausted, res.Reason)

	n, err := repo.CountUsages(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// TestRedeem_ConcurrentSingleUse 50个并发核销同一个只能用一次的折扣，恰好一个成功
func TestRedeem_ConcurrentSingleUse(t *testing.T) {
	f := newRedemptionFixture(t, lock.Policy{Attempts: 2000, Interval: time.Millisecond, TTL: 10 * time.Second})
	d := test.NewTestDiscount(test.Int64(1), "SINGLE", 10)
	d.Count = test.Int64(1)
	test.CreateTestDiscount(t, f.db, d)

	const workers = 50
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = make(map[handler.Outcome]int)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			res, err := f.handler.Redeem(context.Background(), d.ID, userID, test.Dec("1"), "order")
			assert.NoError(t, err)
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
		}(int64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[handler.OutcomeCommitted])
	assert.Equal(t, workers, outcomes[handler.OutcomeCommitted]+outcomes[handler.OutcomeRejected]+outcomes[handler.OutcomeLockFailed])
	assert.Equal(t, int64(1), f.usedCount(t, d.ID))
	assert.Equal(t, int64(1), f.usageCount(t, d.ID))
}

// TestCancel 撤销核销后计数恢复，重复撤销为空操作
func TestCancel(t *testing.T) {
	f := newRedemptionFixture(t, lock.DefaultPolicy())
	d := test.NewTestDiscount(test.Int64(1), "UNDO01", 10)
	d.Count = test.Int64(1)
	test.CreateTestDiscount(t, f.db, d)

	ctx := context.Background()
	res, err := f.handler.Redeem(ctx, d.ID, 7, test.Dec("5"), "order-7")
	require.NoError(t, err)
	require.Equal(t, handler.OutcomeCommitted, res.Outcome)

	cancelled, err := f.handler.Cancel(ctx, d.ID, 7, "order-7")
	require.NoError(t, err)
	assert.Equal(t, handler.OutcomeCancelled, cancelled.Outcome)
	require.NotNil(t, cancelled.Usage)
	assert.Equal(t, res.Usage.ID, cancelled.Usage.ID)
	assert.Equal(t, int64(0), f.usedCount(t, d.ID))
	assert.Equal(t, int64(0), f.usageCount(t, d.ID))

	again, err := f.handler.Cancel(ctx, d.ID, 7, "order-7")
	require.NoError(t, err)
	assert.Equal(t, handler.OutcomeNothingToCancel, again.Outcome)
	assert.Equal(t, int64(0), f.usedCount(t, d.ID))

	// 撤销后额度可以再次使用
	res, err = f.handler.Redeem(ctx, d.ID, 8, test.Dec("5"), "order-8")
	require.NoError(t, err)
	assert.Equal(t, handler.OutcomeCommitted, res.Outcome)
}

// TestCancel_OtherUser 不能撤销其他用户的核销记录
func TestCancel_OtherUser(t *testing.T) {
	f := newRedemptionFixture(t, lock.DefaultPolicy())
	d := test.CreateTestDiscount(t, f.db, test.NewTestDiscount(test.Int64(1), "MINE01", 10))

	ctx := context.Background()
	_, err := f.handler.Redeem(ctx, d.ID, 1, test.Dec("5"), "order-1")
	require.NoError(t, err)

	res, err := f.handler.Cancel(ctx, d.ID, 2, "order-1")
	require.NoError(t, err)
	assert.Equal(t, handler.OutcomeNothingToCancel, res.Outcome)
	assert.Equal(t, int64(1), f.usedCount(t, d.ID))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "committed", handler.OutcomeCommitted.String())
	assert.Equal(t, "lock_failed", handler.OutcomeLockFailed.String())
	assert.Equal(t, "unknown", handler.Outcome(99).String())
}
