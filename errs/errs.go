// Package errs 定义结账系统统一的错误分类，基于 cockroachdb/errors 实现包装与判定
package errs

import (
	"net/http"

	cr "github.com/cockroachdb/errors"
)

// 错误分类哨兵值
var (
	ErrNotFound           = cr.New("not found")           // 折扣、卖家或商品不存在
	ErrForbidden          = cr.New("forbidden")           // 折扣不属于声明的卖家，或非所有者修改
	ErrConflict           = cr.New("conflict")            // 同一作用域内折扣码与时间区间重叠
	ErrBadRequest         = cr.New("bad request")         // 参数非法、商品不可用于折扣
	ErrLockUnavailable    = cr.New("lock unavailable")    // 分布式锁重试耗尽
	ErrRedemptionRejected = cr.New("redemption rejected") // 提交时额度耗尽或已不在有效期
	ErrServiceDisabled    = cr.New("service disabled")    // 核销开关已关闭
)

// New 创建带堆栈的错误
func New(msg string) error {
	return cr.New(msg)
}

// Newf 创建带格式化信息的错误
func Newf(format string, args ...any) error {
	return cr.Newf(format, args...)
}

// Wrap 为错误附加上下文信息
func Wrap(err error, msg string) error {
	return cr.Wrap(err, msg)
}

// Wrapf 为错误附加格式化的上下文信息
func Wrapf(err error, format string, args ...any) error {
	return cr.Wrapf(err, format, args...)
}

// Mark 将错误标记为某个哨兵分类，保留原始错误信息
func Mark(err error, reference error) error {
	return cr.Mark(err, reference)
}

// Is 判断错误链中是否包含指定分类（同时识别 Mark 标记）
func Is(err error, reference error) bool {
	return cr.Is(err, reference)
}

// HTTPStatus 将错误分类映射为HTTP状态码
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case Is(err, ErrNotFound):
		return http.StatusNotFound
	case Is(err, ErrForbidden):
		return http.StatusForbidden
	case Is(err, ErrConflict), Is(err, ErrRedemptionRejected):
		return http.StatusConflict
	case Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case Is(err, ErrLockUnavailable), Is(err, ErrServiceDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
