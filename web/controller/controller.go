package controller

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"checkout_system/errs"
	"checkout_system/model"
	"checkout_system/service"
	"checkout_system/web/middleware"

	"github.com/gin-gonic/gin"
)

// respondError 按错误类型返回HTTP状态码与统一错误结构
func respondError(c *gin.Context, err error, message string) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error(message,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"status", status,
			"error", err,
		)
	}
	c.JSON(status, gin.H{
		"code":    -1,
		"error":   err.Error(),
		"message": message,
	})
}

// respondBadRequest 返回参数错误
func respondBadRequest(c *gin.Context, err error, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    -1,
		"error":   err.Error(),
		"message": message,
	})
}

// respondOK 返回成功结构
func respondOK(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"data":    data,
		"message": message,
	})
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondBadRequest(c, errs.Newf("invalid %s %q", name, c.Param(name)), "Invalid "+name)
		return 0, false
	}
	return id, true
}

// CheckoutController 处理结算相关请求的控制器
type CheckoutController struct {
	checkout *service.CheckoutService // 结算服务
}

// NewCheckoutController 创建CheckoutController实例
func NewCheckoutController(checkout *service.CheckoutService) *CheckoutController {
	return &CheckoutController{checkout: checkout}
}

// previewRequest 预览结算请求体
type previewRequest struct {
	Groups     []model.CartShopGroup `json:"groups" binding:"required"`
	Selections service.Selections    `json:"selections"`
}

// cancelRequest 撤销核销请求体
type cancelRequest struct {
	DiscountID int64  `json:"discount_id" binding:"required"`
	OrderRef   string `json:"order_ref" binding:"required"`
}

// Preview 预览结算接口
func (cc *CheckoutController) Preview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, "Invalid checkout request")
		return
	}

	actor := middleware.ActorFrom(c)
	preview, err := cc.checkout.Preview(c.Request.Context(), actor.UserID, req.Groups, req.Selections)
	if err != nil {
		respondError(c, err, "Failed to preview checkout")
		return
	}
	respondOK(c, preview, "Checkout previewed successfully")
}

// Confirm 确认结算接口，请求体为折扣选择
func (cc *CheckoutController) Confirm(c *gin.Context) {
	checkoutID := c.Param("id")
	var sel service.Selections
	if err := c.ShouldBindJSON(&sel); err != nil {
		respondBadRequest(c, err, "Invalid discount selections")
		return
	}

	actor := middleware.ActorFrom(c)
	confirmation, err := cc.checkout.Confirm(c.Request.Context(), actor.UserID, checkoutID, sel)
	if err != nil {
		respondError(c, err, "Failed to confirm checkout")
		return
	}
	respondOK(c, confirmation, "Checkout confirmed successfully")
}

// CancelRedemption 撤销订单折扣核销接口
func (cc *CheckoutController) CancelRedemption(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, "Invalid cancellation request")
		return
	}

	actor := middleware.ActorFrom(c)
	res, err := cc.checkout.CancelRedemption(c.Request.Context(), actor.UserID, req.DiscountID, req.OrderRef)
	if err != nil {
		respondError(c, err, "Failed to cancel redemption")
		return
	}
	respondOK(c, gin.H{"outcome": res.Outcome.String(), "usage": res.Usage}, "Redemption cancellation processed")
}

// SwitchStore 核销开关存储
type SwitchStore interface {
	RedemptionEnabled(ctx context.Context) (bool, error)
	SetRedemptionEnabled(ctx context.Context, enabled bool) error
}

// AdminController 管理接口控制器
type AdminController struct {
	switcher SwitchStore // 核销开关
}

// NewAdminController 创建AdminController实例
func NewAdminController(switcher SwitchStore) *AdminController {
	return &AdminController{switcher: switcher}
}

// SetRedemptionEnabled 设置核销开关接口
func (a *AdminController) SetRedemptionEnabled(c *gin.Context) {
	enabled, err := strconv.ParseBool(c.Query("enabled"))
	if err != nil {
		respondBadRequest(c, err, "Enabled parameter must be true or false")
		return
	}

	if err := a.switcher.SetRedemptionEnabled(c.Request.Context(), enabled); err != nil {
		respondError(c, err, "Failed to set redemption switch")
		return
	}

	status := "disabled"
	if enabled {
		status = "enabled"
	}
	slog.Info("Redemption switch changed",
		"enabled", enabled,
		"admin_id", middleware.ActorFrom(c).UserID,
	)
	respondOK(c, gin.H{"enabled": enabled}, "Discount redemption "+status)
}

// GetRedemptionEnabled 查询核销开关接口
func (a *AdminController) GetRedemptionEnabled(c *gin.Context) {
	enabled, err := a.switcher.RedemptionEnabled(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to read redemption switch")
		return
	}
	respondOK(c, gin.H{"enabled": enabled}, "Redemption switch queried successfully")
}
