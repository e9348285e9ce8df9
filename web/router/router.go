package router

import (
	"net/http"

	"checkout_system/metrics"
	"checkout_system/service"
	"checkout_system/web/controller"
	"checkout_system/web/middleware"

	"github.com/gin-gonic/gin"
)

// Deps 路由依赖的服务
type Deps struct {
	Checkout  *service.CheckoutService
	Discounts *service.DiscountService
	Switch    controller.SwitchStore
	Metrics   *metrics.Metrics
}

// InitRouter 初始化并返回Gin路由引擎
func InitRouter(deps Deps) *gin.Engine {
	r := gin.Default()
	r.Use(middleware.MetricsMiddleware(deps.Metrics))

	checkoutController := controller.NewCheckoutController(deps.Checkout)
	discountController := controller.NewDiscountController(deps.Discounts)
	adminController := controller.NewAdminController(deps.Switch)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": 0, "message": "ok"})
	})
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	// 创建API路由组，所有接口前缀为/api，且需要用户身份
	api := r.Group("/api", middleware.IdentityMiddleware())
	{
		// 结算相关接口
		checkout := api.Group("/checkout")
		{
			checkout.POST("/preview", checkoutController.Preview)      // 预览结算
			checkout.POST("/:id/confirm", checkoutController.Confirm) // 确认结算并核销折扣
		}
		api.POST("/redemptions/cancel", checkoutController.CancelRedemption) // 撤销订单折扣核销

		// 折扣管理接口
		discounts := api.Group("/discounts")
		{
			discounts.POST("", discountController.Create)
			discounts.GET("", discountController.List)
			discounts.GET("/code/:code", discountController.FindByCode)
			discounts.GET("/:id", discountController.Get)
			discounts.PUT("/:id", discountController.Update)
			discounts.DELETE("/:id", discountController.Delete)
		}

		// 管理接口组，需要管理员权限
		admin := api.Group("/admin", middleware.AdminMiddleware())
		{
			admin.GET("/config/redemption", adminController.GetRedemptionEnabled)
			admin.POST("/config/redemption", adminController.SetRedemptionEnabled)
		}
	}
	return r
}
