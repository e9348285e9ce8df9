package controller

import (
	"strconv"
	"strings"

	"checkout_system/errs"
	"checkout_system/service"
	"checkout_system/web/middleware"

	"github.com/gin-gonic/gin"
)

// DiscountController 处理折扣管理请求的控制器
type DiscountController struct {
	discounts *service.DiscountService // 折扣服务
}

// NewDiscountController 创建DiscountController实例
func NewDiscountController(discounts *service.DiscountService) *DiscountController {
	return &DiscountController{discounts: discounts}
}

// Create 创建折扣接口
func (dc *DiscountController) Create(c *gin.Context) {
	var in service.DiscountInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondBadRequest(c, err, "Invalid discount payload")
		return
	}

	d, err := dc.discounts.Create(c.Request.Context(), middleware.ActorFrom(c), in)
	if err != nil {
		respondError(c, err, "Failed to create discount")
		return
	}
	respondOK(c, d, "Discount created successfully")
}

// Get 查询折扣接口，fields 查询参数指定返回列（逗号分隔）
func (dc *DiscountController) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var fields []string
	if raw := c.Query("fields"); raw != "" {
		for _, f := range strings.Split(raw, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
	}

	d, err := dc.discounts.Get(c.Request.Context(), id, fields...)
	if err != nil {
		respondError(c, err, "Failed to query discount")
		return
	}
	respondOK(c, d, "Discount queried successfully")
}

// List 列出折扣接口，不带 seller_id 时列出平台券
func (dc *DiscountController) List(c *gin.Context) {
	var sellerID *int64
	if raw := c.Query("seller_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondBadRequest(c, err, "Invalid seller_id")
			return
		}
		sellerID = &id
	}

	list, err := dc.discounts.List(c.Request.Context(), sellerID)
	if err != nil {
		respondError(c, err, "Failed to list discounts")
		return
	}
	respondOK(c, list, "Discounts listed successfully")
}

// FindByCode 按折扣码查询接口，valid=1 时只返回当前可用的折扣
func (dc *DiscountController) FindByCode(c *gin.Context) {
	code := c.Param("code")
	find := dc.discounts.FindByCode
	if c.Query("valid") == "1" {
		find = dc.discounts.FindValidByCode
	}

	list, err := find(c.Request.Context(), code)
	if err != nil {
		respondError(c, err, "Failed to query discounts by code")
		return
	}
	respondOK(c, list, "Discounts queried successfully")
}

// Update 更新折扣接口
func (dc *DiscountController) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var patch service.DiscountPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondBadRequest(c, err, "Invalid discount patch")
		return
	}

	d, err := dc.discounts.Update(c.Request.Context(), middleware.ActorFrom(c), id, patch)
	if err != nil {
		respondError(c, err, "Failed to update discount")
		return
	}
	respondOK(c, d, "Discount updated successfully")
}

// Delete 删除折扣接口
func (dc *DiscountController) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	removed, err := dc.discounts.Delete(c.Request.Context(), middleware.ActorFrom(c), id)
	if err != nil {
		respondError(c, err, "Failed to delete discount")
		return
	}
	if !removed {
		respondError(c, errs.Wrapf(errs.ErrNotFound, "discount %d", id), "Discount not found")
		return
	}
	respondOK(c, gin.H{"removed": removed}, "Discount deleted successfully")
}
