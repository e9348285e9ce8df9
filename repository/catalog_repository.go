package repository

import (
	"context"

	"checkout_system/errs"
	"checkout_system/model"

	"gorm.io/gorm"
)

// CatalogRepository 商品目录数据访问层
// 提供卖家与商品的只读查询，供折扣适用性校验与结算使用
type CatalogRepository struct {
	db *gorm.DB // 数据库连接实例
}

// NewCatalogRepository 创建商品目录仓库实例
func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// FindSellers 批量查询卖家，返回以ID为键的映射，不存在的ID不会出现在结果中
func (r *CatalogRepository) FindSellers(ctx context.Context, sellerIDs []int64) (map[int64]model.Seller, error) {
	result := make(map[int64]model.Seller, len(sellerIDs))
	if len(sellerIDs) == 0 {
		return result, nil
	}
	var sellers []model.Seller
	if err := r.db.WithContext(ctx).Where("id IN ?", sellerIDs).Find(&sellers).Error; err != nil {
		return nil, errs.Wrap(err, "find sellers")
	}
	for _, s := range sellers {
		result[s.ID] = s
	}
	return result, nil
}

// FindSkus 批量查询商品
func (r *CatalogRepository) FindSkus(ctx context.Context, skuIDs []int64) ([]model.Sku, error) {
	if len(skuIDs) == 0 {
		return nil, nil
	}
	var skus []model.Sku
	if err := r.db.WithContext(ctx).Where("id IN ?", skuIDs).Order("id").Find(&skus).Error; err != nil {
		return nil, errs.Wrap(err, "find skus")
	}
	return skus, nil
}
