// Package test 测试辅助函数包，提供内存数据库与测试数据构造工具
package test

import (
	"testing"
	"time"

	"checkout_system/bootstrap"
	"checkout_system/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB 创建已迁移表结构的内存SQLite数据库
// 限制为单连接，保证同一测试内看到同一个内存库
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := bootstrap.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// NewTestRedis 启动内存Redis并返回连接到它的客户端
func NewTestRedis(t testing.TB) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// Dec 将字符串解析为 decimal，格式错误时 panic
func Dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// Int64 返回指向 v 的指针
func Int64(v int64) *int64 {
	return &v
}

// CreateTestSeller 写入测试卖家
func CreateTestSeller(t testing.TB, db *gorm.DB, id int64) model.Seller {
	t.Helper()
	s := model.Seller{ID: id, Name: "Test Seller"}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("create seller: %v", err)
	}
	return s
}

// CreateTestSku 写入测试商品
func CreateTestSku(t testing.TB, db *gorm.DB, id, sellerID int64, price string, published bool) model.Sku {
	t.Helper()
	s := model.Sku{
		ID:        id,
		SellerID:  sellerID,
		Name:      "Test Item",
		Price:     Dec(price),
		IsPublish: published,
	}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("create sku: %v", err)
	}
	return s
}

// NewTestDiscount 构造当前可用的卖家百分比折扣（未写入数据库）
// sellerID 为 nil 时为平台券
func NewTestDiscount(sellerID *int64, code string, percent int64) *model.Discount {
	now := time.Now()
	return &model.Discount{
		SellerID:    sellerID,
		Name:        "Test Discount " + code,
		Code:        code,
		Type:        model.DiscountTypePercentage,
		Value:       decimal.NewFromInt(percent),
		StartAt:     now.Add(-time.Hour),
		EndAt:       now.Add(time.Hour),
		ApplyTo:     model.ApplyToAll,
		IsAvailable: true,
		IsPublish:   true,
	}
}

// CreateTestDiscount 写入测试折扣
func CreateTestDiscount(t testing.TB, db *gorm.DB, d *model.Discount) *model.Discount {
	t.Helper()
	if err := db.Create(d).Error; err != nil {
		t.Fatalf("create discount: %v", err)
	}
	return d
}

// CartGroup 构造卖家购物车分组，items 依次为 (skuID, 单价, 数量)
func CartGroup(sellerID int64, items ...CartLine) model.CartShopGroup {
	g := model.CartShopGroup{SellerID: sellerID}
	for _, it := range items {
		status := model.ItemStatusActive
		if it.Removed {
			status = model.ItemStatusRemoved
		}
		g.Items = append(g.Items, model.CartItem{
			SkuID:    it.SkuID,
			Name:     "Test Item",
			Price:    Dec(it.Price),
			Quantity: it.Quantity,
			Status:   status,
		})
	}
	return g
}

// CartLine 购物车商品行描述
type CartLine struct {
	SkuID    int64
	Price    string
	Quantity int64
	Removed  bool
}
