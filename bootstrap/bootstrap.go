// Package bootstrap 根据配置创建数据库、Redis、Kafka、Etcd客户端，并负责表结构迁移与演示数据
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"checkout_system/config"
	"checkout_system/model"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	clientv3 "go.etcd.io/etcd/client/v3"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenMySQL 初始化MySQL数据库连接
func OpenMySQL(cfg config.MysqlConfig) (*gorm.DB, error) {
	// 构建数据库连接字符串
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Name, err)
	}

	// 获取底层sql.DB对象以设置连接池参数
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(100)                // 最大打开连接数
	sqlDB.SetMaxIdleConns(20)                 // 最大空闲连接数
	sqlDB.SetConnMaxLifetime(3 * time.Minute) // 连接最大生命周期

	slog.Info("MySQL connection established successfully",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Name,
	)
	return db, nil
}

// Migrate 自动迁移数据库表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Seller{},
		&model.Sku{},
		&model.Discount{},
		&model.DiscountSku{},
		&model.DiscountUsage{},
	); err != nil {
		return fmt.Errorf("failed to auto migrate tables: %w", err)
	}
	return nil
}

// SeedDemoData 空库时写入演示卖家、商品与折扣
func SeedDemoData(db *gorm.DB) error {
	var existing int64
	if err := db.Model(&model.Seller{}).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		slog.Info("Database already contains data, skipping demo data insertion")
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		sellers := []model.Seller{
			{ID: 1, Name: "Northwind Books"},
			{ID: 2, Name: "Contoso Electronics"},
			{ID: 3, Name: "Fabrikam Home"},
		}
		if err := tx.Create(&sellers).Error; err != nil {
			return fmt.Errorf("failed to insert sellers: %w", err)
		}

		skus := generateSkus(sellers, 5)
		if err := tx.CreateInBatches(skus, len(skus)).Error; err != nil {
			return fmt.Errorf("failed to insert skus: %w", err)
		}

		discounts := generateDiscounts(skus)
		if err := tx.Create(&discounts).Error; err != nil {
			return fmt.Errorf("failed to insert discounts: %w", err)
		}

		slog.Info("Demo data inserted successfully",
			"sellers", len(sellers),
			"skus", len(skus),
			"discounts", len(discounts),
		)
		return nil
	})
}

// generateSkus 为每个卖家生成 perSeller 个已上架商品
func generateSkus(sellers []model.Seller, perSeller int) []model.Sku {
	skus := make([]model.Sku, 0, len(sellers)*perSeller)
	for _, s := range sellers {
		for i := 1; i <= perSeller; i++ {
			skus = append(skus, model.Sku{
				ID:        s.ID*100 + int64(i),
				SellerID:  s.ID,
				Name:      fmt.Sprintf("%s Item-%d", s.Name, i),
				Price:     decimal.NewFromInt(int64(i) * 50000),
				Thumb:     fmt.Sprintf("https://cdn.example.com/sku/%d.jpg", s.ID*100+int64(i)),
				IsPublish: i != perSeller, // 每个卖家最后一个商品未上架
			})
		}
	}
	return skus
}

// generateDiscounts 生成卖家券与平台券
func generateDiscounts(skus []model.Sku) []model.Discount {
	now := time.Now()
	seller1, seller2 := int64(1), int64(2)
	capacity := int64(100)

	var seller2Skus []model.DiscountSku
	for _, s := range skus {
		if s.SellerID == seller2 && s.IsPublish && len(seller2Skus) < 2 {
			seller2Skus = append(seller2Skus, model.DiscountSku{SkuID: s.ID})
		}
	}

	return []model.Discount{
		{
			SellerID:    &seller1,
			Name:        "Northwind 10% off",
			Code:        "SAVE10",
			Type:        model.DiscountTypePercentage,
			Value:       decimal.NewFromInt(10),
			MaxValue:    decimal.NewNullDecimal(decimal.NewFromInt(100000)),
			StartAt:     now.Add(-time.Hour),
			EndAt:       now.AddDate(0, 1, 0),
			ApplyTo:     model.ApplyToAll,
			IsAvailable: true,
			IsPublish:   true,
		},
		{
			SellerID:     &seller2,
			Name:         "Contoso selected items",
			Code:         "FIX050",
			Type:         model.DiscountTypeFixed,
			Value:        decimal.NewFromInt(50000),
			MinOrderCost: decimal.NewNullDecimal(decimal.NewFromInt(200000)),
			Count:        &capacity,
			StartAt:      now.Add(-time.Hour),
			EndAt:        now.AddDate(0, 1, 0),
			ApplyTo:      model.ApplyToSpecific,
			Skus:         seller2Skus,
			IsAvailable:  true,
			IsPublish:    true,
		},
		{
			Name:        "Platform 5% off",
			Code:        "PLAT05",
			Type:        model.DiscountTypePercentage,
			Value:       decimal.NewFromInt(5),
			MaxValue:    decimal.NewNullDecimal(decimal.NewFromInt(50000)),
			Count:       &capacity,
			StartAt:     now.Add(-time.Hour),
			EndAt:       now.AddDate(0, 1, 0),
			ApplyTo:     model.ApplyToAll,
			IsAvailable: true,
			IsPublish:   true,
		},
	}
}

// NewRedisClient 初始化Redis连接，多个节点时使用集群客户端
func NewRedisClient(cfg config.RedisConfig) (redis.UniversalClient, error) {
	nodes := cfg.GetRedisClusterNodes()
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        nodes,        // 节点地址
		Password:     cfg.Password, // 访问密码
		PoolSize:     1000,         // 连接池大小
		MinIdleConns: 10,           // 最小空闲连接数
	})

	// 测试连接是否成功
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %v: %w", nodes, err)
	}

	slog.Info("Redis connected successfully", "nodes", nodes)
	return client, nil
}

// NewKafkaWriter 初始化Kafka生产者
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	brokers := cfg.GetKafkaBrokers()
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // 按订单号分区，保证同一订单事件有序
		RequiredAcks: kafka.RequireOne,
	}

	slog.Info("Kafka writer initialized",
		"brokers", brokers,
		"topic", cfg.Topic,
	)
	return writer
}

// NewEtcdClient 初始化Etcd客户端连接
func NewEtcdClient(cfg config.EtcdConfig) (*clientv3.Client, error) {
	endpoints := cfg.GetEtcdEndpoints()
	client, err := clientv3.New(clientv3.Config{
		Endpoints:            endpoints,
		DialTimeout:          time.Duration(cfg.DialTimeout) * time.Second,
		Username:             cfg.Username,
		Password:             cfg.Password,
		DialKeepAliveTime:    10 * time.Second,
		DialKeepAliveTimeout: 3 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd %v: %w", endpoints, err)
	}

	// 检查Etcd服务状态
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := client.Status(ctx, endpoints[0]); err != nil {
		client.Close()
		return nil, fmt.Errorf("get etcd status: %w", err)
	}

	slog.Info("Etcd connected successfully", "endpoints", endpoints)
	return client, nil
}

// Resources 进程持有的外部连接
type Resources struct {
	DB          *gorm.DB
	Redis       redis.UniversalClient
	KafkaWriter *kafka.Writer
	Etcd        *clientv3.Client
}

// Open 按配置依次建立所有连接，失败时关闭已建立的连接
func Open(cfg *config.Config) (*Resources, error) {
	res := &Resources{}
	var err error

	if res.DB, err = OpenMySQL(cfg.Database); err != nil {
		return nil, err
	}
	if err = Migrate(res.DB); err != nil {
		res.Close()
		return nil, err
	}
	if cfg.Database.SeedDemo {
		if err = SeedDemoData(res.DB); err != nil {
			res.Close()
			return nil, fmt.Errorf("seed demo data: %w", err)
		}
	}
	if res.Redis, err = NewRedisClient(cfg.Redis); err != nil {
		res.Close()
		return nil, err
	}
	if res.Etcd, err = NewEtcdClient(cfg.Etcd); err != nil {
		res.Close()
		return nil, err
	}
	res.KafkaWriter = NewKafkaWriter(cfg.Kafka)
	return res, nil
}

// Close 关闭所有连接
func (r *Resources) Close() {
	if r.KafkaWriter != nil {
		if err := r.KafkaWriter.Close(); err != nil {
			slog.Warn("Failed to close kafka writer", "error", err)
		}
		slog.Info("Kafka writer closed")
	}
	if r.Etcd != nil {
		r.Etcd.Close()
		slog.Info("Etcd connection closed")
	}
	if r.Redis != nil {
		r.Redis.Close()
		slog.Info("Redis connection closed")
	}
	if r.DB != nil {
		if sqlDB, err := r.DB.DB(); err == nil {
			sqlDB.Close()
			slog.Info("MySQL connection closed")
		}
	}
}
