package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout_system/bootstrap"
	"checkout_system/config"
	"checkout_system/lock"
	"checkout_system/metrics"
	"checkout_system/repository"
	"checkout_system/service"
	"checkout_system/web/router"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
)

// 程序主入口
func main() {
	confPath := flag.String("conf", "conf/conf.yaml", "path to the yaml config file")
	flag.Parse()

	// 加载配置文件
	cfg, err := config.Load(*confPath)
	if err != nil {
		slog.Error("Failed to load config", "path", *confPath, "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	})))

	// 初始化数据库和中间件连接
	res, err := bootstrap.Open(cfg)
	if err != nil {
		slog.Error("Failed to open resources", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var locker lock.Locker
	switch cfg.Lock.Backend {
	case config.LockBackendEtcd:
		locker = repository.NewEtcdLocker(res.Etcd)
	default:
		locker = repository.NewRedisLocker(res.Redis)
	}
	locks := lock.NewCoordinator(locker, lock.Policy{
		Attempts: cfg.Lock.Attempts,
		Interval: cfg.Lock.RetryInterval,
		TTL:      cfg.Lock.TTL,
	}, lock.WithObserver(m.ObserveLock))

	// 运行时开关
	watchCtx, stopWatch := context.WithCancel(context.Background())
	switcher := repository.NewRuntimeSwitch(res.Etcd)
	switcher.EnsureDefaults(watchCtx)
	switcher.Watch(watchCtx, nil)

	discounts := repository.NewDiscountRepository(res.DB)
	catalog := repository.NewCatalogRepository(res.DB)
	events := repository.NewKafkaRepository(res.KafkaWriter)

	checkoutService := service.NewCheckoutService(service.CheckoutDeps{
		Discounts:   discounts,
		Sellers:     catalog,
		Locks:       locks,
		Snapshots:   repository.NewSnapshotRepository(res.Redis),
		Events:      events,
		Switch:      switcher,
		Metrics:     m,
		ShipFee:     decimal.NewFromInt(cfg.Checkout.DefaultShipFee),
		SnapshotTTL: cfg.Checkout.SnapshotTTL,
	})
	discountService := service.NewDiscountService(discounts, catalog, locks)

	// 设置路由
	gateway := router.InitRouter(router.Deps{
		Checkout:  checkoutService,
		Discounts: discountService,
		Switch:    switcher,
		Metrics:   m,
	})

	// 配置HTTP服务器
	gatewayServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: gateway,
	}

	// 启动HTTP服务
	go func() {
		slog.Info("Checkout gateway started", "port", cfg.Server.Port, "lock_backend", cfg.Lock.Backend)
		if err := gatewayServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Checkout gateway failed", "error", err)
			os.Exit(1)
		}
	}()

	// 监听终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")

	// 设置优雅关闭超时时间
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭HTTP服务器
	if err := gatewayServer.Shutdown(ctx); err != nil {
		slog.Warn("Gateway forced to shutdown", "error", err)
	} else {
		slog.Info("Gateway gracefully stopped")
	}

	// 释放所有资源
	stopWatch()
	res.Close()
	slog.Info("Server exited")
}
