// Package metrics Prometheus 指标：核销结果、锁等待、结算请求与HTTP延迟
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "checkout"

// Metrics 服务指标集合，nil 接收者上的方法均为空操作
type Metrics struct {
	Redemptions *prometheus.CounterVec   // 核销/撤销结果计数
	LockWait    *prometheus.HistogramVec // 锁获取等待时间
	Checkouts   *prometheus.CounterVec   // 预览/确认结算计数
	Requests    *prometheus.CounterVec   // HTTP请求计数
	LatencyMS   *prometheus.HistogramVec // HTTP请求延迟

	gatherer prometheus.Gatherer
}

// New 创建指标并注册到 reg，reg 同时实现 Gatherer 时 Handler 从它采集
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redemptions_total",
			Help:      "Discount redemption and cancellation outcomes.",
		}, []string{"operation", "outcome"}),
		LockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent acquiring distributed locks.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"domain", "acquired"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout previews and confirmations by result.",
		}, []string{"stage", "result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		gatherer: prometheus.DefaultGatherer,
	}
	reg.MustRegister(m.Redemptions, m.LockWait, m.Checkouts, m.Requests, m.LatencyMS)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// ObserveRedemption 记录一次核销或撤销结果
func (m *Metrics) ObserveRedemption(operation, outcome string) {
	if m == nil {
		return
	}
	m.Redemptions.WithLabelValues(operation, outcome).Inc()
}

// ObserveCheckout 记录一次结算预览或确认
func (m *Metrics) ObserveCheckout(stage string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Checkouts.WithLabelValues(stage, result).Inc()
}

// ObserveLock 锁获取回调，签名与 lock.Observer 一致
func (m *Metrics) ObserveLock(key string, wait time.Duration, acquired bool) {
	if m == nil {
		return
	}
	acq := "false"
	if acquired {
		acq = "true"
	}
	m.LockWait.WithLabelValues(lockDomain(key), acq).Observe(wait.Seconds())
}

// ObserveRequest 记录一次HTTP请求
func (m *Metrics) ObserveRequest(handler, status string, latency time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, status).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(float64(latency.Milliseconds()))
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// lockDomain 从 lock:<domain>:<id> 中取出 domain，避免按ID产生高基数标签
func lockDomain(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return "unknown"
	}
	return parts[1]
}
