// Package monitoring provides the Prometheus metrics reporter and its HTTP endpoints.
package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rushairer/itempipe"
)

// PrometheusMetrics Prometheus指标收集器，实现MetricsReporter接口
type PrometheusMetrics struct {
	// flush指标
	flushTotal    *prometheus.CounterVec
	flushDuration *prometheus.HistogramVec

	// 行计数：提交 vs 确认
	rowsAttempted *prometheus.CounterVec
	rowsConfirmed *prometheus.CounterVec

	// 缓冲水位
	bufferedRows *prometheus.GaugeVec

	registry *prometheus.Registry
	server   *http.Server
	mu       sync.Mutex
}

var _ itempipe.MetricsReporter = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics 创建Prometheus指标收集器
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		flushTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "itempipe_flush_total",
				Help: "Total number of per-alias flush attempts",
			},
			[]string{"table", "alias", "status"},
		),

		flushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "itempipe_flush_duration_seconds",
				Help:    "Duration of batch flushes in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			},
			[]string{"table", "status"},
		),

		rowsAttempted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "itempipe_rows_attempted_total",
				Help: "Rows submitted to a destination per flush",
			},
			[]string{"table", "alias"},
		),

		rowsConfirmed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "itempipe_rows_confirmed_total",
				Help: "Rows confirmed written by a destination",
			},
			[]string{"table", "alias"},
		),

		bufferedRows: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "itempipe_buffered_rows",
				Help: "Rows currently buffered per table",
			},
			[]string{"table"},
		),

		registry: registry,
	}

	registry.MustRegister(
		pm.flushTotal,
		pm.flushDuration,
		pm.rowsAttempted,
		pm.rowsConfirmed,
		pm.bufferedRows,
	)

	return pm
}

// ReportFlush 实现MetricsReporter接口
func (pm *PrometheusMetrics) ReportFlush(table string, alias string, attempted int, confirmed int64, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "fail"
	}

	pm.flushTotal.WithLabelValues(table, alias, status).Inc()
	pm.flushDuration.WithLabelValues(table, status).Observe(duration.Seconds())
	pm.rowsAttempted.WithLabelValues(table, alias).Add(float64(attempted))
	if err == nil {
		pm.rowsConfirmed.WithLabelValues(table, alias).Add(float64(confirmed))
	}
}

// ReportBuffered 实现MetricsReporter接口
func (pm *PrometheusMetrics) ReportBuffered(table string, buffered int) {
	pm.bufferedRows.WithLabelValues(table).Set(float64(buffered))
}

// StartServer 启动指标HTTP服务器，暴露 /metrics 和 /health
func (pm *PrometheusMetrics) StartServer(port int) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.server != nil {
		return fmt.Errorf("metrics server already running")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	pm.registry.MustRegister(collectors.NewBuildInfoCollector())
	pm.registry.MustRegister(collectors.NewGoCollector())
	pm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metricsHandler := promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
	router.GET("/metrics", gin.WrapH(metricsHandler))
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	pm.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := pm.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// StopServer 停止指标HTTP服务器
func (pm *PrometheusMetrics) StopServer() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := pm.server.Shutdown(ctx)
	pm.server = nil
	return err
}
