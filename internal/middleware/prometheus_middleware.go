package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Бакеты под команды отладчика: большинство отвечает за один тик,
// загрузка архива занимает до секунд
var apiLatencyBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1, 5}

// PrometheusMiddleware метрики HTTP API отладчика. Маршрут берётся из шаблона
// gin (/api/archive/:index), код ответа сворачивается в класс (2xx, 4xx, 5xx).
type PrometheusMiddleware struct {
	latency  *prometheus.HistogramVec
	inflight prometheus.Gauge
	failures *prometheus.CounterVec
}

// NewPrometheusMiddleware регистрирует метрики с префиксом namespace в reg,
// nil означает регистр по умолчанию
func NewPrometheusMiddleware(namespace string, reg prometheus.Registerer) *PrometheusMiddleware {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := []string{"method", "route", "class"}
	pm := &PrometheusMiddleware{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Время ответа API отладчика, включая ожидание потока тика.",
			Buckets:   apiLatencyBuckets,
		}, labels),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_inflight",
			Help:      "Запросы к API, ожидающие ответа (включая открытые потоки состояния).",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Ответы API с кодом 4xx и 5xx.",
		}, labels),
	}
	reg.MustRegister(pm.latency, pm.inflight, pm.failures)
	return pm
}

// Handler gin-обработчик для router.Use
func (pm *PrometheusMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pm.inflight.Inc()
		defer pm.inflight.Dec()

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		lv := []string{c.Request.Method, routeOf(c), statusClass(status)}
		pm.latency.WithLabelValues(lv...).Observe(time.Since(start).Seconds())
		if status >= 400 {
			pm.failures.WithLabelValues(lv...).Inc()
		}
	}
}

// routeOf шаблон маршрута; неизвестные пути схлопываются в одну метку
func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
