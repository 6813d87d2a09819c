package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouteMetrics - метрики HTTP-маршрутов сервиса миров.
//
//	mw := middleware.NewRouteMetrics("slime_worldapi", reg)
//	r.Use(mw.Handler())
//	mw.RegisterMetricsEndpoint(r)
//
// Экспортируемые серии (с префиксом service):
//
//	world_route_seconds{method,route,status}       histogram
//	world_route_payload_bytes{method,route}        histogram, размер ответа (байты мира для GET)
//	world_routes_active                            gauge
//	world_route_rejections_total{method,route,status} counter, ответы 4xx/5xx
type RouteMetrics struct {
	latency    *prometheus.HistogramVec
	payload    *prometheus.HistogramVec
	active     prometheus.Gauge
	rejections *prometheus.CounterVec
	gatherer   prometheus.Gatherer
}

// unmatchedRoute - метка для запросов мимо маршрутов, чтобы сырые URL не попадали в метки
const unmatchedRoute = "unmatched"

// NewRouteMetrics регистрирует метрики в reg. nil - дефолтный регистр Prometheus.
func NewRouteMetrics(service string, reg *prometheus.Registry) *RouteMetrics {
	m := &RouteMetrics{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: service,
			Name:      "world_route_seconds",
			Help:      "Время обработки запроса к маршруту миров.",
			Buckets:   []float64{0.002, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route", "status"}),
		payload: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: service,
			Name:      "world_route_payload_bytes",
			Help:      "Размер тела ответа; для GET /worlds/:name это размер мира.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		}, []string{"method", "route"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: service,
			Name:      "world_routes_active",
			Help:      "Запросы к маршрутам миров в обработке.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: service,
			Name:      "world_route_rejections_total",
			Help:      "Запросы к мирам, отклонённые со статусом 4xx или 5xx.",
		}, []string{"method", "route", "status"}),
	}

	collectors := []prometheus.Collector{m.latency, m.payload, m.active, m.rejections}
	if reg == nil {
		prometheus.MustRegister(collectors...)
		m.gatherer = prometheus.DefaultGatherer
	} else {
		reg.MustRegister(collectors...)
		m.gatherer = reg
	}
	return m
}

// Handler подключается через router.Use()
func (m *RouteMetrics) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.active.Inc()
		defer m.active.Dec()
		started := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method
		code := c.Writer.Status()
		status := strconv.Itoa(code)

		m.latency.WithLabelValues(method, route, status).Observe(time.Since(started).Seconds())
		if size := c.Writer.Size(); size > 0 {
			m.payload.WithLabelValues(method, route).Observe(float64(size))
		}
		if code >= 400 {
			m.rejections.WithLabelValues(method, route, status).Inc()
		}
	}
}

// RegisterMetricsEndpoint добавляет GET /metrics
func (m *RouteMetrics) RegisterMetricsEndpoint(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})))
}
