package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry собственный реестр бота, чтобы не тащить чужие коллекторы из default.
var Registry = prometheus.NewRegistry()

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Updates входящие апдейты по типу маршрута.
	Updates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_updates_total",
			Help: "Incoming Telegram updates by route.",
		},
		[]string{"kind"},
	)

	Searches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_searches_total",
			Help: "Search executions by outcome.",
		},
		[]string{"outcome"},
	)

	Resolves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_resolves_total",
			Help: "Detail resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	TelegramRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_requests_total",
			Help: "Outbound Bot API calls by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	MirrorResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_resolutions_total",
			Help: "Mirror domain resolutions by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpReqs, httpLat,
		Updates, Searches, Resolves, TelegramRequests, MirrorResolutions,
	)
}

// Handler отдаёт метрики в формате Prometheus.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware считает HTTP-запросы и их длительность по шаблону маршрута.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// Outcome метка результата по ошибке.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
