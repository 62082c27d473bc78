package metric

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики - количество запросов
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Общее количество HTTP запросов",
		},
		[]string{"method", "endpoint", "status"},
	)

	// HTTP метрики - время обработки запросов
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Время обработки HTTP запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	// HTTP метрики - количество ошибок
	httpErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Общее количество HTTP ошибок",
		},
		[]string{"method", "endpoint", "status"},
	)

	// WS метрики - количество активных подписок на документы
	wsActiveWatchers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signaling_active_watchers",
			Help: "Количество активных WebSocket подписок на документы",
		},
	)

	// Записи в канал сигнализации по категориям
	signalingWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_writes_total",
			Help: "Количество записей документов в канал сигнализации",
		},
		[]string{"category", "key"},
	)

	// События переговоров, опубликованные на шине
	negotiationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "negotiation_events_total",
			Help: "Количество событий переговоров",
		},
		[]string{"kind"},
	)

	// Отброшенные битые сообщения
	malformedPayloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_malformed_payloads_total",
			Help: "Количество отброшенных битых документов",
		},
		[]string{"category"},
	)
)

// RecordHTTPMetrics записывает метрики HTTP запроса
func RecordHTTPMetrics(method, endpoint string, status int, duration time.Duration) {
	strStatus := strconv.Itoa(status)

	httpRequestsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, strStatus).Observe(duration.Seconds())

	// Записываем ошибки (статус >= 400)
	if status >= 400 {
		httpErrorsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	}
}

// activeWatchers дублирует gauge для /health: из gauge значение не прочитать
var activeWatchers atomic.Int64

func IncrementWSActiveWatchers() {
	wsActiveWatchers.Inc()
	activeWatchers.Add(1)
}

func DecrementWSActiveWatchers() {
	wsActiveWatchers.Dec()
	activeWatchers.Add(-1)
}

func watchers() int64 {
	return activeWatchers.Load()
}

func RecordSignalingWrite(category, key string) {
	signalingWritesTotal.WithLabelValues(category, key).Inc()
}

func RecordNegotiationEvent(kind string) {
	negotiationEventsTotal.WithLabelValues(kind).Inc()
}

func RecordMalformedPayload(category string) {
	malformedPayloadsTotal.WithLabelValues(category).Inc()
}
