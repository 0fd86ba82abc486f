package metricsx

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// SDK delivery pipeline.
	sdkEventsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapistry_sdk_events_enqueued_total",
			Help: "Events admitted to the delivery queue.",
		},
		[]string{"type"},
	)
	sdkEventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapistry_sdk_events_dropped_total",
			Help: "Events dropped before delivery, by reason.",
		},
		[]string{"reason"},
	)
	sdkBatchesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapistry_sdk_batches_sent_total",
			Help: "Batches handed to a transport, by transport and result.",
		},
		[]string{"transport", "result"},
	)
	sdkRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tapistry_sdk_retries_total",
			Help: "Delivery retries scheduled.",
		},
	)
	sdkQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tapistry_sdk_queue_depth",
			Help: "Events waiting in the delivery queue.",
		},
	)
	sdkDeliveryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tapistry_sdk_delivery_seconds",
			Help:    "Latency of delivery attempts.",
			Buckets: prometheus.DefBuckets,
		},
	)
	sdkSessionRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapistry_sdk_session_rotations_total",
			Help: "Session id rotations, by cause.",
		},
		[]string{"cause"},
	)

	// Collector.
	ingestEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapistry_ingest_events_total",
			Help: "Events accepted by the collector, by type.",
		},
		[]string{"type"},
	)
	ingestDuplicates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tapistry_ingest_duplicates_total",
			Help: "Events skipped because their id was seen inside the dedupe window.",
		},
	)
	ingestRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapistry_ingest_rejected_total",
			Help: "Batches rejected by the collector, by reason.",
		},
		[]string{"reason"},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic.",
		},
		[]string{"topic", "group"},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpLatency,
			sdkEventsEnqueued, sdkEventsDropped, sdkBatchesSent, sdkRetries, sdkQueueDepth, sdkDeliveryLatency, sdkSessionRotations,
			ingestEvents, ingestDuplicates, ingestRejected, kafkaConsumerLag, influxWriteFailures, asynqQueueDepth,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func IncEnqueued(kind string) { sdkEventsEnqueued.WithLabelValues(kind).Inc() }

func IncDropped(reason string, n int) { sdkEventsDropped.WithLabelValues(reason).Add(float64(n)) }

func IncBatchSent(transport string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	sdkBatchesSent.WithLabelValues(transport, result).Inc()
}

func IncRetry() { sdkRetries.Inc() }

func SetQueueDepth(n int) { sdkQueueDepth.Set(float64(n)) }

func ObserveDelivery(d time.Duration) { sdkDeliveryLatency.Observe(d.Seconds()) }

func IncSessionRotation(cause string) { sdkSessionRotations.WithLabelValues(cause).Inc() }

func IncIngested(kind string) { ingestEvents.WithLabelValues(kind).Inc() }

func IncDuplicate() { ingestDuplicates.Inc() }

func IncRejected(reason string) { ingestRejected.WithLabelValues(reason).Inc() }

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
