package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docextract",
			Name:      "document_uploads_total",
			Help:      "Total document uploads by result (ok, validation, error)",
		},
		[]string{"result"},
	)

	thumbBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docextract",
			Name:      "thumbnail_batches_total",
			Help:      "Thumbnail batch requests by result",
		},
		[]string{"result"},
	)

	thumbPages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docextract",
			Name:      "thumbnail_pages_total",
			Help:      "Thumbnail pages served by outcome (rendered, cache_hit, soft_miss)",
		},
		[]string{"outcome"},
	)

	renderLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docextract",
			Name:      "thumbnail_render_duration_seconds",
			Help:      "Duration of single-page thumbnail renders",
			Buckets:   prometheus.DefBuckets,
		},
	)

	sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docextract",
			Name:      "extraction_sessions_total",
			Help:      "Extraction sessions by terminal state (success, cancelled, error)",
		},
		[]string{"result"},
	)

	sessionPages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docextract",
			Name:      "extraction_pages_total",
			Help:      "Pages extracted by result (ok, failed)",
		},
		[]string{"result"},
	)

	extractLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docextract",
			Name:      "extraction_session_duration_seconds",
			Help:      "Wall time of extraction sessions",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docextract",
			Name:      "active_extraction_sessions",
			Help:      "Extraction streams currently running",
		},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(uploads, thumbBatches, thumbPages, renderLatency, sessions, sessionPages, extractLatency, activeSessions)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncUpload(result string)     { uploads.WithLabelValues(result).Inc() }
func IncThumbBatch(result string) { thumbBatches.WithLabelValues(result).Inc() }
func IncThumbPage(outcome string) { thumbPages.WithLabelValues(outcome).Inc() }

func ObserveRender(dur time.Duration) { renderLatency.Observe(dur.Seconds()) }

func SessionStarted() { activeSessions.Inc() }

func SessionFinished(result string, dur time.Duration) {
	activeSessions.Dec()
	sessions.WithLabelValues(result).Inc()
	extractLatency.Observe(dur.Seconds())
}

func IncSessionPage(result string) { sessionPages.WithLabelValues(result).Inc() }
