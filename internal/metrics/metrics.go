package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "karat"

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

// Admission metrics
var (
	AdmissionVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_verdicts_total",
			Help:      "Admission pipeline outcomes by action kind and verdict",
		},
		[]string{"action", "outcome", "code"},
	)

	RateLimitDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_denials_total",
			Help:      "Requests denied by the rate-limit gate, by window",
		},
		[]string{"window"},
	)

	TenantCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_cache_lookups_total",
			Help:      "Tenant cache lookups by result (hit, miss, expired)",
		},
		[]string{"result"},
	)

	TenantCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_cache_evictions_total",
			Help:      "Tenant cache entries evicted under capacity pressure",
		},
	)

	TenantResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_resolutions_total",
			Help:      "Database tenant resolutions by status (ok, not_found, error)",
		},
		[]string{"status"},
	)

	WindowBucketsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_buckets_evicted_total",
			Help:      "Rate-limit window buckets dropped by the eviction sweep",
		},
	)
)

// Business metrics
var (
	InvoicesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoices_created_total",
			Help:      "Total number of invoices created",
		},
	)

	InvoiceDocumentsArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_documents_archived_total",
			Help:      "Rendered invoice documents stored in the archive",
		},
	)

	PhotosIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "photos_ingested_total",
			Help:      "Jewelry photos accepted or rejected at intake",
		},
		[]string{"status"},
	)

	ChatUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_updates_total",
			Help:      "Inbound chat updates by kind",
		},
		[]string{"kind"},
	)
)
