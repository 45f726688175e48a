package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powercms_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "powercms_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "powercms_http_active_requests",
			Help: "Number of currently active HTTP requests",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "powercms_sweep_duration_seconds",
			Help:    "Duration of one publish window sweep across all resource types",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	SweepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powercms_sweep_transitions_total",
			Help: "Records flipped by the sweep, by resource type and transition",
		},
		[]string{"resource", "transition"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powercms_store_errors_total",
			Help: "Record store failures by resource type and operation",
		},
		[]string{"resource", "op"},
	)

	NotifyEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powercms_notify_events_total",
			Help: "Change events published to the notification hub",
		},
		[]string{"resource", "type"},
	)

	NotifySubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "powercms_notify_subscribers",
			Help: "Currently connected change stream subscribers",
		},
		[]string{"resource"},
	)

	NotifyDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powercms_notify_dropped_subscribers_total",
			Help: "Subscribers dropped because they could not keep up",
		},
		[]string{"resource"},
	)

	OutboundDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powercms_outbound_dropped_events_total",
			Help: "Change events dropped because the relay or change log queue was full",
		},
		[]string{"sink", "resource"},
	)
)
