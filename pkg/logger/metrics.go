package logger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics shared by the gateway service.

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_connections_active",
			Help: "Number of live WebSocket connections",
		},
	)

	AdmissionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_admissions_rejected_total",
			Help: "Connections refused because a per-user or global limit was reached",
		},
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_messages_sent_total",
			Help: "Messages delivered to WebSocket connections",
		},
	)

	MessagesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_messages_failed_total",
			Help: "Message deliveries that failed and dropped the connection",
		},
	)

	NotificationsConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_notifications_consumed_total",
			Help: "Notification records consumed from the backend stream",
		},
	)
)
