// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 状态流转结果的取值
const (
	ResultCommitted = "committed"
	ResultRejected  = "rejected"
	ResultConflict  = "conflict"
	ResultError     = "error"
)

var (
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Order status change attempts by actor role, target status and result.",
	}, []string{"role", "target", "result"})

	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_expiry_sweep_runs_total",
		Help: "Unpaid order sweep runs by outcome (completed, failed, skipped).",
	}, []string{"outcome"})

	SweepOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_expiry_sweep_orders_total",
		Help: "Orders processed by the unpaid order sweep by result (cancelled, failed).",
	}, []string{"result"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_expiry_sweep_duration_seconds",
		Help:    "Wall time of a single unpaid order sweep run.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	NotificationDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_deliveries_total",
		Help: "Notification deliveries by audience and result.",
	}, []string{"audience", "result"})
)
