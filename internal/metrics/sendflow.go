package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Refresh loop runs by outcome
	refreshRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sendflow",
			Subsystem: "refresh",
			Name:      "runs_total",
			Help:      "Total number of rate refresh runs",
		},
		[]string{"result"}, // updated, skipped
	)

	// Swallowed capability failures in the refresh loop
	refreshFetchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sendflow",
			Subsystem: "refresh",
			Name:      "fetch_errors_total",
			Help:      "Total number of failed fee or exchange rate fetches",
		},
		[]string{"source"}, // fees, rates
	)

	refreshFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sendflow",
			Subsystem: "refresh",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of the fee and rate fetch phase of a refresh",
			Buckets:   prometheus.DefBuckets,
		},
	)

	feeComputationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sendflow",
			Subsystem: "fee",
			Name:      "computations_total",
			Help:      "Total number of draft fee computations",
		},
		[]string{"mode", "result"}, // fixed|drain, success|error
	)

	flowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sendflow",
			Subsystem: "engine",
			Name:      "flows_total",
			Help:      "Total number of finished send flows",
		},
		[]string{"outcome"}, // sent, cancelled
	)
)

// Register adds the send flow collectors to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		refreshRunsTotal,
		refreshFetchErrorsTotal,
		refreshFetchDuration,
		feeComputationsTotal,
		flowsTotal,
	)
}

// SendFlowMetrics records engine events.
type SendFlowMetrics struct{}

func NewSendFlowMetrics() *SendFlowMetrics {
	return &SendFlowMetrics{}
}

func (m *SendFlowMetrics) RecordRefresh(updated bool) {
	if updated {
		refreshRunsTotal.WithLabelValues("updated").Inc()
		return
	}
	refreshRunsTotal.WithLabelValues("skipped").Inc()
}

func (m *SendFlowMetrics) RecordFetchError(source string) {
	refreshFetchErrorsTotal.WithLabelValues(source).Inc()
}

func (m *SendFlowMetrics) RecordFetchDuration(d time.Duration) {
	refreshFetchDuration.Observe(d.Seconds())
}

func (m *SendFlowMetrics) RecordFeeComputation(drain bool, err error) {
	mode := "fixed"
	if drain {
		mode = "drain"
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	feeComputationsTotal.WithLabelValues(mode, result).Inc()
}

func (m *SendFlowMetrics) RecordFlow(sent bool) {
	if sent {
		flowsTotal.WithLabelValues("sent").Inc()
		return
	}
	flowsTotal.WithLabelValues("cancelled").Inc()
}
