package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking flow.
type BookingMetrics struct {
	stepTransitions *prometheus.CounterVec
	failures        *prometheus.CounterVec
	commitsTotal    *prometheus.CounterVec
	otpTotal        *prometheus.CounterVec
	commitLatency   prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		stepTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "step_transitions_total",
			Help:      "Booking step transitions by origin and destination",
		}, []string{"from", "to"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "failures_total",
			Help:      "Classified booking failures",
		}, []string{"kind"}),
		commitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "commits_total",
			Help:      "Appointment commit attempts by outcome",
		}, []string{"status", "with_payment"}),
		otpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "otp_total",
			Help:      "OTP dispatches and verifications by outcome",
		}, []string{"operation", "status"}),
		commitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "commit_latency_seconds",
			Help:      "Latency of appointment submission",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.stepTransitions, m.failures, m.commitsTotal, m.otpTotal, m.commitLatency)
	return m
}

func (m *BookingMetrics) ObserveStep(from, to string) {
	if m == nil {
		return
	}
	m.stepTransitions.WithLabelValues(from, to).Inc()
}

func (m *BookingMetrics) ObserveFailure(kind string) {
	if m == nil || kind == "" {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *BookingMetrics) ObserveCommit(status string, withPayment bool, seconds float64) {
	if m == nil {
		return
	}
	label := "false"
	if withPayment {
		label = "true"
	}
	m.commitsTotal.WithLabelValues(status, label).Inc()
	m.commitLatency.Observe(seconds)
}

func (m *BookingMetrics) ObserveOTP(operation, status string) {
	if m == nil {
		return
	}
	m.otpTotal.WithLabelValues(operation, status).Inc()
}
