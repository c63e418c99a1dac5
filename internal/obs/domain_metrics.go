package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentLinkTotal counts hosted-payment link build attempts.
	PaymentLinkTotal *prometheus.CounterVec
	// CallbackTotal counts inbound callback processing outcomes on both the
	// webhook and return-redirect paths.
	CallbackTotal *prometheus.CounterVec
	// RefundTotal counts refund and void attempts by outcome.
	RefundTotal *prometheus.CounterVec
	// ProbeTotal counts settings-validation connectivity probes.
	ProbeTotal *prometheus.CounterVec
	// RemoteCallLatency records remote gateway API call latency in milliseconds.
	RemoteCallLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentLinkTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_link_total",
			Help:      "Count of hosted-payment link build outcomes.",
		}, []string{"gateway", "result"})
		CallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_callback_total",
			Help:      "Count of processed payment callbacks by path and outcome.",
		}, []string{"gateway", "path", "result"})
		RefundTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_refund_total",
			Help:      "Count of refund and void outcomes.",
		}, []string{"gateway", "operation", "result"})
		ProbeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settings_probe_total",
			Help:      "Count of settings-validation connectivity probes.",
		}, []string{"gateway", "result"})
		RemoteCallLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_ms",
			Help:      "Latency for remote gateway API calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"gateway", "operation"})

		mustRegisterCollector(reg, PaymentLinkTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentLinkTotal = v
			}
		})
		mustRegisterCollector(reg, CallbackTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CallbackTotal = v
			}
		})
		mustRegisterCollector(reg, RefundTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RefundTotal = v
			}
		})
		mustRegisterCollector(reg, ProbeTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ProbeTotal = v
			}
		})
		mustRegisterCollector(reg, RemoteCallLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				RemoteCallLatency = v
			}
		})
	})
}

// ObserveRemoteCall records the latency of one remote gateway API call.
// No-op before MustRegisterDomainMetrics runs so client unit tests need
// no registry.
func ObserveRemoteCall(gatewayName, operation string, start time.Time) {
	if RemoteCallLatency != nil {
		RemoteCallLatency.WithLabelValues(gatewayName, operation).Observe(DurationMillis(time.Since(start)))
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
