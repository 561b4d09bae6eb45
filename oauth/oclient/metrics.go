package oclient

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the token manager's Prometheus collectors.
type Metrics struct {
	Refreshes        *prometheus.CounterVec
	CacheHits        prometheus.Counter
	SharedWaits      prometheus.Counter
	ExchangeDuration prometheus.Histogram
}

// NewMetrics builds unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkguard_token_refreshes_total",
			Help: "Refresh exchanges by outcome",
		}, []string{"outcome"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkguard_token_reuse_total",
			Help: "Access tokens served without a refresh",
		}),
		SharedWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkguard_token_refresh_shared_total",
			Help: "Callers that joined an in-flight refresh",
		}),
		ExchangeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "linkguard_token_exchange_seconds",
			Help:    "Refresh exchange latency",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

// Register registers the collectors on reg, or the default registerer if nil.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{m.Refreshes, m.CacheHits, m.SharedWaits, m.ExchangeDuration} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
