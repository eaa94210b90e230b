// Package telemetry exposes Prometheus metrics for the transformation
// pipeline. Collectors are created against an injected registerer so tests
// can use an isolated registry.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	TransformRequests *prometheus.CounterVec
	StrategyAttempts  *prometheus.CounterVec
	CreditsDebited    *prometheus.CounterVec
	ImagesPurged      prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransformRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagerefresh_transform_requests_total",
			Help: "Transformation requests by terminal outcome",
		}, []string{"outcome"}),
		StrategyAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagerefresh_strategy_attempts_total",
			Help: "Provider call attempts by encoding strategy and result",
		}, []string{"strategy", "result"}),
		CreditsDebited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagerefresh_credits_debited_total",
			Help: "Credits debited by credit type",
		}, []string{"type"}),
		ImagesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagerefresh_images_purged_total",
			Help: "Stored images removed by the expiry sweep",
		}),
	}
	reg.MustRegister(m.TransformRequests, m.StrategyAttempts, m.CreditsDebited, m.ImagesPurged)
	return m
}
