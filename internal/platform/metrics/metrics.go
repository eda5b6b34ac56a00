package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the security core.
type Metrics struct {
	EventsRecorded       *prometheus.CounterVec
	BurstAlerts          *prometheus.CounterVec
	CredentialChecks     *prometheus.CounterVec
	RotationsTotal       *prometheus.CounterVec
	TwoFactorVerifies    *prometheus.CounterVec
	GeoDecisions         *prometheus.CounterVec
	CipherOpDurationMs   *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		EventsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_security_events_total",
			Help: "Security events recorded, by category and outcome",
		}, []string{"category", "outcome"}),
		BurstAlerts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_burst_alerts_total",
			Help: "Burst-failure alerts raised, by category",
		}, []string{"category"}),
		CredentialChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_credential_validations_total",
			Help: "Credential validation round-trips, by tier and outcome",
		}, []string{"tier", "outcome"}),
		RotationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_rotations_total",
			Help: "Credential and key rotations, by target and outcome",
		}, []string{"target", "outcome"}),
		TwoFactorVerifies: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_twofactor_verifications_total",
			Help: "Two-factor verification attempts, by method and outcome",
		}, []string{"method", "outcome"}),
		GeoDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_geo_decisions_total",
			Help: "Geo risk decisions, by result",
		}, []string{"result"}),
		CipherOpDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_cipher_op_duration_ms",
			Help:    "Latency of cipher operations in milliseconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
		}, []string{"op"}),
	}
}
