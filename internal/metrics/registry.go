// Package metrics exposes the security layer's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all metrics of the client.
type Registry struct {
	registry *prometheus.Registry

	SecurityEventsTotal     *prometheus.CounterVec
	AuthFailuresTotal       prometheus.Counter
	LockoutsTotal           prometheus.Counter
	DecryptFailuresTotal    prometheus.Counter
	IntegrityWarningsTotal  prometheus.Counter
	ThreatsDetectedTotal    *prometheus.CounterVec
	BlockedIdentities       prometheus.Gauge
	ForcedSignOutsTotal     *prometheus.CounterVec
	CSPViolationsTotal      *prometheus.CounterVec
	CryptoOperationDuration *prometheus.HistogramVec
	EncryptionReady         prometheus.Gauge
	EventLogSize            prometheus.Gauge
}

func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.initSecurityMetrics()
	return r
}

func (r *Registry) initSecurityMetrics() {
	f := promauto.With(r.registry)

	r.SecurityEventsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gophnotes_security_events_total",
			Help: "Total number of security events logged",
		},
		[]string{"type", "severity"},
	)

	r.AuthFailuresTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "gophnotes_auth_failures_total",
			Help: "Total number of failed sign-in or sign-up attempts",
		},
	)

	r.LockoutsTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "gophnotes_auth_lockouts_total",
			Help: "Total number of identities locked out",
		},
	)

	r.DecryptFailuresTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "gophnotes_decrypt_failures_total",
			Help: "Total number of note decryption failures",
		},
	)

	r.IntegrityWarningsTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "gophnotes_integrity_warnings_total",
			Help: "Total number of content hash mismatches after successful decryption",
		},
	)

	r.ThreatsDetectedTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gophnotes_threats_detected_total",
			Help: "Total number of threat pattern matches",
		},
		[]string{"pattern"},
	)

	r.BlockedIdentities = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "gophnotes_blocked_identities",
			Help: "Number of identities currently blocked by the threat analyzer",
		},
	)

	r.ForcedSignOutsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gophnotes_forced_sign_outs_total",
			Help: "Total number of sign-outs forced by the security coordinator",
		},
		[]string{"reason"},
	)

	r.CSPViolationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gophnotes_csp_violations_total",
			Help: "Total number of content security policy violation reports",
		},
		[]string{"directive"},
	)

	r.CryptoOperationDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gophnotes_crypto_operation_duration_seconds",
			Help:    "Duration of guarded encrypt/decrypt operations",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"operation", "status"},
	)

	r.EncryptionReady = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "gophnotes_encryption_ready",
			Help: "Whether a note key is loaded (1=yes, 0=no)",
		},
	)

	r.EventLogSize = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "gophnotes_security_event_log_size",
			Help: "Number of security events currently retained",
		},
	)
}

// RecordCryptoOperation observes one guarded operation.
func (r *Registry) RecordCryptoOperation(operation string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.CryptoOperationDuration.WithLabelValues(operation, status).Observe(d.Seconds())
}

func (r *Registry) SetEncryptionReady(ready bool) {
	if ready {
		r.EncryptionReady.Set(1)
	} else {
		r.EncryptionReady.Set(0)
	}
}

// PrometheusRegistry returns the underlying registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
