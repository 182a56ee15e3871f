// Package obs holds the prometheus instruments of the security core.
package obs

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AuditEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medkeeper_audit_events_total",
			Help: "Audit events appended, by severity and category.",
		},
		[]string{"severity", "category"},
	)

	DecryptFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "medkeeper_decrypt_failures_total",
		Help: "Sensitive field decryptions that failed authentication.",
	})

	IntegrityViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "medkeeper_integrity_violations_total",
		Help: "Records whose integrity digest did not match on read.",
	})

	TokenVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medkeeper_token_verifications_total",
			Help: "Bearer token verifications, by outcome.",
		},
		[]string{"outcome"},
	)

	KeyOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medkeeper_key_operations_total",
			Help: "Master key lifecycle operations, by operation and result.",
		},
		[]string{"op", "result"},
	)
)

var registerOnce sync.Once

// Register adds all instruments to reg once per process.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(AuditEvents, DecryptFailures, IntegrityViolations, TokenVerifications, KeyOperations)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
