package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pgpgate"

// Login and delivery label values
const (
	LoginSuccess            = "success"
	LoginChallengeExpired   = "challenge_expired"
	LoginVerificationFailed = "verification_failed"
	LoginError              = "error"

	DeliverySent   = "sent"
	DeliveryFailed = "failed"
	DeliveryAbsent = "absent"
)

// Metrics holds the process collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	challengesIssued prometheus.Counter
	logins           *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	deliveries       *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		challengesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_issued_total",
			Help:      "Challenges handed out for signing.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Identities with a live connection.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Message delivery attempts by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.challengesIssued,
		m.logins,
		m.activeSessions,
		m.deliveries,
		collectors.NewGoCollector(),
	)

	return m
}

func (m *Metrics) ChallengeIssued() {
	if m == nil {
		return
	}
	m.challengesIssued.Inc()
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) ActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) Delivery(outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
