package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "provisioner"

// Metrics holds the collectors shared by the pipeline components
type Metrics struct {
	SessionsOpened    prometheus.Counter
	SessionsClosed    prometheus.Counter
	SessionsActive    prometheus.Gauge
	ProvisionFailures prometheus.Counter
	CleanupFailures   prometheus.Counter
	Registrations     *prometheus.CounterVec
	Grants            *prometheus.CounterVec
	TokenPolls        *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Browser sessions acquired from the provisioning API.",
		}),
		SessionsClosed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Browser sessions released.",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Browser sessions currently held by workers.",
		}),
		ProvisionFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_provision_failures_total",
			Help:      "Session acquisitions that failed.",
		}),
		CleanupFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_cleanup_failures_total",
			Help:      "Stop or delete calls that failed during release.",
		}),
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registration outcomes by result.",
		}, []string{"result"}),
		Grants: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_grants_total",
			Help:      "Token acquisition outcomes by grant method and result.",
		}, []string{"method", "result"}),
		TokenPolls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_code_polls_total",
			Help:      "Device-code token polls by response signal.",
		}, []string{"signal"}),
		gatherer: reg,
	}
}

// NewUnregistered returns metrics backed by a private registry, for tests and embedding
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Result label values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultAborted = "aborted"
)
