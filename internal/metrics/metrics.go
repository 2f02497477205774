package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the bridge.
type Metrics struct {
	registry             *prometheus.Registry
	leasesGeneratedTotal *prometheus.CounterVec
	leaseRenewalsTotal   prometheus.Counter
	leaseRenewalFailures prometheus.Counter
	proxyRestartsTotal   prometheus.Counter
	proxySpawnFailures   prometheus.Counter
	proxyUp              prometheus.Gauge
	leaseExpirySeconds   prometheus.Gauge
	eventsReceivedTotal  prometheus.Counter
	tickErrorsTotal      prometheus.Counter
}

// New creates and registers Prometheus metrics for the bridge.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	leasesGeneratedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_leases_generated_total",
		Help: "Total number of stream leases generated, by protocol",
	}, []string{"protocol"})
	leaseRenewalsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_lease_renewals_total",
		Help: "Total number of successful in-place lease extensions",
	})
	leaseRenewalFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_lease_renewal_failures_total",
		Help: "Total number of failed lease extension attempts",
	})
	proxyRestartsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_proxy_restarts_total",
		Help: "Total number of proxy process (re)starts",
	})
	proxySpawnFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_proxy_spawn_failures_total",
		Help: "Total number of failed proxy spawn attempts",
	})
	proxyUp := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_proxy_up",
		Help: "Whether the proxy process is currently running (1) or not (0)",
	})
	leaseExpirySeconds := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_lease_expiry_seconds",
		Help: "Seconds until the current lease expires (0 when non-expiring or absent)",
	})
	eventsReceivedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_events_received_total",
		Help: "Total number of device events observed by the poller",
	})
	tickErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_tick_errors_total",
		Help: "Total number of scheduler ticks that hit a provider or spawn error",
	})

	registry.MustRegister(
		leasesGeneratedTotal,
		leaseRenewalsTotal,
		leaseRenewalFailures,
		proxyRestartsTotal,
		proxySpawnFailures,
		proxyUp,
		leaseExpirySeconds,
		eventsReceivedTotal,
		tickErrorsTotal,
	)

	return &Metrics{
		registry:             registry,
		leasesGeneratedTotal: leasesGeneratedTotal,
		leaseRenewalsTotal:   leaseRenewalsTotal,
		leaseRenewalFailures: leaseRenewalFailures,
		proxyRestartsTotal:   proxyRestartsTotal,
		proxySpawnFailures:   proxySpawnFailures,
		proxyUp:              proxyUp,
		leaseExpirySeconds:   leaseExpirySeconds,
		eventsReceivedTotal:  eventsReceivedTotal,
		tickErrorsTotal:      tickErrorsTotal,
	}
}

func (m *Metrics) IncLeaseGenerated(protocol string) {
	m.leasesGeneratedTotal.WithLabelValues(protocol).Inc()
}

func (m *Metrics) IncLeaseRenewal() { m.leaseRenewalsTotal.Inc() }

func (m *Metrics) IncLeaseRenewalFailure() { m.leaseRenewalFailures.Inc() }

func (m *Metrics) IncProxyRestart() { m.proxyRestartsTotal.Inc() }

func (m *Metrics) IncProxySpawnFailure() { m.proxySpawnFailures.Inc() }

func (m *Metrics) SetProxyUp(up bool) {
	if up {
		m.proxyUp.Set(1)
	} else {
		m.proxyUp.Set(0)
	}
}

func (m *Metrics) SetLeaseExpirySeconds(s float64) { m.leaseExpirySeconds.Set(s) }

func (m *Metrics) AddEventsReceived(n int) { m.eventsReceivedTotal.Add(float64(n)) }

func (m *Metrics) IncTickError() { m.tickErrorsTotal.Inc() }

// Handler returns an http.Handler serving the metrics. updateGauges is called
// before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
