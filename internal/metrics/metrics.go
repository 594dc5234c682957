package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the link lifecycle counters. It satisfies service.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	LinksCreated *prometheus.CounterVec
	Resolutions  *prometheus.CounterVec
	ExpiredHits  prometheus.Counter
	LinksUpdated prometheus.Counter
	LinksDeleted prometheus.Counter
}

// New creates the counters on a dedicated registry so that tests can build
// as many instances as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		LinksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shorty_links_created_total",
			Help: "Links created, by whether the slug was a custom alias",
		}, []string{"custom"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shorty_resolutions_total",
			Help: "Successful link resolutions, by whether they were previews",
		}, []string{"preview"}),
		ExpiredHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shorty_expired_hits_total",
			Help: "Resolutions refused because the link had expired",
		}),
		LinksUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shorty_links_updated_total",
			Help: "Links updated by their owner",
		}),
		LinksDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shorty_links_deleted_total",
			Help: "Links deleted by their owner",
		}),
	}

	reg.MustRegister(
		m.LinksCreated,
		m.Resolutions,
		m.ExpiredHits,
		m.LinksUpdated,
		m.LinksDeleted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) LinkCreated(custom bool) {
	m.LinksCreated.WithLabelValues(strconv.FormatBool(custom)).Inc()
}

func (m *Metrics) LinkResolved(preview bool) {
	m.Resolutions.WithLabelValues(strconv.FormatBool(preview)).Inc()
}

func (m *Metrics) LinkExpiredHit() {
	m.ExpiredHits.Inc()
}

func (m *Metrics) LinkUpdated() {
	m.LinksUpdated.Inc()
}

func (m *Metrics) LinkDeleted() {
	m.LinksDeleted.Inc()
}
