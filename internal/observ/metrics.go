package observ

import (
	"net/http"

	"github.com/lalith-99/echocore/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "echocore"

// Metrics holds the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	events               *prometheus.CounterVec
	admissions           *prometheus.CounterVec
	persistFailures      prometheus.Counter
	notificationsDropped prometheus.Counter
	tombstonesPruned     prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Events appended to chat logs, by kind.",
		}, []string{"kind"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_attempts_total",
			Help:      "Join attempts by final admission state.",
		}, []string{"state"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Committed chat steps whose write to the repository failed.",
		}),
		notificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications dropped because a chat outbox or a bus subscriber was full.",
		}),
		tombstonesPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tombstones_pruned_total",
			Help:      "Removal tombstones dropped by retention.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.events,
		m.admissions,
		m.persistFailures,
		m.notificationsDropped,
		m.tombstonesPruned,
	)
	return m
}

func (m *Metrics) EventAppended(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

func (m *Metrics) Admission(state string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(state).Inc()
}

func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.notificationsDropped.Inc()
}

func (m *Metrics) TombstonesPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tombstonesPruned.Add(float64(n))
}

// WatchChats exports the number of loaded chats and their aggregated
// metrics. Both functions are called on every scrape.
func (m *Metrics) WatchChats(loaded func() int, rollup func() metrics.ChatMetrics) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chats_loaded",
			Help:      "Chat entities currently held in memory.",
		}, func() float64 { return float64(loaded()) }),
		&rollupCollector{rollup: rollup},
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

var (
	messagesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "chat", "messages"),
		"Messages sent in loaded chats, by content type.",
		[]string{"content_type"}, nil,
	)
	activityDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "chat", "activity"),
		"Message activity in loaded chats, by action.",
		[]string{"action"}, nil,
	)
)

// rollupCollector turns a metrics.ChatMetrics rollup into gauges.
type rollupCollector struct {
	rollup func() metrics.ChatMetrics
}

func (c *rollupCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- messagesDesc
	ch <- activityDesc
}

func (c *rollupCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.rollup()
	for contentType, n := range m.Messages {
		ch <- prometheus.MustNewConstMetric(messagesDesc, prometheus.GaugeValue, float64(n), contentType)
	}
	activity := map[string]uint64{
		"reply":           m.Replies,
		"thread_message":  m.ThreadMessages,
		"edit":            m.Edits,
		"delete":          m.DeletedMessages,
		"undelete":        m.Undeletes,
		"reaction":        m.Reactions,
		"reaction_remove": m.ReactionRemoves,
	}
	for action, n := range activity {
		ch <- prometheus.MustNewConstMetric(activityDesc, prometheus.GaugeValue, float64(n), action)
	}
}
