// Package metrics holds the prometheus collectors exported by the server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/astromechza/roomboard/pkg/rooms"
)

type Metrics struct {
	registry *prometheus.Registry

	requests  *prometheus.HistogramVec
	mutations *prometheus.CounterVec
	events    *prometheus.CounterVec
}

// New registers every collector on a private registry. subscribers reports
// the number of live push subscribers.
func New(subscribers func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "roomboard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomboard",
			Name:      "mutations_total",
			Help:      "Room store mutations by operation and result.",
		}, []string{"op", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomboard",
			Name:      "events_published_total",
			Help:      "Change events handed to the notifier.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.mutations, m.events,
	)
	if subscribers != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "roomboard",
			Name:      "push_subscribers",
			Help:      "Currently connected push subscribers.",
		}, func() float64 { return float64(subscribers()) }))
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}

func (m *Metrics) CountMutation(op, result string) {
	m.mutations.WithLabelValues(op, result).Inc()
}

// Publisher counts events on their way to next.
func (m *Metrics) Publisher(next rooms.Publisher) rooms.Publisher {
	return &countingPublisher{next: next, events: m.events}
}

type countingPublisher struct {
	next   rooms.Publisher
	events *prometheus.CounterVec
}

func (p *countingPublisher) PublishUpdate(room rooms.Room) {
	p.events.WithLabelValues("roomUpdate").Inc()
	p.next.PublishUpdate(room)
}

func (p *countingPublisher) PublishReset(roster []rooms.Room) {
	p.events.WithLabelValues("reset").Inc()
	p.next.PublishReset(roster)
}
