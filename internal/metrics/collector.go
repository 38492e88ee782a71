package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meshbridge"

// PollRecorder receives poll outcomes in addition to the counters, e.g. a
// time-series writer.
type PollRecorder interface {
	ObservePoll(kind string, answered bool, elapsed time.Duration)
}

// Collector owns a private Prometheus registry.
//
// Thread Safety: All methods are safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	polls        *prometheus.CounterVec
	pollDuration *prometheus.HistogramVec
	commands     *prometheus.CounterVec
	discarded    *prometheus.CounterVec
	entities     *prometheus.GaugeVec
	connected    *prometheus.GaugeVec
	wsClients    prometheus.Gauge

	recorderMu sync.RWMutex
	recorder   PollRecorder
}

// NewCollector creates and registers every metric.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "polls_total",
				Help:      "Status polls by entity kind and result (answered, timeout, error)",
			},
			[]string{"kind", "result"},
		),
		pollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poll_duration_seconds",
				Help:      "Time from status request to response or timeout",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"kind"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Commands sent to the gateway by entity kind, command and result",
			},
			[]string{"kind", "command", "result"},
		),
		discarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discarded_responses_total",
				Help:      "Status messages dropped instead of merged",
			},
			[]string{"kind", "reason"},
		),
		entities: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "entities",
				Help:      "Entities advertised by the gateway",
			},
			[]string{"category"},
		),
		connected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "broker_connected",
				Help:      "1 if the MQTT connection is up, 0 otherwise",
			},
			[]string{"broker"},
		),
		wsClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_clients",
				Help:      "Connected WebSocket clients",
			},
		),
	}

	c.registry.MustRegister(
		c.polls,
		c.pollDuration,
		c.commands,
		c.discarded,
		c.entities,
		c.connected,
		c.wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetPollRecorder forwards poll outcomes to r as well.
func (c *Collector) SetPollRecorder(r PollRecorder) {
	c.recorderMu.Lock()
	c.recorder = r
	c.recorderMu.Unlock()
}

// ObservePoll implements mesh.Observer.
func (c *Collector) ObservePoll(kind string, answered bool, err error, elapsed time.Duration) {
	result := "answered"
	switch {
	case err != nil:
		result = "error"
	case !answered:
		result = "timeout"
	}
	c.polls.WithLabelValues(kind, result).Inc()
	if err == nil {
		c.pollDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	}

	c.recorderMu.RLock()
	r := c.recorder
	c.recorderMu.RUnlock()
	if r != nil && err == nil {
		r.ObservePoll(kind, answered, elapsed)
	}
}

// ObserveCommand implements mesh.Observer.
func (c *Collector) ObserveCommand(kind, command string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.commands.WithLabelValues(kind, command, result).Inc()
}

// ObserveDiscarded implements mesh.Observer.
func (c *Collector) ObserveDiscarded(kind, reason string) {
	c.discarded.WithLabelValues(kind, reason).Inc()
}

// SetEntityCounts records the directory size.
func (c *Collector) SetEntityCounts(lights, groups, scenes int) {
	c.entities.WithLabelValues("lights").Set(float64(lights))
	c.entities.WithLabelValues("groups").Set(float64(groups))
	c.entities.WithLabelValues("scenes").Set(float64(scenes))
}

// SetConnected records a broker link state. broker is "bridge" or "gateway".
func (c *Collector) SetConnected(broker string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	c.connected.WithLabelValues(broker).Set(v)
}

// SetWebSocketClients records the hub's client count.
func (c *Collector) SetWebSocketClients(n int) {
	c.wsClients.Set(float64(n))
}
