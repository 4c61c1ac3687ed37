// Package metrics exposes Prometheus collectors for the orchestration
// engine. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "conductor"

type Collector struct {
	registry  *prometheus.Registry
	turns     *prometheus.CounterVec
	requests  prometheus.Counter
	tokens    *prometheus.CounterVec
	pauses    prometheus.Counter
	rollbacks prometheus.Counter
	toolCalls *prometheus.CounterVec
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Finished turns by outcome.",
		}, []string{"outcome"}),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Completion requests sent to the provider.",
		}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens reported by the provider.",
		}, []string{"kind"}),
		pauses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_pauses_total",
			Help:      "Cooldown pauses inserted by the rate limiter.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "File transactions rolled back.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls executed by tool name.",
		}, []string{"tool"}),
	}
	c.registry.MustRegister(c.turns, c.requests, c.tokens, c.pauses, c.rollbacks, c.toolCalls)
	return c
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Turn(outcome string) {
	if c == nil {
		return
	}
	c.turns.WithLabelValues(outcome).Inc()
}

func (c *Collector) Request() {
	if c == nil {
		return
	}
	c.requests.Inc()
}

func (c *Collector) Usage(prompt, completion int) {
	if c == nil {
		return
	}
	c.tokens.WithLabelValues("prompt").Add(float64(prompt))
	c.tokens.WithLabelValues("completion").Add(float64(completion))
}

func (c *Collector) Pause() {
	if c == nil {
		return
	}
	c.pauses.Inc()
}

func (c *Collector) Rollback() {
	if c == nil {
		return
	}
	c.rollbacks.Inc()
}

func (c *Collector) ToolCall(name string) {
	if c == nil {
		return
	}
	c.toolCalls.WithLabelValues(name).Inc()
}

// Snapshot is a point-in-time copy of the counters, for status lines and
// tests.
type Snapshot struct {
	Requests  int
	Pauses    int
	Rollbacks int
	Tokens    int
}

func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	var s Snapshot
	families, err := c.registry.Gather()
	if err != nil {
		return s
	}
	for _, f := range families {
		var total float64
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		switch f.GetName() {
		case namespace + "_requests_total":
			s.Requests = int(total)
		case namespace + "_rate_limit_pauses_total":
			s.Pauses = int(total)
		case namespace + "_rollbacks_total":
			s.Rollbacks = int(total)
		case namespace + "_tokens_total":
			s.Tokens = int(total)
		}
	}
	return s
}
