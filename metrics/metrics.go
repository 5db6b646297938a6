// Package metrics exposes pool and store gauges plus cache lifecycle
// counters through prometheus. It only reads from the pool and stores; it
// never mutates them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/agentdock/core"
	"github.com/hupe1980/agentdock/pool"
)

// Metrics bundles the prometheus collectors for one AgentDock process. It
// implements pool.Recorder so the pool can report cache lifecycle events;
// because the pool takes the recorder at construction, the pool size gauge
// is registered afterwards via ObservePool.
type Metrics struct {
	registry prometheus.Registerer

	constructions        prometheus.Counter
	constructionFailures prometheus.Counter
	evictions            prometheus.Counter
	executions           *prometheus.CounterVec
}

var _ pool.Recorder = (*Metrics)(nil)

// New registers the counters and store gauges with reg. The gauges read
// live values from the stores on scrape.
func New(reg prometheus.Registerer, configs core.ConfigurationStore, conversations core.ConversationStore) *Metrics {
	m := &Metrics{
		registry: reg,
		constructions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentdock_constructions_total",
			Help: "Agent instance constructions started.",
		}),
		constructionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentdock_construction_failures_total",
			Help: "Agent instance constructions that failed or timed out.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentdock_evictions_total",
			Help: "Agent instances destroyed by eviction, invalidation or shutdown.",
		}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentdock_executions_total",
			Help: "Message executions by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.constructions,
		m.constructionFailures,
		m.evictions,
		m.executions,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "agentdock_conversations",
			Help: "Live conversations.",
		}, func() float64 { return float64(conversations.Count()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "agentdock_configurations",
			Help: "Stored configurations, active and inactive.",
		}, func() float64 { return float64(configs.Count()) }),
	)

	return m
}

// ObservePool registers the pool size gauge once the pool exists.
func (m *Metrics) ObservePool(p *pool.Pool) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "agentdock_pool_instances",
		Help: "Agent instances currently cached, including constructing ones.",
	}, func() float64 { return float64(p.Len()) }))
}

// ConstructionStarted implements pool.Recorder.
func (m *Metrics) ConstructionStarted() { m.constructions.Inc() }

// ConstructionFailed implements pool.Recorder.
func (m *Metrics) ConstructionFailed() { m.constructionFailures.Inc() }

// Evicted implements pool.Recorder.
func (m *Metrics) Evicted() { m.evictions.Inc() }

// ExecutionCompleted counts one finished execution; outcome is "success" or
// "error".
func (m *Metrics) ExecutionCompleted(outcome string) {
	m.executions.WithLabelValues(outcome).Inc()
}
