// Package metrics counts pipeline runs for the Prometheus node exporter's
// textfile collector.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marcelocantos/vssh/internal/pipeline"
)

// Metrics holds the vssh collectors on a private registry.
type Metrics struct {
	PipelinesTotal   prometheus.Counter
	ChannelsTotal    prometheus.Counter
	StagesTotal      *prometheus.CounterVec
	NonzeroExits     prometheus.Counter
	PipelineDuration prometheus.Histogram

	registry *prometheus.Registry
	mu       sync.Mutex
}

// New creates the collectors and registers them.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		PipelinesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vssh_pipelines_total",
			Help: "Total number of pipelines run",
		}),
		ChannelsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vssh_channels_total",
			Help: "Total number of channels allocated between stages",
		}),
		StagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vssh_stages_total",
				Help: "Total number of stages by outcome",
			},
			[]string{"outcome"},
		),
		NonzeroExits: factory.NewCounter(prometheus.CounterOpts{
			Name: "vssh_stage_nonzero_exits_total",
			Help: "Reaped stages whose exit code was not zero",
		}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vssh_pipeline_duration_seconds",
			Help:    "Wall time from channel allocation to the last reap",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records one run.
func (m *Metrics) Observe(rep *pipeline.Report) {
	m.PipelinesTotal.Inc()
	m.ChannelsTotal.Add(float64(rep.Channels))
	m.PipelineDuration.Observe(rep.Duration.Seconds())
	for _, s := range rep.Stages {
		m.StagesTotal.WithLabelValues(Outcome(s.Err)).Inc()
		if s.Spawned() && s.Err == nil && s.ExitCode != 0 {
			m.NonzeroExits.Inc()
		}
	}
}

// WriteTextfile atomically rewrites path with the current values.
func (m *Metrics) WriteTextfile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return prometheus.WriteToTextfile(path, m.registry)
}

// Outcome names the label value for a stage error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, pipeline.ErrEmptyCommand):
		return "empty"
	case errors.Is(err, pipeline.ErrPolicyDenied):
		return "denied"
	case errors.Is(err, pipeline.ErrRedirectOpen):
		return "redirect_failed"
	case errors.Is(err, pipeline.ErrExec):
		return "exec_failed"
	case errors.Is(err, pipeline.ErrSpawn):
		return "spawn_failed"
	case errors.Is(err, pipeline.ErrWait):
		return "wait_failed"
	default:
		return "error"
	}
}
