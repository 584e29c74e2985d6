// Package metrics exposes simulator activity as prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/evsim/evsim/sim"
)

// Recorder implements sim.Observer on top of prometheus collectors.
type Recorder struct {
	scheduled   *prometheus.CounterVec
	dispatched  *prometheus.CounterVec
	checkpoints *prometheus.CounterVec
	queueDepth  prometheus.Gauge
	clock       prometheus.Gauge
}

var _ sim.Observer = (*Recorder)(nil)

// NewRecorder creates the collectors and registers them with reg. The role
// label tells a master run from a slave run sharing one registry.
func NewRecorder(reg prometheus.Registerer, role string) (*Recorder, error) {
	labels := prometheus.Labels{"role": role}
	r := &Recorder{
		scheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "evsim_events_scheduled_total",
			Help:        "Events inserted into the queue, by kind group",
			ConstLabels: labels,
		}, []string{"group"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "evsim_events_dispatched_total",
			Help:        "Events dispatched by the loop, by kind group",
			ConstLabels: labels,
		}, []string{"group"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "evsim_checkpoints_total",
			Help:        "Checkpoint attempts by result (written or skipped)",
			ConstLabels: labels,
		}, []string{"result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "evsim_queue_depth",
			Help:        "Events resident in the queue",
			ConstLabels: labels,
		}),
		clock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "evsim_simtime",
			Help:        "Current simulation time",
			ConstLabels: labels,
		}),
	}
	for _, c := range []prometheus.Collector{r.scheduled, r.dispatched, r.checkpoints, r.queueDepth, r.clock} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) EventScheduled(ev *sim.Event, queueLen int) {
	r.scheduled.WithLabelValues(ev.Kind.Group()).Inc()
	r.queueDepth.Set(float64(queueLen))
}

func (r *Recorder) EventDispatched(ev *sim.Event, queueLen int) {
	r.dispatched.WithLabelValues(ev.Kind.Group()).Inc()
	r.queueDepth.Set(float64(queueLen))
	r.clock.Set(ev.Time)
}

func (r *Recorder) CheckpointWritten(clock float64) {
	r.checkpoints.WithLabelValues("written").Inc()
	r.clock.Set(clock)
}

func (r *Recorder) CheckpointSkipped(clock float64, _ error) {
	r.checkpoints.WithLabelValues("skipped").Inc()
	r.clock.Set(clock)
}
