package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/sweep-progress/internal/progress"
)

// PrometheusSink exports broadcast activity via Prometheus. It owns the
// collectors for sessions, subscribers, driver runs and delivery failures.
type PrometheusSink struct {
	sessions         *prometheus.CounterVec
	subscribers      prometheus.Gauge
	driversStarted   prometheus.Counter
	driversCompleted prometheus.Counter
	driversRunning   prometheus.Gauge
	transitions      *prometheus.CounterVec
	deliveries       prometheus.Counter
	deliveryFailures prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweep_sessions_total",
			Help: "Subscriber session joins and leaves.",
		}, []string{"event"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sweep_subscribers",
			Help: "Subscribers currently attached across all topics.",
		}),
		driversStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweep_drivers_started_total",
			Help: "Progress driver runs started.",
		}),
		driversCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweep_drivers_completed_total",
			Help: "Progress driver runs that reached DONE.",
		}),
		driversRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sweep_drivers_running",
			Help: "Progress driver runs currently in flight.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweep_transitions_total",
			Help: "Snapshots written by progress drivers, partitioned by state.",
		}, []string{"state"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweep_broadcasts_total",
			Help: "Subscriber deliveries made by driver broadcasts.",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweep_deliveries_failed_total",
			Help: "Deliveries that failed and pruned their subscriber.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.sessions,
		s.subscribers,
		s.driversStarted,
		s.driversCompleted,
		s.driversRunning,
		s.transitions,
		s.deliveries,
		s.deliveryFailures,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Kind {
	case progress.KindJoin:
		s.sessions.WithLabelValues("join").Inc()
		s.subscribers.Inc()
	case progress.KindLeave:
		s.sessions.WithLabelValues("leave").Inc()
		s.subscribers.Dec()
	case progress.KindDriverStart:
		s.driversStarted.Inc()
		if s.tracker.start(evt.Topic) {
			s.driversRunning.Inc()
		}
	case progress.KindStep, progress.KindDriverDone:
		s.transitions.WithLabelValues(string(evt.Snapshot.State)).Inc()
		s.deliveries.Add(float64(evt.Viewers))
		if evt.Kind == progress.KindDriverDone {
			s.driversCompleted.Inc()
			if s.tracker.complete(evt.Topic) {
				s.driversRunning.Dec()
			}
		}
	case progress.KindDriverCanceled:
		if s.tracker.complete(evt.Topic) {
			s.driversRunning.Dec()
		}
	case progress.KindDeliveryFailed:
		s.deliveryFailures.Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(topic string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[topic]; ok {
		return false
	}
	t.running[topic] = struct{}{}
	return true
}

func (t *runTracker) complete(topic string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[topic]; !ok {
		return false
	}
	delete(t.running, topic)
	return true
}
