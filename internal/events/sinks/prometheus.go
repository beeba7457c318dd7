package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/djmorgan26/up2d8/internal/events"
)

// PrometheusSink exports pipeline metrics. It owns the collectors for task
// and digest outcomes plus engagement totals.
type PrometheusSink struct {
	tasksCompleted  *prometheus.CounterVec
	runsCompleted   prometheus.Counter
	runDuration     prometheus.Histogram
	digestOutcomes  *prometheus.CounterVec
	deliveryLatency prometheus.Histogram
	engagement      *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "up2d8_crawl_tasks_total",
			Help: "Crawl task completions partitioned by result.",
		}, []string{"result"}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "up2d8_crawl_runs_completed_total",
			Help: "Total crawl runs that reached a terminal state.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "up2d8_crawl_run_duration_seconds",
			Help:    "Wall time per completed crawl run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		digestOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "up2d8_digest_users_total",
			Help: "Digest user outcomes partitioned by result.",
		}, []string{"result"}),
		deliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "up2d8_delivery_duration_seconds",
			Help:    "Time spent delivering one digest email.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		engagement: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "up2d8_engagement_events_total",
			Help: "Feedback and click events partitioned by kind.",
		}, []string{"kind"}),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksCompleted,
		s.runsCompleted,
		s.runDuration,
		s.digestOutcomes,
		s.deliveryLatency,
		s.engagement,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt events.Event) {
	switch evt.Kind {
	case events.KindTaskDone:
		s.tasksCompleted.WithLabelValues("done").Inc()
	case events.KindTaskFailed:
		s.tasksCompleted.WithLabelValues("failed").Inc()
	case events.KindRunDone:
		s.runsCompleted.Inc()
		if evt.Dur > 0 {
			s.runDuration.Observe(evt.Dur.Seconds())
		}
	case events.KindDigestSent:
		s.digestOutcomes.WithLabelValues("sent").Inc()
		if evt.Dur > 0 {
			s.deliveryLatency.Observe(evt.Dur.Seconds())
		}
	case events.KindDigestSkipped:
		s.digestOutcomes.WithLabelValues("skipped").Inc()
	case events.KindDeliveryFailed:
		s.digestOutcomes.WithLabelValues("failed").Inc()
	case events.KindFeedback:
		s.engagement.WithLabelValues("feedback_" + string(evt.Feedback)).Inc()
	case events.KindClick:
		s.engagement.WithLabelValues("click").Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
