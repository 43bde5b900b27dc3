// Package metrics exposes Prometheus collectors fed from the event bus.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"expirybot/internal/dispatch"
	"expirybot/internal/eventbus"
	"expirybot/internal/task/engine"
)

const namespace = "expirybot"

// Metrics owns a registry so tests and multiple instances never collide on
// the global default.
type Metrics struct {
	reg *prometheus.Registry

	deliveries   *prometheus.CounterVec
	sendDuration *prometheus.HistogramVec
	sendAttempts *prometheus.HistogramVec
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runLastSent  *prometheus.GaugeVec
	inbound      prometheus.Counter
	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Message parts and recipients by channel and outcome.",
		}, []string{"channel", "outcome"}),
		sendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Gateway send latency including retries.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"channel"}),
		sendAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_attempts",
			Help:      "Gateway attempts per delivered part.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}, []string{"channel"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished dispatch runs by channel and trigger.",
		}, []string{"channel", "trigger"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of dispatch runs.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"channel"}),
		runLastSent: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_last_sent",
			Help:      "Parts sent by the most recent run.",
		}, []string{"channel"}),
		inbound: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Accepted inbound messages.",
		}),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Task engine outcomes.",
		}, []string{"task", "result"}),
		taskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task engine execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 9),
		}, []string{"task"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Consume applies bus events until ctx is done.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) error {
	dropped := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "eventbus_dropped_total",
		Help:      "Events not delivered to a full subscriber.",
	}, func() float64 { return float64(bus.Dropped()) })
	if err := m.reg.Register(dropped); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return err
		}
	}

	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

// Observe applies one event.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.DispatchSent, eventbus.DispatchFailed, eventbus.DispatchSkipped, eventbus.DispatchAborted:
		ev, ok := e.Data.(dispatch.DeliveryEvent)
		if !ok {
			return
		}
		ch := string(ev.Channel)
		m.deliveries.WithLabelValues(ch, outcome(e.Type)).Inc()
		if e.Type == eventbus.DispatchSent || e.Type == eventbus.DispatchFailed {
			m.sendDuration.WithLabelValues(ch).Observe(ev.Latency.Seconds())
			if ev.Attempts > 0 {
				m.sendAttempts.WithLabelValues(ch).Observe(float64(ev.Attempts))
			}
		}
	case eventbus.DispatchRunFinished:
		s, ok := e.Data.(dispatch.Summary)
		if !ok {
			return
		}
		ch := string(s.Channel)
		m.runs.WithLabelValues(ch, string(s.Trigger)).Inc()
		m.runDuration.WithLabelValues(ch).Observe(s.Duration().Seconds())
		m.runLastSent.WithLabelValues(ch).Set(float64(s.Sent))
	case eventbus.DispatchInbound:
		m.inbound.Inc()
	case eventbus.TaskFinished, eventbus.TaskFailed, eventbus.TaskSkipped:
		ev, ok := e.Data.(engine.TaskEvent)
		if !ok {
			return
		}
		m.tasks.WithLabelValues(ev.Name, outcome(e.Type)).Inc()
		if e.Type != eventbus.TaskSkipped {
			m.taskDuration.WithLabelValues(ev.Name).Observe(ev.Duration.Seconds())
		}
	}
}

func outcome(typ string) string {
	switch typ {
	case eventbus.DispatchSent:
		return "sent"
	case eventbus.DispatchFailed, eventbus.TaskFailed:
		return "failed"
	case eventbus.DispatchSkipped, eventbus.TaskSkipped:
		return "skipped"
	case eventbus.DispatchAborted:
		return "aborted"
	default:
		return "ok"
	}
}
