package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expirybot/internal/dispatch"
	"expirybot/internal/eventbus"
	"expirybot/internal/task/engine"
)

func TestObserveDeliveries(t *testing.T) {
	m := New()
	m.Observe(eventbus.Event{Type: eventbus.DispatchSent, Data: dispatch.DeliveryEvent{Channel: dispatch.ChannelVendor, Attempts: 1, Latency: time.Second}})
	m.Observe(eventbus.Event{Type: eventbus.DispatchSent, Data: dispatch.DeliveryEvent{Channel: dispatch.ChannelVendor, Attempts: 2}})
	m.Observe(eventbus.Event{Type: eventbus.DispatchFailed, Data: dispatch.DeliveryEvent{Channel: dispatch.ChannelClient, Attempts: 3}})
	m.Observe(eventbus.Event{Type: eventbus.DispatchSkipped, Data: dispatch.DeliveryEvent{Channel: dispatch.ChannelClient, Reason: dispatch.ReasonDedup}})
	m.Observe(eventbus.Event{Type: eventbus.DispatchSent, Data: "not an event"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveries.WithLabelValues("vendor", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("client", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("client", "skipped")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.sendDuration))
}

func TestObserveRunsAndTasks(t *testing.T) {
	m := New()
	start := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	m.Observe(eventbus.Event{Type: eventbus.DispatchRunFinished, Data: dispatch.Summary{
		Channel: dispatch.ChannelVendor, Trigger: dispatch.TriggerSchedule, Sent: 7,
		StartedAt: start, FinishedAt: start.Add(time.Minute),
	}})
	m.Observe(eventbus.Event{Type: eventbus.TaskFinished, Data: engine.TaskEvent{Name: "vendor-alerts", Duration: time.Minute}})
	m.Observe(eventbus.Event{Type: eventbus.TaskSkipped, Data: engine.TaskEvent{Name: "vendor-alerts"}})
	m.Observe(eventbus.Event{Type: eventbus.DispatchInbound})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("vendor", "schedule")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.runLastSent.WithLabelValues("vendor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("vendor-alerts", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("vendor-alerts", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inbound))
}

func TestConsumeAndHandler(t *testing.T) {
	m := New()
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Consume(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.DispatchInbound})
		return testutil.ToFloat64(m.inbound) > 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), "expirybot_inbound_messages_total"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
