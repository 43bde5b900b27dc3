package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	logx "expirybot/pkg/logx"
)

func TestDisabledIsNoop(t *testing.T) {
	p, err := Setup(context.Background(), Config{}, logx.Nop())
	require.NoError(t, err)
	_, span := p.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestProviderRecordsSpansWithServiceName(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := newProvider(Config{ServiceName: "expirybot-test", Version: "1.2.3"}, sdktrace.WithSpanProcessor(rec))
	p := &Provider{tp: tp}

	_, span := p.Tracer("dispatch").Start(context.Background(), "dispatch.run")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "dispatch.run", ended[0].Name())
	v, ok := ended[0].Resource().Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "expirybot-test", v.AsString())
}

func TestRatioBounds(t *testing.T) {
	assert.Equal(t, 1.0, ratio(Config{}))
	assert.Equal(t, 1.0, ratio(Config{SampleRatio: 3}))
	assert.Equal(t, 0.25, ratio(Config{SampleRatio: 0.25}))
}
