package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestBuildWithoutProjectKeepsSpansLocal(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	p, err := build(ctx, Config{ServiceName: "offerwatch-test", Version: "dev"}, reg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, p.Shutdown(context.Background())) })

	require.NotNil(t, p.Tracer)
	require.NotNil(t, p.Meter)

	_, span := otel.Tracer("test").Start(ctx, "op")
	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.SpanContext().IsSampled())
	span.End()

	carrier := propagation.MapCarrier{}
	spanCtx, span2 := otel.Tracer("test").Start(ctx, "inject")
	otel.GetTextMapPropagator().Inject(spanCtx, carrier)
	span2.End()
	assert.NotEmpty(t, carrier.Get("traceparent"))
}

func TestBuildRecordsOtelMetricsInRegistry(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	p, err := build(ctx, Config{}, reg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, p.Shutdown(context.Background())) })

	counter, err := p.Meter.Meter("test").Int64Counter("offerwatch.test.events")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "offerwatch_test_events_total")
}

func TestProvidersShutdownNil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}
