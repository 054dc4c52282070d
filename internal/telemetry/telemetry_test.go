package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/corpora/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{}, nil)
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_RejectsInsecureRemote(t *testing.T) {
	_, err := New(context.Background(), config.TelemetryConfig{
		Enabled:  true,
		Endpoint: "collector.example.com:4317",
		Insecure: true,
	}, nil)
	assert.ErrorIs(t, err, ErrInsecureRemote)
}

func TestNew_TracesOnlyLocalCollector(t *testing.T) {
	for _, protocol := range []string{protocolGRPC, protocolHTTP} {
		t.Run(protocol, func(t *testing.T) {
			prev := otel.GetTracerProvider()
			t.Cleanup(func() { otel.SetTracerProvider(prev) })

			tel, err := New(context.Background(), config.TelemetryConfig{
				Enabled:        true,
				Endpoint:       "localhost:4317",
				Protocol:       protocol,
				Insecure:       true,
				ServiceName:    "corpora",
				ServiceVersion: "test",
				SampleRate:     1,
			}, nil)
			require.NoError(t, err)
			assert.True(t, tel.IsEnabled())
			assert.False(t, tel.Health().Degraded)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = tel.Shutdown(ctx)
			assert.False(t, tel.IsEnabled())
		})
	}
}

func TestNew_UnknownProtocolDegrades(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{
		Enabled:  true,
		Endpoint: "localhost:4317",
		Protocol: "carrier-pigeon",
		Insecure: true,
	}, nil)
	require.NoError(t, err)
	assert.True(t, tel.Health().Degraded)
	assert.NotNil(t, tel.Tracer("test"))
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry
	assert.NotPanics(t, func() {
		_ = tel.Tracer("test")
		_ = tel.Meter("test")
		_ = tel.IsEnabled()
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background())
	})
	assert.Equal(t, HealthStatus{Degraded: true}, tel.Health())
}

func TestIsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"localhost:4317", true},
		{"127.0.0.1:4317", true},
		{"http://localhost:4318", true},
		{"[::1]:4317", true},
		{"::1", true},
		{"otel.internal:4317", false},
		{"https://collector.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, isLocalEndpoint(tt.endpoint))
		})
	}
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}

func TestTestTelemetry_RecordsGlobalSpans(t *testing.T) {
	tt := NewTestTelemetry()
	tt.Install(t)

	_, span := otel.Tracer("corpora.test").Start(context.Background(), "Collection.Query")
	span.SetAttributes(attribute.String("collection", "wells"), attribute.Int("k", 5))
	span.End()

	tt.AssertSpanExists(t, "Collection.Query")
	tt.AssertSpanAttribute(t, "Collection.Query", "collection", "wells")
	tt.AssertSpanAttribute(t, "Collection.Query", "k", int64(5))
	assert.Nil(t, tt.SpanByName("missing"))
}

func TestTestTelemetry_CollectsMetrics(t *testing.T) {
	tt := NewTestTelemetry()
	counter, err := tt.Meter("corpora.test").Int64Counter("corpora.test.events")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	rm, err := tt.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, "corpora.test.events", rm.ScopeMetrics[0].Metrics[0].Name)
}
