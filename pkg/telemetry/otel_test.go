package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupProvider_NoEndpoint(t *testing.T) {
	before := otel.GetTracerProvider()

	provider, err := SetupProvider(t.Context(), Config{ServiceName: "secureclient-test"})
	require.NoError(t, err)

	assert.False(t, provider.Enabled())
	assert.NoError(t, provider.Shutdown(t.Context()))
	assert.Equal(t, before, otel.GetTracerProvider(), "global provider must be left alone")

	_, span := provider.Tracer("test").Start(t.Context(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestNewResource(t *testing.T) {
	res, err := newResource(t.Context(), Config{
		ServiceVersion: "1.2.3",
		ResourceTags:   map[string]string{"deployment.environment": "test"},
	})
	require.NoError(t, err)

	values := map[string]string{}
	for _, kv := range res.Attributes() {
		values[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "secureclient", values["service.name"])
	assert.Equal(t, "1.2.3", values["service.version"])
	assert.Equal(t, "test", values["deployment.environment"])
}
