package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	before := otel.GetTracerProvider()
	shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	assert.Equal(t, before, otel.GetTracerProvider())
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	before := otel.GetTracerProvider()
	shutdown, err := Setup(context.Background(), Config{Enabled: true, ServiceVersion: "test", Output: &buf, Sync: true})
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "lifecycle.initialize")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"lifecycle.initialize"`)
	assert.Contains(t, buf.String(), "riskdeskd")
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestSetupRejectsNilContext(t *testing.T) {
	//nolint:staticcheck
	_, err := Setup(nil, Config{Enabled: true})
	assert.ErrorIs(t, err, ErrNilContext)
}
