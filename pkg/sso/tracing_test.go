package sso

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestReconcileRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	logger, hook := test.NewNullLogger()
	engine := NewEngine(newFakeDirectory(existingJane()), logger)

	_, outcome, err := engine.Reconcile(context.Background(), janeIdentity(), ProvisioningPolicy{}, testTenant)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMatched, outcome)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "sso.Reconcile", span.Name())
	assert.Contains(t, span.Attributes(), attribute.String("websso.login", "jdoe1"))
	assert.Contains(t, span.Attributes(), attribute.String("websso.outcome", string(OutcomeMatched)))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, span.SpanContext().TraceID().String(), entry.Data["trace_id"])
}
