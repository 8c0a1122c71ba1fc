package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	shardtrace "github.com/zerofox-oss/go-shardtrace"
	"go.opentelemetry.io/otel"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRootInvokeHook(t *testing.T) {
	sr, tp := newRecorder(t)

	h := NewRootInvokeHook(WithTracerProvider(tp))
	ctx := h.Start(context.Background())

	assert.True(t, shardtrace.IsTrunk(ctx))
	m := shardtrace.DataMapFromContext(ctx)
	require.NotNil(t, m, "start creates the DataMap")

	c, ok := m.Continuation()
	require.True(t, ok)

	branch := shardtrace.Branch(ctx)
	fh := NewSQLExecutionHook(WithTracerProvider(tp))
	fh.Start(branch, "ds_0", "SELECT 1", nil, metadata)
	fh.FinishSuccess()

	h.Finish(2)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	fragment, root := spans[0], spans[1]

	assert.Equal(t, shardtrace.RootInvokeOperationName, root.Name())
	assert.Equal(t, c.SpanContext().SpanID(), root.SpanContext().SpanID())
	assert.Equal(t, "2", attributesOf(root.Attributes())["connection.count"])
	assert.Equal(t, root.SpanContext().SpanID(), fragment.Parent().SpanID())
}

func TestRootInvokeHook_LeavesEnclosingDataMapAlone(t *testing.T) {
	_, tp := newRecorder(t)

	outer, _ := startInvocation(t, tp)
	m := shardtrace.DataMapFromContext(outer)
	before, ok := m.Continuation()
	require.True(t, ok)

	ctx := NewRootInvokeHook(WithTracerProvider(tp)).Start(outer)

	after, ok := m.Continuation()
	require.True(t, ok)
	assert.Equal(t, before, after, "enclosing continuation must not be replaced")

	inner, ok := shardtrace.DataMapFromContext(ctx).Continuation()
	require.True(t, ok)
	assert.NotEqual(t, before.SpanContext().SpanID(), inner.SpanContext().SpanID())
}

func TestRootInvokeHook_FinishBeforeStartPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewRootInvokeHook().Finish(1)
	})
}

func TestRootHookFactory_UsesGlobalProvider(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(sr))

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		tp.Shutdown(context.Background())
	})

	h := RootHookFactory()()
	h.Start(context.Background())
	h.Finish(1)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, shardtrace.RootInvokeOperationName, spans[0].Name())
}
