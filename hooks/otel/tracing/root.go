package tracing

import (
	"context"

	shardtrace "github.com/zerofox-oss/go-shardtrace"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RootInvokeHook traces a whole statement invocation. Fragment spans
// started on branches of the invocation nest under its span.
type RootInvokeHook struct {
	tracer       trace.Tracer
	startOptions []trace.SpanStartOption

	span trace.Span
}

// NewRootInvokeHook returns a hook ready for Start.
func NewRootInvokeHook(opts ...Option) *RootInvokeHook {
	options := newOptions(opts)
	return &RootInvokeHook{
		tracer:       options.tracer(),
		startOptions: options.StartOptions,
	}
}

// RootHookFactory returns a factory building a new RootInvokeHook per
// invocation.
func RootHookFactory(opts ...Option) func() shardtrace.RootInvokeHook {
	return func() shardtrace.RootInvokeHook {
		return NewRootInvokeHook(opts...)
	}
}

// Start starts the root span and hands its continuation to branches
// through a new DataMap; a DataMap already in ctx belongs to an enclosing
// invocation and is left untouched. The returned context is the trunk's
// task context.
func (h *RootInvokeHook) Start(ctx context.Context) context.Context {
	ctx = shardtrace.WithDataMap(ctx, shardtrace.DataMap{})

	opts := append([]trace.SpanStartOption{
		trace.WithAttributes(attribute.String(shardtrace.TagComponent, shardtrace.ComponentName)),
	}, h.startOptions...)

	ctx, h.span = h.tracer.Start(ctx, shardtrace.RootInvokeOperationName, opts...)
	ctx = shardtrace.Trunk(ctx)
	shardtrace.StoreContinuation(ctx)
	return ctx
}

// Finish records how many connections the invocation used and ends the
// root span.
func (h *RootInvokeHook) Finish(connectionCount int) {
	if h.span == nil {
		panic("tracing: finish called before start")
	}
	h.span.SetAttributes(attribute.Int(shardtrace.TagConnectionCount, connectionCount))
	h.span.End()
}
