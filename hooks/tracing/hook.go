package tracing

import (
	"context"

	shardtrace "github.com/zerofox-oss/go-shardtrace"
	"go.opencensus.io/trace"
	ocbridge "go.opentelemetry.io/otel/bridge/opencensus"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type Options struct {
	StartOptions trace.StartOptions
}

type Option func(*Options)

func WithStartOption(so trace.StartOptions) Option {
	return func(o *Options) {
		o.StartOptions = so
	}
}

// HookFactory returns a factory building a new SQLExecutionHook per fragment.
func HookFactory(opts ...Option) shardtrace.SQLExecutionHookFactory {
	options := &Options{
		StartOptions: trace.StartOptions{},
	}

	for _, opt := range opts {
		opt(options)
	}

	return func() shardtrace.SQLExecutionHook {
		return &SQLExecutionHook{options: options}
	}
}

// SQLExecutionHook traces a single SQL fragment with an OpenCensus span.
type SQLExecutionHook struct {
	options *Options

	isTrunk bool

	span     *trace.Span
	finished bool

	active *shardtrace.ActiveSpan
	scope  *shardtrace.Scope
	prev   *shardtrace.Scope
}

// Start builds the fragment span.
//
// On a branch the root span continuation is activated and used as the
// remote parent. On the trunk the parent is the OpenCensus span in ctx, or
// failing that the OpenTelemetry span context in ctx.
func (h *SQLExecutionHook) Start(
	ctx context.Context,
	dataSourceName, sql string,
	parameters []any,
	metadata shardtrace.DataSourceMetadata,
) context.Context {
	h.isTrunk = shardtrace.IsTrunk(ctx)

	startOptions := []trace.StartOption{
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithSampler(h.options.StartOptions.Sampler),
	}

	if !h.isTrunk {
		// an empty parent starts a new trace
		parent := trace.SpanContext{}
		if c, ok := shardtrace.DataMapFromContext(ctx).Continuation(); ok {
			h.activate(ctx, c)
			ctx = h.scope.Context()
			parent = ocbridge.OTelSpanContextToOC(c.SpanContext())
		}
		ctx, h.span = trace.StartSpanWithRemoteParent(ctx, shardtrace.ExecuteSQLOperationName, parent, startOptions...)
	} else {
		ctx, h.span = startTrunkSpan(ctx, startOptions)
	}

	h.span.AddAttributes(executionAttributes(dataSourceName, sql, parameters, metadata)...)

	return oteltrace.ContextWithSpanContext(ctx, ocbridge.OCSpanContextToOTel(h.span.SpanContext()))
}

func startTrunkSpan(ctx context.Context, startOptions []trace.StartOption) (context.Context, *trace.Span) {
	if trace.FromContext(ctx) != nil {
		return trace.StartSpan(ctx, shardtrace.ExecuteSQLOperationName, startOptions...)
	}

	sc := oteltrace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		return trace.StartSpanWithRemoteParent(ctx, shardtrace.ExecuteSQLOperationName, ocbridge.OTelSpanContextToOC(sc), startOptions...)
	}

	return trace.StartSpan(ctx, shardtrace.ExecuteSQLOperationName, startOptions...)
}

// FinishSuccess ends the span.
func (h *SQLExecutionHook) FinishSuccess() {
	h.mustBeRunning()
	h.finish()
}

// FinishFailure marks the span as failed with cause and ends it.
func (h *SQLExecutionHook) FinishFailure(cause error) {
	h.mustBeRunning()
	SetError(h.span, cause)
	h.finish()
}

func (h *SQLExecutionHook) activate(ctx context.Context, c shardtrace.Continuation) {
	h.active = shardtrace.GetActiveSpan(ctx)
	h.scope = c.Activate(ctx)
	h.prev = h.active.Get()
	h.active.Set(h.scope)
}

func (h *SQLExecutionHook) mustBeRunning() {
	if h.span == nil {
		panic("tracing: finish called before start")
	}
	if h.finished {
		panic("tracing: span finished twice")
	}
}

func (h *SQLExecutionHook) finish() {
	h.finished = true
	h.span.End()

	if h.isTrunk || h.scope == nil {
		return
	}
	h.scope.Deactivate()
	if h.prev != nil {
		h.active.Set(h.prev)
		return
	}
	h.active.Remove()
}

func executionAttributes(dataSourceName, sql string, parameters []any, metadata shardtrace.DataSourceMetadata) []trace.Attribute {
	return []trace.Attribute{
		trace.StringAttribute(shardtrace.TagComponent, shardtrace.ComponentName),
		trace.StringAttribute(shardtrace.TagSpanKind, shardtrace.SpanKindClient),
		trace.StringAttribute(shardtrace.TagPeerHostname, metadata.HostName),
		trace.Int64Attribute(shardtrace.TagPeerPort, int64(metadata.Port)),
		trace.StringAttribute(shardtrace.TagDBType, shardtrace.DBTypeSQL),
		trace.StringAttribute(shardtrace.TagDBInstance, dataSourceName),
		trace.StringAttribute(shardtrace.TagDBStatement, sql),
		trace.StringAttribute(shardtrace.TagDBBindVariables, shardtrace.RenderParameters(parameters)),
	}
}
