package tracing

import (
	"context"

	shardtrace "github.com/zerofox-oss/go-shardtrace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/zerofox-oss/go-shardtrace/hooks/otel/tracing"

type Options struct {
	TracerProvider trace.TracerProvider
	StartOptions   []trace.SpanStartOption
}

type Option func(*Options)

// WithTracerProvider makes the hooks use tp instead of the global
// TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

// WithStartOption adds a start option to every span the hooks build.
func WithStartOption(so trace.SpanStartOption) Option {
	return func(o *Options) {
		o.StartOptions = append(o.StartOptions, so)
	}
}

func newOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// tracer resolves the global provider on each call so hooks follow
// otel.SetTracerProvider.
func (o *Options) tracer() trace.Tracer {
	if o.TracerProvider != nil {
		return o.TracerProvider.Tracer(instrumentationName)
	}
	return otel.GetTracerProvider().Tracer(instrumentationName)
}

// SQLExecutionHook traces a single SQL fragment with an OpenTelemetry span.
// A hook must not be reused; create one per fragment, for example through
// HookFactory.
type SQLExecutionHook struct {
	tracer       trace.Tracer
	startOptions []trace.SpanStartOption

	// isTrunk is decided once in Start so teardown
	// agrees with what Start activated
	isTrunk bool

	span     trace.Span
	finished bool

	active *shardtrace.ActiveSpan
	scope  *shardtrace.Scope
	prev   *shardtrace.Scope
}

// NewSQLExecutionHook returns a hook ready for Start.
func NewSQLExecutionHook(opts ...Option) *SQLExecutionHook {
	options := newOptions(opts)
	return &SQLExecutionHook{
		tracer:       options.tracer(),
		startOptions: options.StartOptions,
	}
}

// HookFactory returns a factory building a new SQLExecutionHook per fragment.
func HookFactory(opts ...Option) shardtrace.SQLExecutionHookFactory {
	options := newOptions(opts)
	t := options.tracer()
	return func() shardtrace.SQLExecutionHook {
		return &SQLExecutionHook{
			tracer:       t,
			startOptions: options.StartOptions,
		}
	}
}

// Start builds the fragment span. On a branch, the root span continuation
// found in the invocation's DataMap is activated first so the span nests
// under the trunk's span; a branch without a continuation gets a new root
// span.
func (h *SQLExecutionHook) Start(
	ctx context.Context,
	dataSourceName, sql string,
	parameters []any,
	metadata shardtrace.DataSourceMetadata,
) context.Context {
	h.isTrunk = shardtrace.IsTrunk(ctx)

	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(executionAttributes(dataSourceName, sql, parameters, metadata)...),
	}

	parent := ctx
	if !h.isTrunk {
		if c, ok := shardtrace.DataMapFromContext(ctx).Continuation(); ok {
			h.activate(ctx, c)
			parent = h.scope.Context()
		} else {
			opts = append(opts, trace.WithNewRoot())
		}
	}
	opts = append(opts, h.startOptions...)

	ctx, h.span = h.tracer.Start(parent, shardtrace.ExecuteSQLOperationName, opts...)
	return ctx
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
	h.deactivateSpan()
}

// deactivateSpan releases only the scope this hook activated.
func (h *SQLExecutionHook) deactivateSpan() {
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

func executionAttributes(dataSourceName, sql string, parameters []any, metadata shardtrace.DataSourceMetadata) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(shardtrace.TagComponent, shardtrace.ComponentName),
		attribute.String(shardtrace.TagSpanKind, shardtrace.SpanKindClient),
		attribute.String(shardtrace.TagPeerHostname, metadata.HostName),
		attribute.Int(shardtrace.TagPeerPort, metadata.Port),
		attribute.String(shardtrace.TagDBType, shardtrace.DBTypeSQL),
		attribute.String(shardtrace.TagDBInstance, dataSourceName),
		attribute.String(shardtrace.TagDBStatement, sql),
		attribute.String(shardtrace.TagDBBindVariables, shardtrace.RenderParameters(parameters)),
	}
}
