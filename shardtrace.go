package shardtrace

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ComponentName identifies spans produced by this module.
const ComponentName = "Sharding-Sphere"

// Operation names of the spans built by the hooks.
const (
	ExecuteSQLOperationName = "/" + ComponentName + "/executeSQL/"
	RootInvokeOperationName = "/" + ComponentName + "/rootInvoke/"
)

// Tag keys set on execution spans.
const (
	TagComponent       = "component"
	TagSpanKind        = "span.kind"
	TagPeerHostname    = "peer.hostname"
	TagPeerPort        = "peer.port"
	TagDBType          = "db.type"
	TagDBInstance      = "db.instance"
	TagDBStatement     = "db.statement"
	TagDBBindVariables = "db.bind_vars"
	TagConnectionCount = "connection.count"
	TagError           = "error"

	SpanKindClient = "client"
	DBTypeSQL      = "sql"
)

// Log keys attached to a span when a fragment fails.
const (
	LogEvent     = "event"
	LogErrorKind = "error.kind"
	LogMessage   = "message"
	LogStack     = "stack"

	LogEventError = "error"
)

// ErrInvalidDataSourceURL is returned when a data source URL cannot be parsed.
var ErrInvalidDataSourceURL = errors.New("shardtrace: invalid data source url")

// DataSourceMetadata describes the physical data source a fragment runs on.
type DataSourceMetadata struct {
	HostName string
	Port     int
}

// A SQLExecutionHook traces one SQL fragment execution.
//
// The execution engine calls Start once, then exactly one of FinishSuccess
// or FinishFailure, from the same goroutine. Calling a finish method
// without Start, or finishing twice, panics.
type SQLExecutionHook interface {
	// Start builds and starts the fragment span. The returned context
	// carries the span and should be used for the fragment's work.
	Start(ctx context.Context, dataSourceName, sql string, parameters []any, metadata DataSourceMetadata) context.Context

	// FinishSuccess ends the span and releases any context Start activated.
	FinishSuccess()

	// FinishFailure annotates the span with cause, then behaves like
	// FinishSuccess.
	FinishFailure(cause error)
}

// SQLExecutionHookFactory creates a fresh hook per fragment execution.
type SQLExecutionHookFactory func() SQLExecutionHook

// A RootInvokeHook traces one logical statement invocation. Its span is
// the parent of every fragment span of that invocation.
type RootInvokeHook interface {
	// Start starts the root span, marks ctx as the trunk of the invocation
	// and stores the root span's continuation in the invocation's DataMap.
	Start(ctx context.Context) context.Context

	// Finish ends the root span.
	Finish(connectionCount int)
}

// RenderParameters renders bound parameters for the db.bind_vars tag.
// An empty list renders as the empty string; otherwise every element's
// default format is joined with a comma, in order.
func RenderParameters(parameters []any) string {
	if len(parameters) == 0 {
		return ""
	}
	parts := make([]string, len(parameters))
	for i, p := range parameters {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ",")
}

// Hooks combines several hook implementations into one factory. Every hook
// sees the same calls in the order given; each Start receives the context
// returned by the previous one.
func Hooks(factories ...SQLExecutionHookFactory) SQLExecutionHookFactory {
	return func() SQLExecutionHook {
		hooks := make(multiHook, len(factories))
		for i, f := range factories {
			hooks[i] = f()
		}
		return hooks
	}
}

type multiHook []SQLExecutionHook

func (m multiHook) Start(ctx context.Context, dataSourceName, sql string, parameters []any, metadata DataSourceMetadata) context.Context {
	for _, h := range m {
		ctx = h.Start(ctx, dataSourceName, sql, parameters, metadata)
	}
	return ctx
}

// finish methods run in reverse so nested activations unwind in order.
func (m multiHook) FinishSuccess() {
	for i := len(m) - 1; i >= 0; i-- {
		m[i].FinishSuccess()
	}
}

func (m multiHook) FinishFailure(cause error) {
	for i := len(m) - 1; i >= 0; i-- {
		m[i].FinishFailure(cause)
	}
}
