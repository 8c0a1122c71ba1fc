package tracing

import (
	"fmt"
	"runtime/debug"

	shardtrace "github.com/zerofox-oss/go-shardtrace"
	"go.opencensus.io/trace"
)

// SetError sets the error attribute on span, annotates it with the
// failure's kind, message and stack, and sets an UNKNOWN status.
func SetError(span *trace.Span, err error) {
	span.AddAttributes(trace.BoolAttribute(shardtrace.TagError, true))
	span.Annotate([]trace.Attribute{
		trace.StringAttribute(shardtrace.LogEvent, shardtrace.LogEventError),
		trace.StringAttribute(shardtrace.LogErrorKind, fmt.Sprintf("%T", err)),
		trace.StringAttribute(shardtrace.LogMessage, err.Error()),
		trace.StringAttribute(shardtrace.LogStack, string(debug.Stack())),
	}, err.Error())
	span.SetStatus(trace.Status{
		Code:    trace.StatusCodeUnknown,
		Message: err.Error(),
	})
}
