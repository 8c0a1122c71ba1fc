package tracing

import (
	"fmt"

	shardtrace "github.com/zerofox-oss/go-shardtrace"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks span as failed: the error tag is set, the status becomes
// codes.Error and err is recorded as an event with its kind, message and
// the current stack.
func SetError(span trace.Span, err error) {
	span.SetAttributes(attribute.Bool(shardtrace.TagError, true))
	span.RecordError(err,
		trace.WithStackTrace(true),
		trace.WithAttributes(
			attribute.String(shardtrace.LogEvent, shardtrace.LogEventError),
			attribute.String(shardtrace.LogErrorKind, fmt.Sprintf("%T", err)),
			attribute.String(shardtrace.LogMessage, err.Error()),
		),
	)
	span.SetStatus(codes.Error, err.Error())
}
