// Tracing provides SQL execution hooks for services instrumented with
// OpenCensus.
//
// How it works
//
// The root invocation span of a statement is usually started with
// OpenTelemetry (see hooks/otel/tracing), which stores a
// shardtrace.Continuation in the invocation's DataMap. The OpenCensus
// SQLExecutionHook converts that continuation with the OpenTelemetry
// OpenCensus bridge and starts its fragment span as a child of it, so both
// instrumentations land in the same trace. The context returned by Start
// carries the OpenCensus span and its OpenTelemetry span context, so code
// further down nests under the fragment span whichever API it uses.
//
// Examples
//
// Using the hook with the executor:
//
//	func ExampleHookFactory() {
//		engine, _ := executor.NewEngine(8,
//			executor.WithRootHook(oteltracing.RootHookFactory()),
//			executor.WithHooks(tracing.HookFactory(
//				tracing.WithStartOption(trace.StartOptions{Sampler: trace.AlwaysSample()}),
//			)),
//		)
//		// use engine as you would without tracing
//	}
//
package tracing
