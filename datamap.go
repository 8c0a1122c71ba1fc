package shardtrace

import "context"

// RootSpanContinuation is the DataMap key under which the trunk stores the
// root span's Continuation before fanning out.
const RootSpanContinuation = "ROOT_SPAN_CONTINUATION"

// DataMap holds per-invocation values shared between the trunk and every
// branch of one logical statement execution.
//
// The trunk writes before dispatching branches; branches only read. A
// DataMap must not be written once branches are running.
type DataMap map[string]any

// Get returns the value stored under key, or nil.
func (m DataMap) Get(key string) any {
	return m[key]
}

// Set stores value under key.
func (m DataMap) Set(key string, value any) {
	m[key] = value
}

// Has reports whether key is present.
func (m DataMap) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Continuation returns the root span continuation, if the trunk stored one.
func (m DataMap) Continuation() (Continuation, bool) {
	c, ok := m[RootSpanContinuation].(Continuation)
	return c, ok
}

type dataMapKey struct{}

// WithDataMap returns a copy of ctx carrying m.
func WithDataMap(ctx context.Context, m DataMap) context.Context {
	return context.WithValue(ctx, dataMapKey{}, m)
}

// DataMapFromContext returns the DataMap carried by ctx, or nil.
func DataMapFromContext(ctx context.Context) DataMap {
	m, _ := ctx.Value(dataMapKey{}).(DataMap)
	return m
}
