package shardtrace

import (
	"context"
	"errors"

	"go.opencensus.io/trace/propagation"
	ocbridge "go.opentelemetry.io/otel/bridge/opencensus"
	"go.opentelemetry.io/otel/trace"
)

// ErrInvalidContinuation is returned when a serialized continuation cannot
// be decoded into a valid span context.
var ErrInvalidContinuation = errors.New("shardtrace: invalid continuation")

// A Continuation is a snapshot of the span context that was active on the
// trunk when the invocation fanned out. Branches activate it to nest their
// fragment spans under the trunk's span.
//
// A Continuation is an immutable value; activating it any number of times,
// from any number of goroutines, never consumes it.
type Continuation struct {
	sc trace.SpanContext
}

// CaptureContinuation snapshots the span context active in ctx. It reports
// false when ctx carries no valid span context.
func CaptureContinuation(ctx context.Context) (Continuation, bool) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return Continuation{}, false
	}
	return Continuation{sc: sc}, true
}

// StoreContinuation captures the span context active in ctx into the
// invocation's DataMap under RootSpanContinuation. It reports whether a
// continuation was stored.
func StoreContinuation(ctx context.Context) bool {
	m := DataMapFromContext(ctx)
	if m == nil {
		return false
	}
	c, ok := CaptureContinuation(ctx)
	if !ok {
		return false
	}
	m.Set(RootSpanContinuation, c)
	return true
}

// SpanContext returns the captured span context.
func (c Continuation) SpanContext() trace.SpanContext {
	return c.sc
}

// Activate returns a new Scope whose context makes the captured span
// context the current parent on top of ctx.
func (c Continuation) Activate(ctx context.Context) *Scope {
	return &Scope{ctx: trace.ContextWithSpanContext(ctx, c.sc)}
}

// MarshalBinary encodes the continuation in the OpenCensus binary
// propagation format. Trace state is not carried.
func (c Continuation) MarshalBinary() ([]byte, error) {
	if !c.sc.IsValid() {
		return nil, ErrInvalidContinuation
	}
	return propagation.Binary(ocbridge.OTelSpanContextToOC(c.sc)), nil
}

// UnmarshalContinuation decodes a continuation produced by MarshalBinary.
func UnmarshalContinuation(b []byte) (Continuation, error) {
	ocsc, ok := propagation.FromBinary(b)
	if !ok {
		return Continuation{}, ErrInvalidContinuation
	}
	sc := ocbridge.OCSpanContextToOTel(ocsc)
	if !sc.IsValid() {
		return Continuation{}, ErrInvalidContinuation
	}
	return Continuation{sc: sc}, nil
}

// A Scope is one goroutine's activation of a Continuation. It must be
// deactivated exactly once, by the goroutine that activated it.
type Scope struct {
	ctx         context.Context
	deactivated bool
}

// Context returns the context in which the continuation is active.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Deactivate releases the scope. Deactivating twice panics.
func (s *Scope) Deactivate() {
	if s.deactivated {
		panic("shardtrace: scope deactivated twice")
	}
	s.deactivated = true
}

// Deactivated reports whether Deactivate was called.
func (s *Scope) Deactivated() bool {
	return s.deactivated
}

// ActiveSpan is a task's active-span cell. Each task context created by
// Trunk or Branch owns a fresh cell that only that task's goroutine
// touches, so no locking is done.
type ActiveSpan struct {
	scope *Scope
}

// Set installs s as the task's active scope.
func (a *ActiveSpan) Set(s *Scope) {
	a.scope = s
}

// Get returns the task's active scope, or nil.
func (a *ActiveSpan) Get() *Scope {
	return a.scope
}

// Remove clears the cell.
func (a *ActiveSpan) Remove() {
	a.scope = nil
}

type role int

const (
	roleTrunk role = iota + 1
	roleBranch
)

type task struct {
	role   role
	active *ActiveSpan
}

type taskKey struct{}

// Trunk returns a task context for work running inline on the goroutine
// that received the statement.
func Trunk(ctx context.Context) context.Context {
	return context.WithValue(ctx, taskKey{}, &task{role: roleTrunk, active: &ActiveSpan{}})
}

// Branch returns a task context for work dispatched to a pooled worker.
// Every call yields a new, empty ActiveSpan cell.
func Branch(ctx context.Context) context.Context {
	return context.WithValue(ctx, taskKey{}, &task{role: roleBranch, active: &ActiveSpan{}})
}

// IsTrunk reports whether ctx belongs to the trunk of its invocation. A
// context created by neither Trunk nor Branch never fanned out and counts
// as trunk.
func IsTrunk(ctx context.Context) bool {
	t, ok := ctx.Value(taskKey{}).(*task)
	return !ok || t.role != roleBranch
}

// GetActiveSpan returns the active-span cell of the task ctx belongs to,
// or nil when ctx was created by neither Trunk nor Branch.
func GetActiveSpan(ctx context.Context) *ActiveSpan {
	t, ok := ctx.Value(taskKey{}).(*task)
	if !ok {
		return nil
	}
	return t.active
}
