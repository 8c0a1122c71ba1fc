package shardtrace_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	shardtrace "github.com/zerofox-oss/go-shardtrace"
	"go.opentelemetry.io/otel/trace"
	"pgregory.net/rapid"
)

func makeSpanContext() trace.SpanContext {
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x0a, 0x0b, 0x0c, 0x0d, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
}

func TestIsTrunk(t *testing.T) {
	ctx := context.Background()
	assert.True(t, shardtrace.IsTrunk(ctx), "a context that never fanned out is the trunk")
	assert.Nil(t, shardtrace.GetActiveSpan(ctx))

	trunk := shardtrace.Trunk(ctx)
	assert.True(t, shardtrace.IsTrunk(trunk))
	assert.NotNil(t, shardtrace.GetActiveSpan(trunk))

	branch := shardtrace.Branch(trunk)
	assert.False(t, shardtrace.IsTrunk(branch))
	assert.NotSame(t, shardtrace.GetActiveSpan(trunk), shardtrace.GetActiveSpan(branch))
}

func TestCaptureContinuation(t *testing.T) {
	_, ok := shardtrace.CaptureContinuation(context.Background())
	assert.False(t, ok)

	sc := makeSpanContext()
	c, ok := shardtrace.CaptureContinuation(trace.ContextWithSpanContext(context.Background(), sc))
	require.True(t, ok)
	assert.Equal(t, sc, c.SpanContext())
}

func TestStoreContinuation(t *testing.T) {
	sc := makeSpanContext()
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	assert.False(t, shardtrace.StoreContinuation(ctx), "no DataMap to store into")

	m := shardtrace.DataMap{}
	assert.True(t, shardtrace.StoreContinuation(shardtrace.WithDataMap(ctx, m)))

	c, ok := m.Continuation()
	require.True(t, ok)
	assert.Equal(t, sc, c.SpanContext())

	assert.False(t, shardtrace.StoreContinuation(shardtrace.WithDataMap(context.Background(), shardtrace.DataMap{})))
}

func TestScope_DeactivateTwicePanics(t *testing.T) {
	c, _ := shardtrace.CaptureContinuation(trace.ContextWithSpanContext(context.Background(), makeSpanContext()))
	s := c.Activate(context.Background())

	assert.False(t, s.Deactivated())
	s.Deactivate()
	assert.True(t, s.Deactivated())
	assert.Panics(t, s.Deactivate)
}

// Activating a continuation on several branches never consumes it and
// never touches another branch's cell.
func TestContinuation_ActivateOnManyBranches(t *testing.T) {
	sc := makeSpanContext()
	c, _ := shardtrace.CaptureContinuation(trace.ContextWithSpanContext(context.Background(), sc))

	m := shardtrace.DataMap{}
	m.Set(shardtrace.RootSpanContinuation, c)
	trunk := shardtrace.Trunk(shardtrace.WithDataMap(context.Background(), m))

	rapid.Check(t, func(t *rapid.T) {
		branches := rapid.IntRange(1, 16).Draw(t, "branches")

		var wg sync.WaitGroup
		errs := make(chan string, branches)
		for i := 0; i < branches; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()

				ctx := shardtrace.Branch(trunk)
				cont, ok := shardtrace.DataMapFromContext(ctx).Continuation()
				if !ok {
					errs <- "continuation missing"
					return
				}

				active := shardtrace.GetActiveSpan(ctx)
				scope := cont.Activate(ctx)
				active.Set(scope)

				if got := trace.SpanContextFromContext(active.Get().Context()); !got.Equal(sc) {
					errs <- "unexpected parent"
				}
				if active.Get() != scope {
					errs <- "cell changed by another branch"
				}

				active.Get().Deactivate()
				active.Remove()
				if active.Get() != nil {
					errs <- "cell not cleared"
				}
			}()
		}
		wg.Wait()
		close(errs)

		for e := range errs {
			t.Fatalf("%s", e)
		}

		if _, ok := m.Continuation(); !ok {
			t.Fatalf("continuation consumed")
		}
		if shardtrace.GetActiveSpan(trunk).Get() != nil {
			t.Fatalf("trunk cell written by a branch")
		}
	})
}

func TestContinuation_Binary(t *testing.T) {
	sc := makeSpanContext()
	c, _ := shardtrace.CaptureContinuation(trace.ContextWithSpanContext(context.Background(), sc))

	b, err := c.MarshalBinary()
	require.NoError(t, err)

	decoded, err := shardtrace.UnmarshalContinuation(b)
	require.NoError(t, err)
	assert.Equal(t, sc.TraceID(), decoded.SpanContext().TraceID())
	assert.Equal(t, sc.SpanID(), decoded.SpanContext().SpanID())
	assert.True(t, decoded.SpanContext().IsSampled())
}

func TestContinuation_BinaryInvalid(t *testing.T) {
	_, err := shardtrace.Continuation{}.MarshalBinary()
	assert.ErrorIs(t, err, shardtrace.ErrInvalidContinuation)

	_, err = shardtrace.UnmarshalContinuation([]byte("abc123"))
	assert.ErrorIs(t, err, shardtrace.ErrInvalidContinuation)
}
