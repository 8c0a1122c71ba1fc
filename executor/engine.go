package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"time"

	pq "github.com/JimWen/gods-generic/queues/priorityqueue"
	"github.com/JimWen/gods-generic/utils"
	"github.com/asecurityteam/rolling"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	shardtrace "github.com/zerofox-oss/go-shardtrace"
	"golang.org/x/sync/errgroup"
)

// A Unit is one SQL fragment routed to a single data source.
type Unit struct {
	DataSourceName string
	SQL            string
	Parameters     []any
	Metadata       shardtrace.DataSourceMetadata
}

// Callback executes a Unit. The context carries the unit's fragment span.
type Callback func(ctx context.Context, u Unit) error

// Engine executes the units of a statement: the first unit inline on the
// calling goroutine (the trunk), the others concurrently on branches.
// Every executed unit is wrapped in a SQLExecutionHook.
//
// Multiple goroutines may call Execute simultaneously.
type Engine struct {
	concurrency int
	serial      bool

	hooks    shardtrace.SQLExecutionHookFactory
	rootHook func() shardtrace.RootInvokeHook

	logger logr.Logger

	// a rough estimate of the time to execute a unit
	// on an unseen data source, in milliseconds
	initialEstimatedCost float64

	mu    sync.Mutex
	costs map[string]*rolling.TimePolicy
}

// Option is a functional option for the Engine.
type Option func(*Engine)

// WithHooks sets the hooks wrapping every unit.
func WithHooks(f shardtrace.SQLExecutionHookFactory) Option {
	return func(e *Engine) {
		e.hooks = f
	}
}

// WithRootHook sets the hook wrapping every invocation.
func WithRootHook(f func() shardtrace.RootInvokeHook) Option {
	return func(e *Engine) {
		e.rootHook = f
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l logr.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithSerial runs every unit on the trunk, one after another.
func WithSerial(serial bool) Option {
	return func(e *Engine) {
		e.serial = serial
	}
}

// NewEngine creates an Engine running at most concurrency branch units at
// the same time.
func NewEngine(concurrency int, opts ...Option) (*Engine, error) {
	if concurrency <= 0 {
		return nil, errors.New("concurrency must be greater than 0")
	}

	e := &Engine{
		concurrency:          concurrency,
		hooks:                noopHooks,
		logger:               stdr.New(log.New(os.Stderr, "", log.LstdFlags)).WithName("executor"),
		initialEstimatedCost: 100.0,
		costs:                make(map[string]*rolling.TimePolicy),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Execute runs units and returns the first error encountered. A failing
// unit cancels the context of the units that have not started yet; those
// are not executed. If a unit panics, Execute waits for the started units
// and then panics with the same value on the calling goroutine.
func (e *Engine) Execute(ctx context.Context, units []Unit, cb Callback) error {
	if len(units) == 0 {
		return nil
	}

	// a nested Execute must not write into the caller's DataMap while the
	// caller's branches read it
	ctx = shardtrace.WithDataMap(ctx, shardtrace.DataMap{})

	if e.rootHook != nil {
		root := e.rootHook()
		ctx = root.Start(ctx)
		defer root.Finish(connectionCount(units))
	} else {
		ctx = shardtrace.Trunk(ctx)
		shardtrace.StoreContinuation(ctx)
	}

	if e.serial || len(units) == 1 {
		for _, u := range units {
			if err := e.run(ctx, u, cb); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// the first failure wins and stops units that have not started
	var (
		once     sync.Once
		firstErr error
	)
	fail := func(err error) error {
		if err != nil {
			once.Do(func() {
				firstErr = err
				cancel()
			})
		}
		return err
	}

	// a panicking unit is re-raised on the caller's goroutine once every
	// started unit has finished
	var (
		panicOnce sync.Once
		panicked  any
	)
	guard := func(ctx context.Context, u Unit) (err error) {
		defer func() {
			if r := recover(); r != nil {
				panicOnce.Do(func() {
					panicked = r
				})
				err = fail(fmt.Errorf("panic executing unit on %s: %v", u.DataSourceName, r))
			}
		}()
		return fail(e.run(ctx, u, cb))
	}

	g := errgroup.Group{}
	g.SetLimit(e.concurrency)

	// g.Go blocks once the limit is reached, so branches are handed
	// out from their own goroutine while the trunk works
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for _, u := range e.schedule(units[1:]) {
			u := u
			g.Go(func() error {
				return guard(shardtrace.Branch(ctx), u)
			})
		}
	}()

	guard(ctx, units[0])

	<-dispatched
	g.Wait()

	if panicked != nil {
		panic(panicked)
	}
	return firstErr
}

// run executes u between the hook's Start and exactly one of its finish
// calls.
func (e *Engine) run(ctx context.Context, u Unit, cb Callback) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	hook := e.hooks()
	hctx := hook.Start(ctx, u.DataSourceName, u.SQL, u.Parameters, u.Metadata)

	e.logger.V(1).Info("executing unit",
		"dataSource", u.DataSourceName,
		"trunk", shardtrace.IsTrunk(ctx))

	st := time.Now()
	defer func() {
		e.observe(u.DataSourceName, time.Since(st))

		if r := recover(); r != nil {
			hook.FinishFailure(fmt.Errorf("panic executing unit on %s: %v", u.DataSourceName, r))
			panic(r)
		}

		if err != nil {
			e.logger.Error(err, "unit failed", "dataSource", u.DataSourceName)
			hook.FinishFailure(err)
			return
		}
		hook.FinishSuccess()
	}()

	return cb(hctx, u)
}

type scheduledUnit struct {
	unit Unit
	cost float64
	seq  int
}

// schedule orders units by estimated cost, most expensive first, keeping
// the given order between units of equal cost.
func (e *Engine) schedule(units []Unit) []Unit {
	queue := pq.NewWith(func(a, b *scheduledUnit) int {
		if c := utils.NumberComparator(b.cost, a.cost); c != 0 {
			return c
		}
		return utils.NumberComparator(float64(a.seq), float64(b.seq))
	})

	for i, u := range units {
		queue.Enqueue(&scheduledUnit{
			unit: u,
			cost: e.EstimatedCost(u.DataSourceName),
			seq:  i,
		})
	}

	ordered := make([]Unit, 0, len(units))
	for {
		su, ok := queue.Dequeue()
		if !ok {
			break
		}
		ordered = append(ordered, su.unit)
	}
	return ordered
}

// EstimatedCost returns the recent average time, in milliseconds, to
// execute a unit on dataSourceName.
func (e *Engine) EstimatedCost(dataSourceName string) float64 {
	e.mu.Lock()
	p, ok := e.costs[dataSourceName]
	e.mu.Unlock()

	if !ok {
		return e.initialEstimatedCost
	}

	cost := p.Reduce(rolling.Avg)
	if math.IsNaN(cost) {
		return e.initialEstimatedCost
	}
	return math.Round(cost)
}

func (e *Engine) observe(dataSourceName string, d time.Duration) {
	e.mu.Lock()
	p, ok := e.costs[dataSourceName]
	if !ok {
		p = rolling.NewTimePolicy(rolling.NewWindow(60), time.Second)
		e.costs[dataSourceName] = p
	}
	e.mu.Unlock()

	p.Append(float64(d.Milliseconds()))
}

func connectionCount(units []Unit) int {
	seen := make(map[string]struct{}, len(units))
	for _, u := range units {
		seen[u.DataSourceName] = struct{}{}
	}
	return len(seen)
}
