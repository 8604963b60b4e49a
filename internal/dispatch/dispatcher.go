package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dshills/hotswap/internal/hook"
	"github.com/dshills/hotswap/internal/logging"
	"github.com/dshills/hotswap/internal/metrics"
	"github.com/dshills/hotswap/internal/scope"
	"github.com/dshills/hotswap/internal/unit"
)

// Event is a code lifecycle event reported by the redefinition collaborator.
type Event struct {
	// Kind selects the execution mode.
	Kind hook.Kind

	// Scope is where the event happened. May be nil.
	Scope *scope.Scope

	// Unit is the mutable handle for KindLoad and the new committed
	// representation for KindRedefine.
	Unit *unit.Unit

	// Previous is the committed representation being replaced, or nil on
	// first load.
	Previous *unit.Unit
}

// Dispatcher invokes matching hooks for lifecycle events.
// It is safe for concurrent use; events may arrive from many goroutines.
type Dispatcher struct {
	table   *hook.Table
	logger  *zap.Logger
	metrics *metrics.Metrics

	// Stats
	events   atomic.Uint64
	matched  atomic.Uint64
	invoked  atomic.Uint64
	failed   atomic.Uint64
	panicked atomic.Uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// New creates a dispatcher reading registrations from table.
func New(table *hook.Table, opts ...Option) *Dispatcher {
	d := &Dispatcher{table: table}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.OrNop(d.logger).Named("dispatch")
	return d
}

// OnEvent dispatches an event by kind. For KindLoad the transformed result
// is copied into ev.Unit only when every hook succeeded.
func (d *Dispatcher) OnEvent(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case hook.KindLoad:
		out, err := d.Load(ctx, ev.Scope, ev.Unit, ev.Previous)
		if err != nil {
			return err
		}
		*ev.Unit = *out
		return nil
	case hook.KindRedefine:
		d.Redefine(ctx, ev.Scope, ev.Previous, ev.Unit)
		return nil
	default:
		return fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

// Load runs matching load hooks on a copy of u and returns the transformed
// copy. previous is the committed version being replaced, or nil on first
// load. On failure u is untouched and a *TransformBuildError is returned.
func (d *Dispatcher) Load(ctx context.Context, s *scope.Scope, u, previous *unit.Unit) (*unit.Unit, error) {
	if u == nil {
		return nil, fmt.Errorf("load: %w", unit.ErrNilUnit)
	}
	d.events.Add(1)

	working := u.Clone()
	regs := d.table.Match(hook.KindLoad, s, working, previous != nil)
	d.matched.Add(uint64(len(regs)))
	d.metrics.HookMatched(hook.KindLoad.String(), len(regs))

	ev := &hook.LoadEvent{Scope: s, Unit: working, Previous: previous}
	for _, reg := range regs {
		if err := ctx.Err(); err != nil {
			return nil, &TransformBuildError{Unit: u.Name, Err: err}
		}

		res := d.invoke(hook.KindLoad, func() error {
			return reg.Handler().OnLoad(ctx, ev)
		})
		if !res.IsSuccess() {
			d.logger.Debug("load hook failed",
				zap.String("hook", reg.String()),
				zap.String("unit", u.Name),
				zap.Error(res.Err))
			return nil, &TransformBuildError{Unit: u.Name, Hook: reg.String(), Err: res.Err}
		}
		if ev.Unit == nil {
			return nil, &TransformBuildError{Unit: u.Name, Hook: reg.String(), Err: unit.ErrNilUnit}
		}
	}

	return ev.Unit, nil
}

// Redefine runs every matching redefine hook. Failures are logged and
// returned for inspection only; they never undo the redefinition. The swap
// has already happened, so cancellation of ctx does not stop the chain.
func (d *Dispatcher) Redefine(ctx context.Context, s *scope.Scope, old, updated *unit.Unit) []*HookInvocationError {
	if updated == nil {
		return nil
	}
	d.events.Add(1)

	regs := d.table.Match(hook.KindRedefine, s, updated, true)
	d.matched.Add(uint64(len(regs)))
	d.metrics.HookMatched(hook.KindRedefine.String(), len(regs))

	ev := &hook.RedefineEvent{Scope: s, Old: old, New: updated}
	var failures []*HookInvocationError
	for _, reg := range regs {
		res := d.invoke(hook.KindRedefine, func() error {
			return reg.Handler().OnRedefine(ctx, ev)
		})
		if res.IsSuccess() {
			continue
		}

		herr := &HookInvocationError{
			Unit:  updated.Name,
			Hook:  reg.String(),
			Err:   res.Err,
			Stack: res.PanicStack,
		}
		failures = append(failures, herr)

		fields := []zap.Field{
			zap.String("hook", reg.String()),
			zap.String("unit", updated.Name),
			zap.Error(res.Err),
		}
		if res.Panicked {
			fields = append(fields, zap.ByteString("stack", res.PanicStack))
		}
		d.logger.Error("hook invocation failed", fields...)
	}

	return failures
}

// invoke executes one hook and records stats.
func (d *Dispatcher) invoke(kind hook.Kind, fn func() error) Result {
	d.invoked.Add(1)
	res := execute(fn)

	result := metrics.ResultOK
	switch {
	case res.Panicked:
		d.panicked.Add(1)
		d.failed.Add(1)
		result = metrics.ResultPanic
	case res.Err != nil:
		d.failed.Add(1)
		result = metrics.ResultError
	}
	d.metrics.HookInvoked(kind.String(), result, res.Duration)
	return res
}

// Stats contains dispatcher statistics.
type Stats struct {
	// Events is the number of dispatched events.
	Events uint64
	// Matched is the number of hook matches across all events.
	Matched uint64
	// Invoked is the number of hooks actually run.
	Invoked uint64
	// Failed is the number of hooks that returned an error or panicked.
	Failed uint64
	// Panicked is the number of hooks that panicked.
	Panicked uint64
}

// Stats returns dispatch statistics.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Events:   d.events.Load(),
		Matched:  d.matched.Load(),
		Invoked:  d.invoked.Load(),
		Failed:   d.failed.Load(),
		Panicked: d.panicked.Load(),
	}
}
