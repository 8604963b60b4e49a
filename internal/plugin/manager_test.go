package plugin

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/hotswap/internal/command"
	"github.com/dshills/hotswap/internal/config"
	"github.com/dshills/hotswap/internal/hook"
	"github.com/dshills/hotswap/internal/metrics"
	"github.com/dshills/hotswap/internal/scope"
	"github.com/dshills/hotswap/internal/unit"
	"github.com/dshills/hotswap/internal/watch"
)

// fakeWatch records watch declarations.
type fakeWatch struct {
	mu        sync.Mutex
	roots     []string
	listeners map[string]watch.Listener
	failRoot  error
}

func (f *fakeWatch) AddWatchRoot(s *scope.Scope, locator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRoot != nil {
		return f.failRoot
	}
	f.roots = append(f.roots, s.Name()+":"+locator)
	return nil
}

func (f *fakeWatch) AddListener(s *scope.Scope, locator string, l watch.Listener) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listeners == nil {
		f.listeners = make(map[string]watch.Listener)
	}
	f.listeners[s.Name()+":"+locator] = l
	return nil
}

type fixture struct {
	scopes *scope.Manager
	table  *hook.Table
	mgr    *Manager
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	scopes := scope.NewManager(config.FromMap("root", map[string]any{"level": "root"}))
	table := hook.NewTable()
	return &fixture{scopes: scopes, table: table, mgr: NewManager(scopes, table, opts...)}
}

func noopRedefine(context.Context, *hook.RedefineEvent) error { return nil }

// hookPlugin declares one redefine hook and counts Init calls.
func hookPlugin(inits *atomic.Int32) Factory {
	return func() Plugin {
		return InitFunc(func(ctx context.Context, b *Binder) error {
			if inits != nil {
				inits.Add(1)
			}
			return b.OnRedefine(`pkg\..*`, noopRedefine)
		})
	}
}

func TestManager_InstantiateIsUnique(t *testing.T) {
	f := newFixture(t)
	var inits atomic.Int32
	require.NoError(t, f.mgr.Register(&Descriptor{Name: "D", Factory: hookPlugin(&inits)}))

	s, _ := f.scopes.Register("S", nil, nil)
	ctx := context.Background()

	first, err := f.mgr.Instantiate(ctx, "D", s)
	require.NoError(t, err)
	second, err := f.mgr.Instantiate(ctx, "D", s)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), inits.Load())
	assert.True(t, s.IsReady())
	assert.Equal(t, 1, f.table.Len())
	assert.Equal(t, "D@S", first.String())
}

func TestManager_InstantiateReusesAncestor(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Register(&Descriptor{Name: "D", Factory: hookPlugin(nil)}))

	parent, _ := f.scopes.Register("S2", nil, nil)
	child, _ := f.scopes.Register("S", parent, nil)
	ctx := context.Background()

	inParent, err := f.mgr.Instantiate(ctx, "D", parent)
	require.NoError(t, err)

	inChild, err := f.mgr.Instantiate(ctx, "D", child)
	require.NoError(t, err)

	assert.Same(t, inParent, inChild)
	assert.Same(t, parent, inChild.Scope())
	assert.Len(t, f.mgr.Instances(), 1)

	got, err := f.mgr.Get("D", child)
	require.NoError(t, err)
	assert.Same(t, inParent, got)
}

func TestManager_ChildFirstThenParent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Register(&Descriptor{Name: "D", Factory: hookPlugin(nil)}))

	parent, _ := f.scopes.Register("S2", nil, nil)
	child, _ := f.scopes.Register("S", parent, nil)
	ctx := context.Background()

	inChild, err := f.mgr.Instantiate(ctx, "D", child)
	require.NoError(t, err)
	inParent, err := f.mgr.Instantiate(ctx, "D", parent)
	require.NoError(t, err)

	// Descendants are never searched; the child keeps its own instance.
	assert.NotSame(t, inChild, inParent)
	assert.Same(t, child, inChild.Scope())
	assert.Same(t, parent, inParent.Scope())
	assert.Len(t, f.mgr.Instances(), 2)

	got, err := f.mgr.Get("D", child)
	require.NoError(t, err)
	assert.Same(t, inChild, got)
}

func TestManager_SiblingScopesGetDistinctInstances(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Register(&Descriptor{Name: "D", Factory: hookPlugin(nil)}))

	s1, _ := f.scopes.Register("S1", nil, nil)
	s2, _ := f.scopes.Register("S2", nil, nil)
	ctx := context.Background()

	i1, err := f.mgr.Instantiate(ctx, "D", s1)
	require.NoError(t, err)
	i2, err := f.mgr.Instantiate(ctx, "D", s2)
	require.NoError(t, err)

	assert.NotSame(t, i1, i2)
	assert.NotEqual(t, i1.ID(), i2.ID())
	assert.Equal(t, 2, f.table.Len())

	// A hook of the S1 instance never sees S2 events.
	regs := f.table.Match(hook.KindRedefine, s2, unit.New("pkg.A", nil), true)
	require.Len(t, regs, 1)
	assert.Same(t, i2, regs[0].Owner())
}

func TestManager_FailedInitLeavesNothing(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fw := &fakeWatch{}
	f := newFixture(t, WithLogger(zap.New(core)), WithWatchService(fw))

	boom := errors.New("boom")
	require.NoError(t, f.mgr.Register(&Descriptor{Name: "bad", Factory: func() Plugin {
		return InitFunc(func(ctx context.Context, b *Binder) error {
			require.NoError(t, b.OnRedefine(".*", noopRedefine))
			require.NoError(t, b.Watch("/tmp/x", func(watch.Event) {}))
			return boom
		})
	}}))

	s, _ := f.scopes.Register("S", nil, nil)
	_, err := f.mgr.Instantiate(context.Background(), "bad", s)

	var initErr *InitError
	require.True(t, errors.As(err, &initErr))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "bad", initErr.Plugin)
	assert.Equal(t, "S", initErr.Scope)

	assert.Equal(t, 0, f.table.Len())
	assert.Empty(t, f.mgr.Instances())
	assert.Empty(t, fw.roots)
	assert.Equal(t, 1, logs.FilterMessage("plugin init failed").Len())

	_, err = f.mgr.Get("bad", s)
	assert.ErrorIs(t, err, ErrPluginNotInitialized)
}

func TestManager_InitPanicRecovered(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Register(&Descriptor{Name: "panicky", Factory: func() Plugin {
		return InitFunc(func(ctx context.Context, b *Binder) error {
			_ = b.OnLoad(".*", func(context.Context, *hook.LoadEvent) error { return nil })
			panic("nope")
		})
	}}))

	s := f.scopes.Scope("S")
	_, err := f.mgr.Instantiate(context.Background(), "panicky", s)
	assert.ErrorIs(t, err, ErrInitPanicked)
	assert.Equal(t, 0, f.table.Len())
}

func TestManager_InvalidDescriptorHookFailsInit(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Register(&Descriptor{
		Name:  "static",
		Hooks: []hook.Spec{{Pattern: "(", Kinds: hook.Kinds(hook.KindLoad), Handler: hook.RedefineFunc(noopRedefine)}},
	}))

	_, err := f.mgr.Instantiate(context.Background(), "static", f.scopes.Scope("S"))
	assert.ErrorIs(t, err, hook.ErrInvalidPattern)
}

func TestManager_StaticHooksOnly(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Register(&Descriptor{
		Name: "static",
		Hooks: []hook.Spec{
			{Name: "first", Pattern: `a\..*`, Kinds: hook.Kinds(hook.KindRedefine), Handler: hook.RedefineFunc(noopRedefine)},
		},
	}))

	inst, err := f.mgr.Instantiate(context.Background(), "static", f.scopes.Scope("S"))
	require.NoError(t, err)
	assert.Nil(t, inst.Plugin())

	hooks := f.mgr.Hooks(inst)
	require.Len(t, hooks, 1)
	assert.Equal(t, "static/first", hooks[0].String())
}

func TestManager_ConcurrentInstantiate(t *testing.T) {
	f := newFixture(t)
	var inits atomic.Int32
	require.NoError(t, f.mgr.Register(&Descriptor{Name: "D", Factory: func() Plugin {
		return InitFunc(func(ctx context.Context, b *Binder) error {
			inits.Add(1)
			time.Sleep(10 * time.Millisecond)
			return b.OnRedefine(".*", noopRedefine)
		})
	}}))

	parent, _ := f.scopes.Register("P", nil, nil)
	child, _ := f.scopes.Register("C", parent, nil)

	const n = 20
	results := make([]*Instance, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := parent
			if i%2 == 1 {
				s = child
			}
			inst, err := f.mgr.Instantiate(context.Background(), "D", s)
			assert.NoError(t, err)
			results[i] = inst
		}(i)
	}
	wg.Wait()

	// Either the parent won and everyone shares it, or the child won first
	// and parent callers got their own; never more than one per chain.
	byScope := map[*scope.Scope]*Instance{}
	for _, inst := range f.mgr.Instances() {
		byScope[inst.Scope()] = inst
	}
	if _, ok := byScope[parent]; ok {
		for i := 0; i < n; i += 2 {
			assert.Same(t, byScope[parent], results[i])
		}
	}
	assert.Equal(t, int32(len(f.mgr.Instances())), inits.Load())
	assert.LessOrEqual(t, len(f.mgr.Instances()), 2)
	assert.Equal(t, len(f.mgr.Instances()), f.table.Len())

	if len(f.mgr.Instances()) == 2 {
		// The child instance was created before the parent's.
		assert.Same(t, child, f.mgr.Instances()[0].Scope())
	}
}

func TestManager_Errors(t *testing.T) {
	f := newFixture(t)
	s := f.scopes.Scope("S")
	ctx := context.Background()

	_, err := f.mgr.Instantiate(ctx, "missing", s)
	assert.ErrorIs(t, err, ErrPluginNotRegistered)

	_, err = f.mgr.Get("missing", s)
	assert.ErrorIs(t, err, ErrPluginNotRegistered)

	require.NoError(t, f.mgr.Register(&Descriptor{Name: "D", Factory: hookPlugin(nil)}))
	assert.ErrorIs(t, f.mgr.Register(&Descriptor{Name: "D", Factory: hookPlugin(nil)}), ErrAlreadyRegistered)
	assert.ErrorIs(t, f.mgr.Register(&Descriptor{Name: "", Factory: hookPlugin(nil)}), ErrInvalidDescriptor)
	assert.ErrorIs(t, f.mgr.Register(&Descriptor{Name: "empty"}), ErrInvalidDescriptor)
	assert.ErrorIs(t, f.mgr.Register(nil), ErrInvalidDescriptor)

	_, err = f.mgr.Get("D", s)
	assert.ErrorIs(t, err, ErrPluginNotInitialized)

	_, err = f.mgr.Get("D", nil)
	assert.ErrorIs(t, err, scope.ErrNilScope)

	_, err = f.mgr.Instantiate(ctx, "D", nil)
	assert.ErrorIs(t, err, scope.ErrNilScope)

	_, err = f.mgr.OwningScope(nil)
	assert.ErrorIs(t, err, ErrUnknownInstance)
	_, err = f.mgr.OwningScope(newInstance(&Descriptor{Name: "x", Factory: hookPlugin(nil)}, s))
	assert.ErrorIs(t, err, ErrUnknownInstance)

	_, ok := f.mgr.Descriptor("D")
	assert.True(t, ok)
	_, ok = f.mgr.Descriptor("missing")
	assert.False(t, ok)
}

func TestManager_OwningScope(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Register(&Descriptor{Name: "D", Factory: hookPlugin(nil)}))

	a, _ := f.scopes.Register("A", nil, nil)
	b, _ := f.scopes.Register("B", a, nil)

	inst, err := f.mgr.Instantiate(context.Background(), "D", a)
	require.NoError(t, err)

	owner, err := f.mgr.OwningScope(inst)
	require.NoError(t, err)
	assert.Same(t, a, owner)

	// Reached from B, still owned by A.
	fromB, err := f.mgr.Get("D", b)
	require.NoError(t, err)
	owner, err = f.mgr.OwningScope(fromB)
	require.NoError(t, err)
	assert.Same(t, a, owner)
}

func TestManager_BinderCollaborators(t *testing.T) {
	fw := &fakeWatch{}
	sched := command.NewScheduler()
	f := newFixture(t, WithWatchService(fw), WithScheduler(sched))

	var bound *Binder
	require.NoError(t, f.mgr.Register(&Descriptor{Name: "W", Factory: func() Plugin {
		return InitFunc(func(ctx context.Context, b *Binder) error {
			bound = b
			assert.Equal(t, "root", b.Config().String("level", ""))
			assert.Equal(t, "S", b.Scope().Name())
			assert.NotNil(t, b.Logger())
			return b.Watch("/srv/app", func(watch.Event) {})
		})
	}}))

	s := f.scopes.Scope("S")
	inst, err := f.mgr.Instantiate(context.Background(), "W", s)
	require.NoError(t, err)
	assert.Same(t, inst, bound.Instance())

	assert.Equal(t, []string{"S:/srv/app"}, fw.roots)
	assert.Contains(t, fw.listeners, "S:/srv/app")

	// Declarations after Init are refused; scheduling still works.
	assert.ErrorIs(t, bound.OnRedefine(".*", noopRedefine), ErrBinderClosed)
	assert.ErrorIs(t, bound.Watch("/x", func(watch.Event) {}), ErrBinderClosed)

	cmd := command.New(command.Key{Scope: "S", Name: "n"}, nil, func(context.Context, command.Key, []any) error { return nil })
	require.NoError(t, bound.Schedule(cmd, time.Hour, command.PolicyMerge))
	assert.Equal(t, 1, sched.Pending())

	got, err := bound.Plugin("W")
	require.NoError(t, err)
	assert.Same(t, inst, got)
}

func TestManager_BinderWithoutCollaborators(t *testing.T) {
	f := newFixture(t)
	var watchErr, schedErr error
	require.NoError(t, f.mgr.Register(&Descriptor{Name: "N", Factory: func() Plugin {
		return InitFunc(func(ctx context.Context, b *Binder) error {
			watchErr = b.Watch("/x", func(watch.Event) {})
			schedErr = b.Schedule(command.New(command.Key{Name: "n"}, nil, nil), 0, command.PolicyMerge)
			return nil
		})
	}}))

	_, err := f.mgr.Instantiate(context.Background(), "N", f.scopes.Scope("S"))
	require.NoError(t, err)
	assert.ErrorIs(t, watchErr, ErrNoWatchService)
	assert.ErrorIs(t, schedErr, ErrNoScheduler)
}

func TestManager_WatchFailureLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fw := &fakeWatch{failRoot: watch.ErrPathNotExist}
	f := newFixture(t, WithLogger(zap.New(core)), WithWatchService(fw))

	require.NoError(t, f.mgr.Register(&Descriptor{Name: "W", Factory: func() Plugin {
		return InitFunc(func(ctx context.Context, b *Binder) error {
			return b.Watch("/missing", func(watch.Event) {})
		})
	}}))

	_, err := f.mgr.Instantiate(context.Background(), "W", f.scopes.Scope("S"))
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("plugin watch failed").Len())
}

func TestManager_InstantiateAll(t *testing.T) {
	m := metrics.New("test", prometheus.NewRegistry())
	f := newFixture(t, WithMetrics(m))

	require.NoError(t, f.mgr.Register(&Descriptor{Name: "b", Factory: hookPlugin(nil)}))
	require.NoError(t, f.mgr.Register(&Descriptor{Name: "a", Factory: hookPlugin(nil)}))
	require.NoError(t, f.mgr.Register(&Descriptor{Name: "c", Factory: func() Plugin {
		return InitFunc(func(context.Context, *Binder) error { return errors.New("no") })
	}}))

	insts, err := f.mgr.InstantiateAll(context.Background(), f.scopes.Root())
	require.Error(t, err)
	require.Len(t, insts, 2)
	assert.Equal(t, "a", insts[0].Name())
	assert.Equal(t, "b", insts[1].Name())
	assert.Equal(t, []string{"a", "b", "c"}, f.mgr.Names())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PluginInstances.WithLabelValues("a", metrics.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PluginInstances.WithLabelValues("c", metrics.ResultError)))
}

func TestManager_InstantiateCancelled(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Register(&Descriptor{Name: "D", Factory: hookPlugin(nil)}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.mgr.Instantiate(ctx, "D", f.scopes.Scope("S"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.mgr.Instances())
}
