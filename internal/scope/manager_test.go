package scope

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/hotswap/internal/config"
)

// recordingPatcher records ApplyScopePatch calls.
type recordingPatcher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (p *recordingPatcher) ApplyScopePatch(ctx context.Context, s *Scope, prefix string, target *Scope, prot Protection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, fmt.Sprintf("%s<-%s:%s", s.Name(), target.Name(), prefix))
	return p.fail[s.Name()]
}

func (p *recordingPatcher) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

func TestManager_Root(t *testing.T) {
	cfg := config.FromMap("root", nil)
	m := NewManager(cfg)

	root := m.Root()
	assert.True(t, root.IsRoot())
	assert.Equal(t, RootName, root.Name())
	assert.Same(t, cfg, root.Configuration())
	assert.Equal(t, StateUninitialized, root.State())
	assert.NotEmpty(t, root.ID())

	again, err := m.Register(RootName, nil, nil)
	require.NoError(t, err)
	assert.Same(t, root, again)

	other, err := m.Register("a", nil, nil)
	require.NoError(t, err)
	_, err = m.Register(RootName, other, nil)
	assert.ErrorIs(t, err, ErrParentChanged)
}

func TestManager_RegisterDefaultsToRoot(t *testing.T) {
	m := NewManager(nil)

	s, err := m.Register("app", nil, nil)
	require.NoError(t, err)
	assert.Same(t, m.Root(), s.Parent())
}

func TestManager_ParentImmutable(t *testing.T) {
	m := NewManager(nil)
	a, _ := m.Register("a", nil, nil)
	b, _ := m.Register("b", nil, nil)

	c, err := m.Register("c", a, nil)
	require.NoError(t, err)

	same, err := m.Register("c", a, nil)
	require.NoError(t, err)
	assert.Same(t, c, same)

	_, err = m.Register("c", b, nil)
	assert.ErrorIs(t, err, ErrParentChanged)
	assert.Same(t, a, c.Parent())
}

func TestManager_RegisterReplacesConfiguration(t *testing.T) {
	m := NewManager(nil)
	first := config.FromMap("first", nil)
	second := config.FromMap("second", nil)

	s, _ := m.Register("a", nil, first)
	assert.Same(t, first, s.Configuration())

	_, err := m.Register("a", nil, nil)
	require.NoError(t, err)
	assert.Same(t, first, s.Configuration())

	_, err = m.Register("a", nil, second)
	require.NoError(t, err)
	assert.Same(t, second, s.Configuration())
}

func TestManager_LazyScope(t *testing.T) {
	m := NewManager(nil)

	s := m.Scope("lazy")
	require.NotNil(t, s)
	assert.Same(t, m.Root(), s.Parent())
	assert.Same(t, s, m.Scope("lazy"))

	got, ok := m.Get("lazy")
	assert.True(t, ok)
	assert.Same(t, s, got)

	_, ok = m.Get("never")
	assert.False(t, ok)

	assert.Len(t, m.Scopes(), 2)
}

func TestManager_LookupConfigurationFallback(t *testing.T) {
	m := NewManager(nil)
	cfgA := config.FromMap("a", map[string]any{"k": "v"})

	a, _ := m.Register("A", nil, cfgA)
	b, _ := m.Register("B", a, nil)
	c, _ := m.Register("C", b, nil)

	got, err := m.LookupConfiguration(c)
	require.NoError(t, err)
	assert.Same(t, cfgA, got)

	cfgB := config.FromMap("b", nil)
	require.NoError(t, m.SetConfiguration(b, cfgB))
	got, err = m.LookupConfiguration(c)
	require.NoError(t, err)
	assert.Same(t, cfgB, got)
}

func TestManager_LookupConfigurationRootFallback(t *testing.T) {
	rootCfg := config.FromMap("root", nil)
	m := NewManager(rootCfg)
	s, _ := m.Register("orphan", nil, nil)

	got, err := m.LookupConfiguration(s)
	require.NoError(t, err)
	assert.Same(t, rootCfg, got)
}

func TestManager_LookupConfigurationNotConfigured(t *testing.T) {
	m := NewManager(nil)
	a, _ := m.Register("A", nil, nil)
	b, _ := m.Register("B", a, nil)

	_, err := m.LookupConfiguration(b)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestManager_ForeignAndNilScope(t *testing.T) {
	m1 := NewManager(nil)
	m2 := NewManager(nil)
	s := m2.Scope("x")

	_, err := m1.LookupConfiguration(s)
	assert.ErrorIs(t, err, ErrForeignScope)
	assert.ErrorIs(t, m1.EnsureReady(context.Background(), nil), ErrNilScope)
	_, err = m1.Register("y", s, nil)
	assert.ErrorIs(t, err, ErrForeignScope)
}

func TestManager_EnsureReadyCascadeOldestFirst(t *testing.T) {
	p := &recordingPatcher{}
	m := NewManager(nil, WithPatcher(p), WithPluginPrefix("plug"))

	a, _ := m.Register("A", nil, nil)
	b, _ := m.Register("B", a, nil)
	c, _ := m.Register("C", b, nil)

	require.NoError(t, m.EnsureReady(context.Background(), c))

	for _, s := range []*Scope{m.Root(), a, b, c} {
		assert.Equal(t, StateReady, s.State(), s.Name())
	}
	assert.Equal(t, []string{"A<-root:plug", "B<-root:plug", "C<-root:plug"}, p.Calls())

	var names []string
	for _, s := range m.ReadyScopes() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"root", "A", "B", "C"}, names)

	// Already ready: no further patches.
	require.NoError(t, m.EnsureReady(context.Background(), c))
	assert.Len(t, p.Calls(), 3)
}

func TestManager_EnsureReadyPatchFailureStillReady(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p := &recordingPatcher{fail: map[string]error{"A": errors.New("boom")}}
	m := NewManager(nil, WithPatcher(p), WithLogger(zap.New(core)))

	a, _ := m.Register("A", nil, nil)
	require.NoError(t, m.EnsureReady(context.Background(), a))

	assert.Equal(t, StateReady, a.State())
	assert.Equal(t, 1, logs.FilterMessage("scope patch failed").Len())
}

func TestManager_EnsureReadyCancelled(t *testing.T) {
	m := NewManager(nil)
	a, _ := m.Register("A", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.EnsureReady(ctx, a)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateUninitialized, a.State())
}

func TestManager_OnReadyReplaysThenFollows(t *testing.T) {
	m := NewManager(nil)
	a, _ := m.Register("A", nil, nil)
	b, _ := m.Register("B", nil, nil)

	require.NoError(t, m.EnsureReady(context.Background(), a))

	var mu sync.Mutex
	var seen []string
	unsubscribe := m.OnReady(func(s *Scope) {
		mu.Lock()
		seen = append(seen, s.Name())
		mu.Unlock()
	})

	assert.Equal(t, []string{"root", "A"}, seen)

	require.NoError(t, m.EnsureReady(context.Background(), b))
	assert.Equal(t, []string{"root", "A", "B"}, seen)

	unsubscribe()
	c, _ := m.Register("C", nil, nil)
	require.NoError(t, m.EnsureReady(context.Background(), c))
	assert.Equal(t, []string{"root", "A", "B"}, seen)
}

func TestManager_OnReadyListenerPanicIsolated(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	m := NewManager(nil, WithLogger(zap.New(core)))

	var calls int
	m.OnReady(func(s *Scope) { panic("bad listener") })
	m.OnReady(func(s *Scope) { calls++ })

	a, _ := m.Register("A", nil, nil)
	require.NoError(t, m.EnsureReady(context.Background(), a))

	assert.Equal(t, 2, calls) // root and A
	assert.Equal(t, 2, logs.FilterMessage("scope init listener panicked").Len())
}

func TestManager_OnReadyNil(t *testing.T) {
	m := NewManager(nil)
	assert.NotPanics(t, func() { m.OnReady(nil)() })
}

func TestManager_ConcurrentInitExactlyOnce(t *testing.T) {
	p := &recordingPatcher{}
	m := NewManager(nil, WithPatcher(p))

	const n = 20
	scopes := make([]*Scope, n)
	for i := range scopes {
		scopes[i], _ = m.Register(fmt.Sprintf("s%d", i), nil, nil)
	}

	var mu sync.Mutex
	counts := make(map[string]int)
	listener := func(s *Scope) {
		mu.Lock()
		counts[s.Name()]++
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(s *Scope) {
			defer wg.Done()
			_ = m.EnsureReady(context.Background(), s)
		}(scopes[i])
		go func(s *Scope) {
			defer wg.Done()
			_ = m.EnsureReady(context.Background(), s)
		}(scopes[i])
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.OnReady(listener)
	}()
	wg.Wait()

	assert.Len(t, p.Calls(), n)
	assert.Len(t, counts, n+1)
	for name, c := range counts {
		assert.Equal(t, 1, c, name)
	}
}
