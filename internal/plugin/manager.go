package plugin

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/hotswap/internal/command"
	"github.com/dshills/hotswap/internal/hook"
	"github.com/dshills/hotswap/internal/logging"
	"github.com/dshills/hotswap/internal/metrics"
	"github.com/dshills/hotswap/internal/scope"
	"github.com/dshills/hotswap/internal/watch"
)

// Manager registers descriptors and creates per-scope plugin instances.
//
// Instantiation of one descriptor is serialized, so two concurrent requests
// on one ancestor chain resolve to a single instance. Lookup only walks
// upwards: instantiating in a child first and then in its parent leaves one
// instance on each. A plugin's Init must not instantiate its own descriptor.
type Manager struct {
	mu          sync.RWMutex
	descriptors map[string]*descriptorEntry
	names       []string

	scopes    *scope.Manager
	table     *hook.Table
	registry  *Registry
	scheduler *command.Scheduler
	watcher   watch.Service

	group singleflight.Group

	logger  *zap.Logger
	metrics *metrics.Metrics
}

type descriptorEntry struct {
	desc *Descriptor
	// mu serializes instantiation of desc across all scopes.
	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithScheduler gives plugins access to the command scheduler.
func WithScheduler(s *command.Scheduler) Option {
	return func(m *Manager) {
		m.scheduler = s
	}
}

// WithWatchService sets the service plugin watch declarations go to.
func WithWatchService(w watch.Service) Option {
	return func(m *Manager) {
		m.watcher = w
	}
}

// NewManager creates a plugin manager over the given scope tree and hook
// table.
func NewManager(scopes *scope.Manager, table *hook.Table, opts ...Option) *Manager {
	m := &Manager{
		descriptors: make(map[string]*descriptorEntry),
		scopes:      scopes,
		table:       table,
		registry:    NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrNop(m.logger).Named("plugin")
	return m
}

// Register adds a descriptor.
func (m *Manager) Register(desc *Descriptor) error {
	if err := desc.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.descriptors[desc.Name]; exists {
		return fmt.Errorf("plugin %q: %w", desc.Name, ErrAlreadyRegistered)
	}
	m.descriptors[desc.Name] = &descriptorEntry{desc: desc}
	m.names = append(m.names, desc.Name)
	return nil
}

// Descriptor returns the named descriptor.
func (m *Manager) Descriptor(name string) (*Descriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.descriptors[name]
	if !ok {
		return nil, false
	}
	return e.desc, true
}

// Names returns registered descriptor names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, len(m.names))
	copy(names, m.names)
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}

func (m *Manager) entry(name string) (*descriptorEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.descriptors[name]
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", name, ErrPluginNotRegistered)
	}
	return e, nil
}

// Instantiate returns the instance of the named plugin reachable from s,
// creating one bound to s if neither s nor any ancestor has one. s is made
// READY first.
func (m *Manager) Instantiate(ctx context.Context, name string, s *scope.Scope) (*Instance, error) {
	e, err := m.entry(name)
	if err != nil {
		return nil, err
	}
	if err := m.scopes.EnsureReady(ctx, s); err != nil {
		return nil, err
	}

	chain, err := s.Chain()
	if err != nil {
		return nil, err
	}
	if inst, ok := m.registry.Find(e.desc, chain); ok {
		return inst, nil
	}

	v, err, _ := m.group.Do(name+"@"+string(s.ID()), func() (any, error) {
		return m.create(ctx, e, s, chain)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Instance), nil
}

// create builds, initializes and publishes a new instance.
func (m *Manager) create(ctx context.Context, e *descriptorEntry, s *scope.Scope, chain []*scope.Scope) (*Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// An ancestor may have been instantiated while we waited.
	if inst, ok := m.registry.Find(e.desc, chain); ok {
		return inst, nil
	}

	cfg, err := m.scopes.LookupConfiguration(s)
	if err != nil && !errors.Is(err, scope.ErrNotConfigured) {
		return nil, err
	}

	inst := newInstance(e.desc, s)
	b := newBinder(m, inst, cfg)

	result, err := m.initialize(ctx, inst, b)
	hooks, watches := b.close()
	if err != nil {
		m.metrics.PluginInstantiated(e.desc.Name, result)
		m.logger.Warn("plugin init failed",
			zap.String("plugin", e.desc.Name),
			zap.String("scope", s.Name()),
			zap.Error(err))
		return nil, &InitError{Plugin: e.desc.Name, Scope: s.Name(), Err: err}
	}

	committed, fresh := m.registry.commit(inst, chain, func() {
		m.table.Add(hooks...)
	})
	if !fresh {
		return committed, nil
	}

	m.forwardWatches(inst, watches)
	m.metrics.PluginInstantiated(e.desc.Name, metrics.ResultOK)
	m.logger.Info("plugin instantiated",
		zap.String("plugin", e.desc.Name),
		zap.String("scope", s.Name()),
		zap.String("instance", inst.ID()),
		zap.Int("hooks", len(hooks)),
		zap.Int("watches", len(watches)))
	return inst, nil
}

// initialize registers descriptor hooks then runs Init, recovering panics.
func (m *Manager) initialize(ctx context.Context, inst *Instance, b *Binder) (result string, err error) {
	for _, spec := range inst.desc.Hooks {
		if err := b.Hook(spec); err != nil {
			return metrics.ResultError, err
		}
	}
	if inst.impl == nil {
		return metrics.ResultOK, nil
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("plugin init panicked",
				zap.String("plugin", inst.Name()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrInitPanicked, r)
			result = metrics.ResultPanic
		}
	}()

	if err := inst.impl.Init(ctx, b); err != nil {
		return metrics.ResultError, err
	}
	return metrics.ResultOK, nil
}

func (m *Manager) forwardWatches(inst *Instance, watches []watchDecl) {
	for _, w := range watches {
		err := m.watcher.AddWatchRoot(inst.scope, w.locator)
		if err == nil {
			err = m.watcher.AddListener(inst.scope, w.locator, w.listener)
		}
		if err != nil {
			m.logger.Warn("plugin watch failed",
				zap.String("plugin", inst.Name()),
				zap.String("locator", w.locator),
				zap.Error(err))
		}
	}
}

// InstantiateAll instantiates every registered descriptor for s. It keeps
// going past failures and returns them joined.
func (m *Manager) InstantiateAll(ctx context.Context, s *scope.Scope) ([]*Instance, error) {
	var (
		out  []*Instance
		errs []error
	)
	for _, name := range m.Names() {
		inst, err := m.Instantiate(ctx, name, s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, inst)
	}

	if len(errs) > 0 {
		return out, fmt.Errorf("failed to instantiate %d plugins: %w", len(errs), errors.Join(errs...))
	}
	return out, nil
}

// Get returns the instance of the named plugin reachable from s. It never
// creates one.
func (m *Manager) Get(name string, s *scope.Scope) (*Instance, error) {
	e, err := m.entry(name)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, scope.ErrNilScope
	}
	chain, err := s.Chain()
	if err != nil {
		return nil, err
	}
	if inst, ok := m.registry.Find(e.desc, chain); ok {
		return inst, nil
	}
	return nil, fmt.Errorf("plugin %q in scope %q: %w", name, s.Name(), ErrPluginNotInitialized)
}

// OwningScope returns the scope inst is registered under.
func (m *Manager) OwningScope(inst *Instance) (*scope.Scope, error) {
	if inst == nil {
		return nil, ErrUnknownInstance
	}
	s, ok := m.registry.OwningScope(inst)
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", inst.ID(), ErrUnknownInstance)
	}
	return s, nil
}

// Instances returns every live instance in creation order.
func (m *Manager) Instances() []*Instance {
	return m.registry.Instances()
}

// Hooks returns the hooks registered by inst.
func (m *Manager) Hooks(inst *Instance) []*hook.Registration {
	return m.table.Owned(inst)
}
