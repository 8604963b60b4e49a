package scope

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/hotswap/internal/config"
	"github.com/dshills/hotswap/internal/logging"
	"github.com/dshills/hotswap/internal/metrics"
)

// RootName is the name of the process-wide root scope.
const RootName = "root"

// Protection describes the trust context bridged units are defined under.
type Protection struct {
	// Origin names who supplied the bridged units.
	Origin string
	// Trusted marks the units as trusted plugin code.
	Trusted bool
}

// Patcher bridges plugin-defining code units into a newly discovered scope.
type Patcher interface {
	// ApplyScopePatch makes units whose names start with namePrefix, as
	// defined in target, visible in s.
	ApplyScopePatch(ctx context.Context, s *Scope, namePrefix string, target *Scope, p Protection) error
}

// InitListener is called once per scope that reaches READY.
// Listeners must not register further listeners from inside the callback.
type InitListener func(s *Scope)

// Manager owns the scope tree and per-scope configuration.
type Manager struct {
	mu     sync.RWMutex
	root   *Scope
	scopes map[string]*Scope
	order  []*Scope

	// initMu serializes initialization cascades.
	initMu sync.Mutex

	// listenerMu guards listeners and ready so that replay plus live
	// notification delivers each scope to each listener exactly once.
	listenerMu sync.Mutex
	listeners  []*listenerEntry
	ready      []*Scope

	patcher    Patcher
	prefix     string
	protection Protection

	logger  *zap.Logger
	metrics *metrics.Metrics
}

type listenerEntry struct {
	fn InitListener
}

// Option configures a Manager.
type Option func(*Manager)

// WithPatcher sets the collaborator used to bridge new scopes.
func WithPatcher(p Patcher) Option {
	return func(m *Manager) {
		m.patcher = p
	}
}

// WithPluginPrefix sets the unit name prefix bridged into new scopes.
func WithPluginPrefix(prefix string) Option {
	return func(m *Manager) {
		m.prefix = prefix
	}
}

// WithProtection sets the protection context passed to the patcher.
func WithProtection(p Protection) Option {
	return func(m *Manager) {
		m.protection = p
	}
}

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

// NewManager creates a manager whose root scope owns rootConfig.
// rootConfig may be nil, in which case lookups that reach the root fail
// with ErrNotConfigured.
func NewManager(rootConfig *config.Configuration, opts ...Option) *Manager {
	m := &Manager{
		scopes:     make(map[string]*Scope),
		protection: Protection{Origin: "hotswap", Trusted: true},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrNop(m.logger).Named("scope")

	m.root = newScope(m, RootName, nil)
	if rootConfig != nil {
		m.root.cfg.Store(rootConfig)
	}
	m.scopes[RootName] = m.root
	m.order = append(m.order, m.root)
	return m
}

// Root returns the process-wide root scope.
func (m *Manager) Root() *Scope {
	return m.root
}

// Register records a scope. A nil parent means the root. Registering an
// existing name returns the existing scope; its parent must match. A non-nil
// cfg replaces the scope's configuration.
func (m *Manager) Register(name string, parent *Scope, cfg *config.Configuration) (*Scope, error) {
	if name == RootName {
		if parent != nil {
			return nil, fmt.Errorf("scope %q: %w", name, ErrParentChanged)
		}
		if cfg != nil {
			m.root.cfg.Store(cfg)
		}
		return m.root, nil
	}
	if parent == nil {
		parent = m.root
	}
	if parent.owner != m {
		return nil, fmt.Errorf("parent %q: %w", parent.name, ErrForeignScope)
	}

	m.mu.Lock()
	s, exists := m.scopes[name]
	if exists {
		m.mu.Unlock()
		if s.parent != parent {
			return nil, fmt.Errorf("scope %q: registered under %q, not %q: %w",
				name, s.parent.String(), parent.name, ErrParentChanged)
		}
	} else {
		s = newScope(m, name, parent)
		m.scopes[name] = s
		m.order = append(m.order, s)
		m.mu.Unlock()
		m.logger.Debug("scope registered",
			zap.String("scope", name),
			zap.String("parent", parent.name))
	}

	if cfg != nil {
		s.cfg.Store(cfg)
	}
	return s, nil
}

// Scope returns the named scope, creating it under the root on first reference.
func (m *Manager) Scope(name string) *Scope {
	m.mu.RLock()
	s, ok := m.scopes[name]
	m.mu.RUnlock()
	if ok {
		return s
	}

	s, err := m.Register(name, nil, nil)
	if err != nil {
		// A concurrent Register created it under a different parent.
		s, _ = m.Get(name)
	}
	return s
}

// Get returns the named scope if it has been registered.
func (m *Manager) Get(name string) (*Scope, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scopes[name]
	return s, ok
}

// Scopes returns all scopes in registration order.
func (m *Manager) Scopes() []*Scope {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Scope, len(m.order))
	copy(out, m.order)
	return out
}

// SetConfiguration replaces the configuration owned by s.
func (m *Manager) SetConfiguration(s *Scope, cfg *config.Configuration) error {
	if err := m.check(s); err != nil {
		return err
	}
	s.cfg.Store(cfg)
	return nil
}

// LookupConfiguration returns the configuration of the nearest scope in the
// ancestor chain of s (s included) that has one.
func (m *Manager) LookupConfiguration(s *Scope) (*config.Configuration, error) {
	if err := m.check(s); err != nil {
		return nil, err
	}

	chain, err := s.Chain()
	if err != nil {
		return nil, err
	}
	for _, cur := range chain {
		if cfg := cur.cfg.Load(); cfg != nil {
			return cfg, nil
		}
	}
	return nil, fmt.Errorf("scope %q: %w", s.name, ErrNotConfigured)
}

// EnsureReady initializes s and every ancestor that is not yet READY,
// oldest ancestor first.
func (m *Manager) EnsureReady(ctx context.Context, s *Scope) error {
	if err := m.check(s); err != nil {
		return err
	}
	if s.IsReady() {
		return nil
	}

	chain, err := s.Chain()
	if err != nil {
		return err
	}

	m.initMu.Lock()
	var became []*Scope
	for i := len(chain) - 1; i >= 0; i-- {
		cur := chain[i]
		if cur.IsReady() {
			continue
		}
		if err := ctx.Err(); err != nil {
			m.initMu.Unlock()
			m.notifyReady(became)
			return err
		}
		m.initialize(ctx, cur)
		became = append(became, cur)
	}
	m.initMu.Unlock()

	m.notifyReady(became)
	return nil
}

// initialize runs one scope through INITIALIZING to READY.
// Must be called with initMu held.
func (m *Manager) initialize(ctx context.Context, s *Scope) {
	s.advance(StateUninitialized, StateInitializing)

	if m.patcher != nil && s != m.root {
		if err := m.patcher.ApplyScopePatch(ctx, s, m.prefix, m.root, m.protection); err != nil {
			// States never regress; the scope still becomes usable.
			m.logger.Warn("scope patch failed",
				zap.String("scope", s.name),
				zap.String("prefix", m.prefix),
				zap.Error(err))
		}
	}

	s.advance(StateInitializing, StateReady)
	m.metrics.ScopeReady()
	m.logger.Debug("scope ready", zap.String("scope", s.name))
}

// OnReady registers an init listener. It is immediately called for every
// scope that is already READY, then for each scope that becomes READY later.
// The returned function unregisters the listener.
func (m *Manager) OnReady(fn InitListener) func() {
	if fn == nil {
		return func() {}
	}

	entry := &listenerEntry{fn: fn}

	m.listenerMu.Lock()
	replay := make([]*Scope, len(m.ready))
	copy(replay, m.ready)
	m.listeners = append(m.listeners, entry)
	m.listenerMu.Unlock()

	for _, s := range replay {
		m.callListener(entry, s)
	}

	return func() {
		m.listenerMu.Lock()
		defer m.listenerMu.Unlock()
		for i, e := range m.listeners {
			if e == entry {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// ReadyScopes returns scopes that reached READY, in the order they did.
func (m *Manager) ReadyScopes() []*Scope {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	out := make([]*Scope, len(m.ready))
	copy(out, m.ready)
	return out
}

func (m *Manager) notifyReady(scopes []*Scope) {
	for _, s := range scopes {
		m.listenerMu.Lock()
		m.ready = append(m.ready, s)
		listeners := make([]*listenerEntry, len(m.listeners))
		copy(listeners, m.listeners)
		m.listenerMu.Unlock()

		for _, l := range listeners {
			m.callListener(l, s)
		}
	}
}

func (m *Manager) callListener(l *listenerEntry, s *Scope) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("scope init listener panicked",
				zap.String("scope", s.name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	l.fn(s)
}

func (m *Manager) check(s *Scope) error {
	if s == nil {
		return ErrNilScope
	}
	if s.owner != m {
		return fmt.Errorf("scope %q: %w", s.name, ErrForeignScope)
	}
	return nil
}
