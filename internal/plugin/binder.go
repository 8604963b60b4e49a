package plugin

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/hotswap/internal/command"
	"github.com/dshills/hotswap/internal/config"
	"github.com/dshills/hotswap/internal/hook"
	"github.com/dshills/hotswap/internal/scope"
	"github.com/dshills/hotswap/internal/watch"
)

// Binder is handed to Plugin.Init. It gives the plugin its collaborators
// and buffers the hooks and watches it declares until Init succeeds.
//
// Scheduling commands and reading configuration stay usable after Init;
// declaring hooks or watches does not.
type Binder struct {
	mgr      *Manager
	instance *Instance
	cfg      *config.Configuration
	logger   *zap.Logger

	mu      sync.Mutex
	closed  bool
	hooks   []*hook.Registration
	watches []watchDecl
}

type watchDecl struct {
	locator  string
	listener watch.Listener
}

func newBinder(m *Manager, inst *Instance, cfg *config.Configuration) *Binder {
	return &Binder{
		mgr:      m,
		instance: inst,
		cfg:      cfg,
		logger:   m.logger.With(zap.String("plugin", inst.Name()), zap.String("scope", inst.Scope().Name())),
	}
}

// Instance returns the instance being bound.
func (b *Binder) Instance() *Instance {
	return b.instance
}

// Scope returns the scope the instance is bound to.
func (b *Binder) Scope() *scope.Scope {
	return b.instance.scope
}

// Config returns the configuration nearest to the instance's scope, or nil
// if no scope in the chain has one.
func (b *Binder) Config() *config.Configuration {
	return b.cfg
}

// Logger returns a logger tagged with the plugin and scope.
func (b *Binder) Logger() *zap.Logger {
	return b.logger
}

// Hook declares a hook. The pattern is compiled immediately so mistakes
// fail Init.
func (b *Binder) Hook(spec hook.Spec) error {
	reg, err := b.mgr.table.Compile(spec, b.instance)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBinderClosed
	}
	b.hooks = append(b.hooks, reg)
	return nil
}

// OnLoad declares a load hook for units whose name matches pattern.
func (b *Binder) OnLoad(pattern string, fn hook.LoadFunc, gates ...hook.Gate) error {
	return b.Hook(hook.Spec{
		Pattern: pattern,
		Kinds:   hook.Kinds(hook.KindLoad),
		Gates:   combine(gates),
		Handler: fn,
	})
}

// OnRedefine declares a redefine hook for units whose name matches pattern.
func (b *Binder) OnRedefine(pattern string, fn hook.RedefineFunc, gates ...hook.Gate) error {
	return b.Hook(hook.Spec{
		Pattern: pattern,
		Kinds:   hook.Kinds(hook.KindRedefine),
		Gates:   combine(gates),
		Handler: fn,
	})
}

func combine(gates []hook.Gate) hook.Gate {
	var g hook.Gate
	for _, f := range gates {
		g |= f
	}
	return g
}

// Watch declares interest in locator. The watch root and listener are
// handed to the watch service after Init succeeds.
func (b *Binder) Watch(locator string, l watch.Listener) error {
	if b.mgr.watcher == nil {
		return ErrNoWatchService
	}
	if l == nil {
		return watch.ErrNilListener
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBinderClosed
	}
	b.watches = append(b.watches, watchDecl{locator: locator, listener: l})
	return nil
}

// Schedule hands cmd to the command scheduler.
func (b *Binder) Schedule(cmd *command.Command, delay time.Duration, policy command.Policy) error {
	if b.mgr.scheduler == nil {
		return ErrNoScheduler
	}
	return b.mgr.scheduler.Schedule(cmd, delay, policy)
}

// Plugin looks up another plugin visible from this instance's scope.
func (b *Binder) Plugin(name string) (*Instance, error) {
	return b.mgr.Get(name, b.instance.scope)
}

// close stops further declarations and returns what was declared.
func (b *Binder) close() ([]*hook.Registration, []watchDecl) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return b.hooks, b.watches
}
