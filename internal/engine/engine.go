package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dshills/hotswap/internal/command"
	"github.com/dshills/hotswap/internal/config"
	"github.com/dshills/hotswap/internal/dispatch"
	"github.com/dshills/hotswap/internal/hook"
	"github.com/dshills/hotswap/internal/logging"
	"github.com/dshills/hotswap/internal/metrics"
	"github.com/dshills/hotswap/internal/plugin"
	plua "github.com/dshills/hotswap/internal/plugin/lua"
	"github.com/dshills/hotswap/internal/redefine"
	"github.com/dshills/hotswap/internal/scope"
	"github.com/dshills/hotswap/internal/watch"
)

// ProtectionOrigin tags units bridged into scopes by the engine.
const ProtectionOrigin = "hotswap"

// Engine is the explicit context object owning every component.
type Engine struct {
	settings config.Settings
	config   *config.Configuration

	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	table      *hook.Table
	dispatcher *dispatch.Dispatcher
	units      *redefine.Service
	scopes     *scope.Manager
	scheduler  *command.Scheduler
	watcher    *watch.FSService
	plugins    *plugin.Manager
	ignore     *watch.IgnorePatterns

	noWatch bool

	mu      sync.Mutex
	sources map[sourceKey]bool
	owners  map[ownerKey]string

	running  atomic.Bool
	shutdown atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Without it the engine builds one from the
// log settings.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRegistry sets the Prometheus registry metrics are registered with.
func WithRegistry(r *prometheus.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithoutWatcher disables the file system watcher. Sources are still
// scanned once.
func WithoutWatcher() Option {
	return func(e *Engine) {
		e.noWatch = true
	}
}

// New builds an engine from the root configuration. A nil cfg uses the
// built-in defaults.
func New(cfg *config.Configuration, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.New("root", config.DefaultsLayer())
	}
	e := &Engine{
		config:   cfg,
		settings: config.Decode(cfg),
		sources:  make(map[sourceKey]bool),
		owners:   make(map[ownerKey]string),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.bootstrap(); err != nil {
		e.cleanup()
		return nil, err
	}
	return e, nil
}

// bootstrap creates the components in dependency order.
func (e *Engine) bootstrap() error {
	if err := config.Validate(e.config); err != nil {
		return &InitError{Component: "config", Err: err}
	}
	if e.logger == nil {
		l, err := logging.New(logging.Options{Level: e.settings.LogLevel, Format: e.settings.LogFormat})
		if err != nil {
			return &InitError{Component: "logging", Err: err}
		}
		e.logger = l
	}

	if e.registry == nil {
		e.registry = prometheus.NewRegistry()
	}
	e.metrics = metrics.New(e.settings.MetricsNamespace, e.registry)

	e.table = hook.NewTable()
	e.dispatcher = dispatch.New(e.table,
		dispatch.WithLogger(e.logger),
		dispatch.WithMetrics(e.metrics))

	e.units = redefine.NewService(e.dispatcher, redefine.WithLogger(e.logger))

	e.scopes = scope.NewManager(e.config,
		scope.WithPatcher(e.units),
		scope.WithPluginPrefix(e.settings.PluginPrefix),
		scope.WithProtection(scope.Protection{Origin: ProtectionOrigin, Trusted: true}),
		scope.WithLogger(e.logger),
		scope.WithMetrics(e.metrics))

	e.scheduler = command.NewScheduler(
		command.WithLogger(e.logger),
		command.WithMetrics(e.metrics),
		command.WithDefaultDelay(e.settings.SchedulerDelay),
		command.WithPollInterval(e.settings.SchedulerPoll))

	e.ignore = watch.NewIgnorePatterns(watch.DefaultIgnorePatterns...)
	for _, p := range e.settings.WatchIgnore {
		e.ignore.Add(p)
	}

	pluginOpts := []plugin.Option{
		plugin.WithLogger(e.logger),
		plugin.WithMetrics(e.metrics),
		plugin.WithScheduler(e.scheduler),
	}
	if !e.noWatch {
		w, err := watch.NewFSService(
			watch.WithLogger(e.logger),
			watch.WithMetrics(e.metrics),
			watch.WithIgnorePatterns(e.ignore.Patterns()...),
			watch.WithIgnoreHidden(e.settings.WatchIgnoreHidden))
		if err != nil {
			return &InitError{Component: "watcher", Err: err}
		}
		e.watcher = w
		pluginOpts = append(pluginOpts, plugin.WithWatchService(w))
	}

	e.plugins = plugin.NewManager(e.scopes, e.table, pluginOpts...)
	e.logger = e.logger.Named("engine")
	return nil
}

func (e *Engine) cleanup() {
	if e.watcher != nil {
		_ = e.watcher.Close()
	}
}

// Settings returns the decoded engine settings.
func (e *Engine) Settings() config.Settings { return e.settings }

// Logger returns the engine logger.
func (e *Engine) Logger() *zap.Logger { return e.logger }

// Registry returns the Prometheus registry holding the engine metrics.
func (e *Engine) Registry() *prometheus.Registry { return e.registry }

// Scopes returns the scope manager.
func (e *Engine) Scopes() *scope.Manager { return e.scopes }

// Hooks returns the hook table.
func (e *Engine) Hooks() *hook.Table { return e.table }

// Dispatcher returns the transform dispatcher.
func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }

// Units returns the code redefinition service.
func (e *Engine) Units() *redefine.Service { return e.units }

// Scheduler returns the command scheduler.
func (e *Engine) Scheduler() *command.Scheduler { return e.scheduler }

// Plugins returns the plugin manager.
func (e *Engine) Plugins() *plugin.Manager { return e.plugins }

// Watcher returns the file system watcher, or nil when disabled.
func (e *Engine) Watcher() *watch.FSService { return e.watcher }

// LoadPlugins registers every scripted plugin found in dir and
// instantiates all registered plugins in the root scope. Plugins that fail
// are reported in the joined error; the rest stay loaded.
func (e *Engine) LoadPlugins(ctx context.Context, dir string) error {
	if e.shutdown.Load() {
		return ErrShutdown
	}

	var errs []error
	if dir != "" {
		descs, err := plua.Discover(dir)
		if err != nil {
			errs = append(errs, err)
		}
		for _, d := range descs {
			if err := e.plugins.Register(d); err != nil {
				errs = append(errs, err)
			}
		}
	}

	insts, err := e.plugins.InstantiateAll(ctx, e.scopes.Root())
	if err != nil {
		errs = append(errs, err)
	}
	e.logger.Info("plugins loaded",
		zap.String("dir", dir),
		zap.Int("instances", len(insts)),
		zap.Int("hooks", e.table.Len()))
	return errors.Join(errs...)
}

// Start applies the configured plugin directory and watch roots to the
// root scope.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.LoadPlugins(ctx, e.settings.PluginDir); err != nil {
		return err
	}
	for _, dir := range e.settings.WatchRoots {
		if err := e.WatchSources(ctx, e.scopes.Root(), dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return nil
}

// Run executes scheduled commands until ctx is done or Shutdown is called.
// Cancellation of ctx is a normal stop.
func (e *Engine) Run(ctx context.Context) error {
	if e.shutdown.Load() {
		return ErrShutdown
	}
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.logger.Info("engine running")
	err := e.scheduler.Run(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// IsRunning reports whether Run is active.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// closer is implemented by plugins holding resources, such as scripts.
type closer interface {
	Close()
}

// Shutdown stops the scheduler, closes the watcher and releases plugin
// resources, removing the hooks of closed plugins. Pending commands are
// dropped. It is safe to call twice.
func (e *Engine) Shutdown(ctx context.Context) error {
	if !e.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	pending := e.scheduler.Pending()
	if err := e.scheduler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("watcher: %w", err))
		}
	}
	for _, inst := range e.plugins.Instances() {
		if c, ok := inst.Plugin().(closer); ok {
			c.Close()
			// A closed plugin can no longer serve its hooks.
			if n := e.table.RemoveOwner(inst); n > 0 {
				e.logger.Debug("plugin hooks removed",
					zap.String("plugin", inst.Name()),
					zap.Int("hooks", n))
			}
		}
	}

	e.logger.Info("engine stopped", zap.Int("dropped_commands", pending))
	_ = e.logger.Sync()
	return errors.Join(errs...)
}
