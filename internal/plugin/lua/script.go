package lua

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/hotswap/internal/command"
	"github.com/dshills/hotswap/internal/hook"
	"github.com/dshills/hotswap/internal/plugin"
	"github.com/dshills/hotswap/internal/watch"
)

// ModuleName is the name scripts require to reach the host.
const ModuleName = "hotswap"

// Source is where a script's code comes from. Exactly one of Code and Path
// is set.
type Source struct {
	Name string
	Code string
	Path string
}

func (s Source) load() (string, error) {
	if s.Code != "" || s.Path == "" {
		return s.Code, nil
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Option configures scripts created by a descriptor.
type Option func(*options)

type options struct {
	timeout     time.Duration
	description string
}

// WithTimeout bounds each call into the script.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithDescription sets the descriptor description.
func WithDescription(desc string) Option {
	return func(o *options) {
		o.description = desc
	}
}

// NewDescriptor returns a plugin descriptor whose instances each run src
// in their own Lua state.
func NewDescriptor(src Source, opts ...Option) *plugin.Descriptor {
	o := options{timeout: DefaultExecutionTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &plugin.Descriptor{
		Name:        src.Name,
		Description: o.description,
		Factory: func() plugin.Plugin {
			return &Script{source: src, timeout: o.timeout}
		},
	}
}

// Script is a plugin implemented in Lua.
type Script struct {
	source  Source
	timeout time.Duration

	state  *State
	binder *plugin.Binder
	logger *zap.Logger

	mu       sync.RWMutex
	commands map[string]*lua.LFunction
}

// Init runs the script. Hooks and watches the script declares are bound to
// the instance.
func (s *Script) Init(ctx context.Context, b *plugin.Binder) error {
	code, err := s.source.load()
	if err != nil {
		return fmt.Errorf("load script %s: %w", s.source.Name, err)
	}

	s.binder = b
	s.logger = b.Logger()
	s.commands = make(map[string]*lua.LFunction)
	s.state = NewState(WithExecutionTimeout(s.timeout))
	s.state.Preload(ModuleName, s.openModule)

	if err := s.state.DoString(ctx, code); err != nil {
		s.state.Close()
		return &ScriptError{Script: s.source.Name, Err: err}
	}
	return nil
}

// State returns the script's Lua state, or nil before Init.
func (s *Script) State() *State {
	return s.state
}

// Close releases the Lua state.
func (s *Script) Close() {
	if s.state != nil {
		s.state.Close()
	}
}

// openModule builds the hotswap table. It runs inside require, with the
// state lock held.
func (s *Script) openModule(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"on_load":     s.luaOnLoad,
		"on_redefine": s.luaOnRedefine,
		"command":     s.luaCommand,
		"schedule":    s.luaSchedule,
		"watch":       s.luaWatch,
		"log":         s.luaLog,
		"config":      s.luaConfig,
		"scope":       s.luaScope,
	})
	L.Push(mod)
	return 1
}

// hookOptions reads the optional options table of on_load and on_redefine.
func hookOptions(L *lua.LState, idx int) (string, hook.Gate) {
	t := L.OptTable(idx, nil)
	if t == nil {
		return "", 0
	}
	var g hook.Gate
	for field, flag := range map[string]hook.Gate{
		"first_load_only":   hook.GateFirstLoadOnly,
		"redefinition_only": hook.GateRedefinitionOnly,
		"skip_anonymous":    hook.GateSkipAnonymous,
		"skip_synthetic":    hook.GateSkipSynthetic,
	} {
		if lua.LVAsBool(t.RawGetString(field)) {
			g |= flag
		}
	}
	return lua.LVAsString(t.RawGetString("name")), g
}

// hotswap.on_load(pattern, fn [, opts])
func (s *Script) luaOnLoad(L *lua.LState) int {
	pattern := L.CheckString(1)
	fn := L.CheckFunction(2)
	name, gates := hookOptions(L, 3)

	err := s.binder.Hook(hook.Spec{
		Name:    name,
		Pattern: pattern,
		Kinds:   hook.Kinds(hook.KindLoad),
		Gates:   gates,
		Handler: hook.LoadFunc(func(ctx context.Context, ev *hook.LoadEvent) error {
			return s.callLoad(ctx, fn, ev)
		}),
	})
	if err != nil {
		L.RaiseError("on_load: %v", err)
	}
	return 0
}

// hotswap.on_redefine(pattern, fn [, opts])
func (s *Script) luaOnRedefine(L *lua.LState) int {
	pattern := L.CheckString(1)
	fn := L.CheckFunction(2)
	name, gates := hookOptions(L, 3)

	err := s.binder.Hook(hook.Spec{
		Name:    name,
		Pattern: pattern,
		Kinds:   hook.Kinds(hook.KindRedefine),
		Gates:   gates,
		Handler: hook.RedefineFunc(func(ctx context.Context, ev *hook.RedefineEvent) error {
			return s.callRedefine(ctx, fn, ev)
		}),
	})
	if err != nil {
		L.RaiseError("on_redefine: %v", err)
	}
	return 0
}

func (s *Script) callLoad(ctx context.Context, fn *lua.LFunction, ev *hook.LoadEvent) error {
	br := s.state.Bridge()
	var arg lua.LValue
	_ = s.state.With(func(*lua.LState) error {
		arg = br.UnitTable(ev.Unit, ev.IsRedefinition())
		return nil
	})

	results, err := s.state.Call(ctx, fn, arg)
	if err != nil {
		return &ScriptError{Script: s.source.Name, Err: err}
	}
	if err := resultError(results); err != nil {
		return &ScriptError{Script: s.source.Name, Err: err}
	}
	if len(results) == 0 {
		return nil
	}

	switch v := results[0].(type) {
	case lua.LString:
		ev.Unit.Body = []byte(v)
	case *lua.LTable:
		return s.state.With(func(*lua.LState) error {
			br.ApplyUnitTable(v, ev.Unit)
			return nil
		})
	}
	return nil
}

func (s *Script) callRedefine(ctx context.Context, fn *lua.LFunction, ev *hook.RedefineEvent) error {
	br := s.state.Bridge()
	var oldT, newT lua.LValue
	_ = s.state.With(func(*lua.LState) error {
		oldT = br.UnitTable(ev.Old, false)
		newT = br.UnitTable(ev.New, true)
		return nil
	})

	results, err := s.state.Call(ctx, fn, oldT, newT)
	if err != nil {
		return &ScriptError{Script: s.source.Name, Err: err}
	}
	if err := resultError(results); err != nil {
		return &ScriptError{Script: s.source.Name, Err: err}
	}
	return nil
}

// resultError maps the Lua convention `return false, "message"` to an error.
func resultError(results []lua.LValue) error {
	if len(results) == 0 || results[0] != lua.LFalse {
		return nil
	}
	msg := "hook returned false"
	if len(results) > 1 {
		msg = lua.LVAsString(results[1])
	}
	return errors.New(msg)
}

// hotswap.command(name, fn)
func (s *Script) luaCommand(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)

	s.mu.Lock()
	s.commands[name] = fn
	s.mu.Unlock()
	return 0
}

// hotswap.schedule(name, delay_ms [, payload [, policy [, target]]])
func (s *Script) luaSchedule(L *lua.LState) int {
	name := L.CheckString(1)
	delay := time.Duration(L.CheckInt64(2)) * time.Millisecond
	payload := s.state.Bridge().ToGoValue(L.Get(3))
	policy, err := command.ParsePolicy(L.OptString(4, ""))
	if err != nil {
		L.ArgError(4, err.Error())
		return 0
	}
	target := L.OptString(5, "")

	s.mu.RLock()
	_, ok := s.commands[name]
	s.mu.RUnlock()
	if !ok {
		L.RaiseError("schedule: %v: %s", ErrUnknownCommand, name)
		return 0
	}

	key := command.Key{Scope: s.binder.Scope().Name(), Name: name, Target: target}
	cmd := command.New(key, payload, s.runCommand)
	if err := s.binder.Schedule(cmd, delay, policy); err != nil {
		L.RaiseError("schedule: %v", err)
	}
	return 0
}

// runCommand executes a scheduled script command on the scheduler worker.
func (s *Script) runCommand(ctx context.Context, key command.Key, payloads []any) error {
	s.mu.RLock()
	fn, ok := s.commands[key.Name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, key.Name)
	}

	br := s.state.Bridge()
	var arg, target lua.LValue
	_ = s.state.With(func(*lua.LState) error {
		arg = br.ToLuaValue(payloads)
		target = lua.LString(key.Target)
		return nil
	})

	results, err := s.state.Call(ctx, fn, arg, target)
	if err != nil {
		return &ScriptError{Script: s.source.Name, Err: err}
	}
	if err := resultError(results); err != nil {
		return &ScriptError{Script: s.source.Name, Err: err}
	}
	return nil
}

// hotswap.watch(locator, fn)
func (s *Script) luaWatch(L *lua.LState) int {
	locator := L.CheckString(1)
	fn := L.CheckFunction(2)

	err := s.binder.Watch(locator, func(ev watch.Event) {
		var arg lua.LValue
		_ = s.state.With(func(*lua.LState) error {
			arg = s.state.Bridge().EventTable(ev)
			return nil
		})
		if _, err := s.state.Call(context.Background(), fn, arg); err != nil {
			s.logger.Warn("script watch listener failed",
				zap.String("locator", locator),
				zap.String("path", ev.Path),
				zap.Error(err))
		}
	})
	if err != nil {
		L.RaiseError("watch: %v", err)
	}
	return 0
}

// hotswap.log(msg [, level])
func (s *Script) luaLog(L *lua.LState) int {
	msg := L.CheckString(1)
	switch L.OptString(2, "info") {
	case "debug":
		s.logger.Debug(msg)
	case "warn":
		s.logger.Warn(msg)
	case "error":
		s.logger.Error(msg)
	default:
		s.logger.Info(msg)
	}
	return 0
}

// hotswap.config(key) returns the value or nil.
func (s *Script) luaConfig(L *lua.LState) int {
	cfg := s.binder.Config()
	if cfg == nil {
		L.Push(lua.LNil)
		return 1
	}
	v, ok := cfg.Get(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(s.state.Bridge().ToLuaValue(v))
	return 1
}

// hotswap.scope() returns the name of the instance's scope.
func (s *Script) luaScope(L *lua.LState) int {
	L.Push(lua.LString(s.binder.Scope().Name()))
	return 1
}
