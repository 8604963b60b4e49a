package lua

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestState_DoStringAndCall(t *testing.T) {
	s := NewState()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.DoString(ctx, `function add(a, b) return a + b, "done" end`))

	var fn lua.LValue
	require.NoError(t, s.With(func(L *lua.LState) error {
		fn = L.GetGlobal("add")
		return nil
	}))

	results, err := s.Call(ctx, fn, lua.LNumber(2), lua.LNumber(3))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, lua.LNumber(5), results[0])
	assert.Equal(t, lua.LString("done"), results[1])
}

func TestState_CallNotFunction(t *testing.T) {
	s := NewState()
	defer s.Close()

	_, err := s.Call(context.Background(), lua.LString("nope"))
	assert.ErrorIs(t, err, ErrNotFunction)
}

func TestState_ScriptError(t *testing.T) {
	s := NewState()
	defer s.Close()

	err := s.DoString(context.Background(), `error("broken")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestState_Timeout(t *testing.T) {
	s := NewState(WithExecutionTimeout(50 * time.Millisecond))
	defer s.Close()

	start := time.Now()
	err := s.DoString(context.Background(), `while true do end`)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	// The state stays usable after a timeout.
	require.NoError(t, s.DoString(context.Background(), `x = 1`))
}

func TestState_CancelledContext(t *testing.T) {
	s := NewState()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.DoString(ctx, `x = 1`)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestState_Closed(t *testing.T) {
	s := NewState()
	s.Close()
	s.Close()

	assert.True(t, s.IsClosed())
	assert.ErrorIs(t, s.DoString(context.Background(), `x = 1`), ErrStateClosed)
	assert.ErrorIs(t, s.With(func(*lua.LState) error { return nil }), ErrStateClosed)
}

func TestSandbox(t *testing.T) {
	s := NewState()
	defer s.Close()
	ctx := context.Background()

	tests := []struct {
		name string
		code string
		ok   bool
	}{
		{"string library", `assert(string.upper("a") == "A")`, true},
		{"require safe module", `local m = require("math"); assert(m.floor(1.5) == 1)`, true},
		{"io is closed", `assert(io == nil)`, true},
		{"os is closed", `assert(os == nil)`, true},
		{"dofile removed", `dofile("x.lua")`, false},
		{"load removed", `load("return 1")`, false},
		{"require io", `require("io")`, false},
		{"require from disk", `require("some.module")`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.DoString(ctx, tt.code)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSandbox_Preload(t *testing.T) {
	s := NewState()
	defer s.Close()

	s.Preload("greeter", func(L *lua.LState) int {
		mod := L.NewTable()
		mod.RawSetString("hello", lua.LString("hi"))
		L.Push(mod)
		return 1
	})

	assert.True(t, s.Sandbox().IsAllowed("greeter"))
	assert.Contains(t, s.Sandbox().Allowed(), "greeter")
	require.NoError(t, s.DoString(context.Background(), `assert(require("greeter").hello == "hi")`))
}
