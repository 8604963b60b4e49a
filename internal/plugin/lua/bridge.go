package lua

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/hotswap/internal/unit"
	"github.com/dshills/hotswap/internal/watch"
)

// Bridge converts values between Go and Lua.
type Bridge struct {
	L *lua.LState
}

// NewBridge creates a bridge for L.
func NewBridge(L *lua.LState) *Bridge {
	return &Bridge{L: L}
}

// ToGoValue converts a Lua value to a Go value. Tables with contiguous
// integer keys from 1 become []any, other tables map[string]any. Functions
// and cyclic references become nil.
func (b *Bridge) ToGoValue(lv lua.LValue) any {
	return b.toGo(lv, make(map[*lua.LTable]bool))
}

func (b *Bridge) toGo(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case nil:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		defer delete(visited, v)
		return b.tableToGo(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func (b *Bridge) tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	n := t.Len()
	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })

	if n > 0 && n == count {
		arr := make([]any, n)
		for i := 1; i <= n; i++ {
			arr[i-1] = b.toGo(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = strconv.FormatFloat(float64(kv), 'f', -1, 64)
		default:
			key = k.String()
		}
		m[key] = b.toGo(v, visited)
	})
	return m
}

// ToLuaValue converts a Go value to a Lua value. Unknown types are
// converted with fmt.Sprint.
func (b *Bridge) ToLuaValue(v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case time.Duration:
		return lua.LNumber(val.Milliseconds())
	case []any:
		t := b.L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(b.ToLuaValue(item))
		}
		return t
	case []string:
		t := b.L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(lua.LString(item))
		}
		return t
	case map[string]any:
		t := b.L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, b.ToLuaValue(item))
		}
		return t
	case map[string]string:
		t := b.L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, lua.LString(item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// UnitTable converts a unit to the table scripts see. redefinition is
// exposed as a field so load hooks can tell first loads apart.
func (b *Bridge) UnitTable(u *unit.Unit, redefinition bool) *lua.LTable {
	t := b.L.CreateTable(0, 6)
	if u == nil {
		return t
	}
	t.RawSetString("name", lua.LString(u.Name))
	t.RawSetString("body", lua.LString(u.Body))
	t.RawSetString("version", lua.LNumber(u.Version))
	t.RawSetString("synthetic", lua.LBool(u.Synthetic))
	t.RawSetString("redefinition", lua.LBool(redefinition))
	t.RawSetString("attrs", b.ToLuaValue(u.Attrs))
	return t
}

// ApplyUnitTable copies body and attrs from a script-returned table onto u.
func (b *Bridge) ApplyUnitTable(t *lua.LTable, u *unit.Unit) {
	if body, ok := t.RawGetString("body").(lua.LString); ok {
		u.Body = []byte(body)
	}
	attrs, ok := t.RawGetString("attrs").(*lua.LTable)
	if !ok {
		return
	}
	keys := make([]string, 0)
	attrs.ForEach(func(k, _ lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			keys = append(keys, string(ks))
		}
	})
	sort.Strings(keys)
	for _, k := range keys {
		u.SetAttr(k, lua.LVAsString(attrs.RawGetString(k)))
	}
}

// EventTable converts a watch event to a table.
func (b *Bridge) EventTable(ev watch.Event) *lua.LTable {
	t := b.L.CreateTable(0, 4)
	t.RawSetString("op", lua.LString(ev.Op.String()))
	t.RawSetString("path", lua.LString(ev.Path))
	t.RawSetString("locator", lua.LString(ev.Locator))
	t.RawSetString("time", lua.LNumber(ev.Timestamp.UnixMilli()))
	return t
}
