package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUninitialized, "uninitialized"},
		{StateInitializing, "initializing"},
		{StateReady, "ready"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestScope_Chain(t *testing.T) {
	m := NewManager(nil)
	a, _ := m.Register("A", nil, nil)
	b, _ := m.Register("B", a, nil)

	chain, err := b.Chain()
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Same(t, b, chain[0])
	assert.Same(t, a, chain[1])
	assert.Same(t, m.Root(), chain[2])
}

func TestScope_ChainCycleGuard(t *testing.T) {
	x := &Scope{name: "x"}
	y := &Scope{name: "y", parent: x}
	x.parent = y

	_, err := x.Chain()
	assert.ErrorIs(t, err, ErrCycle)
	assert.False(t, (&Scope{name: "z"}).IsAncestorOf(x))
}

func TestScope_IsAncestorOf(t *testing.T) {
	m := NewManager(nil)
	a, _ := m.Register("A", nil, nil)
	b, _ := m.Register("B", a, nil)
	sibling, _ := m.Register("S", nil, nil)

	assert.True(t, a.IsAncestorOf(b))
	assert.True(t, b.IsAncestorOf(b))
	assert.True(t, m.Root().IsAncestorOf(b))
	assert.False(t, b.IsAncestorOf(a))
	assert.False(t, sibling.IsAncestorOf(b))
}

func TestScope_StateNeverRegresses(t *testing.T) {
	s := &Scope{name: "s"}

	assert.True(t, s.advance(StateUninitialized, StateInitializing))
	assert.True(t, s.advance(StateInitializing, StateReady))
	assert.False(t, s.advance(StateUninitialized, StateInitializing))
	assert.Equal(t, StateReady, s.State())
}

func TestScope_String(t *testing.T) {
	var s *Scope
	assert.Equal(t, "<nil>", s.String())
	assert.Equal(t, "x", (&Scope{name: "x"}).String())
}
