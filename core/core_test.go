package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_Validate(t *testing.T) {
	assert.ErrorIs(t, NewMessage("a", "b", MessageQuestion, "   \n\t", nil).Validate(), ErrEmptyContent)
	assert.NoError(t, NewMessage("a", "b", MessageQuestion, "hi", nil).Validate())
}

func TestMessage_Tokens(t *testing.T) {
	cases := []struct {
		name string
		v    any
		want int
		ok   bool
	}{
		{"int", 42, 42, true},
		{"float", 12.0, 12, true},
		{"json number", json.Number("7"), 7, true},
		{"zero", 0, 0, false},
		{"negative", -3, 0, false},
		{"fraction", 0.4, 0, false},
		{"string", "12", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMessage("a", "b", MessageResponse, "x", map[string]any{MetaTokens: tc.v})
			n, ok := m.Tokens()
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, n)
		})
	}

	_, ok := NewMessage("a", "b", MessageResponse, "x", nil).Tokens()
	assert.False(t, ok)
}

func TestMessage_CloneIsolatesMetadata(t *testing.T) {
	m := NewMessage("a", "b", MessageTask, "x", map[string]any{MetaThread: "t1"})
	c := m.Clone()
	c.Metadata[MetaThread] = "t2"

	thread, ok := m.MetaString(MetaThread)
	require.True(t, ok)
	assert.Equal(t, "t1", thread)
}

func TestNormalizeConnections(t *testing.T) {
	got := NormalizeConnections("a", []string{"c", "a", "b", "c", "", "b"})
	assert.Equal(t, []string{"b", "c"}, got)
}

func TestAgentPatch_Apply(t *testing.T) {
	d := AgentDescriptor{ID: "a", Name: "Alpha", Role: "coordinator", Connections: []string{"b"}}

	out := AgentPatch{Role: StringPtr("critic"), IsTalking: BoolPtr(true)}.Apply(d)
	assert.Equal(t, "Alpha", out.Name)
	assert.Equal(t, "critic", out.Role)
	assert.True(t, out.IsTalking)
	assert.Equal(t, []string{"b"}, out.Connections)

	out = AgentPatch{SetConnections: true, Connections: []string{"a", "c", "c"}}.Apply(d)
	assert.Equal(t, []string{"c"}, out.Connections)

	// original untouched
	assert.Equal(t, []string{"b"}, d.Connections)
	assert.False(t, d.IsTalking)
}

func TestLinkDescriptor_Expire(t *testing.T) {
	now := time.Unix(1000, 0)
	until := now.Add(DefaultLinkTTL)
	l := LinkDescriptor{ID: LinkID("a", "b"), Source: "a", Target: "b", IsActive: true, ActiveUntil: &until}

	assert.Equal(t, "a::b", l.ID)
	assert.False(t, l.Expire(now.Add(time.Second)))
	assert.True(t, l.IsActive)
	assert.True(t, l.Expire(now.Add(3*time.Second)))
	assert.False(t, l.IsActive)
	assert.Nil(t, l.ActiveUntil)
}

func TestGovernedRejectionError(t *testing.T) {
	err := fmt.Errorf("send: %w", &GovernedRejectionError{Verdict: "suppressed", Similarity: 0.97, Thread: "s1"})

	assert.True(t, errors.Is(err, ErrGovernedRejection))
	gre, ok := IsGovernedRejection(err)
	require.True(t, ok)
	assert.Equal(t, "suppressed", gre.Verdict)
	assert.InDelta(t, 0.97, gre.Similarity, 1e-9)

	_, ok = IsGovernedRejection(errors.New("other"))
	assert.False(t, ok)
}

func TestBudget(t *testing.T) {
	b := NewBudget(2)
	require.NoError(t, b.Increment())
	require.NoError(t, b.Increment())
	assert.ErrorIs(t, b.Increment(), ErrBudgetExhausted)
	assert.Equal(t, 2, b.Count())
	assert.Equal(t, 0, b.Remaining())

	unlimited := NewBudget(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, unlimited.Increment())
	}
	assert.Equal(t, -1, unlimited.Remaining())
}
