package orchestrator

import (
	"fmt"
	"testing"
	"time"

	"github.com/hupe1980/atlasforge/agent"
	"github.com/stretchr/testify/assert"
)

func testSession(names ...string) (*Session, map[string]*DynamicAgent) {
	s := newSession("s1", "prompt", DefaultLimits())
	byName := map[string]*DynamicAgent{}
	for i, n := range names {
		a := &DynamicAgent{ID: fmt.Sprintf("id-%s", n), Spec: agent.Spec{Name: n}, Coordinator: i == 0}
		s.addAgent(a)
		byName[n] = a
	}
	return s, byName
}

// speak runs the fairness check and, unless halted, records a message.
func speak(s *Session, a *DynamicAgent) (bool, string) {
	halt, reason := s.guardTurnTaking(a, time.Now())
	if !halt {
		s.appendMessage(ConversationMessage{From: a.ID, FromName: a.Name(), Content: "x"})
	}
	return halt, reason
}

func TestGuardTurnTaking_Monopolization(t *testing.T) {
	s, ag := testSession("A", "B")

	halt, _ := speak(s, ag["A"])
	assert.False(t, halt)
	halt, _ = speak(s, ag["A"])
	assert.False(t, halt, "two consecutive turns are allowed")

	halt, reason := speak(s, ag["A"])
	assert.True(t, halt)
	assert.Equal(t, HaltMonopolization, reason)
	assert.Equal(t, 3, s.TurnStat("id-A").ConsecutiveCount)
}

func TestGuardTurnTaking_ConsecutiveResets(t *testing.T) {
	s, ag := testSession("A", "B")
	for _, n := range []string{"A", "A", "B", "A", "A"} {
		halt, _ := speak(s, ag[n])
		assert.False(t, halt)
	}
	assert.Equal(t, 4, s.TurnStat("id-A").Count)
}

func TestGuardTurnTaking_Alternation(t *testing.T) {
	s, ag := testSession("A", "B")
	seq := []string{"A", "B", "A", "B", "A", "B"}
	for i, n := range seq {
		halt, reason := speak(s, ag[n])
		if i < len(seq)-1 {
			assert.False(t, halt, "turn %d", i)
			continue
		}
		assert.True(t, halt)
		assert.Equal(t, HaltAlternation, reason)
	}
}

func TestGuardTurnTaking_BrokenAlternationContinues(t *testing.T) {
	s, ag := testSession("A", "B", "C")
	for _, n := range []string{"A", "B", "A", "B", "A", "C"} {
		halt, _ := speak(s, ag[n])
		assert.False(t, halt)
	}
}

func TestGuardTurnTaking_PeriodThreeIsNotDetected(t *testing.T) {
	s, ag := testSession("A", "B", "C")
	for i := 0; i < 12; i++ {
		halt, _ := speak(s, ag[[]string{"A", "B", "C"}[i%3]])
		assert.False(t, halt)
	}
}

func TestTurnSequenceCap(t *testing.T) {
	s, ag := testSession("A", "B", "C")
	for i := 0; i < 20; i++ {
		speak(s, ag[[]string{"A", "B", "C"}[i%3]])
	}
	assert.Len(t, s.TurnSequence(), 12)
}

func TestIsStrictAlternation(t *testing.T) {
	assert.True(t, isStrictAlternation([]string{"C", "A", "B", "A", "B", "A", "B"}, 6))
	assert.False(t, isStrictAlternation([]string{"A", "B", "A", "B", "A"}, 6))
	assert.False(t, isStrictAlternation([]string{"A", "A", "A", "A", "A", "A"}, 6))
	assert.False(t, isStrictAlternation([]string{"A", "B", "B", "A", "A", "B"}, 6))
}

func TestShortTermBufferCap(t *testing.T) {
	s, _ := testSession("A")
	for i := 0; i < 10; i++ {
		s.remember("id-A", fmt.Sprintf("n%d", i))
	}
	buf := s.ShortTerm("id-A")
	assert.Len(t, buf, 8)
	assert.Equal(t, "n2", buf[0])
}

func TestLookupByNameOrID(t *testing.T) {
	s, ag := testSession("Market Researcher", "Critic")
	assert.Equal(t, ag["Market Researcher"], s.lookup("market researcher"))
	assert.Equal(t, ag["Market Researcher"], s.lookup("MarketResearcher"))
	assert.Equal(t, ag["Critic"], s.lookup("id-Critic"))
	assert.Nil(t, s.lookup("nobody"))
	assert.Nil(t, s.lookup(""))
}
