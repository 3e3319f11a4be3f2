package core

import (
	"fmt"
	"sync"
)

// Budget enforces a maximum number of units (turns, calls) per run.
type Budget struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewBudget creates a new budget with a max number of units.
// If max == 0, the budget is unlimited.
func NewBudget(max int) *Budget {
	return &Budget{max: max}
}

// Increment consumes one unit and returns ErrBudgetExhausted if the limit is
// exceeded. The counter is not advanced past the limit.
func (b *Budget) Increment() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max > 0 && b.count >= b.max {
		return fmt.Errorf("%w: max %d", ErrBudgetExhausted, b.max)
	}

	b.count++

	return nil
}

// Count returns the number of units consumed so far.
func (b *Budget) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}

// Remaining returns how many units are left before hitting the limit.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max == 0 {
		return -1 // unlimited
	}

	return b.max - b.count
}
