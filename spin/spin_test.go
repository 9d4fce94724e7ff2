package spin

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUntilReturnsOnceConditionFlips(t *testing.T) {
	var ready atomic.Bool
	go func() {
		time.Sleep(time.Millisecond)
		ready.Store(true)
	}()
	Until(ready.Load)
	assert.True(t, ready.Load())
}

func TestUntilBudgetZeroChecksOnceOnly(t *testing.T) {
	calls := 0
	cond := func() bool { calls++; return false }
	granted := UntilBudget(cond, Zero)
	assert.False(t, granted)
	assert.Equal(t, 1, calls)
}

func TestUntilBudgetZeroSucceedsImmediately(t *testing.T) {
	granted := UntilBudget(func() bool { return true }, Zero)
	assert.True(t, granted)
}

func TestUntilBudgetExpiresWithoutNever(t *testing.T) {
	granted := UntilBudget(func() bool { return false }, Budget(10))
	assert.False(t, granted)
}

func TestUntilBudgetNeverWaitsUnconditionally(t *testing.T) {
	var ready atomic.Bool
	go func() {
		time.Sleep(time.Millisecond)
		ready.Store(true)
	}()
	granted := UntilBudget(ready.Load, Never)
	assert.True(t, granted)
}
