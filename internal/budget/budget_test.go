package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDrainExhaustsStream(t *testing.T) {
	remaining := 5
	exhausted := Drain(time.Second, func() bool {
		if remaining == 0 {
			return false
		}
		remaining--
		return true
	})
	assert.True(t, exhausted)
	assert.Zero(t, remaining)
}

func TestDrainStopsOnBudget(t *testing.T) {
	served := 0
	exhausted := Drain(3*time.Millisecond, func() bool {
		served++
		time.Sleep(time.Millisecond)
		return true
	})
	assert.False(t, exhausted, "an endless stream must hit the budget")
	assert.Greater(t, served, 0)
}

func TestDrainZeroBudgetServesOne(t *testing.T) {
	served := 0
	Drain(0, func() bool {
		served++
		time.Sleep(time.Millisecond)
		return true
	})
	assert.Equal(t, 1, served)
}
