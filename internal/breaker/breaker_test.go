package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowsUntilThreshold(t *testing.T) {
	b := New(5, 30*time.Second)
	for i := 0; i < 4; i++ {
		assert.True(t, b.Allow())
		b.RecordFailure()
	}
	assert.True(t, b.Allow(), "4 failures should not yet open the circuit")
}

func TestOpensAtThreshold(t *testing.T) {
	b := New(5, time.Hour)
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	assert.True(t, b.Open())
	assert.False(t, b.Allow())
}

func TestSuccessResetsCounter(t *testing.T) {
	b := New(5, time.Hour)
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.False(t, b.Open(), "counter should have reset after the success")
}

func TestClosesAfterCooldown(t *testing.T) {
	b := New(2, 10*time.Millisecond)
	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.Open())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow())
	assert.False(t, b.Open())
}
