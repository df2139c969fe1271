package debounce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestNoDelayNeverSuppresses(t *testing.T) {
	clock := newClock()
	d := New([]time.Duration{0}, WithClock(clock.Now))

	for i := 0; i < 100; i++ {
		assert.True(t, d.Admit(0))
		assert.False(t, d.InDelay(0))
	}
}

func TestDelayBoundary(t *testing.T) {
	const delay = 60 * time.Second
	tests := []struct {
		name    string
		elapsed time.Duration
		admit   bool
	}{
		{"immediately", 0, false},
		{"ten seconds", 10 * time.Second, false},
		{"just before", delay - time.Nanosecond, false},
		{"exactly at delay", delay, false},
		{"just after", delay + time.Nanosecond, true},
		{"long after", 10 * delay, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newClock()
			d := New([]time.Duration{delay}, WithClock(clock.Now))

			assert.True(t, d.Admit(0), "first firing is always admitted")
			clock.Advance(tt.elapsed)
			assert.Equal(t, tt.admit, d.Admit(0))
		})
	}
}

func TestSuppressedDoesNotExtendDelay(t *testing.T) {
	clock := newClock()
	d := New([]time.Duration{time.Minute}, WithClock(clock.Now))

	assert.True(t, d.Admit(0))
	clock.Advance(50 * time.Second)
	assert.False(t, d.Admit(0))
	clock.Advance(11 * time.Second)
	assert.True(t, d.Admit(0), "suppressed attempts must not move the last firing")
}

func TestRulesAreIndependent(t *testing.T) {
	clock := newClock()
	d := New([]time.Duration{time.Minute, 0, 10 * time.Second}, WithClock(clock.Now))

	assert.True(t, d.Admit(0))
	assert.True(t, d.Admit(1))
	assert.True(t, d.Admit(2))

	clock.Advance(30 * time.Second)
	assert.True(t, d.InDelay(0))
	assert.False(t, d.InDelay(1))
	assert.False(t, d.InDelay(2))
}

func TestRecordFiredWithoutDelayIsNoop(t *testing.T) {
	clock := newClock()
	d := New([]time.Duration{0}, WithClock(clock.Now))

	d.RecordFired(0)
	assert.True(t, d.lastFired[0].IsZero())
}
