package debounce

import "time"

// Debouncer keeps the next-watch delay state of every rule, addressed by
// rule index. It is not safe for concurrent use; the monitor loop owns it.
type Debouncer struct {
	delays    []time.Duration
	lastFired []time.Time
	now       func() time.Time
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Debouncer) { d.now = now }
}

// New creates a Debouncer for len(delays) rules. A zero delay disables
// suppression for that rule.
func New(delays []time.Duration, opts ...Option) *Debouncer {
	d := &Debouncer{
		delays:    append([]time.Duration(nil), delays...),
		lastFired: make([]time.Time, len(delays)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// InDelay reports whether rule i fired within its delay. An elapsed time
// equal to the delay still counts as inside it.
func (d *Debouncer) InDelay(i int) bool {
	if d.delays[i] <= 0 || d.lastFired[i].IsZero() {
		return false
	}
	return d.now().Sub(d.lastFired[i]) <= d.delays[i]
}

// RecordFired stores the firing instant of rule i. No-op for rules
// without a delay.
func (d *Debouncer) RecordFired(i int) {
	if d.delays[i] <= 0 {
		return
	}
	d.lastFired[i] = d.now()
}

// Admit reports whether rule i may fire now and, if so, records the firing.
func (d *Debouncer) Admit(i int) bool {
	if d.InDelay(i) {
		return false
	}
	d.RecordFired(i)
	return true
}
