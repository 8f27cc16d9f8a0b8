// Package clock provides the time sources the dispatcher depends on:
// a readable wall clock and a single replaceable send timer.
//
// Both are injectable so the scheduling rules (minimum batch interval,
// maxWait heartbeat, region-event fast path) can be tested without
// sleeping. Production code uses System() and NewAlarm(); tests use the
// Fake variants and advance time by hand.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time. The dispatcher derives every
// scheduling decision from a Clock rather than calling time.Now
// directly.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns a Clock backed by the real wall clock.
func System() Clock { return systemClock{} }

// Fake is a manually advanced Clock for tests. Safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock set to the given instant.
func NewFake(now time.Time) *Fake { return &Fake{now: now} }

// Now returns the fake's current instant.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Alarm is a one-shot callback timer with replace-on-arm semantics:
// arming always cancels any previously armed fire, so at most one fire
// is ever outstanding. This is the primitive behind the "exactly one
// pending send" rule — rescheduling replaces, it never stacks.
type Alarm interface {
	// Arm schedules the callback to run once after d, replacing any
	// previously armed fire. A non-positive d fires as soon as possible.
	Arm(d time.Duration)

	// Stop cancels any armed fire. The callback may already be running.
	Stop()
}

type funcAlarm struct {
	mu    sync.Mutex
	fn    func()
	timer *time.Timer
}

// NewAlarm returns an Alarm that invokes fn on its own goroutine when it
// fires. fn must be safe to call from a goroutine other than the one
// that armed the alarm; the dispatcher's callback only enqueues a
// command, which satisfies this.
func NewAlarm(fn func()) Alarm {
	return &funcAlarm{fn: fn}
}

func (a *funcAlarm) Arm(d time.Duration) {
	if d < 0 {
		d = 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(d, a.fn)
}

func (a *funcAlarm) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// FakeAlarm records armed delays and fires only when told to. It never
// spawns goroutines, so tests stay deterministic.
type FakeAlarm struct {
	mu     sync.Mutex
	fn     func()
	armed  bool
	delays []time.Duration
}

// NewFakeAlarm returns a FakeAlarm invoking fn on Fire.
func NewFakeAlarm(fn func()) *FakeAlarm { return &FakeAlarm{fn: fn} }

// Arm records the delay and marks the alarm armed.
func (a *FakeAlarm) Arm(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.armed = true
	a.delays = append(a.delays, d)
}

// Stop disarms the alarm.
func (a *FakeAlarm) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.armed = false
}

// Fire runs the callback if the alarm is armed, consuming the arm.
func (a *FakeAlarm) Fire() {
	a.mu.Lock()
	if !a.armed {
		a.mu.Unlock()
		return
	}
	a.armed = false
	fn := a.fn
	a.mu.Unlock()
	fn()
}

// Armed reports whether a fire is outstanding.
func (a *FakeAlarm) Armed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.armed
}

// Delays returns every delay passed to Arm, in order.
func (a *FakeAlarm) Delays() []time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]time.Duration, len(a.delays))
	copy(out, a.delays)
	return out
}

// LastDelay returns the most recently armed delay, or -1 if none.
func (a *FakeAlarm) LastDelay() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.delays) == 0 {
		return -1
	}
	return a.delays[len(a.delays)-1]
}
