package raft

import (
	"math/rand"
	"time"
)

// timerHandle cancels a previously armed timer. Role transitions cancel the
// outgoing role's timer before installing the replacement; timers are
// one-shot, re-arming is always explicit.
type timerHandle interface {
	Cancel()
}

type noopTimer struct{}

func (noopTimer) Cancel() {}

// Scheduler arms one-shot timers that invoke fn once the delay elapses, on
// whatever goroutine the timer fires on (a runtime timer goroutine for
// realScheduler, the goroutine calling Advance for ManualScheduler). The
// callbacks NodeImpl passes in submit their work to the node's executor
// themselves, so Scheduler stays a plain time source.
type Scheduler interface {
	// AfterFunc arms a one-shot timer; fn runs after d elapses unless the
	// returned handle is cancelled first.
	AfterFunc(d time.Duration, fn func()) timerHandle
}

// realScheduler wraps time.AfterFunc, the same primitive the teacher's
// raft.go used for electionTimer/heartbeatTimer.
type realScheduler struct{}

// NewRealScheduler returns a Scheduler backed by the Go runtime's timers.
func NewRealScheduler() Scheduler { return realScheduler{} }

type realTimerHandle struct{ t *time.Timer }

func (h realTimerHandle) Cancel() { h.t.Stop() }

func (realScheduler) AfterFunc(d time.Duration, fn func()) timerHandle {
	return realTimerHandle{time.AfterFunc(d, fn)}
}

// randomElectionTimeout mirrors the teacher's randomElectionTimeout: a
// uniform draw within [min, max].
func randomElectionTimeout(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

// ManualScheduler is a deterministic Scheduler for tests: it never fires on
// its own. Callers advance it explicitly and it invokes every callback
// whose deadline has passed, in deadline order (timers with equal
// deadlines in the order they were armed). Grounded on the
// teacher's testing.DeterministicClock / simulator.go event heap.
type ManualScheduler struct {
	now     time.Duration
	pending []*manualTimer
}

type manualTimer struct {
	deadline  time.Duration
	fn        func()
	cancelled bool
}

func (t *manualTimer) Cancel() { t.cancelled = true }

// NewManualScheduler returns a Scheduler whose timers only fire when
// Advance is called.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) timerHandle {
	t := &manualTimer{deadline: s.now + d, fn: fn}
	s.pending = append(s.pending, t)
	return t
}

// Advance moves the clock forward by d and synchronously runs every timer
// whose deadline has now passed, in deadline order.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.now += d
	for {
		var earliest *manualTimer
		idx := -1
		for i, t := range s.pending {
			if t.cancelled {
				continue
			}
			if t.deadline > s.now {
				continue
			}
			if earliest == nil || t.deadline < earliest.deadline {
				earliest = t
				idx = i
			}
		}
		if earliest == nil {
			return
		}
		s.pending = append(s.pending[:idx], s.pending[idx+1:]...)
		earliest.fn()
	}
}
