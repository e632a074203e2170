package toast

import (
	"sort"
	"sync"
	"time"
)

// fakeScheduler is a manual clock. Timers fire only from Advance.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *fakeScheduler
	at      time.Duration
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, at: s.now + d, delay: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves the clock forward and runs every timer that came due, in
// deadline order. Callbacks run without the scheduler lock held.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && t.at <= s.now {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

// live counts timers that are neither stopped nor fired.
func (s *fakeScheduler) live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// lastDelay returns the delay requested by the most recent AfterFunc call.
func (s *fakeScheduler) lastDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return 0
	}
	return s.timers[len(s.timers)-1].delay
}
