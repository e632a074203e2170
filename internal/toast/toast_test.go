package toast

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func newTestManager(mode Mode) (*Manager, *fakeScheduler) {
	sched := &fakeScheduler{}
	n := 0
	m := NewManager(
		WithMode(mode),
		WithScheduler(sched),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("t%d", n)
		}),
	)
	return m, sched
}

func messages(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Message
	}
	return out
}

func TestPushClampsTimeout(t *testing.T) {
	// Anything at or below the 1500ms floor must come out as exactly 1500ms,
	// including zero and negative requests.
	tests := []struct {
		name      string
		requested *time.Duration
		want      time.Duration
	}{
		{"default", nil, DefaultTimeout},
		{"zero", ptr(0), MinTimeout},
		{"negative", ptr(-time.Second), MinTimeout},
		{"below floor", ptr(200 * time.Millisecond), MinTimeout},
		{"at floor", ptr(MinTimeout), MinTimeout},
		{"above floor", ptr(5 * time.Second), 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, sched := newTestManager(ModeQueue)
			var opts []PushOption
			if tt.requested != nil {
				opts = append(opts, WithTimeout(*tt.requested))
			}
			item := m.Info("hello", opts...)
			if item.Timeout != tt.want {
				t.Errorf("item timeout = %v, want %v", item.Timeout, tt.want)
			}
			if got := sched.lastDelay(); got != tt.want {
				t.Errorf("scheduled delay = %v, want %v", got, tt.want)
			}
		})
	}
}

func ptr(d time.Duration) *time.Duration { return &d }

func TestPushDefaultsAndWrappers(t *testing.T) {
	m, _ := newTestManager(ModeQueue)

	s := m.Success("saved", WithTitle("Settings"))
	e := m.Error("failed")
	i := m.Info("fyi")
	p := m.Push("odd", Kind("warning"))

	if s.Kind != KindSuccess || s.Title != "Settings" {
		t.Errorf("success item = %+v", s)
	}
	if e.Kind != KindError {
		t.Errorf("error kind = %q", e.Kind)
	}
	if i.Kind != KindInfo {
		t.Errorf("info kind = %q", i.Kind)
	}
	if p.Kind != KindInfo {
		t.Errorf("unknown kind should fall back to info, got %q", p.Kind)
	}
	if s.ID == e.ID || e.ID == i.ID {
		t.Error("ids must be unique")
	}
}

func TestDefaultIDsAreUnique(t *testing.T) {
	m := NewManager(WithScheduler(&fakeScheduler{}))
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id := m.Info("x").ID
		if id == "" || seen[id] {
			t.Fatalf("duplicate or empty id %q at %d", id, i)
		}
		seen[id] = true
	}
}

func TestQueueItemsExpireIndependently(t *testing.T) {
	m, sched := newTestManager(ModeQueue)

	m.Info("short", WithTimeout(2*time.Second))
	m.Info("long", WithTimeout(4*time.Second))

	if got := messages(m.List()); len(got) != 2 {
		t.Fatalf("expected 2 live toasts, got %v", got)
	}

	sched.Advance(2 * time.Second)
	if got := messages(m.List()); len(got) != 1 || got[0] != "long" {
		t.Fatalf("after 2s got %v, want [long]", got)
	}

	sched.Advance(2 * time.Second)
	if got := m.List(); len(got) != 0 {
		t.Fatalf("after 4s got %v, want empty", messages(got))
	}
	if m.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", m.Pending())
	}
}

func TestItemPresentUntilTimeout(t *testing.T) {
	m, sched := newTestManager(ModeQueue)
	m.Info("hello")

	sched.Advance(DefaultTimeout - time.Millisecond)
	if got := messages(m.List()); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("toast gone early: %v", got)
	}
	sched.Advance(time.Millisecond)
	if len(m.List()) != 0 {
		t.Fatal("toast still present after timeout")
	}
}

func TestSingleSlotReplacesAndCancels(t *testing.T) {
	m, sched := newTestManager(ModeSingleSlot)

	m.Info("first", WithTimeout(2*time.Second))
	sched.Advance(time.Second)
	m.Info("second", WithTimeout(2*time.Second))

	if got := messages(m.List()); len(got) != 1 || got[0] != "second" {
		t.Fatalf("got %v, want [second]", got)
	}
	if live := sched.live(); live != 1 {
		t.Fatalf("live timers = %d, want 1 (previous timer must be cancelled)", live)
	}

	// The first toast's original deadline passes; the second must survive.
	sched.Advance(time.Second)
	if got := messages(m.List()); len(got) != 1 || got[0] != "second" {
		t.Fatalf("second toast removed by stale timer: %v", got)
	}

	sched.Advance(time.Second)
	if len(m.List()) != 0 {
		t.Fatal("second toast should have expired")
	}
	if m.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", m.Pending())
	}
}

func TestSingleSlotStaleExpiryIsIgnored(t *testing.T) {
	// Simulates a timer whose Stop lost the race and fires anyway.
	m, _ := newTestManager(ModeSingleSlot)
	first := m.Info("first")
	m.Info("second")

	m.expire(first.ID)

	if got := messages(m.List()); len(got) != 1 || got[0] != "second" {
		t.Fatalf("got %v, want [second]", got)
	}
	if m.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", m.Pending())
	}
}

func TestRemove(t *testing.T) {
	for _, mode := range []Mode{ModeQueue, ModeSingleSlot} {
		t.Run(mode.String(), func(t *testing.T) {
			m, sched := newTestManager(mode)
			a := m.Info("a")
			if mode == ModeQueue {
				m.Info("b")
			}
			before := messages(m.List())

			m.Remove("does-not-exist")
			after := messages(m.List())
			if fmt.Sprint(before) != fmt.Sprint(after) {
				t.Fatalf("Remove of unknown id changed list: %v -> %v", before, after)
			}

			m.Remove(a.ID)
			for _, it := range m.List() {
				if it.ID == a.ID {
					t.Fatal("removed toast still present")
				}
			}
			if mode == ModeSingleSlot && sched.live() != 0 {
				t.Errorf("single-slot Remove left %d live timers", sched.live())
			}
		})
	}
}

func TestClear(t *testing.T) {
	for _, mode := range []Mode{ModeQueue, ModeSingleSlot} {
		t.Run(mode.String(), func(t *testing.T) {
			m, sched := newTestManager(mode)
			m.Info("a")
			m.Error("b")

			m.Clear()

			if len(m.List()) != 0 {
				t.Fatalf("list not empty after Clear: %v", messages(m.List()))
			}
			if sched.live() != 0 {
				t.Errorf("Clear left %d live timers", sched.live())
			}
			// Clearing an empty list is fine too.
			m.Clear()
		})
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	m, sched := newTestManager(ModeQueue)
	ch := m.Subscribe()
	defer m.Unsubscribe(ch)

	m.Info("hello")
	select {
	case snap := <-ch:
		if len(snap) != 1 || snap[0].Message != "hello" {
			t.Fatalf("unexpected snapshot %v", messages(snap))
		}
	default:
		t.Fatal("no snapshot after Push")
	}

	sched.Advance(DefaultTimeout)
	select {
	case snap := <-ch:
		if len(snap) != 0 {
			t.Fatalf("expected empty snapshot after expiry, got %v", messages(snap))
		}
	default:
		t.Fatal("no snapshot after expiry")
	}
}

func TestCloseStopsTimersAndSubscriptions(t *testing.T) {
	m, sched := newTestManager(ModeQueue)
	ch := m.Subscribe()
	m.Info("a")
	<-ch

	m.Close()

	if sched.live() != 0 {
		t.Errorf("Close left %d live timers", sched.live())
	}
	if _, ok := <-ch; ok {
		t.Error("subscription should be closed")
	}
	m.Info("after close")
	if len(m.List()) != 0 {
		t.Error("push after Close must be dropped")
	}
	m.Close()
}

func TestPushHook(t *testing.T) {
	var seen []Kind
	m := NewManager(WithScheduler(&fakeScheduler{}), WithPushHook(func(it Item) {
		seen = append(seen, it.Kind)
	}))
	m.Success("a")
	m.Error("b")
	if len(seen) != 2 || seen[0] != KindSuccess || seen[1] != KindError {
		t.Fatalf("hook saw %v", seen)
	}
}

func TestItemJSON(t *testing.T) {
	data, err := json.Marshal(Item{ID: "x", Kind: KindError, Message: "m", Timeout: 1500 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["timeoutMs"] != float64(1500) || got["kind"] != "error" {
		t.Errorf("unexpected JSON %s", data)
	}
	if _, ok := got["title"]; ok {
		t.Errorf("empty title should be omitted: %s", data)
	}
}

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"":            ModeQueue,
		"queue":       ModeQueue,
		"single-slot": ModeSingleSlot,
		"single_slot": ModeSingleSlot,
		"single":      ModeSingleSlot,
		"bogus":       ModeQueue,
	}
	for in, want := range tests {
		if got := ParseMode(in); got != want {
			t.Errorf("ParseMode(%q) = %v, want %v", in, got, want)
		}
	}
}
