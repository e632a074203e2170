// Package toast keeps the list of short-lived notifications shown to one
// visitor and removes each entry when its timeout elapses.
//
// A Manager runs in one of two modes, fixed at construction:
//
//   - ModeQueue: every Push appends; each item expires on its own timer.
//   - ModeSingleSlot: at most one item is visible. Push replaces the list and
//     releases the previous item's timer before scheduling its own.
package toast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gwlsn/heartbeat/internal/pubsub"
)

const (
	// DefaultTimeout applies when Push is called without WithTimeout.
	DefaultTimeout = 3000 * time.Millisecond
	// MinTimeout is the lower clamp for every toast.
	MinTimeout = 1500 * time.Millisecond
)

// Kind is the presentation class of a toast.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSuccess, KindError, KindInfo:
		return true
	}
	return false
}

// Mode selects the list discipline of a Manager.
type Mode int

const (
	ModeQueue Mode = iota
	ModeSingleSlot
)

func (m Mode) String() string {
	if m == ModeSingleSlot {
		return "single-slot"
	}
	return "queue"
}

// ParseMode maps a config value to a Mode. Unknown values select ModeQueue.
func ParseMode(s string) Mode {
	switch s {
	case "single-slot", "single_slot", "single":
		return ModeSingleSlot
	default:
		return ModeQueue
	}
}

// Item is one live toast.
type Item struct {
	ID      string
	Kind    Kind
	Title   string
	Message string
	Timeout time.Duration
}

// MarshalJSON renders the timeout in milliseconds for the browser.
func (i Item) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string `json:"id"`
		Kind      Kind   `json:"kind"`
		Title     string `json:"title,omitempty"`
		Message   string `json:"message"`
		TimeoutMs int64  `json:"timeoutMs"`
	}{
		ID:        i.ID,
		Kind:      i.Kind,
		Title:     i.Title,
		Message:   i.Message,
		TimeoutMs: i.Timeout.Milliseconds(),
	})
}

// Timer is a pending scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallScheduler struct{}

func (wallScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures a Manager.
type Option func(*Manager)

// WithMode selects queue or single-slot behaviour.
func WithMode(mode Mode) Option {
	return func(m *Manager) { m.mode = mode }
}

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) {
		if s != nil {
			m.sched = s
		}
	}
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// WithPushHook registers fn to observe every pushed item.
func WithPushHook(fn func(Item)) Option {
	return func(m *Manager) { m.onPush = fn }
}

// PushOption adjusts one Push call.
type PushOption func(*Item)

// WithTitle sets an optional heading.
func WithTitle(title string) PushOption {
	return func(i *Item) { i.Title = title }
}

// WithTimeout requests a display duration. Values below MinTimeout are raised
// to MinTimeout.
func WithTimeout(d time.Duration) PushOption {
	return func(i *Item) { i.Timeout = d }
}

// slot holds the single pending timer of a single-slot manager. Acquiring a
// new timer always stops the previous one first.
type slot struct {
	id    string
	timer Timer
}

func (s *slot) acquire(id string, t Timer) {
	s.release()
	s.id = id
	s.timer = t
}

func (s *slot) release() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.id = ""
	s.timer = nil
}

// Manager owns the toast list of one visitor.
type Manager struct {
	mu     sync.Mutex
	mode   Mode
	items  []Item
	timers map[string]Timer
	slot   slot
	closed bool

	sched   Scheduler
	newID   func() string
	onPush  func(Item)
	changes *pubsub.Broker[[]Item]
}

// NewManager creates an empty manager. The default mode is ModeQueue.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		mode:    ModeQueue,
		timers:  make(map[string]Timer),
		sched:   wallScheduler{},
		newID:   uuid.NewString,
		changes: pubsub.NewBroker[[]Item](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mode reports the list discipline chosen at construction.
func (m *Manager) Mode() Mode {
	return m.mode
}

// Push adds a toast and schedules its removal.
func (m *Manager) Push(message string, kind Kind, opts ...PushOption) Item {
	if !kind.Valid() {
		kind = KindInfo
	}
	item := Item{
		Kind:    kind,
		Message: message,
		Timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&item)
	}
	item.ID = m.newID()
	item.Timeout = max(MinTimeout, item.Timeout)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return item
	}
	id := item.ID
	timer := m.sched.AfterFunc(item.Timeout, func() { m.expire(id) })
	switch m.mode {
	case ModeSingleSlot:
		m.slot.acquire(id, timer)
		m.items = []Item{item}
	default:
		m.items = append(m.items, item)
		m.timers[id] = timer
	}
	m.publishLocked()
	m.mu.Unlock()

	if m.onPush != nil {
		m.onPush(item)
	}
	return item
}

// Success pushes a success toast.
func (m *Manager) Success(message string, opts ...PushOption) Item {
	return m.Push(message, KindSuccess, opts...)
}

// Error pushes an error toast.
func (m *Manager) Error(message string, opts ...PushOption) Item {
	return m.Push(message, KindError, opts...)
}

// Info pushes an info toast.
func (m *Manager) Info(message string, opts ...PushOption) Item {
	return m.Push(message, KindInfo, opts...)
}

// Remove drops the toast with id. Unknown ids are ignored.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexLocked(id)
	if idx < 0 {
		return
	}
	m.items = append(m.items[:idx:idx], m.items[idx+1:]...)
	switch m.mode {
	case ModeSingleSlot:
		if m.slot.id == id {
			m.slot.release()
		}
	default:
		if t, ok := m.timers[id]; ok {
			t.Stop()
			delete(m.timers, id)
		}
	}
	m.publishLocked()
}

// Clear empties the list and cancels pending timers.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimersLocked()
	m.items = nil
	m.publishLocked()
}

// List returns a copy of the live toasts in push order.
func (m *Manager) List() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Pending reports how many expiry timers are outstanding.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == ModeSingleSlot {
		if m.slot.timer != nil {
			return 1
		}
		return 0
	}
	return len(m.timers)
}

// Subscribe returns a channel of list snapshots, one per change.
func (m *Manager) Subscribe() <-chan []Item {
	return m.changes.Subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (m *Manager) Unsubscribe(ch <-chan []Item) {
	m.changes.Unsubscribe(ch)
}

// Close cancels every timer and closes all subscriptions. Later pushes are
// dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopTimersLocked()
	m.items = nil
	m.mu.Unlock()
	m.changes.Close()
}

func (m *Manager) expire(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.mode {
	case ModeSingleSlot:
		// A replaced toast's timer may fire after Stop lost the race.
		if m.slot.id != id {
			return
		}
		m.slot.id = ""
		m.slot.timer = nil
	default:
		delete(m.timers, id)
	}

	idx := m.indexLocked(id)
	if idx < 0 {
		return
	}
	m.items = append(m.items[:idx:idx], m.items[idx+1:]...)
	m.publishLocked()
}

func (m *Manager) stopTimersLocked() {
	m.slot.release()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

func (m *Manager) indexLocked(id string) int {
	for i := range m.items {
		if m.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) snapshotLocked() []Item {
	out := make([]Item, len(m.items))
	copy(out, m.items)
	return out
}

func (m *Manager) publishLocked() {
	if m.closed {
		return
	}
	m.changes.Publish(m.snapshotLocked())
}
