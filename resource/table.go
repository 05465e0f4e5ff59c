package resource

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("handle table closed")

// Table tracks the live foreign objects of one context. It never frees
// anything itself: Close hands back whatever is still live so the owner
// can report the leak.
type Table struct {
	observers []Observer
	slots     slots
	stats     Stats
	mu        sync.Mutex
	obsMu     sync.RWMutex
	closed    bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{slots: newSlots()}
}

// Insert records a live object and returns its handle.
func (t *Table) Insert(e Entry) (Handle, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}
	h := t.slots.create(e)
	t.stats.Created++
	t.mu.Unlock()

	t.notify(Event{Type: EventCreated, Handle: h, Entry: e})
	return h, nil
}

// Get returns the entry for a live handle.
func (t *Table) Get(h Handle) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sl, ok := t.slots.get(h)
	if !ok {
		return Entry{}, false
	}
	return sl.entry, true
}

// Remove forgets a handle once its object has been released and returns
// its entry. The second result is false for unknown or removed handles.
func (t *Table) Remove(h Handle) (Entry, bool) {
	t.mu.Lock()
	e, ok := t.slots.drop(h)
	if ok {
		t.stats.Released++
	}
	t.mu.Unlock()

	if ok {
		t.notify(Event{Type: EventReleased, Handle: h, Entry: e})
	}
	return e, ok
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots.live
}

// Stats returns cumulative counts.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.Live = t.slots.live
	return s
}

// Each visits live handles in handle order until fn returns false. fn
// must not modify the table.
func (t *Table) Each(fn func(Handle, Entry) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots.each(fn)
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Close stops accepting inserts and returns the entries still live, in
// handle order. Observers get an EventLeaked for each. Closing twice
// returns nil.
func (t *Table) Close() []Entry {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true

	var leaked []Entry
	var handles []Handle
	t.slots.each(func(h Handle, e Entry) bool {
		handles = append(handles, h)
		leaked = append(leaked, e)
		return true
	})
	t.slots.reset()
	t.mu.Unlock()

	for i, e := range leaked {
		t.notify(Event{Type: EventLeaked, Handle: handles[i], Entry: e})
	}
	return leaked
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnHandleEvent(e)
	}
}
