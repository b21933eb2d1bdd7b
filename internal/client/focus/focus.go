// Package focus tracks whether the application currently has user focus.
package focus

import "sync"

// Tracker holds the current foreground flag and fans transitions out to
// subscribers. Subscribers run on the goroutine that calls Set.
type Tracker struct {
	mu     sync.Mutex
	active bool
	subs   map[int]func(bool)
	nextID int
}

func NewTracker(initial bool) *Tracker {
	return &Tracker{
		active: initial,
		subs:   make(map[int]func(bool)),
	}
}

func (t *Tracker) Foreground() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Set records the new state and notifies subscribers if it changed.
func (t *Tracker) Set(active bool) {
	t.mu.Lock()
	if t.active == active {
		t.mu.Unlock()
		return
	}
	t.active = active
	subs := make([]func(bool), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(active)
	}
}

// Subscribe registers fn for transitions. The returned cancel is idempotent.
func (t *Tracker) Subscribe(fn func(bool)) (cancel func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}
