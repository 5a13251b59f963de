// Package connectivity tracks whether the host believes the remote system is reachable.
package connectivity

import "sync"

// Transition is a change in reachability.
type Transition struct {
	Online bool
}

// Observer is called once per transition.
type Observer func(Transition)

// Tracker holds the current online flag and notifies observers on edges only.
// Repeating the current state is not an edge. Observers run synchronously on the
// goroutine that called Set, in subscription order, without the tracker lock held.
type Tracker struct {
	mu        sync.Mutex
	online    bool
	nextID    int
	observers []subscription
}

type subscription struct {
	id int
	fn Observer
}

// NewTracker creates a Tracker seeded with the host's initial reachability.
func NewTracker(initialOnline bool) *Tracker {
	return &Tracker{online: initialOnline}
}

// Online reports the last known reachability.
func (t *Tracker) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

// Set records a reachability signal from the host. It reports whether the
// signal was an edge.
func (t *Tracker) Set(online bool) bool {
	t.mu.Lock()
	if t.online == online {
		t.mu.Unlock()
		return false
	}
	t.online = online
	observers := make([]Observer, len(t.observers))
	for i, s := range t.observers {
		observers[i] = s.fn
	}
	t.mu.Unlock()

	tr := Transition{Online: online}
	for _, fn := range observers {
		fn(tr)
	}
	return true
}

// Subscribe registers fn and returns a function that removes it.
func (t *Tracker) Subscribe(fn Observer) (cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	t.observers = append(t.observers, subscription{id: id, fn: fn})

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, s := range t.observers {
			if s.id == id {
				t.observers = append(t.observers[:i:i], t.observers[i+1:]...)
				return
			}
		}
	}
}
