package telemetry

import (
	"sync"
	"sync/atomic"
)

var empty = &Snapshot{}

// Mailbox holds the most recent Snapshot. Writers publish a fresh copy on
// every update, readers load the current pointer without locking.
type Mailbox struct {
	mu      sync.Mutex // serialises writers
	current atomic.Pointer[Snapshot]
}

// Get returns the latest Snapshot, never nil
func (m *Mailbox) Get() *Snapshot {
	if s := m.current.Load(); s != nil {
		return s
	}
	return empty
}

// Update publishes a copy of the current Snapshot modified by fn
func (m *Mailbox) Update(fn func(s *Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := *m.Get()
	fn(&next)
	m.current.Store(&next)
}

// Static is a Provider returning a fixed Snapshot
type Static Snapshot

// Get returns the Snapshot
func (s *Static) Get() *Snapshot {
	return (*Snapshot)(s)
}
