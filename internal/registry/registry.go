package registry

import (
	"errors"
	"fmt"
	"github.com/samber/lo"
	"slices"
	"sync"
	"time"
	"webchat/internal/chat"
)

var (
	ErrDuplicateConnection = errors.New("duplicate connection")
	ErrDuplicateName       = errors.New("duplicate display name")
)

type ConnectionID string

// Peer is the outbound side of a live connection.
type Peer interface {
	// Deliver must not block on the network.
	Deliver(msg chat.Message) error
	// Close must not block and may be called more than once.
	Close()
}

type Entry struct {
	ID       ConnectionID
	Name     string
	Peer     Peer
	JoinedAt time.Time
}

// Registry tracks live connections and the online set in join order.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[ConnectionID]Entry
	order   []ConnectionID
}

func New() *Registry {
	return &Registry{
		entries: make(map[ConnectionID]Entry),
	}
}

func (r *Registry) Register(id ConnectionID, name string, peer Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("registering %q: %w", id, ErrDuplicateConnection)
	}
	for _, e := range r.entries {
		if e.Name == name {
			return fmt.Errorf("registering %q as %q: %w", id, name, ErrDuplicateName)
		}
	}

	r.entries[id] = Entry{ID: id, Name: name, Peer: peer, JoinedAt: time.Now()}
	r.order = append(r.order, id)
	return nil
}

// Unregister removes id and returns the removed entry. Removing an absent id is a no-op.
func (r *Registry) Unregister(id ConnectionID) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	delete(r.entries, id)
	r.order = slices.DeleteFunc(r.order, func(other ConnectionID) bool { return other == id })
	return e, true
}

func (r *Registry) Lookup(id ConnectionID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Snapshot returns a copy of the online set in join order.
func (r *Registry) Snapshot() []string {
	return lo.Map(r.Entries(), func(e Entry, _ int) string { return e.Name })
}

// Entries returns a copy of the live entries in join order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
