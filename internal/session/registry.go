package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNameTaken = errors.New("session: name already registered")
	ErrIDTaken   = errors.New("session: id already registered")
	ErrNotFound  = errors.New("session: client not found")
)

// Registry is the authoritative map of live clients. Its lock covers only
// index mutation; anything touching key material or buffers goes through
// the client's own lock.
type Registry struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*Client
	byName map[string]uuid.UUID
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[uuid.UUID]*Client),
		byName: make(map[string]uuid.UUID),
	}
}

// Register creates a client under a fresh id. Registrations of the same
// name serialize on the registry lock, so at most one succeeds.
func (r *Registry) Register(name string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byName[name]; taken {
		return nil, ErrNameTaken
	}
	c := NewClient(uuid.New(), name)
	r.byID[c.ID] = c
	r.byName[name] = c.ID
	return c, nil
}

// Insert adds an existing client, for startup load from persistence.
func (r *Registry) Insert(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byID[c.ID]; taken {
		return ErrIDTaken
	}
	if _, taken := r.byName[c.Name]; taken {
		return ErrNameTaken
	}
	r.byID[c.ID] = c
	r.byName[c.Name] = c.ID
	return nil
}

// Get looks a client up by id.
func (r *Registry) Get(id uuid.UUID) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// GetByName looks a client up by name.
func (r *Registry) GetByName(name string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.byID[id], true
}

// Remove drops a client from both indexes.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	delete(r.byName, c.Name)
	return true
}

// Len returns the number of live clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Snapshot returns the current clients in no particular order.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}

// EvictIdle removes clients whose last activity predates the deadline and
// returns them. Persistence is untouched; eviction is a liveness concern
// only.
func (r *Registry) EvictIdle(deadline time.Time) []*Client {
	var idle []*Client
	for _, c := range r.Snapshot() {
		if c.LastSeen().Before(deadline) {
			idle = append(idle, c)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := idle[:0]
	for _, c := range idle {
		// Re-check under the lock; the client may have been touched
		// or already removed since the scan.
		if cur, ok := r.byID[c.ID]; !ok || cur != c || !cur.LastSeen().Before(deadline) {
			continue
		}
		delete(r.byID, c.ID)
		delete(r.byName, c.Name)
		evicted = append(evicted, c)
	}
	return evicted
}

// PurgeStaleTransfers sweeps every client's in-flight uploads and returns
// the number discarded.
func (r *Registry) PurgeStaleTransfers(deadline time.Time) int {
	var n int
	for _, c := range r.Snapshot() {
		n += c.PurgeStaleTransfers(deadline)
	}
	return n
}

// TransferCount sums in-flight uploads across all clients.
func (r *Registry) TransferCount() int {
	var n int
	for _, c := range r.Snapshot() {
		n += c.TransferCount()
	}
	return n
}
