package room

import (
	"sync"
	"time"

	"github.com/cory-johannsen/duel/internal/game/engine"
)

// Registry maps room keys to live rooms and connections to the room they
// sit in. All methods are safe for concurrent use.
//
// Lock order is Room.mu before Registry.mu; the registry never acquires a
// room lock while holding its own.
type Registry struct {
	adapter engine.Adapter
	now     func() time.Time

	mu    sync.Mutex
	rooms map[string]*Room // key → room
	conns map[string]*Room // connID → room the connection is seated in
}

// NewRegistry creates an empty Registry whose rooms play adapter's game.
//
// Precondition: adapter must be non-nil.
func NewRegistry(adapter engine.Adapter) *Registry {
	return &Registry{
		adapter: adapter,
		now:     time.Now,
		rooms:   make(map[string]*Room),
		conns:   make(map[string]*Room),
	}
}

// Adapter returns the engine adapter shared by all rooms.
func (g *Registry) Adapter() engine.Adapter { return g.adapter }

// GetOrCreate returns the live room for key, creating an empty Waiting room
// with the adapter's initial state when none exists.
//
// Postcondition: Never returns nil. The returned room may be destroyed by
// the time the caller locks it; callers re-check Room.destroyed.
func (g *Registry) GetOrCreate(key string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[key]; ok {
		return r
	}
	r := newRoom(key, g.adapter, g.now())
	g.rooms[key] = r
	return r
}

// Get returns the live room for key. A room registered by an in-flight
// first join has no occupants yet and is reported absent, as is one already
// destroyed; only GetOrCreate hands out such rooms.
func (g *Registry) Get(key string) (*Room, bool) {
	g.mu.Lock()
	r, ok := g.rooms[key]
	g.mu.Unlock()
	if !ok {
		return nil, false
	}
	// Room.mu may not be taken under g.mu.
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live() {
		return nil, false
	}
	return r, true
}

// FindByConnection returns the room connID is seated in.
func (g *Registry) FindByConnection(connID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.conns[connID]
	return r, ok
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Keys returns the keys of all live rooms in no particular order.
func (g *Registry) Keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys := make([]string, 0, len(g.rooms))
	for k := range g.rooms {
		keys = append(keys, k)
	}
	return keys
}

// RemoveParticipant unseats connID from r and destroys r if it is now empty.
//
// Postcondition: Returns the deliveries announcing the departure and
// whether connID was seated in r. When r empties it is removed from the
// registry before the room lock is released, so a later GetOrCreate for the
// same key builds a fresh room.
func (g *Registry) RemoveParticipant(r *Room, connID string) ([]Delivery, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return g.removeLocked(r, connID)
}

// claim records that connID sits in r.
//
// Precondition: r.mu is held.
// Postcondition: Returns false, changing nothing, if connID is already seated.
func (g *Registry) claim(connID string, r *Room) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, seated := g.conns[connID]; seated {
		return false
	}
	g.conns[connID] = r
	return true
}

// removeLocked is RemoveParticipant for callers already holding r.mu.
func (g *Registry) removeLocked(r *Room, connID string) ([]Delivery, bool) {
	out, ok := r.remove(connID)
	if !ok {
		return nil, false
	}
	g.mu.Lock()
	if g.conns[connID] == r {
		delete(g.conns, connID)
	}
	g.mu.Unlock()
	g.destroyIfEmpty(r)
	return out, true
}

// destroyIfEmpty removes an empty room from the registry.
//
// Precondition: r.mu is held.
func (g *Registry) destroyIfEmpty(r *Room) {
	if len(r.participants) > 0 || r.destroyed {
		return
	}
	r.destroyed = true
	g.mu.Lock()
	if g.rooms[r.key] == r {
		delete(g.rooms, r.key)
	}
	g.mu.Unlock()
}
