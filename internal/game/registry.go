package game

import (
	"sync"
)

// entry pairs a game with the lock that serializes its mutations.
type entry struct {
	mu   sync.Mutex
	game *Game
}

// Registry maps game ids to their entries and tracks the active game.
// Lookups take only the registry lock, never a game lock.
type Registry struct {
	mu     sync.RWMutex
	games  map[string]*entry
	order  []string
	active string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{games: make(map[string]*entry)}
}

// add stores g and makes it the active game.
func (r *Registry) add(g *Game) *entry {
	e := &entry{game: g}
	r.mu.Lock()
	r.games[g.ID] = e
	r.order = append(r.order, g.ID)
	r.active = g.ID
	r.mu.Unlock()
	return e
}

func (r *Registry) get(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.games[id]
	return e, ok
}

// Active returns the id of the most recently created game.
func (r *Registry) Active() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active, r.active != ""
}

// IDs returns game ids in creation order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of games.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
