package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// Presence maps an authenticated user to their single current connection.
// Registering a new connection for a user replaces the previous one; there
// is no multi-device fan-out.
type Presence struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]Conn
}

func NewPresence() *Presence {
	return &Presence{conns: make(map[uuid.UUID]Conn)}
}

// Register unconditionally makes conn the user's current handle.
func (p *Presence) Register(userID uuid.UUID, conn Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[userID] = conn
}

// Unregister removes conn if it is still the user's current handle. A stale
// handle (already replaced by a reconnect) is left alone, so a slow
// disconnect cleanup cannot knock a fresh session offline.
func (p *Presence) Unregister(conn Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for userID, c := range p.conns {
		if c.ID() == conn.ID() {
			delete(p.conns, userID)
			return
		}
	}
}

// Lookup returns the user's current handle. Absence means offline, which is
// a normal outcome, not an error.
func (p *Presence) Lookup(userID uuid.UUID) (Conn, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.conns[userID]
	return c, ok
}
