package realtime

import (
	"log/slog"
	"sync"

	"github.com/mikhael221/gighub-realtime/internal/observability/metrics"
)

// Groups maps a group key to the set of connections subscribed to it.
type Groups struct {
	mu      sync.RWMutex
	members map[string]map[string]Conn

	logger *slog.Logger
}

func NewGroups(logger *slog.Logger) *Groups {
	return &Groups{
		members: make(map[string]map[string]Conn),
		logger:  logger.With(slog.String("component", "groups")),
	}
}

// Join adds conn to the group, creating it on first use. Idempotent.
func (g *Groups) Join(key string, conn Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.members[key]
	if !ok {
		set = make(map[string]Conn)
		g.members[key] = set
	}
	set[conn.ID()] = conn
}

// Leave removes conn from the group; removing a non-member is a no-op.
// Empty groups are deleted.
func (g *Groups) Leave(key string, conn Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.members[key]
	if !ok {
		return
	}
	delete(set, conn.ID())
	if len(set) == 0 {
		delete(g.members, key)
	}
}

// LeaveAll removes conn from every group it belongs to. Invoked on
// disconnect; safe to run concurrently with Join and Publish.
func (g *Groups) LeaveAll(conn Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, set := range g.members {
		delete(set, conn.ID())
		if len(set) == 0 {
			delete(g.members, key)
		}
	}
}

// MemberCount reports the current size of a group.
func (g *Groups) MemberCount(key string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members[key])
}

// Contains reports whether conn is currently a member of the group.
func (g *Groups) Contains(key string, conn Conn) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.members[key][conn.ID()]
	return ok
}

// Publish delivers ev to every member of the group except the excluded
// connection. Membership is snapshotted under the lock and delivery happens
// outside it, so a concurrent Leave during delivery is harmless: a handle
// that disconnects mid-publish may or may not receive the event. Publishing
// to an absent or empty group is a silent no-op.
func (g *Groups) Publish(key string, ev Event, except Conn) {
	g.mu.RLock()
	set, ok := g.members[key]
	if !ok {
		g.mu.RUnlock()
		return
	}
	snapshot := make([]Conn, 0, len(set))
	for _, c := range set {
		if except != nil && c.ID() == except.ID() {
			continue
		}
		snapshot = append(snapshot, c)
	}
	g.mu.RUnlock()

	for _, c := range snapshot {
		if err := c.Send(ev); err != nil {
			// Best effort: the peer re-syncs from persisted state.
			g.logger.Debug("dropped event", "event", ev.Name, "conn", c.ID(), "error", err)
			continue
		}
		metrics.EventsPublishedTotal.WithLabelValues(ev.Name).Inc()
	}
}
