// Package realtime holds the shared in-memory state behind the live event
// surface: which user is reachable on which connection, and which
// connections are subscribed to which broadcast group. Both registries are
// plain mutex-guarded maps; critical sections touch memory only, and event
// delivery happens on membership snapshots taken outside any lock.
package realtime

import "github.com/google/uuid"

// Event is the envelope delivered to live connections.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Conn is one live transport session. The transport layer owns the
// underlying connection; the registries only hold references. Send is
// best-effort: a full buffer or closed peer drops the event, and persisted
// state remains the durable source of truth.
type Conn interface {
	ID() string
	Send(ev Event) error
}

// Group keys carry a role prefix so conversation rooms and personal
// channels never collide.
func ConversationGroup(id uuid.UUID) string { return "conversation:" + id.String() }

func ConversationGroupKey(id string) string { return "conversation:" + id }

func UserGroup(id uuid.UUID) string { return "user:" + id.String() }
