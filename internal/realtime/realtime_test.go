package realtime

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []Event
	fail   bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return io.ErrClosedPipe
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeConn) received() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPresenceRegisterReplaces(t *testing.T) {
	p := NewPresence()
	userID := uuid.New()
	old := newFakeConn("old")
	fresh := newFakeConn("fresh")

	p.Register(userID, old)
	p.Register(userID, fresh)

	got, ok := p.Lookup(userID)
	require.True(t, ok)
	assert.Equal(t, "fresh", got.ID())
}

func TestPresenceUnregisterIgnoresStaleHandle(t *testing.T) {
	p := NewPresence()
	userID := uuid.New()
	old := newFakeConn("old")
	fresh := newFakeConn("fresh")

	p.Register(userID, old)
	p.Register(userID, fresh)

	// A late disconnect cleanup for the replaced connection must not knock
	// the fresh session offline.
	p.Unregister(old)
	got, ok := p.Lookup(userID)
	require.True(t, ok)
	assert.Equal(t, "fresh", got.ID())

	p.Unregister(fresh)
	_, ok = p.Lookup(userID)
	assert.False(t, ok)
}

func TestGroupsJoinIsIdempotent(t *testing.T) {
	g := NewGroups(testLogger())
	c := newFakeConn("a")

	g.Join("room", c)
	g.Join("room", c)

	assert.Equal(t, 1, g.MemberCount("room"))
	assert.True(t, g.Contains("room", c))
}

func TestGroupsLeaveUnknownIsNoOp(t *testing.T) {
	g := NewGroups(testLogger())
	c := newFakeConn("a")

	g.Leave("missing", c)

	g.Join("room", c)
	g.Leave("room", newFakeConn("other"))
	assert.Equal(t, 1, g.MemberCount("room"))
}

func TestGroupsLeaveAll(t *testing.T) {
	g := NewGroups(testLogger())
	c := newFakeConn("a")
	other := newFakeConn("b")

	g.Join("room1", c)
	g.Join("room2", c)
	g.Join("room2", other)

	g.LeaveAll(c)

	assert.Equal(t, 0, g.MemberCount("room1"))
	assert.Equal(t, 1, g.MemberCount("room2"))
	assert.False(t, g.Contains("room2", c))
}

func TestPublishExcludesSender(t *testing.T) {
	g := NewGroups(testLogger())
	sender := newFakeConn("sender")
	peer := newFakeConn("peer")
	g.Join("room", sender)
	g.Join("room", peer)

	g.Publish("room", Event{Name: "typing_changed"}, sender)

	assert.Empty(t, sender.received())
	require.Len(t, peer.received(), 1)
	assert.Equal(t, "typing_changed", peer.received()[0].Name)
}

func TestPublishSurvivesFailedSend(t *testing.T) {
	g := NewGroups(testLogger())
	broken := newFakeConn("broken")
	broken.fail = true
	healthy := newFakeConn("healthy")
	g.Join("room", broken)
	g.Join("room", healthy)

	g.Publish("room", Event{Name: "received_message"}, nil)

	require.Len(t, healthy.received(), 1)
}

func TestPublishToAbsentGroup(t *testing.T) {
	g := NewGroups(testLogger())
	g.Publish("nobody-home", Event{Name: "received_message"}, nil)
}

func TestGroupsConcurrentAccess(t *testing.T) {
	g := NewGroups(testLogger())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c := newFakeConn(uuid.NewString())
			for j := 0; j < 50; j++ {
				g.Join("room", c)
				g.Publish("room", Event{Name: "received_message"}, nil)
				g.Leave("room", c)
			}
		}(i)
	}
	wg.Wait()
}
