package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mikhael221/gighub-realtime/internal/domain"
	"github.com/mikhael221/gighub-realtime/internal/realtime"
	"github.com/mikhael221/gighub-realtime/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []realtime.Event
}

func newFakeConn() *fakeConn { return &fakeConn{id: uuid.NewString()} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(ev realtime.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeConn) received() []realtime.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtime.Event(nil), f.events...)
}

func (f *fakeConn) eventNames() []string {
	var names []string
	for _, ev := range f.received() {
		names = append(names, ev.Name)
	}
	return names
}

func (f *fakeConn) lastOf(name string) (realtime.Event, bool) {
	evs := f.received()
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Name == name {
			return evs[i], true
		}
	}
	return realtime.Event{}, false
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

// fixture wires the full service stack over an in-memory database.
type fixture struct {
	store         *store.Store
	presence      *realtime.Presence
	groups        *realtime.Groups
	chat          *ChatService
	calls         *CallService
	notifications *NotificationService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureDSN(t, ":memory:")
}

// newFixtureDSN exists for tests that need more than one database
// connection (a plain :memory: database is private to its connection).
func newFixtureDSN(t *testing.T, dsn string) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	st := store.New(db)
	require.NoError(t, st.AutoMigrate(context.Background()))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	presence := realtime.NewPresence()
	groups := realtime.NewGroups(log)
	secret := []byte("test-master-secret")

	chat := NewChatService(st, presence, groups, secret, log)
	calls := NewCallService(st, presence, groups, chat, log)
	notifications := NewNotificationService(st, presence, groups, secret, log)
	return &fixture{
		store:         st,
		presence:      presence,
		groups:        groups,
		chat:          chat,
		calls:         calls,
		notifications: notifications,
	}
}

// online seeds a user and registers a live connection for them.
func (fx *fixture) online(t *testing.T, first, last string) (domain.UserID, *fakeConn) {
	t.Helper()
	userID := fx.user(t, first, last)
	conn := newFakeConn()
	fx.presence.Register(userID, conn)
	return userID, conn
}

func (fx *fixture) user(t *testing.T, first, last string) domain.UserID {
	t.Helper()
	u := &domain.User{ID: uuid.New(), FirstName: first, LastName: last, CreatedAt: time.Now().UTC()}
	require.NoError(t, fx.store.Users().Create(context.Background(), u))
	return u.ID
}
