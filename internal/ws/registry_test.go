package ws

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/events"
)

type fakeSession struct {
	id     string
	userID int64

	mu       sync.Mutex
	received []events.Event
	closed   bool
}

func newFakeSession(id string, userID int64) *fakeSession {
	return &fakeSession{id: id, userID: userID}
}

func (s *fakeSession) ID() string    { return s.id }
func (s *fakeSession) UserID() int64 { return s.userID }

func (s *fakeSession) Send(event events.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.received = append(s.received, event)
	return true
}

func (s *fakeSession) events() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Event(nil), s.received...)
}

func (s *fakeSession) types() []events.Type {
	var out []events.Type
	for _, e := range s.events() {
		out = append(out, e.Type)
	}
	return out
}

func TestRegistryRoutesToEveryDevice(t *testing.T) {
	r := NewRegistry()
	phone := newFakeSession("phone", 1)
	laptop := newFakeSession("laptop", 1)
	other := newFakeSession("other", 2)
	require.True(t, r.Connect(phone))
	require.True(t, r.Connect(laptop))
	require.True(t, r.Connect(other))
	assert.False(t, r.Connect(phone), "duplicate connection id")

	sent := r.Route(1, events.Event{Type: events.Pong})

	assert.Equal(t, 2, sent)
	assert.Len(t, phone.events(), 1)
	assert.Len(t, laptop.events(), 1)
	assert.Empty(t, other.events())
	assert.Equal(t, 3, r.ConnectionCount())
}

func TestRegistryRouteToUnknownUser(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Route(42, events.Event{Type: events.Pong}))
	assert.Equal(t, 0, r.RouteToGroup(42, events.Event{Type: events.Pong}))
}

func TestRegistryDisconnectReportsLastConnection(t *testing.T) {
	r := NewRegistry()
	phone := newFakeSession("phone", 1)
	laptop := newFakeSession("laptop", 1)
	r.Connect(phone)
	r.Connect(laptop)
	r.JoinRoom("phone", 7)

	userID, last, ok := r.Disconnect("phone")
	require.True(t, ok)
	assert.Equal(t, int64(1), userID)
	assert.False(t, last)
	assert.True(t, r.IsOnline(1))
	assert.False(t, r.InRoom("phone", 7))

	_, last, ok = r.Disconnect("laptop")
	require.True(t, ok)
	assert.True(t, last)
	assert.False(t, r.IsOnline(1))

	_, _, ok = r.Disconnect("laptop")
	assert.False(t, ok)
	assert.Equal(t, 0, r.ConnectionCount())
}

func TestRegistryRooms(t *testing.T) {
	r := NewRegistry()
	a := newFakeSession("a", 1)
	b := newFakeSession("b", 2)
	c := newFakeSession("c", 3)
	r.Connect(a)
	r.Connect(b)
	r.Connect(c)

	assert.True(t, r.JoinRoom("a", 5))
	assert.True(t, r.JoinRoom("b", 5))
	assert.False(t, r.JoinRoom("missing", 5))

	assert.Equal(t, 2, r.RouteToGroup(5, events.Event{Type: events.NewGroupMessage}))
	assert.Empty(t, c.events())

	assert.True(t, r.LeaveRoom("b", 5))
	assert.False(t, r.LeaveRoom("b", 5))
	assert.Equal(t, 1, r.RouteToGroup(5, events.Event{Type: events.NewGroupMessage}))
	assert.True(t, r.InRoom("a", 5))
	assert.False(t, r.InRoom("b", 5))
}

func TestRegistryJoinUserToRoom(t *testing.T) {
	r := NewRegistry()
	r.Connect(newFakeSession("phone", 3))
	r.Connect(newFakeSession("laptop", 3))
	r.Connect(newFakeSession("other", 4))

	assert.Equal(t, 2, r.JoinUserToRoom(3, 9))
	assert.True(t, r.InRoom("phone", 9))
	assert.True(t, r.InRoom("laptop", 9))
	assert.False(t, r.InRoom("other", 9))
	assert.Equal(t, 0, r.JoinUserToRoom(99, 9))
}

func TestRegistryClosedSessionIsNotCounted(t *testing.T) {
	r := NewRegistry()
	gone := newFakeSession("gone", 1)
	gone.closed = true
	r.Connect(gone)

	assert.Equal(t, 0, r.Route(1, events.Event{Type: events.Pong}))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("conn-%d", i)
			userID := int64(i % 8)
			r.Connect(newFakeSession(id, userID))
			r.JoinRoom(id, int64(i%4))
			r.Route(userID, events.Event{Type: events.Pong})
			r.RouteToGroup(int64(i%4), events.Event{Type: events.Pong})
			r.Disconnect(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.ConnectionCount())
	for u := int64(0); u < 8; u++ {
		assert.False(t, r.IsOnline(u))
	}
}
