package ws

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeConn struct {
	id     string
	userID string
	full   bool

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeConn(id, userID string) *fakeConn {
	return &fakeConn{id: id, userID: userID}
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.userID }

func (c *fakeConn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full || c.closed {
		return false
	}
	c.frames = append(c.frames, frame)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestRegistryFirstAndLastConnection(t *testing.T) {
	r := NewRegistry()
	phone := newFakeConn("c1", "alice")
	laptop := newFakeConn("c2", "alice")

	assert.True(t, r.Add(phone))
	assert.False(t, r.Add(laptop))
	assert.Equal(t, 2, r.Count("alice"))

	assert.False(t, r.Remove(phone))
	assert.Equal(t, 1, r.Count("alice"))
	assert.True(t, r.Remove(laptop))
	assert.Equal(t, 0, r.Count("alice"))
	assert.Empty(t, r.OnlineUsers())
}

func TestRegistryRemoveUnknownConnection(t *testing.T) {
	r := NewRegistry()
	r.Add(newFakeConn("c1", "alice"))

	assert.False(t, r.Remove(newFakeConn("c9", "alice")))
	assert.False(t, r.Remove(newFakeConn("c1", "bob")))
	assert.Equal(t, 1, r.Count("alice"))
}

func TestRegistryListsConnections(t *testing.T) {
	r := NewRegistry()
	r.Add(newFakeConn("c1", "alice"))
	r.Add(newFakeConn("c2", "alice"))
	r.Add(newFakeConn("c3", "bob"))

	assert.Len(t, r.ConnsForUser("alice"), 2)
	assert.Len(t, r.All(), 3)

	users := r.OnlineUsers()
	sort.Strings(users)
	assert.Equal(t, []string{"alice", "bob"}, users)
}

func TestRegistrySessionsOldestFirst(t *testing.T) {
	r := NewRegistry()
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	r.Add(newClient(nil, ConnInfo{ConnID: "c2", UserID: "bob", ConnectedAt: start.Add(time.Minute)}, ClientConfig{SendBuffer: 1}))
	r.Add(newClient(nil, ConnInfo{ConnID: "c1", UserID: "alice", DeviceID: "phone", ConnectedAt: start}, ClientConfig{SendBuffer: 1}))
	r.Add(newFakeConn("c3", "carol"))

	sessions := r.Sessions()

	assert.Len(t, sessions, 2)
	assert.Equal(t, "c1", sessions[0].ConnID)
	assert.Equal(t, "phone", sessions[0].DeviceID)
	assert.Equal(t, "c2", sessions[1].ConnID)
}

func TestLifecyclePayloadCarriesDuration(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	info := ConnInfo{ConnID: "c1", UserID: "alice", DeviceID: "phone", IP: "10.0.0.1", ConnectedAt: start}

	payload := info.lifecyclePayload("ws_disconnect", "going away", start.Add(1500*time.Millisecond))

	ws := payload["ws"].(map[string]any)
	assert.Equal(t, int64(1500), ws["duration_ms"])
	assert.Equal(t, "going away", ws["reason"])
	assert.Equal(t, "c1", ws["conn_id"])
	identity := payload["identity"].(map[string]any)
	assert.Equal(t, "alice", identity["user_id"])
	assert.Equal(t, "10.0.0.1", identity["ip"])
	assert.Len(t, info.Fields(), 4)
}

func TestRegistryConcurrentAddRemove(t *testing.T) {
	r := NewRegistry()
	var firsts, lasts int
	var mu sync.Mutex
	var wg sync.WaitGroup

	conns := make([]*fakeConn, 50)
	for i := range conns {
		conns[i] = newFakeConn(string(rune('a'+i%26))+string(rune('0'+i/26)), "alice")
	}
	for _, c := range conns {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			if r.Add(c) {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()
	for _, c := range conns {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			if r.Remove(c) {
				mu.Lock()
				lasts++
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	assert.Equal(t, 1, firsts)
	assert.Equal(t, 1, lasts)
}

func TestRoomsJoinLeave(t *testing.T) {
	rooms := NewRooms()
	c := newFakeConn("c1", "alice")

	assert.True(t, rooms.Join(c, "chat-1"))
	assert.False(t, rooms.Join(c, "chat-1"))
	assert.True(t, rooms.IsJoined("c1", "chat-1"))
	assert.Len(t, rooms.Members("chat-1"), 1)

	assert.True(t, rooms.Leave(c, "chat-1"))
	assert.False(t, rooms.Leave(c, "chat-1"))
	assert.False(t, rooms.Leave(c, "never-joined"))
	assert.Empty(t, rooms.Members("chat-1"))
}

func TestRoomsLeaveAll(t *testing.T) {
	rooms := NewRooms()
	c := newFakeConn("c1", "alice")
	other := newFakeConn("c2", "bob")
	rooms.Join(c, "chat-1")
	rooms.Join(c, "chat-2")
	rooms.Join(other, "chat-1")

	left := rooms.LeaveAll(c)
	sort.Strings(left)

	assert.Equal(t, []string{"chat-1", "chat-2"}, left)
	assert.False(t, rooms.IsJoined("c1", "chat-1"))
	assert.True(t, rooms.IsJoined("c2", "chat-1"))
	assert.Empty(t, rooms.LeaveAll(c))
}
