package relay

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPeer struct {
	mu       sync.Mutex
	received [][]byte
	closed   bool
}

func (m *mockPeer) Send(frame []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.received = append(m.received, frame)
	return true
}

func (m *mockPeer) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

func (m *mockPeer) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *mockPeer) getReceived() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.received))
	copy(out, m.received)
	return out
}

func (m *mockPeer) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = nil
}

// sequentialIDs makes registry ids predictable: c1, c2, ...
func sequentialIDs(r *Registry) {
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("c%d", n)
	}
}

func newTestRegistry() *Registry {
	r := NewRegistry(nil)
	sequentialIDs(r)
	return r
}

func TestRegistry_RegisterDefaults(t *testing.T) {
	r := newTestRegistry()

	id := r.Register(&mockPeer{})

	conn, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, "unknown", conn.Kind)
	assert.Empty(t, conn.Room)
	assert.Empty(t, conn.Attributes)
	assert.True(t, conn.Connected)
	assert.False(t, conn.LastSeen.IsZero())
}

func TestRegistry_SetIdentity(t *testing.T) {
	r := newTestRegistry()
	id := r.Register(&mockPeer{})

	require.NoError(t, r.SetIdentity(id, "printer", map[string]interface{}{"model": "TM"}))
	require.NoError(t, r.SetIdentity(id, "printer", map[string]interface{}{"model": "TM"}))

	conn, _ := r.Get(id)
	assert.Equal(t, "printer", conn.Kind)
	assert.Equal(t, map[string]interface{}{"model": "TM"}, conn.Attributes)

	assert.ErrorIs(t, r.SetIdentity("missing", "web", nil), ErrUnknownConnection)
}

func TestRegistry_SnapshotsAreCopies(t *testing.T) {
	r := newTestRegistry()
	id := r.Register(&mockPeer{})
	require.NoError(t, r.SetIdentity(id, "web", map[string]interface{}{"a": 1}))

	conn, _ := r.Get(id)
	conn.Attributes.(map[string]interface{})["a"] = 2

	again, _ := r.Get(id)
	assert.Equal(t, map[string]interface{}{"a": 1}, again.Attributes)
}

func TestRegistry_ScalarAttributes(t *testing.T) {
	r := newTestRegistry()
	id := r.Register(&mockPeer{})

	require.NoError(t, r.SetIdentity(id, "printer", "TM-T20"))

	conn, _ := r.Get(id)
	assert.Equal(t, "TM-T20", conn.Attributes)
}

func TestRegistry_JoinMovesBetweenRooms(t *testing.T) {
	r := newTestRegistry()
	id := r.Register(&mockPeer{})

	previous, err := r.Join(id, "r1")
	require.NoError(t, err)
	assert.Empty(t, previous)

	previous, err = r.Join(id, "r2")
	require.NoError(t, err)
	assert.Equal(t, "r1", previous)

	conn, _ := r.Get(id)
	assert.Equal(t, "r2", conn.Room)
	assert.Equal(t, []string{id}, r.MembersOf("r2"))
	assert.Empty(t, r.MembersOf("r1"))

	rooms := r.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, "r2", rooms[0].ID)
}

func TestRegistry_JoinSameRoomTwice(t *testing.T) {
	r := newTestRegistry()
	id := r.Register(&mockPeer{})

	_, err := r.Join(id, "lobby")
	require.NoError(t, err)
	previous, err := r.Join(id, "lobby")
	require.NoError(t, err)

	assert.Equal(t, "lobby", previous)
	assert.Equal(t, []string{id}, r.MembersOf("lobby"))
}

func TestRegistry_JoinErrors(t *testing.T) {
	r := newTestRegistry()
	id := r.Register(&mockPeer{})

	_, err := r.Join(id, "")
	assert.ErrorIs(t, err, ErrRoomRequired)

	_, err = r.Join("missing", "lobby")
	assert.ErrorIs(t, err, ErrUnknownConnection)

	_, rooms := r.Counts()
	assert.Zero(t, rooms)
}

func TestRegistry_LeaveIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	a := r.Register(&mockPeer{})
	b := r.Register(&mockPeer{})
	_, _ = r.Join(a, "lobby")
	_, _ = r.Join(b, "lobby")

	room, left := r.Leave(a)
	assert.True(t, left)
	assert.Equal(t, "lobby", room)

	room, left = r.Leave(a)
	assert.False(t, left)
	assert.Empty(t, room)

	assert.Equal(t, []string{b}, r.MembersOf("lobby"))

	_, _ = r.Leave(b)
	assert.Empty(t, r.Rooms())
}

func TestRegistry_RemoveEvictsFromRoom(t *testing.T) {
	r := newTestRegistry()
	a := r.Register(&mockPeer{})
	b := r.Register(&mockPeer{})
	_, _ = r.Join(a, "lobby")
	_, _ = r.Join(b, "lobby")

	removed, ok := r.Remove(a)
	require.True(t, ok)
	assert.Equal(t, "lobby", removed.Room)

	_, ok = r.Get(a)
	assert.False(t, ok)
	assert.NotContains(t, r.MembersOf("lobby"), a)

	_, ok = r.Remove(a)
	assert.False(t, ok)

	_, _ = r.Remove(b)
	conns, rooms := r.Counts()
	assert.Zero(t, conns)
	assert.Zero(t, rooms)
}

func TestRegistry_TouchLiveness(t *testing.T) {
	r := newTestRegistry()
	id := r.Register(&mockPeer{})
	before, _ := r.Get(id)

	later := before.LastSeen.Add(5 * time.Second)
	r.now = func() time.Time { return later }
	r.TouchLiveness(id)
	r.TouchLiveness("gone")

	after, _ := r.Get(id)
	assert.Equal(t, later, after.LastSeen)
}

func TestRegistry_ListByKindAndOrder(t *testing.T) {
	r := newTestRegistry()
	ids := make([]string, 0, 4)
	for _, kind := range []string{"web", "printer", "web", "mobile"} {
		id := r.Register(&mockPeer{})
		require.NoError(t, r.SetIdentity(id, kind, nil))
		ids = append(ids, id)
	}

	webs := r.ListByKind("web")
	require.Len(t, webs, 2)
	assert.Equal(t, ids[0], webs[0].ID)
	assert.Equal(t, ids[2], webs[1].ID)

	all := r.All()
	require.Len(t, all, 4)
	for i, conn := range all {
		assert.Equal(t, ids[i], conn.ID)
	}

	assert.Equal(t, map[string]int{"web": 2, "printer": 1, "mobile": 1}, r.KindCounts())
	assert.Empty(t, r.ListByKind("fax"))
}

func TestRegistry_Broadcast(t *testing.T) {
	tests := []struct {
		name     string
		closed   []int
		exclude  int
		wantSent int
	}{
		{name: "everyone but sender", exclude: 0, wantSent: 2},
		{name: "closed peers are skipped", closed: []int{1}, exclude: 0, wantSent: 1},
		{name: "no exclusion", exclude: -1, wantSent: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry()
			peers := []*mockPeer{{}, {}, {}}
			ids := make([]string, len(peers))
			for i, p := range peers {
				ids[i] = r.Register(p)
			}
			for _, i := range tt.closed {
				peers[i].close()
			}
			exclude := ""
			if tt.exclude >= 0 {
				exclude = ids[tt.exclude]
			}

			sent := r.Broadcast([]byte("hello"), exclude)

			assert.Equal(t, tt.wantSent, sent)
			if tt.exclude >= 0 {
				assert.Empty(t, peers[tt.exclude].getReceived())
			}
		})
	}
}

func TestRegistry_SendToTarget(t *testing.T) {
	r := newTestRegistry()
	first, second, byID := &mockPeer{}, &mockPeer{}, &mockPeer{}
	firstID := r.Register(first)
	secondID := r.Register(second)
	targetID := r.Register(byID)
	require.NoError(t, r.SetIdentity(firstID, "printer", nil))
	require.NoError(t, r.SetIdentity(secondID, "printer", nil))

	conn, ok := r.SendToTarget(targetID, []byte("direct"))
	require.True(t, ok)
	assert.Equal(t, targetID, conn.ID)
	assert.Len(t, byID.getReceived(), 1)

	conn, ok = r.SendToTarget("printer", []byte("kind"))
	require.True(t, ok)
	assert.Equal(t, firstID, conn.ID)
	assert.Len(t, first.getReceived(), 1)
	assert.Empty(t, second.getReceived())

	_, ok = r.SendToTarget("fax", []byte("nobody"))
	assert.False(t, ok)
}

func TestRegistry_ConcurrentJoinLeaveKeepsIndexConsistent(t *testing.T) {
	r := NewRegistry(nil)
	ids := make([]string, 16)
	for i := range ids {
		ids[i] = r.Register(&mockPeer{})
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			for n := 0; n < 201; n++ {
				switch n % 3 {
				case 0:
					_, _ = r.Join(id, fmt.Sprintf("room-%d", (i+n)%4))
				case 1:
					_, _ = r.Leave(id)
				default:
					_, _ = r.Join(id, "shared")
				}
			}
		}(i, id)
	}
	wg.Wait()

	memberships := 0
	for _, room := range r.Rooms() {
		require.NotEmpty(t, room.Members)
		for _, member := range room.Members {
			assert.Equal(t, room.ID, member.Room)
			memberships++
		}
	}
	for _, conn := range r.All() {
		if conn.Room != "" {
			assert.Contains(t, r.MembersOf(conn.Room), conn.ID)
		}
	}
	assert.LessOrEqual(t, memberships, len(ids))
}
