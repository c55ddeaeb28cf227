package relay

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenggwsx/BridgeRelay/internal/protocol"
)

var (
	// ErrUnknownConnection is returned for ids that are not registered.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrRoomRequired is returned when a join names no room.
	ErrRoomRequired = errors.New("room id required")
)

// Peer is the outbound side of one transport session.
type Peer interface {
	// Send queues a frame without blocking. It reports false when the peer
	// is closed or its queue is full; the frame is then dropped.
	Send(frame []byte) bool
	// Connected reports whether the underlying transport is still open.
	Connected() bool
}

// Connection is a point-in-time copy of one registered connection.
type Connection struct {
	ID          string
	Kind        string
	Room        string
	Attributes  interface{}
	LastSeen    time.Time
	ConnectedAt time.Time
	Connected   bool
}

// Room is a point-in-time copy of one room and its members in accept order.
type Room struct {
	ID      string
	Members []Connection
}

type entry struct {
	id          string
	seq         uint64
	kind        string
	room        string
	attributes  interface{}
	lastSeen    time.Time
	connectedAt time.Time
	peer        Peer
}

// Registry owns every live connection and the room index derived from them.
// One lock covers both maps so a connection's room and the room's member set
// always change together.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*entry
	rooms   map[string]map[string]struct{}
	seq     uint64
	metrics Metrics
	now     func() time.Time
	newID   func() string
}

// NewRegistry builds an empty registry. A nil Metrics disables instrumentation.
func NewRegistry(m Metrics) *Registry {
	if m == nil {
		m = nopMetrics{}
	}
	return &Registry{
		conns:   make(map[string]*entry),
		rooms:   make(map[string]map[string]struct{}),
		metrics: m,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Register admits a new connection with the default kind, no room and no attributes.
func (r *Registry) Register(peer Peer) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for r.conns[id] != nil {
		id = r.newID()
	}
	r.seq++
	now := r.now()
	r.conns[id] = &entry{
		id:          id,
		seq:         r.seq,
		kind:        protocol.DefaultClientType,
		attributes:  map[string]interface{}{},
		lastSeen:    now,
		connectedAt: now,
		peer:        peer,
	}
	r.observeLocked()
	return id
}

// SetIdentity overwrites kind and attributes of an existing connection.
// Attributes are usually an object but any JSON value is kept as given.
func (r *Registry) SetIdentity(id, kind string, attributes interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	if attributes == nil {
		attributes = map[string]interface{}{}
	}
	e.kind = kind
	e.attributes = attributes
	return nil
}

// Remove deletes a connection and evicts it from its room in one step.
// It returns the removed connection and whether anything was removed.
func (r *Registry) Remove(id string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	snapshot := e.snapshot()
	r.leaveLocked(e)
	delete(r.conns, id)
	r.observeLocked()
	return snapshot, true
}

// Get returns a copy of the connection state.
func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return e.snapshot(), true
}

// ListByKind returns every connection whose kind matches, in accept order.
func (r *Registry) ListByKind(kind string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connection, 0)
	for _, e := range r.orderedLocked() {
		if e.kind == kind {
			out = append(out, e.snapshot())
		}
	}
	return out
}

// All returns every connection in accept order.
func (r *Registry) All() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := r.orderedLocked()
	out := make([]Connection, 0, len(ordered))
	for _, e := range ordered {
		out = append(out, e.snapshot())
	}
	return out
}

// TouchLiveness records a liveness acknowledgment. Unknown ids are ignored:
// a pong can race with removal.
func (r *Registry) TouchLiveness(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.conns[id]; ok {
		e.lastSeen = r.now()
	}
}

// Join moves a connection into room, leaving its current room first.
// It returns the room the connection was in before, if any.
func (r *Registry) Join(id, room string) (string, error) {
	if room == "" {
		return "", ErrRoomRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return "", ErrUnknownConnection
	}
	previous := e.room
	if previous != room {
		r.leaveLocked(e)
	}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[id] = struct{}{}
	e.room = room
	r.observeLocked()
	return previous, nil
}

// Leave removes a connection from its current room. It returns the room left
// and false when the connection was in no room.
func (r *Registry) Leave(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok || e.room == "" {
		return "", false
	}
	room := e.room
	r.leaveLocked(e)
	r.observeLocked()
	return room, true
}

// MembersOf returns the member ids of room in accept order; empty if the room does not exist.
func (r *Registry) MembersOf(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.membersLocked(room)
	out := make([]string, 0, len(members))
	for _, e := range members {
		out = append(out, e.id)
	}
	return out
}

// Rooms returns every non-empty room sorted by id.
func (r *Registry) Rooms() []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Room, 0, len(ids))
	for _, id := range ids {
		members := r.membersLocked(id)
		room := Room{ID: id, Members: make([]Connection, 0, len(members))}
		for _, e := range members {
			room.Members = append(room.Members, e.snapshot())
		}
		out = append(out, room)
	}
	return out
}

// Counts returns the number of live connections and rooms.
func (r *Registry) Counts() (connections, rooms int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns), len(r.rooms)
}

// KindCounts tallies live connections per kind.
func (r *Registry) KindCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int)
	for _, e := range r.conns {
		out[e.kind]++
	}
	return out
}

// Send queues frame to a single connection.
func (r *Registry) Send(id string, frame []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok {
		return false
	}
	return r.deliverLocked(e, frame)
}

// Broadcast queues frame to every connection except exclude and returns how many accepted it.
func (r *Registry) Broadcast(frame []byte, exclude string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := 0
	for id, e := range r.conns {
		if id == exclude {
			continue
		}
		if r.deliverLocked(e, frame) {
			sent++
		}
	}
	return sent
}

// BroadcastRoom queues frame to every member of room except exclude.
func (r *Registry) BroadcastRoom(room string, frame []byte, exclude string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.broadcastRoomLocked(room, frame, exclude)
}

// BroadcastSenderRoom resolves the sender's room and fans out the frame built
// for it under the same read lock. ok is false when the sender is in no room.
func (r *Registry) BroadcastSenderRoom(senderID string, build func(room string) []byte) (room string, sent int, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.conns[senderID]
	if !exists || e.room == "" {
		return "", 0, false
	}
	frame := build(e.room)
	if frame == nil {
		return e.room, 0, true
	}
	return e.room, r.broadcastRoomLocked(e.room, frame, senderID), true
}

// SendToTarget resolves target as a connection id, falling back to the first
// connection in accept order whose kind equals target, and queues frame to it.
func (r *Registry) SendToTarget(target string, frame []byte) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[target]
	if !ok {
		for _, candidate := range r.orderedLocked() {
			if candidate.kind == target {
				e, ok = candidate, true
				break
			}
		}
	}
	if !ok {
		return Connection{}, false
	}
	r.deliverLocked(e, frame)
	return e.snapshot(), true
}

func (r *Registry) broadcastRoomLocked(room string, frame []byte, exclude string) int {
	sent := 0
	for id := range r.rooms[room] {
		if id == exclude {
			continue
		}
		e, ok := r.conns[id]
		if !ok {
			continue
		}
		if r.deliverLocked(e, frame) {
			sent++
		}
	}
	return sent
}

func (r *Registry) deliverLocked(e *entry, frame []byte) bool {
	if e.peer == nil {
		return false
	}
	ok := e.peer.Send(frame)
	r.metrics.ObserveDelivery(ok)
	return ok
}

func (r *Registry) leaveLocked(e *entry) {
	if e.room == "" {
		return
	}
	if members, ok := r.rooms[e.room]; ok {
		delete(members, e.id)
		if len(members) == 0 {
			delete(r.rooms, e.room)
		}
	}
	e.room = ""
}

func (r *Registry) membersLocked(room string) []*entry {
	members := r.rooms[room]
	out := make([]*entry, 0, len(members))
	for id := range members {
		if e, ok := r.conns[id]; ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *Registry) orderedLocked() []*entry {
	out := make([]*entry, 0, len(r.conns))
	for _, e := range r.conns {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *Registry) observeLocked() {
	r.metrics.SetOccupancy(len(r.conns), len(r.rooms))
}

func (e *entry) snapshot() Connection {
	attributes := e.attributes
	if m, ok := e.attributes.(map[string]interface{}); ok {
		copied := make(map[string]interface{}, len(m))
		for k, v := range m {
			copied[k] = v
		}
		attributes = copied
	}
	connected := false
	if e.peer != nil {
		connected = e.peer.Connected()
	}
	return Connection{
		ID:          e.id,
		Kind:        e.kind,
		Room:        e.room,
		Attributes:  attributes,
		LastSeen:    e.lastSeen,
		ConnectedAt: e.connectedAt,
		Connected:   connected,
	}
}
