package relay

import "time"

// Metrics receives registry and routing activity.
type Metrics interface {
	ObserveInbound(messageType string)
	ObserveDelivery(accepted bool)
	SetOccupancy(connections, rooms int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveInbound(string) {}
func (nopMetrics) ObserveDelivery(bool)  {}
func (nopMetrics) SetOccupancy(int, int) {}

// Lifecycle event kinds recorded in the journal.
const (
	EventConnected    = "connected"
	EventRegistered   = "registered"
	EventJoinedRoom   = "joined_room"
	EventLeftRoom     = "left_room"
	EventDisconnected = "disconnected"
)

// LifecycleEvent describes one change to a connection's state.
type LifecycleEvent struct {
	Kind       string
	ClientID   string
	ClientType string
	RoomID     string
	At         time.Time
}

// Journal records lifecycle events. Implementations must not block.
type Journal interface {
	Record(event LifecycleEvent)
}

type nopJournal struct{}

func (nopJournal) Record(LifecycleEvent) {}
