package storage

import (
	"context"
	"time"
)

// Event is one persisted connection lifecycle record.
type Event struct {
	ID         uint64
	Kind       string
	ClientID   string
	ClientType string
	RoomID     string
	At         time.Time
}

// Store defines persistence operations used by the lifecycle journal.
type Store interface {
	Close() error
	Migrate(ctx context.Context) error

	RecordEvents(ctx context.Context, events []Event) error
	ListEvents(ctx context.Context, limit int) ([]Event, error)
}
