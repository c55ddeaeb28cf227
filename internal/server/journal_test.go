package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fenggwsx/BridgeRelay/internal/relay"
	"github.com/fenggwsx/BridgeRelay/internal/storage"
)

type memoryStore struct {
	mu      sync.Mutex
	events  []storage.Event
	block   chan struct{}
	failing bool
}

func (s *memoryStore) Close() error                  { return nil }
func (s *memoryStore) Migrate(context.Context) error { return nil }

func (s *memoryStore) RecordEvents(_ context.Context, events []storage.Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("disk full")
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *memoryStore) ListEvents(context.Context, int) ([]storage.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Event, len(s.events))
	copy(out, s.events)
	return out, nil
}

func TestJournalWriter_FlushesOnClose(t *testing.T) {
	store := &memoryStore{}
	w := newJournalWriter(store, zap.NewNop(), 16)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		w.Record(relay.LifecycleEvent{Kind: relay.EventConnected, ClientID: "c", At: at.Add(time.Duration(i) * time.Second)})
	}
	w.Close()

	events, _ := store.ListEvents(context.Background(), 0)
	require.Len(t, events, 10)
	for i, e := range events {
		assert.Equal(t, at.Add(time.Duration(i)*time.Second), e.At)
	}
}

func TestJournalWriter_DropsWhenFull(t *testing.T) {
	store := &memoryStore{block: make(chan struct{})}
	w := newJournalWriter(store, zap.NewNop(), 2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			w.Record(relay.LifecycleEvent{Kind: relay.EventRegistered, ClientID: "c"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a stalled store")
	}

	close(store.block)
	w.Close()
	events, _ := store.ListEvents(context.Background(), 0)
	assert.Less(t, len(events), 50)
	assert.NotEmpty(t, events)
}

func TestJournalWriter_RecordAfterCloseIsIgnored(t *testing.T) {
	store := &memoryStore{}
	w := newJournalWriter(store, zap.NewNop(), 4)
	w.Close()
	w.Close()

	assert.NotPanics(t, func() {
		w.Record(relay.LifecycleEvent{Kind: relay.EventDisconnected})
	})
	events, _ := store.ListEvents(context.Background(), 0)
	assert.Empty(t, events)
}

func TestJournalWriter_StoreErrorsAreSwallowed(t *testing.T) {
	store := &memoryStore{failing: true}
	w := newJournalWriter(store, zap.NewNop(), 4)

	w.Record(relay.LifecycleEvent{Kind: relay.EventConnected})
	w.Close()

	events, _ := store.ListEvents(context.Background(), 0)
	assert.Empty(t, events)
}
