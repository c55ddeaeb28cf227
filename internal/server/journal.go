package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fenggwsx/BridgeRelay/internal/relay"
	"github.com/fenggwsx/BridgeRelay/internal/storage"
)

const (
	journalBatchSize    = 64
	journalWriteTimeout = 5 * time.Second
)

// journalWriter feeds lifecycle events to the store from a single goroutine.
// Record never blocks; events are dropped when the queue is full.
type journalWriter struct {
	store  storage.Store
	log    *zap.Logger
	events chan relay.LifecycleEvent
	done   chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func newJournalWriter(store storage.Store, logger *zap.Logger, queueSize int) *journalWriter {
	if queueSize <= 0 {
		queueSize = 1024
	}
	w := &journalWriter{
		store:  store,
		log:    logger,
		events: make(chan relay.LifecycleEvent, queueSize),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Record implements relay.Journal.
func (w *journalWriter) Record(e relay.LifecycleEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.events <- e:
	default:
		w.log.Warn("journal queue full, event dropped", zap.String("kind", e.Kind), zap.String("client_id", e.ClientID))
	}
}

// Close stops accepting events and waits until the queue is flushed.
func (w *journalWriter) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.events)
		w.mu.Unlock()
	})
	<-w.done
}

func (w *journalWriter) run() {
	defer close(w.done)

	batch := make([]storage.Event, 0, journalBatchSize)
	for e := range w.events {
		batch = append(batch[:0], toStorageEvent(e))
	drain:
		for len(batch) < journalBatchSize {
			select {
			case next, ok := <-w.events:
				if !ok {
					break drain
				}
				batch = append(batch, toStorageEvent(next))
			default:
				break drain
			}
		}
		w.flush(batch)
	}
}

func (w *journalWriter) flush(batch []storage.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := w.store.RecordEvents(ctx, batch); err != nil {
		w.log.Error("journal write failed", zap.Int("events", len(batch)), zap.Error(err))
	}
}

func toStorageEvent(e relay.LifecycleEvent) storage.Event {
	return storage.Event{
		Kind:       e.Kind,
		ClientID:   e.ClientID,
		ClientType: e.ClientType,
		RoomID:     e.RoomID,
		At:         e.At,
	}
}
