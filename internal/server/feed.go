package server

import (
	"context"
	"sync"

	"github.com/steelhaus/shopsync/internal/syncer"
)

const feedEventPassCompleted = "pass-completed"

// OperationFeed fans pass completions out to audit stream subscribers. Sends
// never block: a subscriber that stops draining misses messages instead of
// stalling the sync engine.
type OperationFeed struct {
	mu          sync.RWMutex
	subscribers map[int64]*feedSubscriber
	nextID      int64
	bufferSize  int
}

type feedSubscriber struct {
	id     int64
	stream chan syncer.PassSummary
}

// NewOperationFeed builds an empty feed.
func NewOperationFeed() *OperationFeed {
	return &OperationFeed{
		subscribers: make(map[int64]*feedSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for pass completions. The returned cleanup
// is idempotent and also runs when the context ends.
func (f *OperationFeed) Subscribe(ctx context.Context) (<-chan syncer.PassSummary, func()) {
	subscriber := &feedSubscriber{
		id:     f.nextSequence(),
		stream: make(chan syncer.PassSummary, f.bufferSize),
	}
	f.register(subscriber)
	cleanup := func() {
		f.unregister(subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// PassCompleted publishes one summary to every subscriber. It satisfies the
// sync engine's listener contract.
func (f *OperationFeed) PassCompleted(summary syncer.PassSummary) {
	f.mu.RLock()
	copies := make([]*feedSubscriber, 0, len(f.subscribers))
	for _, subscriber := range f.subscribers {
		copies = append(copies, subscriber)
	}
	f.mu.RUnlock()

	for _, subscriber := range copies {
		select {
		case subscriber.stream <- summary:
		default:
		}
	}
}

func (f *OperationFeed) nextSequence() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID
}

func (f *OperationFeed) register(subscriber *feedSubscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers[subscriber.id] = subscriber
}

func (f *OperationFeed) unregister(subscriberID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribers, subscriberID)
}
