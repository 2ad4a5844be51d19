package server

import (
	"context"
	"sync"
	"time"

	"github.com/scottteague/indentr/internal/replication"
)

const (
	RealtimeEventSyncResult = "sync-result"
	realtimeEventHeartbeat  = "heartbeat"
	realtimeSourceBackend   = "indentr-sync"
)

// RealtimeMessage is one event delivered to stream subscribers.
type RealtimeMessage struct {
	EventType string              `json:"event_type"`
	Source    string              `json:"source"`
	Result    *replication.Result `json:"result,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// RealtimeDispatcher fans sync results out to stream subscribers. Slow
// subscribers drop messages instead of blocking the scheduler.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  16,
		clock:       time.Now,
	}
}

// Subscribe registers a stream that lives until ctx is done or cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context) (<-chan RealtimeMessage, func()) {
	subscriber := &realtimeSubscriber{
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers a finished cycle result to every subscriber.
func (d *RealtimeDispatcher) Publish(result replication.Result) {
	d.broadcast(RealtimeMessage{
		EventType: RealtimeEventSyncResult,
		Source:    realtimeSourceBackend,
		Result:    &result,
		Timestamp: d.clock().UTC(),
	})
}

// SubscriberCount reports the number of open streams.
func (d *RealtimeDispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (d *RealtimeDispatcher) broadcast(message RealtimeMessage) {
	d.mu.RLock()
	if len(d.subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) registerSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}
