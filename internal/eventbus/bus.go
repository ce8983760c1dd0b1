package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeRelay  EventType = "relay"
	EventTypeSample EventType = "sample"
	EventTypeConfig EventType = "config"
	EventTypeClock  EventType = "clock"
)

// Default configuration
const (
	DefaultWorkerCount = 2
	DefaultQueueSize   = 64
)

// Event represents an event in the system. Data holds one of the payload
// types declared in payloads.go, matching Type.
type Event struct {
	Type EventType
	Time time.Time
	Data any
}

// Handler is a function that handles events
type Handler func(Event)

// work represents a unit of work for the worker pool
type work struct {
	event   Event
	handler Handler
}

// Bus provides event routing with a bounded worker pool
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	closed   bool

	// Worker pool
	workQueue chan work
	wg        sync.WaitGroup
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and queue size
func NewWithConfig(workerCount, queueSize int) *Bus {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	b := &Bus{
		handlers:  make(map[EventType][]Handler),
		workQueue: make(chan work, queueSize),
	}

	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

// worker processes events from the work queue
func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for w := range b.workQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish sends an event to all subscribed handlers.
// Non-blocking: if the work queue is full or bus is closed, events are dropped.
// The read lock is held while queueing so Close cannot close the queue
// under a sender.
func (b *Bus) Publish(eventType EventType, data any) {
	event := Event{Type: eventType, Time: time.Now(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		log.Warn().Str("event_type", string(eventType)).Msg("Event bus closed, dropping event")
		return
	}

	for _, handler := range b.handlers[eventType] {
		select {
		case b.workQueue <- work{event: event, handler: handler}:
		default:
			log.Warn().
				Str("event_type", string(eventType)).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Close shuts down the worker pool gracefully.
// It waits for queued events until ctx expires.
func (b *Bus) Close(ctx context.Context) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.workQueue)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
