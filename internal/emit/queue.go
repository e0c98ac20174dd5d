package emit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("emit queue closed")

// Policy decides what Emit does when the queue is full.
type Policy int

const (
	// Block waits for room, applying backpressure to the producer.
	Block Policy = iota
	// DropStatus discards status events when full. Message, citation and
	// completion events still wait for room.
	DropStatus
)

// Queue is an ordered outbound queue with a single consumer goroutine
// delivering to a sink. Events reach the sink in Emit order.
type Queue struct {
	sink   Sink
	policy Policy
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan Event
	done   chan struct{}

	dropped atomic.Int64
}

// NewQueue starts a queue delivering to sink. A capacity below 1 is
// treated as 1.
func NewQueue(sink Sink, capacity int, policy Policy, logger *slog.Logger) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		sink:   sink,
		policy: policy,
		logger: logger,
		ch:     make(chan Event, capacity),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for ev := range q.ch {
		if err := q.sink.Emit(ev); err != nil {
			q.logger.Debug("sink rejected event", "kind", ev.Kind, "error", err)
		}
	}
}

// Emit enqueues ev. Under Block, and for non-status events under
// DropStatus, it waits for room or for ctx to be done.
func (q *Queue) Emit(ctx context.Context, ev Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	if q.policy == DropStatus && ev.Kind == KindStatus {
		select {
		case q.ch <- ev:
		default:
			q.dropped.Add(1)
		}
		return nil
	}

	select {
	case q.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns the number of status events discarded so far.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Close stops accepting events and waits until every queued event has
// been delivered. It is safe to call more than once.
func (q *Queue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	<-q.done
	return nil
}
