package feed

import (
	"context"
	"sync"

	"github.com/quantfold/etfbot/internal/domain"
	"github.com/quantfold/etfbot/internal/metrics"
)

// Queue is an unbounded FIFO tick queue with a non-blocking producer side and
// a single consumer. The ingestion path must never block — stalling a
// provider's dispatch goroutine risks missing live trading decisions — so the
// queue grows without bound under sustained consumer failure. Queue depth is
// exported as a gauge so the orchestrator can alarm on backlog instead.
type Queue struct {
	name string

	mu     sync.Mutex
	items  []domain.Tick
	closed bool

	// notify wakes the consumer; capacity 1 so producers never block on it.
	notify chan struct{}
}

// NewQueue allocates an empty queue. name labels the depth gauge.
func NewQueue(name string) *Queue {
	return &Queue{
		name:   name,
		notify: make(chan struct{}, 1),
	}
}

// Publish appends a tick without blocking. Ticks published after Close are
// dropped.
func (q *Queue) Publish(t domain.Tick) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, t)
	depth := len(q.items)
	q.mu.Unlock()

	metrics.QueueDepth.WithLabelValues(q.name).Set(float64(depth))

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue blocks until a tick is available, the queue is closed and empty, or
// the context is cancelled. The second return value is false only when no tick
// was produced.
func (q *Queue) Dequeue(ctx context.Context) (domain.Tick, bool) {
	for {
		if t, ok := q.TryDequeue(); ok {
			return t, true
		}

		q.mu.Lock()
		closed := q.closed && len(q.items) == 0
		q.mu.Unlock()
		if closed {
			return domain.Tick{}, false
		}

		select {
		case <-ctx.Done():
			return domain.Tick{}, false
		case <-q.notify:
		}
	}
}

// TryDequeue pops the head of the queue without blocking.
func (q *Queue) TryDequeue() (domain.Tick, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return domain.Tick{}, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	if len(q.items) == 0 {
		// Release the drained backing array.
		q.items = nil
	}
	metrics.QueueDepth.WithLabelValues(q.name).Set(float64(len(q.items)))
	return t, true
}

// Depth returns the current backlog.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue from accepting new ticks. Buffered ticks remain
// dequeueable so the consumer can drain.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

var _ Sink = (*Queue)(nil)
