package queue

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
)

// MemoryQueue is a FIFO of artwork ids in which an id is waiting at most
// once. An id enqueued while it is being processed is queued again when the
// current run is done, so two workers never hold the same id.
type MemoryQueue struct {
	mu       sync.Mutex
	items    []Item
	pending  map[int64]bool
	inFlight map[int64]bool
	again    map[int64]bool
	notify   chan struct{}
	closed   bool
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		pending:  make(map[int64]bool),
		inFlight: make(map[int64]bool),
		again:    make(map[int64]bool),
		notify:   make(chan struct{}, 1),
	}
}

// Enqueue adds the item unless it is already waiting. It reports whether the
// item was accepted.
func (q *MemoryQueue) Enqueue(item Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.pending[item.ID] {
		return false
	}
	if q.inFlight[item.ID] {
		if q.again[item.ID] {
			return false
		}
		q.again[item.ID] = true
		return true
	}

	q.pending[item.ID] = true
	q.items = append(q.items, item)
	q.signal()
	return true
}

// Next blocks until an item is available, the queue is closed or ctx is done.
func (q *MemoryQueue) Next(ctx context.Context) (Item, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			delete(q.pending, item.ID)
			q.inFlight[item.ID] = true
			if len(q.items) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return item, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Item{}, false
		}

		select {
		case <-ctx.Done():
			return Item{}, false
		case <-q.notify:
		}
	}
}

// Done releases an item returned by Next.
func (q *MemoryQueue) Done(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inFlight, item.ID)
	if q.again[item.ID] {
		delete(q.again, item.ID)
		if !q.closed {
			q.pending[item.ID] = true
			q.items = append(q.items, item)
			q.signal()
		}
	}
}

// Len returns the number of waiting items.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes all waiters; queued items are dropped.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.notify)
}

// signal must be called with mu held.
func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// MemoryBackend processes a MemoryQueue with a fixed number of workers.
type MemoryBackend struct {
	queue   *MemoryQueue
	runner  *Runner
	workers int
	logger  hclog.Logger
}

// NewMemoryBackend creates an in-process backend.
func NewMemoryBackend(runner *Runner, workers int, logger hclog.Logger) *MemoryBackend {
	if workers < 1 {
		workers = 1
	}
	return &MemoryBackend{
		queue:   NewMemoryQueue(),
		runner:  runner,
		workers: workers,
		logger:  logger.Named("memory-queue"),
	}
}

// Queue exposes the underlying queue.
func (b *MemoryBackend) Queue() *MemoryQueue {
	return b.queue
}

// Submit queues an artwork id. Ids already waiting are ignored.
func (b *MemoryBackend) Submit(ctx context.Context, artworkID int64) error {
	if !b.queue.Enqueue(Item{ID: artworkID}) {
		b.logger.Trace("artwork already queued", "artwork_id", artworkID)
	}
	return nil
}

// Run starts the workers and blocks until ctx is done or the queue closes.
// Items are processed one at a time per worker; a failing item never stops
// a worker.
func (b *MemoryBackend) Run(ctx context.Context) error {
	b.logger.Info("starting workers", "workers", b.workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < b.workers; i++ {
		worker := i
		g.Go(func() error {
			for {
				item, ok := b.queue.Next(gctx)
				if !ok {
					b.logger.Debug("worker stopped", "worker", worker)
					return nil
				}
				_ = b.runner.Handle(gctx, item)
				b.queue.Done(item)
			}
		})
	}
	return g.Wait()
}

// Close stops accepting work and wakes idle workers.
func (b *MemoryBackend) Close() error {
	b.queue.Close()
	return nil
}
