package persistence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultWriterCapacity = 256
	writeAttempts         = 3
	writeRetryStep        = 300 * time.Millisecond
)

type writeCmd struct {
	name string
	fn   func(context.Context) error
	done chan struct{}
}

// WriterQueue runs journal writes one at a time, in enqueue order, retrying
// failed writes a few times. Writes that do not fit in the queue are dropped.
type WriterQueue struct {
	logger *slog.Logger
	queue  chan writeCmd

	mu      sync.Mutex
	dropped uint64
	failed  uint64
	wg      sync.WaitGroup
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		capacity = defaultWriterCapacity
	}
	return &WriterQueue{
		logger: logger,
		queue:  make(chan writeCmd, capacity),
	}
}

func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	select {
	case w.queue <- writeCmd{name: name, fn: fn}:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		w.logger.Warn("db write queue full, dropping write", "cmd", name)
	}
}

// Start runs the queue until ctx is cancelled. Wait blocks until it has stopped.
func (w *WriterQueue) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-w.queue:
				if cmd.done != nil {
					close(cmd.done)
					continue
				}
				w.runWithRetry(ctx, cmd)
			}
		}
	}()
}

func (w *WriterQueue) Wait() {
	w.wg.Wait()
}

// Flush blocks until every write enqueued before the call has been attempted.
func (w *WriterQueue) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case w.queue <- writeCmd{name: "flush", done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the number of dropped and permanently failed writes.
func (w *WriterQueue) Stats() (dropped, failed uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped, w.failed
}

func (w *WriterQueue) runWithRetry(ctx context.Context, cmd writeCmd) {
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		err := cmd.fn(ctx)
		if err == nil {
			return
		}
		w.logger.Error("db write failed", "cmd", cmd.name, "attempt", attempt, "error", err)
		if attempt == writeAttempts {
			w.mu.Lock()
			w.failed++
			w.mu.Unlock()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * writeRetryStep):
		}
	}
}
