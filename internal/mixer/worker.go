package mixer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

const DefaultQueueCapacity = 64

var (
	ErrWorkerClosed = errors.New("worker is closed")
	ErrQueueFull    = errors.New("worker queue is full")
)

// OverflowPolicy decides what Enqueue does when the queue is at capacity.
type OverflowPolicy int

const (
	OverflowBlock OverflowPolicy = iota
	OverflowDropOldest
	OverflowReject
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowBlock:
		return "block"
	case OverflowDropOldest:
		return "drop-oldest"
	case OverflowReject:
		return "reject"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return OverflowBlock, nil
	case "drop-oldest", "drop_oldest":
		return OverflowDropOldest, nil
	case "reject":
		return OverflowReject, nil
	default:
		return OverflowBlock, fmt.Errorf("unknown overflow policy %q", s)
	}
}

type workerConfig struct {
	capacity int
	policy   OverflowPolicy
	logger   *slog.Logger
	onDrop   func(any)
}

type WorkerOption func(*workerConfig)

func WithCapacity(n int) WorkerOption {
	return func(c *workerConfig) {
		if n > 0 {
			c.capacity = n
		}
	}
}

func WithOverflow(p OverflowPolicy) WorkerOption {
	return func(c *workerConfig) {
		c.policy = p
	}
}

func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(c *workerConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDropHandler registers fn to be told about every item the drop-oldest
// policy evicts. fn runs with the worker locked and must not call back into it.
func WithDropHandler[T any](fn func(T)) WorkerOption {
	return func(c *workerConfig) {
		if fn == nil {
			return
		}
		c.onDrop = func(v any) {
			item, _ := v.(T)
			fn(item)
		}
	}
}

type WorkerStats struct {
	Enqueued  uint64
	Processed uint64
	Dropped   uint64
	Rejected  uint64
	Pending   int
}

type queuedItem[T any] struct {
	seq  uint64
	item T
}

// Worker runs handle on a single goroutine, one item at a time, in the order
// items were enqueued.
type Worker[T any] struct {
	handle func(T)
	cfg    workerConfig

	mu       sync.Mutex
	queue    []queuedItem[T]
	lastSeq  uint64
	inflight uint64
	// smallest sequence discarded by Close, 0 if none
	lost    uint64
	closed  bool
	changed chan struct{}
	stats   WorkerStats

	closeOnce sync.Once
	done      chan struct{}
}

func NewWorker[T any](handle func(T), opts ...WorkerOption) *Worker[T] {
	cfg := workerConfig{
		capacity: DefaultQueueCapacity,
		policy:   OverflowBlock,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	w := &Worker[T]{
		handle:  handle,
		cfg:     cfg,
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue appends item and returns its sequence number. What happens when the
// queue is full depends on the overflow policy.
func (w *Worker[T]) Enqueue(ctx context.Context, item T) (uint64, error) {
	w.mu.Lock()
	for {
		if w.closed {
			w.mu.Unlock()
			return 0, ErrWorkerClosed
		}
		if len(w.queue) < w.cfg.capacity {
			break
		}
		switch w.cfg.policy {
		case OverflowReject:
			w.stats.Rejected++
			w.mu.Unlock()
			return 0, ErrQueueFull
		case OverflowDropOldest:
			dropped := w.queue[0]
			w.queue = w.queue[1:]
			w.stats.Dropped++
			if w.cfg.onDrop != nil {
				w.cfg.onDrop(dropped.item)
			}
			w.cfg.logger.Warn("delivery queue full; dropped oldest item", "seq", dropped.seq, "capacity", w.cfg.capacity)
			w.broadcastLocked()
		default:
			ch := w.changed
			w.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return 0, ctx.Err()
			}
			w.mu.Lock()
		}
	}
	w.lastSeq++
	seq := w.lastSeq
	w.queue = append(w.queue, queuedItem[T]{seq: seq, item: item})
	w.stats.Enqueued++
	w.broadcastLocked()
	w.mu.Unlock()
	return seq, nil
}

// WaitDrain blocks until every item with a sequence number up to seq has been
// handled or dropped by the overflow policy. Callers that need to know whether
// their own item ran use WithDropHandler.
func (w *Worker[T]) WaitDrain(ctx context.Context, seq uint64) error {
	for {
		w.mu.Lock()
		if w.drainedLocked(seq) {
			w.mu.Unlock()
			return nil
		}
		if w.closed {
			w.mu.Unlock()
			return w.waitClosed(ctx, seq)
		}
		ch := w.changed
		w.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Wait blocks until everything enqueued before the call has been handled.
func (w *Worker[T]) Wait(ctx context.Context) error {
	w.mu.Lock()
	seq := w.lastSeq
	w.mu.Unlock()
	return w.WaitDrain(ctx, seq)
}

func (w *Worker[T]) waitClosed(ctx context.Context, seq uint64) error {
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.drainedLocked(seq) {
		return nil
	}
	return ErrWorkerClosed
}

// Close stops intake, lets the in-flight item finish, discards the rest and
// waits for the goroutine to exit. Calling it again is a no-op.
func (w *Worker[T]) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.broadcastLocked()
		w.mu.Unlock()
	})
	<-w.done
}

func (w *Worker[T]) Stats() WorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.Pending = len(w.queue)
	return s
}

func (w *Worker[T]) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			ch := w.changed
			w.mu.Unlock()
			<-ch
			w.mu.Lock()
		}
		if w.closed {
			if len(w.queue) > 0 {
				w.lost = w.queue[0].seq
				w.cfg.logger.Info("worker closed with pending items", "discarded", len(w.queue))
				w.queue = nil
			}
			w.broadcastLocked()
			w.mu.Unlock()
			return
		}
		next := w.queue[0]
		w.queue = w.queue[1:]
		w.inflight = next.seq
		w.broadcastLocked()
		w.mu.Unlock()

		w.invoke(next)

		w.mu.Lock()
		w.inflight = 0
		w.stats.Processed++
		w.broadcastLocked()
		w.mu.Unlock()
	}
}

func (w *Worker[T]) invoke(next queuedItem[T]) {
	defer func() {
		if r := recover(); r != nil {
			w.cfg.logger.Error("worker handler panicked", "seq", next.seq, "panic", r)
		}
	}()
	w.handle(next.item)
}

func (w *Worker[T]) drainedLocked(seq uint64) bool {
	if w.lost != 0 && w.lost <= seq {
		return false
	}
	if len(w.queue) > 0 && w.queue[0].seq <= seq {
		return false
	}
	return w.inflight == 0 || w.inflight > seq
}

func (w *Worker[T]) broadcastLocked() {
	close(w.changed)
	w.changed = make(chan struct{})
}
