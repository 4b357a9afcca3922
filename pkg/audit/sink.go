package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueFull is returned by AsyncSink.Record when the buffer is full.
var ErrQueueFull = errors.New("audit queue full")

// ErrSinkClosed is returned by AsyncSink.Record after Close.
var ErrSinkClosed = errors.New("audit sink closed")

// AsyncSink buffers entries and writes them to an inner Sink from a single
// background goroutine, so slow audit storage never holds up a transition.
type AsyncSink struct {
	inner   Sink
	queue   chan Entry
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewAsyncSink creates an AsyncSink with a buffer of queueSize entries.
func NewAsyncSink(inner Sink, queueSize int, logger *slog.Logger) *AsyncSink {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncSink{
		inner:   inner,
		queue:   make(chan Entry, queueSize),
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

// Start launches the writer goroutine. Calling Start twice is a no-op.
func (s *AsyncSink) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	s.wg.Add(1)
	go s.run()
}

// Record enqueues e without blocking.
func (s *AsyncSink) Record(_ context.Context, e Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.queue <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting entries and waits until the buffer is drained.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	started := s.started
	s.mu.Unlock()

	if !started {
		// Nothing will drain the buffer; flush inline.
		s.wg.Add(1)
		s.run()
	}
	s.wg.Wait()
}

func (s *AsyncSink) run() {
	defer s.wg.Done()
	for e := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.inner.Record(ctx, e); err != nil {
			s.logger.Error("failed to write audit entry",
				"entity", e.Entity,
				"entityId", e.EntityID,
				"action", e.Action,
				"error", err)
		}
		cancel()
	}
}
