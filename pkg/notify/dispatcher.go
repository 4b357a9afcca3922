package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrQueueFull is returned by Dispatcher.Notify when the buffer is full.
var ErrQueueFull = errors.New("notification queue full")

// ErrDispatcherClosed is returned by Dispatcher.Notify after Close.
var ErrDispatcherClosed = errors.New("notification dispatcher closed")

// Dispatcher delivers messages through a Gateway from a background worker,
// retrying failed sends with exponential backoff.
type Dispatcher struct {
	gateway       Gateway
	queue         chan Message
	maxRetries    int
	retryInterval time.Duration
	logger        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher in front of gateway.
func NewDispatcher(gateway Gateway, cfg *Config, logger *slog.Logger) *Dispatcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultConfig().QueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		gateway:       gateway,
		queue:         make(chan Message, size),
		maxRetries:    cfg.MaxRetries,
		retryInterval: cfg.RetryInterval,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches the delivery worker. Calling Start twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	d.wg.Add(1)
	go d.run()
}

// Notify enqueues m without blocking.
func (d *Dispatcher) Notify(_ context.Context, m Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- m:
		return nil
	default:
		d.logger.Warn("notification dropped, queue full", "subject", m.Subject)
		return ErrQueueFull
	}
}

// Close stops accepting messages, lets the worker drain the queue and waits
// for it. Pending retries are abandoned once ctx is done.
func (d *Dispatcher) Close(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		d.cancel()
		return
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
	}
	d.cancel()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for m := range d.queue {
		d.deliver(m)
	}
}

func (d *Dispatcher) deliver(m Message) {
	policy := backoff.NewExponentialBackOff()
	if d.retryInterval > 0 {
		policy.InitialInterval = d.retryInterval
	}
	policy.MaxElapsedTime = 0

	attempts := 0
	var sent bool
	op := func() error {
		attempts++
		ok, err := d.gateway.Send(d.ctx, m)
		if err != nil {
			return err
		}
		sent = ok
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(d.maxRetries, 0))), d.ctx)
	if err := backoff.Retry(op, b); err != nil {
		d.logger.Error("notification delivery failed",
			"subject", m.Subject,
			"recipients", m.Recipients,
			"attempts", attempts,
			"error", err)
		return
	}
	if !sent {
		d.logger.Debug("notification not delivered, gateway skipped it", "subject", m.Subject)
	}
}
