package host

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrQueueFull = errors.New("host: command queue full")
	ErrClosed    = errors.New("host: dispatcher closed")
)

// Default dispatcher settings.
const (
	DefaultWorkers   = 1
	DefaultQueueSize = 64
)

// Async makes delivery fire-and-forget: Send only enqueues, and a bounded
// worker pool delivers through the wrapped executor. Delivery errors are
// logged and never reach the caller.
type Async struct {
	next   Executor
	queue  chan Command
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// OnError, if set before the first Send, is called for every failed
	// delivery.
	OnError func(cmd Command, err error)

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the worker pool.
func NewAsync(next Executor, workers, queueSize int) *Async {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Async{
		next:   next,
		queue:  make(chan Command, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.worker(i)
	}

	log.Debug().Int("workers", workers).Int("queue_size", queueSize).Msg("Host dispatcher started")
	return a
}

func (a *Async) worker(id int) {
	defer a.wg.Done()
	for cmd := range a.queue {
		if err := a.next.Send(a.ctx, cmd); err != nil {
			log.Error().
				Err(err).
				Int("worker", id).
				Str("cmd", string(cmd.Cmd)).
				Str("name", cmd.Name).
				Str("request_id", cmd.RequestID).
				Msg("Host delivery failed")
			if a.OnError != nil {
				a.OnError(cmd, err)
			}
		}
	}
}

// Send enqueues cmd without blocking.
func (a *Async) Send(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}

	select {
	case a.queue <- cmd:
		return nil
	default:
		log.Warn().Str("cmd", string(cmd.Cmd)).Str("name", cmd.Name).Msg("Host command queue full, dropping command")
		return ErrQueueFull
	}
}

// Close stops accepting commands, cancels in-flight deliveries once ctx
// expires, and waits for workers.
func (a *Async) Close(ctx context.Context) {
	defer a.cancel()

	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Host dispatcher stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Host dispatcher shutdown timed out, pending commands dropped")
	}
}
