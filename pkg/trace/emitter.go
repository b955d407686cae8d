package trace

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Emitter buffers spans and flushes them to the sink in batches: when the
// buffer reaches the batch size, on a background interval, and once more at
// shutdown. A failed flush requeues its batch at the front of the buffer,
// so spans are delivered at least once; the sink must tolerate duplicates.
type Emitter struct {
	sink          Sink
	batchSize     int
	flushInterval time.Duration
	maxBuffer     int
	logger        func(format string, args ...any)

	mu     sync.Mutex
	buffer []Span

	flushing atomic.Bool
	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBatchSize sets how many spans trigger and bound a flush.
func WithBatchSize(n int) EmitterOption {
	return func(e *Emitter) {
		e.batchSize = n
	}
}

// WithFlushInterval sets the background flush cadence.
func WithFlushInterval(d time.Duration) EmitterOption {
	return func(e *Emitter) {
		e.flushInterval = d
	}
}

// WithMaxBuffer caps the buffer; overflow drops the oldest spans.
func WithMaxBuffer(n int) EmitterOption {
	return func(e *Emitter) {
		e.maxBuffer = n
	}
}

// WithEmitterLogger overrides the emitter's log output.
func WithEmitterLogger(logger func(format string, args ...any)) EmitterOption {
	return func(e *Emitter) {
		e.logger = logger
	}
}

// NewEmitter creates an emitter flushing to the given sink.
func NewEmitter(sink Sink, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		sink:          sink,
		batchSize:     20,
		flushInterval: 10 * time.Second,
		maxBuffer:     1000,
		logger:        log.Printf,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit buffers one span. Reaching the batch size kicks off a flush away
// from the caller's path; Emit itself never blocks on the sink.
func (e *Emitter) Emit(span Span) {
	e.mu.Lock()
	if len(e.buffer) >= e.maxBuffer {
		drop := len(e.buffer) - e.maxBuffer + 1
		e.buffer = e.buffer[drop:]
		e.logger("[trace] buffer full, dropped %d oldest spans", drop)
	}
	e.buffer = append(e.buffer, span)
	full := len(e.buffer) >= e.batchSize
	e.mu.Unlock()

	if full && e.flushing.CompareAndSwap(false, true) {
		go func() {
			defer e.flushing.Store(false)
			if err := e.Flush(context.Background()); err != nil {
				e.logger("[trace] flush failed, batch requeued: %v", err)
			}
		}()
	}
}

// Buffered reports how many spans await flush.
func (e *Emitter) Buffered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffer)
}

// Flush sends up to one batch to the sink. An empty buffer is a no-op. On
// sink failure the batch is reinserted at the front of the buffer and the
// error is returned.
func (e *Emitter) Flush(ctx context.Context) error {
	e.mu.Lock()
	if len(e.buffer) == 0 {
		e.mu.Unlock()
		return nil
	}
	n := len(e.buffer)
	if n > e.batchSize {
		n = e.batchSize
	}
	batch := make([]Span, n)
	copy(batch, e.buffer[:n])
	e.buffer = append([]Span(nil), e.buffer[n:]...)
	e.mu.Unlock()

	if err := e.sink.Export(ctx, batch); err != nil {
		e.mu.Lock()
		e.buffer = append(batch, e.buffer...)
		if len(e.buffer) > e.maxBuffer {
			drop := len(e.buffer) - e.maxBuffer
			e.buffer = e.buffer[drop:]
			e.logger("[trace] buffer full, dropped %d oldest spans", drop)
		}
		e.mu.Unlock()
		return err
	}
	return nil
}

// Start runs the background interval flush until Shutdown or ctx
// cancellation.
func (e *Emitter) Start(ctx context.Context) {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(e.done)

		ticker := time.NewTicker(e.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.Flush(ctx); err != nil {
					e.logger("[trace] flush failed, batch requeued: %v", err)
				}
			}
		}
	}()
}

// Shutdown stops the interval timer, waits for the background loop, and
// drains the buffer with final flush attempts. The first sink failure
// stops the drain; whatever remains buffered is reported as the error.
func (e *Emitter) Shutdown(ctx context.Context) error {
	e.stopOnce.Do(func() {
		close(e.stop)
	})
	if e.started.Load() {
		<-e.done
	}

	for e.Buffered() > 0 {
		if err := e.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}
