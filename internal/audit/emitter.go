package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"consentgate/pkg/platform/circuit"
	"consentgate/pkg/requestcontext"
)

const (
	DefaultBufferSize    = 1024
	defaultAppendTimeout = 2 * time.Second
)

// Sink persists audit events. Implementations must be safe for concurrent use.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Emitter queues events for a Sink. Emit never blocks: when the queue is full
// the event is dropped, counted and logged.
type Emitter struct {
	sink          Sink
	queue         chan Event
	breaker       *circuit.Breaker
	logger        *slog.Logger
	metrics       *Metrics
	appendTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithBufferSize sets the queue capacity.
func WithBufferSize(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.queue = make(chan Event, n)
		}
	}
}

// WithLogger sets the logger used for dropped and failed events.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Emitter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(e *Emitter) {
		e.metrics = m
	}
}

// WithBreaker replaces the default circuit breaker guarding the sink.
func WithBreaker(b *circuit.Breaker) Option {
	return func(e *Emitter) {
		if b != nil {
			e.breaker = b
		}
	}
}

// WithAppendTimeout bounds each sink write.
func WithAppendTimeout(d time.Duration) Option {
	return func(e *Emitter) {
		if d > 0 {
			e.appendTimeout = d
		}
	}
}

// NewEmitter creates an emitter for sink. Call Run to start delivery.
func NewEmitter(sink Sink, opts ...Option) *Emitter {
	e := &Emitter{
		sink:          sink,
		queue:         make(chan Event, DefaultBufferSize),
		breaker:       circuit.New("audit_sink"),
		logger:        slog.Default(),
		appendTimeout: defaultAppendTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit queues event for delivery and returns immediately.
func (e *Emitter) Emit(ctx context.Context, event Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.drop(ctx, event, dropClosed)
		return
	}
	select {
	case e.queue <- event:
	default:
		e.drop(ctx, event, dropQueueFull)
	}
}

// Pending returns the number of queued events.
func (e *Emitter) Pending() int {
	return len(e.queue)
}

// Run delivers queued events until ctx is cancelled or Close is called.
func (e *Emitter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-e.queue:
			if !ok {
				return nil
			}
			e.deliver(ctx, event)
		}
	}
}

// Close stops accepting events and delivers whatever is still queued.
func (e *Emitter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	for event := range e.queue {
		e.deliver(context.Background(), event)
	}
	return nil
}

func (e *Emitter) deliver(ctx context.Context, event Event) {
	if !e.breaker.Allow() {
		e.drop(ctx, event, dropCircuitOpen)
		return
	}

	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.appendTimeout)
	defer cancel()

	if err := e.sink.Append(appendCtx, event); err != nil {
		e.metrics.incSinkFailure()
		if e.breaker.RecordFailure() {
			e.metrics.setCircuitOpen(true)
			e.logger.Error("audit sink circuit opened", "breaker", e.breaker.Name())
		}
		e.logger.Error("audit sink write failed",
			"event_id", event.EventID,
			"event_type", event.Type,
			"request_id", event.RequestID,
			"error", err,
		)
		return
	}
	e.breaker.RecordSuccess()
	e.metrics.setCircuitOpen(false)
	e.metrics.incWritten()
}

func (e *Emitter) drop(ctx context.Context, event Event, reason string) {
	e.metrics.incDropped(reason)
	e.logger.WarnContext(ctx, "audit event dropped",
		"reason", reason,
		"event_type", event.Type,
		"subject_id", event.SubjectID,
		"request_id", requestcontext.RequestID(ctx),
	)
}
