// Package report delivers completion acknowledgments upstream.
//
// A [Reporter] fans each completion out to its [Sink]s. Delivery is
// fire-and-forget: Report never blocks, failed sends are logged and counted
// but never retried, and a slow sink cannot delay the announcement queue.
// Each sink has its own ordered worker, so a sink sees completions in the
// order they were reported.
package report

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/callout/internal/observe"
	"github.com/MrWong99/callout/internal/resilience"
	"github.com/MrWong99/callout/pkg/announce"
)

// Defaults for [New].
const (
	DefaultSendTimeout = 5 * time.Second
	DefaultBuffer      = 64
)

// Sink is one upstream destination for completions.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Send delivers c once. It must honour ctx.
	Send(ctx context.Context, c announce.Completion) error
}

// SinkFunc adapts a function to [Sink].
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, c announce.Completion) error
}

// Name implements [Sink].
func (f SinkFunc) Name() string { return f.SinkName }

// Send implements [Sink].
func (f SinkFunc) Send(ctx context.Context, c announce.Completion) error { return f.Fn(ctx, c) }

// Option configures a [Reporter].
type Option func(*Reporter)

// WithSink adds a destination. Sinks are independent of each other.
func WithSink(s Sink) Option {
	return func(r *Reporter) { r.sinks = append(r.sinks, s) }
}

// WithSendTimeout bounds each individual send.
func WithSendTimeout(d time.Duration) Option {
	return func(r *Reporter) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithBuffer sets how many completions may wait per sink before new ones
// are dropped.
func WithBuffer(n int) Option {
	return func(r *Reporter) {
		if n > 0 {
			r.buffer = n
		}
	}
}

// WithMetrics counts failed deliveries on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Reporter) { r.metrics = m }
}

// WithBreaker guards every sink with a circuit breaker built from cfg. While
// a sink's breaker is open, its sends fail fast instead of waiting out the
// timeout. The sink name is used as the breaker name.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(r *Reporter) { r.breakerCfg = &cfg }
}

type worker struct {
	sink    Sink
	breaker *resilience.CircuitBreaker
	queue   chan announce.Completion
}

// Reporter fans completions out to sinks. It satisfies the engine's
// reporter contract.
type Reporter struct {
	sinks      []Sink
	timeout    time.Duration
	buffer     int
	metrics    *observe.Metrics
	breakerCfg *resilience.CircuitBreakerConfig

	workers []*worker
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New creates a Reporter and starts one delivery worker per sink.
func New(opts ...Option) *Reporter {
	r := &Reporter{timeout: DefaultSendTimeout, buffer: DefaultBuffer}
	for _, o := range opts {
		o(r)
	}
	for _, s := range r.sinks {
		w := &worker{sink: s, queue: make(chan announce.Completion, r.buffer)}
		if r.breakerCfg != nil {
			cfg := *r.breakerCfg
			cfg.Name = s.Name()
			w.breaker = resilience.NewCircuitBreaker(cfg)
		}
		r.workers = append(r.workers, w)
		r.wg.Add(1)
		go r.run(w)
	}
	return r
}

// Report hands c to every sink without waiting for delivery. If a sink's
// backlog is full the completion is dropped for that sink.
func (r *Reporter) Report(ctx context.Context, c announce.Completion) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		slog.Warn("report: reporter closed, completion not delivered", "announcement_id", c.AnnouncementID)
		return
	}
	for _, w := range r.workers {
		select {
		case w.queue <- c:
		default:
			r.failed(ctx, w.sink.Name(), c, errors.New("backlog full"))
		}
	}
}

// Close stops accepting completions and waits for queued ones to be
// attempted, or for ctx to end.
func (r *Reporter) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, w := range r.workers {
		close(w.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reporter) run(w *worker) {
	defer r.wg.Done()
	for c := range w.queue {
		r.send(w, c)
	}
}

func (r *Reporter) send(w *worker, c announce.Completion) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	send := w.sink.Send
	var err error
	if w.breaker != nil {
		err = w.breaker.Execute(ctx, func(ctx context.Context) error { return send(ctx, c) })
	} else {
		err = send(ctx, c)
	}
	if err != nil {
		r.failed(ctx, w.sink.Name(), c, err)
		return
	}
	slog.Debug("report: completion delivered", "sink", w.sink.Name(), "announcement_id", c.AnnouncementID)
}

func (r *Reporter) failed(ctx context.Context, sink string, c announce.Completion, err error) {
	slog.Warn("report: completion not delivered",
		"sink", sink,
		"announcement_id", c.AnnouncementID,
		"request_id", c.RequestID,
		"err", err,
	)
	if r.metrics != nil {
		r.metrics.RecordReportFailure(context.WithoutCancel(ctx), sink)
	}
}
