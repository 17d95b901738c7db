// Package playback implements the three announcement tiers and the fixed
// fallback chain that runs them.
//
// Every [Backend] resolves with an [announce.Outcome] and never panics out to
// its caller: the [Chain] bounds each attempt with a timeout and converts
// recovered panics into failed outcomes, so one misbehaving tier can never
// stall the queue.
package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/callout/internal/observe"
	"github.com/MrWong99/callout/pkg/announce"
)

// DefaultAttemptTimeout bounds a single tier attempt.
const DefaultAttemptTimeout = 10 * time.Second

// Backend is one playback tier.
//
// Attempt must honour ctx: when ctx is done any sound in flight stops and
// Attempt returns promptly with a failed outcome.
type Backend interface {
	// Method identifies the tier in outcomes and events.
	Method() announce.Method

	// Attempt plays a, reading settings from the snapshot s.
	Attempt(ctx context.Context, a announce.Announcement, s announce.Settings) announce.Outcome
}

// Phase distinguishes the two [AttemptEvent] kinds.
type Phase string

const (
	PhaseStarted  Phase = "attempt_started"
	PhaseFinished Phase = "attempt_finished"
)

// AttemptEvent describes a tier attempt starting or finishing.
type AttemptEvent struct {
	AnnouncementID string
	Method         announce.Method
	Phase          Phase

	// Outcome and Elapsed are set for [PhaseFinished] only.
	Outcome announce.Outcome
	Elapsed time.Duration
}

// ChainOption configures a [Chain].
type ChainOption func(*Chain)

// WithTimeout overrides the attempt timeout for the tier identified by
// method. Non-positive durations are ignored.
func WithTimeout(method announce.Method, d time.Duration) ChainOption {
	return func(c *Chain) {
		if d > 0 {
			c.timeouts[method] = d
		}
	}
}

// WithDefaultTimeout sets the timeout for tiers without an override.
func WithDefaultTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithHook registers fn to receive attempt events. fn runs on the draining
// goroutine and must not block.
func WithHook(fn func(AttemptEvent)) ChainOption {
	return func(c *Chain) { c.hook = fn }
}

// WithMetrics records attempt durations on m.
func WithMetrics(m *observe.Metrics) ChainOption {
	return func(c *Chain) { c.metrics = m }
}

// Chain runs backends in order until one succeeds.
//
// A Chain holds no per-announcement state; the engine guarantees that only
// one Run is in flight at a time.
type Chain struct {
	backends       []Backend
	timeouts       map[announce.Method]time.Duration
	defaultTimeout time.Duration
	hook           func(AttemptEvent)
	metrics        *observe.Metrics
}

// NewChain returns a chain over backends, tried in the given order. The
// usual order is [PreRecorded], [Synthesis], [Tone].
func NewChain(backends []Backend, opts ...ChainOption) *Chain {
	c := &Chain{
		backends:       backends,
		timeouts:       make(map[announce.Method]time.Duration),
		defaultTimeout: DefaultAttemptTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetHook replaces the attempt event hook. It must be called before the
// first Run.
func (c *Chain) SetHook(fn func(AttemptEvent)) { c.hook = fn }

// Methods returns the tier order.
func (c *Chain) Methods() []announce.Method {
	out := make([]announce.Method, len(c.backends))
	for i, b := range c.backends {
		out[i] = b.Method()
	}
	return out
}

// Run attempts a on each tier in order and returns the first successful
// outcome. When every tier fails the outcome has Method [announce.MethodNone]
// and Err joins the per-tier errors. Run returns early with ctx.Err() when
// ctx is cancelled between tiers.
func (c *Chain) Run(ctx context.Context, a announce.Announcement, s announce.Settings) announce.Outcome {
	var errs []error
	for _, b := range c.backends {
		if err := ctx.Err(); err != nil {
			return announce.Outcome{Method: announce.MethodNone, Err: err}
		}

		method := b.Method()
		c.emit(AttemptEvent{AnnouncementID: a.ID, Method: method, Phase: PhaseStarted})

		start := time.Now()
		o := c.attempt(ctx, b, a, s)
		elapsed := time.Since(start)

		c.record(ctx, method, o, elapsed)
		c.emit(AttemptEvent{AnnouncementID: a.ID, Method: method, Phase: PhaseFinished, Outcome: o, Elapsed: elapsed})

		if o.Succeeded {
			return o
		}
		errs = append(errs, o.Err)
	}
	return announce.Outcome{Method: announce.MethodNone, Err: errors.Join(errs...)}
}

// attempt runs one tier under its timeout and converts panics to failures.
func (c *Chain) attempt(ctx context.Context, b Backend, a announce.Announcement, s announce.Settings) (o announce.Outcome) {
	method := b.Method()
	timeout, ok := c.timeouts[method]
	if !ok {
		timeout = c.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := observe.StartAttemptSpan(ctx, a.ID, string(method))
	log := observe.Logger(ctx).With("announcement_id", a.ID, "method", method)
	defer func() {
		if r := recover(); r != nil {
			log.Error("playback: backend panicked", "panic", r)
			o = announce.Outcome{Method: method, Err: announce.PlaybackFailed(method, fmt.Errorf("panic: %v", r))}
		}
		if !o.Succeeded {
			log.Debug("playback: tier failed, falling through", "err", o.Err)
		}
		observe.EndSpan(span, o.Err)
	}()

	o = b.Attempt(ctx, a, s)
	o.Method = method
	if !o.Succeeded && o.Err == nil {
		o.Err = ctx.Err()
		if o.Err == nil {
			o.Err = announce.PlaybackFailed(method, errors.New("no outcome"))
		}
	}
	return o
}

func (c *Chain) emit(ev AttemptEvent) {
	if c.hook != nil {
		c.hook(ev)
	}
}

func (c *Chain) record(ctx context.Context, method announce.Method, o announce.Outcome, d time.Duration) {
	if c.metrics == nil {
		return
	}
	status := "failed"
	switch {
	case o.Succeeded && o.Degraded:
		status = "degraded"
	case o.Succeeded:
		status = "completed"
	}
	c.metrics.RecordAttempt(context.WithoutCancel(ctx), string(method), status, d)
}

// wait blocks for d or until ctx is done, reporting whether the full
// duration elapsed.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
