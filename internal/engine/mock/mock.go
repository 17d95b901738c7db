// Package mock provides an in-memory mock implementation of [engine.Runner]
// for use in unit tests.
//
// The mock records every Run call and allows the test to configure the
// outcome via exported fields. It is safe for concurrent use.
//
// Example:
//
//	r := &mock.Runner{
//	    Outcome: announce.Outcome{Succeeded: true, Method: announce.MethodTone},
//	    Delay:   20 * time.Millisecond,
//	}
//	eng := engine.New(r)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/callout/internal/engine"
	"github.com/MrWong99/callout/pkg/announce"
)

// Compile-time interface assertion.
var _ engine.Runner = (*Runner)(nil)

// RunCall records the arguments of a single [Runner.Run] invocation.
type RunCall struct {
	Announcement announce.Announcement
	Settings     announce.Settings
}

// Runner is a mock implementation of [engine.Runner].
type Runner struct {
	mu sync.Mutex

	// Outcome is returned by Run after Delay elapses. A zero Outcome is
	// replaced by a successful tone outcome.
	Outcome announce.Outcome

	// Delay simulates playback time. Run returns a cancelled outcome if ctx
	// is done first.
	Delay time.Duration

	calls     []RunCall
	active    int
	maxActive int
}

// Run implements [engine.Runner].
func (r *Runner) Run(ctx context.Context, a announce.Announcement, s announce.Settings) announce.Outcome {
	r.mu.Lock()
	r.calls = append(r.calls, RunCall{Announcement: a, Settings: s})
	r.active++
	r.maxActive = max(r.maxActive, r.active)
	o, d := r.Outcome, r.Delay
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()

	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return announce.Outcome{Method: announce.MethodNone, Err: ctx.Err()}
		case <-t.C:
		}
	}
	if o == (announce.Outcome{}) {
		o = announce.Outcome{Succeeded: true, Method: announce.MethodTone}
	}
	return o
}

// SetDelay replaces Delay. Thread-safe.
func (r *Runner) SetDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Delay = d
}

// Calls returns a copy of all recorded Run calls in start order.
func (r *Runner) Calls() []RunCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RunCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// MaxConcurrent returns the highest number of Run calls observed in flight
// at the same time.
func (r *Runner) MaxConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxActive
}
