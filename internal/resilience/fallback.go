package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [Group] fails or has an open
// circuit breaker.
var ErrAllFailed = errors.New("all backends failed")

// member pairs a backend value with its dedicated circuit breaker.
type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Group holds a primary and zero or more fallback instances of one backend
// type. Calls go to the first member whose breaker admits them; on failure the
// next member is tried in registration order.
//
// Members must be registered before the group is shared between goroutines.
type Group[T any] struct {
	members []member[T]
	cfg     CircuitBreakerConfig
}

// NewGroup creates an empty [Group]. Every member gets a breaker built from
// cfg with the member's name.
func NewGroup[T any](cfg CircuitBreakerConfig) *Group[T] {
	return &Group[T]{cfg: cfg}
}

// Add appends a member. Members are tried in the order they are added.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cfg),
	})
}

// Len returns the number of members.
func (g *Group[T]) Len() int { return len(g.members) }

// States returns each member's breaker state keyed by member name.
func (g *Group[T]) States() map[string]State {
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

// Try runs fn against members in order until one succeeds. prefer, when it
// names a member, moves that member to the front for this call only. It
// returns [ErrAllFailed] wrapping the last error if nothing succeeds; if ctx
// ends first, the context error is returned instead.
func Try[T any, R any](ctx context.Context, g *Group[T], prefer string, fn func(ctx context.Context, name string, v T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	if len(g.members) == 0 {
		return zero, fmt.Errorf("%w: no backends registered", ErrAllFailed)
	}
	for _, m := range g.order(prefer) {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var result R
		err := m.breaker.Execute(ctx, func(ctx context.Context) error {
			var innerErr error
			result, innerErr = fn(ctx, m.name, m.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend (circuit open)", "backend", m.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", m.name, "err", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (g *Group[T]) order(prefer string) []member[T] {
	if prefer == "" {
		return g.members
	}
	out := make([]member[T], 0, len(g.members))
	for _, m := range g.members {
		if m.name == prefer {
			out = append(out, m)
		}
	}
	for _, m := range g.members {
		if m.name != prefer {
			out = append(out, m)
		}
	}
	return out
}
