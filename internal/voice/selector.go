package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/callout/pkg/provider/tts"
)

const defaultRescanInterval = 30 * time.Second

// Catalog lists the voices currently offered by the synthesis backends.
// [tts.Provider.ListVoices] satisfies it.
type Catalog func(ctx context.Context) ([]tts.Voice, error)

// Option configures a [Selector].
type Option func(*Selector)

// WithRescanInterval sets how often the catalogue is rescanned. Defaults to
// 30s.
func WithRescanInterval(d time.Duration) Option {
	return func(s *Selector) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithTarget sets the initial target. Defaults to TargetFor("ur-PK").
func WithTarget(t Target) Option {
	return func(s *Selector) {
		s.target = t
	}
}

// Selector tracks the best available voice. The choice is refreshed on a
// timer and whenever [Selector.NotifyCatalogChanged] is called.
//
// All methods are safe for concurrent use.
type Selector struct {
	catalog  Catalog
	interval time.Duration

	mu        sync.RWMutex
	target    Target
	available int
	current   tts.Voice
	ready     bool

	changed chan struct{} // signalled when a rescan is wanted
}

// NewSelector creates a selector over catalog. Call [Selector.Run] to start
// background rescanning, or [Selector.Refresh] to scan once.
func NewSelector(catalog Catalog, opts ...Option) *Selector {
	s := &Selector{
		catalog:  catalog,
		interval: defaultRescanInterval,
		target:   TargetFor("ur-PK"),
		changed:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run scans immediately and then keeps the selection current until ctx is
// cancelled.
func (s *Selector) Run(ctx context.Context) {
	_ = s.Refresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.changed:
		}
		_ = s.Refresh(ctx)
	}
}

// Refresh lists the catalogue and reselects. On error the previous selection
// is kept.
func (s *Selector) Refresh(ctx context.Context) error {
	voices, err := s.catalog(ctx)
	if err != nil {
		slog.Warn("voice catalogue scan failed", "err", err)
		return err
	}

	s.mu.Lock()
	prev, prevReady := s.current, s.ready
	s.available = len(voices)
	s.current, s.ready = Select(voices, s.target)
	cur, ready := s.current, s.ready
	s.mu.Unlock()

	if ready != prevReady || cur.ID != prev.ID || cur.Provider != prev.Provider {
		if ready {
			slog.Info("voice selected", "voice", cur.Name, "id", cur.ID, "lang", cur.Lang, "provider", cur.Provider, "available", len(voices))
		} else {
			slog.Warn("no voice available")
		}
	}
	return nil
}

// NotifyCatalogChanged asks the running selector to rescan. Safe to call
// multiple times; pending notifications coalesce.
func (s *Selector) NotifyCatalogChanged() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// SetTarget replaces the target and schedules a rescan.
func (s *Selector) SetTarget(t Target) {
	s.mu.Lock()
	s.target = t
	s.mu.Unlock()
	s.NotifyCatalogChanged()
}

// Current returns the selected voice. ok is false until a scan has found at
// least one voice.
func (s *Selector) Current() (v tts.Voice, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.ready
}

// Ready reports whether a voice is selected.
func (s *Selector) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Available returns the catalogue size seen by the last successful scan.
func (s *Selector) Available() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}
