// Package engine implements the announcement queue: a strictly FIFO,
// single-consumer queue that drives one announcement at a time through the
// playback fallback chain and reports each terminal outcome upstream.
//
// An [Engine] owns exactly one dispatch goroutine. Only that goroutine ever
// starts playback, so at most one tier attempt is in flight process-wide.
// The only way to stop audio out of turn is [Engine.StopAll] (or
// [Engine.EmergencyStop]), which cancels the attempt context.
//
// Urgency changes the spoken sentence, never the position in the queue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/callout/internal/observe"
	"github.com/MrWong99/callout/internal/playback"
	"github.com/MrWong99/callout/pkg/announce"
)

// DefaultGap is the pause between finishing one announcement and starting
// the next.
const DefaultGap = 500 * time.Millisecond

var (
	// ErrSoundDisabled is returned by Enqueue when sound notifications are
	// switched off. The request is dropped.
	ErrSoundDisabled = errors.New("engine: sound notifications disabled")

	// ErrAutoPlayDisabled is returned by Enqueue when auto-play is off. The
	// request is refused.
	ErrAutoPlayDisabled = errors.New("engine: auto play disabled")

	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("engine: closed")
)

// Receipt reasons for requests that were not queued.
const (
	ReasonSoundDisabled    = "sound_notifications_disabled"
	ReasonAutoPlayDisabled = "auto_play_disabled"
)

// Runner plays one announcement through the tier chain. [*playback.Chain]
// is the production implementation.
type Runner interface {
	Run(ctx context.Context, a announce.Announcement, s announce.Settings) announce.Outcome
}

// Reporter receives one completion per announcement that reaches a terminal
// state through normal draining. Report must not block.
type Reporter interface {
	Report(ctx context.Context, c announce.Completion)
}

// Receipt is the synchronous answer to [Engine.Enqueue].
type Receipt struct {
	ID     string `json:"id,omitempty"`
	Queued bool   `json:"queued"`

	// Position is the 1-based place in line, counting the announcement
	// currently playing.
	Position int    `json:"position,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Option configures an [Engine].
type Option func(*Engine)

// WithSettings sets the initial settings. Default: [announce.DefaultSettings].
func WithSettings(s announce.Settings) Option {
	return func(e *Engine) { e.settings = s }
}

// WithGap sets the inter-announcement pause. Zero disables it.
func WithGap(d time.Duration) Option {
	return func(e *Engine) { e.gap = max(d, 0) }
}

// WithReporter sets the completion sink.
func WithReporter(r Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithMetrics records queue length and announcement outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine is the announcement queue. Create one per process with [New] and
// release it with [Engine.Close].
//
// All exported methods are safe for concurrent use and never block on
// playback.
type Engine struct {
	runner  Runner
	metrics *observe.Metrics
	ids     announce.IDGenerator
	now     func() time.Time

	mu            sync.Mutex
	reporter      Reporter
	settings      announce.Settings
	gap           time.Duration
	pending       []announce.Announcement
	current       *announce.Announcement
	cancelCurrent context.CancelFunc
	epoch         uint64 // bumped by every stop; a stale epoch means the item was discarded
	draining      bool
	suspended     bool
	lastCompleted *announce.Completion
	lastFault     *Fault
	closed        bool

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int

	notify chan struct{} // signalled when work may be available
	done   chan struct{} // closed by Close
	exited chan struct{} // closed when the dispatch goroutine returns
}

// New creates an engine that plays announcements through runner and starts
// its dispatch goroutine.
//
// If runner is a [*playback.Chain], its attempt hook is pointed at the
// engine so tier attempts show up as events.
func New(runner Runner, opts ...Option) *Engine {
	e := &Engine{
		runner:   runner,
		now:      time.Now,
		settings: announce.DefaultSettings(),
		gap:      DefaultGap,
		subs:     make(map[int]chan Event),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if c, ok := runner.(*playback.Chain); ok {
		c.SetHook(e.observeAttempt)
	}
	go e.dispatch()
	return e
}

// Enqueue validates req and appends it to the tail of the queue.
//
// Validation failures return a [*announce.ValidationError]. When sound
// notifications are off the request is dropped with [ErrSoundDisabled]; when
// auto-play is off it is refused with [ErrAutoPlayDisabled]. In both cases
// the receipt carries the reason.
func (e *Engine) Enqueue(req announce.Request) (Receipt, error) {
	if err := announce.Validate(req); err != nil {
		return Receipt{}, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Receipt{}, ErrClosed
	}
	if !e.settings.SoundNotifications {
		e.mu.Unlock()
		slog.Info("engine: sound notifications disabled, dropping request",
			"request_id", req.RequestID, "ticket", req.TicketLabel)
		return Receipt{Reason: ReasonSoundDisabled}, ErrSoundDisabled
	}
	if !e.settings.AutoPlay {
		e.mu.Unlock()
		slog.Info("engine: auto play disabled, refusing request",
			"request_id", req.RequestID, "ticket", req.TicketLabel)
		return Receipt{Reason: ReasonAutoPlayDisabled}, ErrAutoPlayDisabled
	}

	a := announce.Announcement{
		ID:                  e.ids.Next(),
		RequestID:           req.RequestID,
		TicketLabel:         req.TicketLabel,
		CounterLabel:        req.CounterLabel,
		IsUrgent:            req.IsUrgent,
		PreRecordedAudioRef: req.PreRecordedAudioRef,
		CustomMessage:       req.CustomMessage,
		EnqueuedAt:          e.now(),
		Status:              announce.StatusQueued,
	}
	e.pending = append(e.pending, a)
	if !e.suspended {
		e.draining = true
	}
	pos := len(e.pending)
	if e.current != nil {
		pos++
	}
	e.mu.Unlock()

	e.addQueueLength(1)
	e.publish(Event{Kind: EventEnqueued, Announcement: a})
	slog.Debug("engine: enqueued", "id", a.ID, "request_id", a.RequestID, "ticket", a.TicketLabel, "position", pos)
	e.wake()
	return Receipt{ID: a.ID, Queued: true, Position: pos}, nil
}

// AnnounceTicket enqueues a direct call of ticket to counter, bypassing the
// transport. The request ID is "direct-<unix-ms>".
func (e *Engine) AnnounceTicket(ticket, counter string, urgent bool) (Receipt, error) {
	now := e.now()
	return e.Enqueue(announce.Request{
		RequestID:    "direct-" + strconv.FormatInt(now.UnixMilli(), 10),
		TicketLabel:  ticket,
		CounterLabel: counter,
		IsUrgent:     urgent,
		Timestamp:    now,
	})
}

// TestAnnouncement enqueues a custom spoken message, used to check the
// audio path from the control surface.
func (e *Engine) TestAnnouncement(message string) (Receipt, error) {
	now := e.now()
	return e.Enqueue(announce.Request{
		RequestID:     "test-" + strconv.FormatInt(now.UnixMilli(), 10),
		CustomMessage: message,
		Timestamp:     now,
	})
}

// StopAll halts the announcement in flight, discards every pending item and
// returns the engine to idle. Discarded items are never reported. It returns
// the number of announcements discarded, including the one playing.
func (e *Engine) StopAll() int {
	e.mu.Lock()
	discarded := e.stopLocked()
	e.mu.Unlock()

	e.discard(discarded)
	return len(discarded)
}

// EmergencyStop is [Engine.StopAll] that also suspends draining until
// [Engine.Resume]. Requests enqueued while suspended wait in the queue.
func (e *Engine) EmergencyStop() int {
	e.mu.Lock()
	e.suspended = true
	discarded := e.stopLocked()
	e.mu.Unlock()

	slog.Warn("engine: emergency stop", "discarded", len(discarded))
	e.discard(discarded)
	return len(discarded)
}

// Resume re-enables draining after [Engine.EmergencyStop].
func (e *Engine) Resume() {
	e.mu.Lock()
	was := e.suspended
	e.suspended = false
	if len(e.pending) > 0 {
		e.draining = true
	}
	e.mu.Unlock()

	if was {
		slog.Info("engine: resumed")
		e.wake()
	}
}

// stopLocked cancels the attempt in flight and empties the queue. Must be
// called with e.mu held.
func (e *Engine) stopLocked() []announce.Announcement {
	var out []announce.Announcement
	if e.current != nil {
		out = append(out, *e.current)
		e.cancelCurrent()
		e.current, e.cancelCurrent = nil, nil
	}
	out = append(out, e.pending...)
	e.pending = nil
	e.epoch++
	e.draining = false
	return out
}

func (e *Engine) discard(items []announce.Announcement) {
	if len(items) == 0 {
		return
	}
	e.addQueueLength(-int64(len(items)))
	for _, a := range items {
		e.publish(Event{Kind: EventDiscarded, Announcement: a})
	}
	slog.Info("engine: queue cleared", "discarded", len(items))
}

// Settings returns the current settings.
func (e *Engine) Settings() announce.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// UpdateSettings applies fn to the settings. The announcement in flight
// keeps the snapshot it started with.
func (e *Engine) UpdateSettings(fn func(*announce.Settings)) announce.Settings {
	e.mu.Lock()
	fn(&e.settings)
	s := e.settings
	e.mu.Unlock()
	return s
}

// SetGap changes the inter-announcement pause. It applies from the next
// transition.
func (e *Engine) SetGap(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gap = max(d, 0)
}

// Close stops the dispatch goroutine, halts playback and discards pending
// announcements. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	discarded := e.stopLocked()
	e.mu.Unlock()

	close(e.done)
	<-e.exited
	e.discard(discarded)

	e.subMu.Lock()
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.subMu.Unlock()
	return nil
}

func (e *Engine) wake() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// dispatch is the single consumer. It runs until Close.
func (e *Engine) dispatch() {
	defer close(e.exited)

	gapTimer := time.NewTimer(0)
	if !gapTimer.Stop() {
		<-gapTimer.C
	}
	defer gapTimer.Stop()

	// lastEnd is when the previous announcement finished; the next one
	// starts no earlier than lastEnd plus the gap.
	var lastEnd time.Time
	for {
		select {
		case <-e.done:
			return
		case <-e.notify:
		}

		for e.hasWork() {
			if !lastEnd.IsZero() {
				if d := e.currentGap() - time.Since(lastEnd); d > 0 {
					gapTimer.Reset(d)
					select {
					case <-e.done:
						return
					case <-gapTimer.C:
					}
				}
			}

			a, s, ctx, epoch, ok := e.dequeue()
			if !ok {
				break
			}
			e.process(ctx, a, s, epoch)
			lastEnd = time.Now()
		}
	}
}

func (e *Engine) currentGap() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gap
}

// hasWork reports whether the head of the queue may be dispatched. The gap
// only applies when it does.
func (e *Engine) hasWork() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed && !e.suspended && len(e.pending) > 0
}

// dequeue marks the head as playing. It reports false when the queue is
// empty, suspended or closed, and the engine is then idle.
func (e *Engine) dequeue() (announce.Announcement, announce.Settings, context.Context, uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.suspended || len(e.pending) == 0 {
		e.draining = false
		return announce.Announcement{}, announce.Settings{}, nil, 0, false
	}

	a := e.pending[0]
	e.pending[0] = announce.Announcement{}
	e.pending = e.pending[1:]
	a.Status = announce.StatusPlaying

	ctx, cancel := context.WithCancel(context.Background())
	e.current = &a
	e.cancelCurrent = cancel
	e.draining = true
	return a, e.settings, ctx, e.epoch, true
}

// process runs a through the chain and records its terminal outcome. If the
// item was discarded by a stop while it played, nothing is recorded.
func (e *Engine) process(ctx context.Context, a announce.Announcement, s announce.Settings, epoch uint64) {
	o := e.run(ctx, a, s)

	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		slog.Debug("engine: discarded announcement finished", "id", a.ID, "method", o.Method)
		return
	}
	e.cancelCurrent()
	e.current, e.cancelCurrent = nil, nil
	if len(e.pending) == 0 || e.suspended {
		e.draining = false
	}

	comp := announce.NewCompletion(a, o, e.now())
	a.Status = comp.Status
	e.lastCompleted = &comp

	var fault *announce.EngineFault
	isFault := errors.As(o.Err, &fault)
	if isFault {
		e.lastFault = &Fault{AnnouncementID: a.ID, Err: fault.Error(), At: comp.CompletedAt}
	}
	reporter := e.reporter
	e.mu.Unlock()

	e.addQueueLength(-1)
	if e.metrics != nil {
		e.metrics.RecordAnnouncement(context.Background(), string(comp.Method), string(comp.Status))
	}

	if isFault {
		slog.Error("engine: fault while draining", "id", a.ID, "err", o.Err)
		e.publish(Event{Kind: EventFault, Announcement: a, Err: o.Err})
	}
	kind := EventCompleted
	if comp.Status == announce.StatusFailed {
		kind = EventFailed
		if !isFault {
			slog.Warn("engine: announcement failed on every tier", "id", a.ID, "err", o.Err)
		}
	} else {
		slog.Info("engine: announcement completed",
			"id", a.ID,
			"request_id", a.RequestID,
			"ticket", a.TicketLabel,
			"counter", a.CounterLabel,
			"method", comp.Method,
			"degraded", comp.Degraded,
		)
	}
	e.publish(Event{Kind: kind, Announcement: a, Method: comp.Method, Outcome: o})

	if reporter != nil {
		reporter.Report(context.Background(), comp)
	}
}

// run invokes the runner, converting a panic into an engine fault.
func (e *Engine) run(ctx context.Context, a announce.Announcement, s announce.Settings) (o announce.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o = announce.Outcome{
				Method: announce.MethodNone,
				Err:    &announce.EngineFault{AnnouncementID: a.ID, Cause: fmt.Errorf("panic: %v", r)},
			}
		}
	}()
	return e.runner.Run(ctx, a, s)
}

func (e *Engine) addQueueLength(n int64) {
	if e.metrics != nil {
		e.metrics.QueueLength.Add(context.Background(), n)
	}
}
