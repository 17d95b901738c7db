package engine

import (
	"log/slog"
	"time"

	"github.com/MrWong99/callout/internal/playback"
	"github.com/MrWong99/callout/pkg/announce"
)

// EventKind names an engine event.
type EventKind string

const (
	EventEnqueued        EventKind = "enqueued"
	EventAttemptStarted  EventKind = "attempt_started"
	EventAttemptFinished EventKind = "attempt_finished"
	EventCompleted       EventKind = "completed"
	EventFailed          EventKind = "failed"
	EventDiscarded       EventKind = "discarded"
	EventFault           EventKind = "fault"
)

// Event is published to subscribers on every queue transition and tier
// attempt.
type Event struct {
	Kind         EventKind
	Announcement announce.Announcement

	// Method is the tier involved; empty for enqueue and discard events.
	Method announce.Method

	// Outcome is set for attempt_finished, completed and failed.
	Outcome announce.Outcome

	// Err is set for fault events.
	Err error

	At time.Time
}

// Subscribe returns a channel receiving engine events and a function that
// unsubscribes and closes it. Events are dropped for a subscriber whose
// buffer is full; the drain loop never waits on a subscriber.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))

	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	cancel := func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (e *Engine) publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("engine: subscriber too slow, event dropped", "subscriber", id, "kind", ev.Kind)
		}
	}
}

// observeAttempt turns chain attempt events into engine events.
func (e *Engine) observeAttempt(ev playback.AttemptEvent) {
	e.mu.Lock()
	var a announce.Announcement
	if e.current != nil && e.current.ID == ev.AnnouncementID {
		a = *e.current
	} else {
		a.ID = ev.AnnouncementID
	}
	e.mu.Unlock()

	kind := EventAttemptStarted
	if ev.Phase == playback.PhaseFinished {
		kind = EventAttemptFinished
	}
	e.publish(Event{Kind: kind, Announcement: a, Method: ev.Method, Outcome: ev.Outcome})
}
