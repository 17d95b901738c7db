package engine

import (
	"time"

	"github.com/MrWong99/callout/pkg/announce"
)

// State is the queue state.
type State string

const (
	StateIdle     State = "idle"
	StateDraining State = "draining"
)

// Fault records the most recent engine fault.
type Fault struct {
	AnnouncementID string    `json:"announcementId"`
	Err            string    `json:"error"`
	At             time.Time `json:"at"`
}

// Status is the read-only view shown to operators: what is playing, how
// much is waiting, and what finished last.
type Status struct {
	State         State                  `json:"state"`
	Playing       *announce.Announcement `json:"playing,omitempty"`
	QueueLength   int                    `json:"queueLength"`
	Suspended     bool                   `json:"suspended"`
	LastCompleted *announce.Completion   `json:"lastCompleted,omitempty"`
	LastFault     *Fault                 `json:"lastFault,omitempty"`
}

// QueueEntry is one line of [Engine.Queue].
type QueueEntry struct {
	ID         string          `json:"id"`
	RequestID  string          `json:"requestId"`
	Ticket     string          `json:"ticketNumber"`
	Counter    string          `json:"counterNumber"`
	Urgent     bool            `json:"isRecall"`
	Status     announce.Status `json:"status"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

func entryOf(a announce.Announcement) QueueEntry {
	return QueueEntry{
		ID:         a.ID,
		RequestID:  a.RequestID,
		Ticket:     a.TicketLabel,
		Counter:    a.CounterLabel,
		Urgent:     a.IsUrgent,
		Status:     a.Status,
		EnqueuedAt: a.EnqueuedAt,
	}
}

// Current returns the announcement being played, if any.
func (e *Engine) Current() (announce.Announcement, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return announce.Announcement{}, false
	}
	return *e.current, true
}

// Queue lists the playing announcement followed by pending ones in order.
func (e *Engine) Queue() []QueueEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]QueueEntry, 0, len(e.pending)+1)
	if e.current != nil {
		out = append(out, entryOf(*e.current))
	}
	for _, a := range e.pending {
		out = append(out, entryOf(a))
	}
	return out
}

// Len returns the number of announcements playing or pending.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.pending)
	if e.current != nil {
		n++
	}
	return n
}

// Status returns a snapshot of the queue.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		State:       StateIdle,
		QueueLength: len(e.pending),
		Suspended:   e.suspended,
	}
	if e.draining {
		st.State = StateDraining
	}
	if e.current != nil {
		a := *e.current
		st.Playing = &a
		st.QueueLength++
	}
	if e.lastCompleted != nil {
		c := *e.lastCompleted
		st.LastCompleted = &c
	}
	if e.lastFault != nil {
		f := *e.lastFault
		st.LastFault = &f
	}
	return st
}
