// Package announce defines the shared types used across all Callout packages.
//
// These types form the lingua franca between the transport, the engine, the
// playback backends and the reporter. Each package keeps its own domain types,
// but the announcement record and its outcome live here to avoid circular
// imports.
package announce

import "time"

// Status is the lifecycle state of an [Announcement].
type Status string

const (
	StatusQueued    Status = "queued"
	StatusPlaying   Status = "playing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Method identifies the playback tier that produced an outcome.
type Method string

const (
	MethodPreRecorded Method = "pre-recorded"
	MethodSynthesis   Method = "synthesis"
	MethodTone        Method = "tone"

	// MethodNone is reported when no tier succeeded.
	MethodNone Method = "none"
)

// IsValid reports whether m is a recognised method.
func (m Method) IsValid() bool {
	switch m {
	case MethodPreRecorded, MethodSynthesis, MethodTone, MethodNone:
		return true
	}
	return false
}

// Announcement is one request to audibly call a ticket to a counter. It is
// created from a [Request] by the engine and owned by the engine's queue from
// enqueue until its terminal outcome.
type Announcement struct {
	// ID is unique within the process lifetime. See [IDGenerator].
	ID string

	// RequestID correlates the announcement with the upstream call. It is
	// echoed back in the [Completion].
	RequestID string

	// TicketLabel is the opaque display identifier of the ticket (e.g. "A101").
	TicketLabel string

	// CounterLabel is the opaque display identifier of the destination counter.
	CounterLabel string

	// IsUrgent marks a recall. It changes only the rendered message text, never
	// the scheduling order.
	IsUrgent bool

	// PreRecordedAudioRef references a pre-recorded asset. Empty skips the
	// pre-recorded tier.
	PreRecordedAudioRef string

	// CustomMessage overrides the synthesized text. Empty derives the text from
	// the ticket and counter labels.
	CustomMessage string

	// EnqueuedAt is used for diagnostics only, never for ordering.
	EnqueuedAt time.Time

	// Status is the current lifecycle state.
	Status Status
}

// Outcome is the result of one backend attempt.
type Outcome struct {
	// Succeeded is true when the tier delivered the announcement.
	Succeeded bool

	// Method is the tier that produced this outcome.
	Method Method

	// Degraded is set when the tier reported success without producing
	// audible output (tone fallback with no audio device).
	Degraded bool

	// Err describes why the tier did not succeed. Nil when Succeeded.
	Err error
}

// Completion is the acknowledgment sent upstream once per announcement that
// reaches a terminal state through normal draining.
type Completion struct {
	AnnouncementID string    `json:"announcementId"`
	RequestID      string    `json:"requestId"`
	TicketLabel    string    `json:"ticketNumber"`
	CounterLabel   string    `json:"counterNumber"`
	IsUrgent       bool      `json:"isRecall"`
	CompletedAt    time.Time `json:"completedAt"`
	Method         Method    `json:"method"`
	Status         Status    `json:"status"`
	Degraded       bool      `json:"degraded,omitempty"`
}

// NewCompletion builds the acknowledgment for a finished announcement.
func NewCompletion(a Announcement, o Outcome, at time.Time) Completion {
	status := StatusCompleted
	if !o.Succeeded {
		status = StatusFailed
	}
	method := o.Method
	if method == "" {
		method = MethodNone
	}
	return Completion{
		AnnouncementID: a.ID,
		RequestID:      a.RequestID,
		TicketLabel:    a.TicketLabel,
		CounterLabel:   a.CounterLabel,
		IsUrgent:       a.IsUrgent,
		CompletedAt:    at,
		Method:         method,
		Status:         status,
		Degraded:       o.Degraded,
	}
}
