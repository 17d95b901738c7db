package announce

import (
	"encoding/json"
	"strings"
	"time"
)

// Request is the inbound "announcement requested" payload delivered by the
// transport. The upstream server names its fields after tickets and counters;
// both the canonical and the legacy names are accepted when decoding.
type Request struct {
	RequestID           string    `json:"requestId"`
	TicketLabel         string    `json:"ticketLabel"`
	CounterLabel        string    `json:"counterLabel"`
	IsUrgent            bool      `json:"isUrgent"`
	PreRecordedAudioRef string    `json:"preRecordedAudioRef,omitempty"`
	CustomMessage       string    `json:"customMessage,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// wireRequest mirrors every accepted spelling of the request fields.
type wireRequest struct {
	RequestID           string          `json:"requestId"`
	TicketLabel         string          `json:"ticketLabel"`
	TicketNumber        json.RawMessage `json:"ticketNumber"`
	CounterLabel        string          `json:"counterLabel"`
	CounterNumber       json.RawMessage `json:"counterNumber"`
	IsUrgent            bool            `json:"isUrgent"`
	IsRecall            bool            `json:"isRecall"`
	PreRecordedAudioRef string          `json:"preRecordedAudioRef"`
	AudioURL            string          `json:"audioUrl"`
	CustomMessage       string          `json:"customMessage"`
	Message             string          `json:"message"`
	Timestamp           json.RawMessage `json:"timestamp"`
}

// UnmarshalJSON accepts the canonical field names and the legacy
// ticketNumber/counterNumber/isRecall/audioUrl/message names. Ticket and
// counter numbers may be JSON strings or numbers.
func (r *Request) UnmarshalJSON(data []byte) error {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Request{
		RequestID:           w.RequestID,
		TicketLabel:         firstNonEmpty(w.TicketLabel, rawLabel(w.TicketNumber)),
		CounterLabel:        firstNonEmpty(w.CounterLabel, rawLabel(w.CounterNumber)),
		IsUrgent:            w.IsUrgent || w.IsRecall,
		PreRecordedAudioRef: firstNonEmpty(w.PreRecordedAudioRef, w.AudioURL),
		CustomMessage:       firstNonEmpty(w.CustomMessage, w.Message),
		Timestamp:           rawTime(w.Timestamp),
	}
	return nil
}

// Validate rejects a request that carries neither a ticket label nor a custom
// message. It returns a [*ValidationError].
func Validate(r Request) error {
	if strings.TrimSpace(r.TicketLabel) == "" && strings.TrimSpace(r.CustomMessage) == "" {
		return &ValidationError{Field: "ticketLabel", Reason: "and customMessage are both empty"}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// rawLabel renders a JSON string or number as a label.
func rawLabel(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// rawTime accepts RFC 3339 strings and Unix millisecond numbers.
func rawTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err == nil {
		return t
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}
