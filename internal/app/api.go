package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/MrWong99/callout/internal/engine"
	"github.com/MrWong99/callout/internal/voice"
	"github.com/MrWong99/callout/pkg/announce"
)

// maxBodyBytes bounds control API request bodies.
const maxBodyBytes = 64 << 10

// VoiceStatus is the operator view returned by GET /v1/status.
type VoiceStatus struct {
	VoiceReady        bool              `json:"voiceReady"`
	IsSpeaking        bool              `json:"isSpeaking"`
	IsProcessingQueue bool              `json:"isProcessingQueue"`
	FallbackMode      bool              `json:"fallbackMode"`
	CacheSize         int               `json:"cacheSize"`
	CacheBytes        string            `json:"cacheBytes"`
	QueueLength       int               `json:"queueLength"`
	VoicesAvailable   int               `json:"voicesAvailable"`
	SelectedVoice     string            `json:"selectedVoice,omitempty"`
	Settings          announce.Settings `json:"settings"`
	Engine            engine.Status     `json:"engine"`
	Tiers             []announce.Method `json:"tiers"`
	TransportUp       *bool             `json:"transportConnected,omitempty"`
	TransportSince    *time.Time        `json:"transportConnectedSince,omitempty"`
}

// settingsPatch is the body of PATCH /v1/settings. Absent fields are kept.
type settingsPatch struct {
	AutoPlay           *bool    `json:"autoPlay"`
	SoundNotifications *bool    `json:"soundNotifications"`
	Volume             *float64 `json:"voiceVolume"`
	SpeechRate         *float64 `json:"voiceRate"`
	SpeechPitch        *float64 `json:"voicePitch"`
	Language           *string  `json:"language"`
}

func (p settingsPatch) validate() error {
	var errs []error
	if p.Volume != nil && (*p.Volume < 0 || *p.Volume > 1) {
		errs = append(errs, fmt.Errorf("voiceVolume %.2f is out of range [0, 1]", *p.Volume))
	}
	if p.SpeechRate != nil && (*p.SpeechRate <= 0 || *p.SpeechRate > 4) {
		errs = append(errs, fmt.Errorf("voiceRate %.2f is out of range (0, 4]", *p.SpeechRate))
	}
	if p.SpeechPitch != nil && (*p.SpeechPitch <= 0 || *p.SpeechPitch > 2) {
		errs = append(errs, fmt.Errorf("voicePitch %.2f is out of range (0, 2]", *p.SpeechPitch))
	}
	if p.Language != nil && *p.Language == "" {
		errs = append(errs, errors.New("language must not be empty"))
	}
	return errors.Join(errs...)
}

func (p settingsPatch) apply(s *announce.Settings) {
	if p.AutoPlay != nil {
		s.AutoPlay = *p.AutoPlay
	}
	if p.SoundNotifications != nil {
		s.SoundNotifications = *p.SoundNotifications
	}
	if p.Volume != nil {
		s.Volume = *p.Volume
	}
	if p.SpeechRate != nil {
		s.SpeechRate = *p.SpeechRate
	}
	if p.SpeechPitch != nil {
		s.SpeechPitch = *p.SpeechPitch
	}
	if p.Language != nil {
		s.Language = *p.Language
	}
}

type ticketBody struct {
	TicketNumber  string `json:"ticketNumber"`
	CounterNumber string `json:"counterNumber"`
	IsRecall      bool   `json:"isRecall"`
}

type testBody struct {
	Message string `json:"message"`
}

type preloadBody struct {
	Refs []string `json:"refs"`
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// registerAPI adds the control routes to mux.
func (a *App) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/status", a.handleStatus)
	mux.HandleFunc("GET /v1/queue", a.handleQueue)
	mux.HandleFunc("DELETE /v1/queue", a.handleStop)
	mux.HandleFunc("POST /v1/announcements", a.handleAnnounce)
	mux.HandleFunc("POST /v1/tickets", a.handleTicket)
	mux.HandleFunc("POST /v1/test", a.handleTest)
	mux.HandleFunc("POST /v1/stop", a.handleStop)
	mux.HandleFunc("POST /v1/emergency-stop", a.handleEmergencyStop)
	mux.HandleFunc("POST /v1/resume", a.handleResume)
	mux.HandleFunc("POST /v1/cache/preload", a.handlePreload)
	mux.HandleFunc("DELETE /v1/cache", a.handleEvict)
	mux.HandleFunc("GET /v1/settings", a.handleGetSettings)
	mux.HandleFunc("PATCH /v1/settings", a.handlePatchSettings)
	mux.HandleFunc("GET /v1/deliveries", a.handleDeliveries)
}

// Status assembles the operator view.
func (a *App) Status() VoiceStatus {
	st := a.engine.Status()
	v, ok := a.voices.Current()
	cs := a.cache.Stats()

	out := VoiceStatus{
		VoiceReady:        a.voices.Ready(),
		IsSpeaking:        a.synthesis.Busy(),
		IsProcessingQueue: st.State == engine.StateDraining,
		FallbackMode:      !ok,
		CacheSize:         cs.Entries,
		CacheBytes:        humanize.IBytes(uint64(max(cs.Bytes, 0))),
		QueueLength:       st.QueueLength,
		VoicesAvailable:   a.voices.Available(),
		Settings:          a.engine.Settings(),
		Engine:            st,
		Tiers:             a.chain.Methods(),
	}
	if ok {
		out.SelectedVoice = v.Name
		if out.SelectedVoice == "" {
			out.SelectedVoice = v.ID
		}
	}
	if a.transport != nil {
		since := a.transport.ConnectedSince()
		up := !since.IsZero()
		out.TransportUp = &up
		if up {
			out.TransportSince = &since
		}
	}
	return out
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Status())
}

func (a *App) handleQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.engine.Queue()})
}

func (a *App) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	var req announce.Request
	if !decodeBody(w, r, &req) {
		return
	}
	a.writeReceipt(w, r, req.RequestID)(a.engine.Enqueue(req))
}

func (a *App) handleTicket(w http.ResponseWriter, r *http.Request) {
	var body ticketBody
	if !decodeBody(w, r, &body) {
		return
	}
	a.writeReceipt(w, r, "")(a.engine.AnnounceTicket(body.TicketNumber, body.CounterNumber, body.IsRecall))
}

func (a *App) handleTest(w http.ResponseWriter, r *http.Request) {
	var body testBody
	if !decodeBody(w, r, &body) {
		return
	}
	a.writeReceipt(w, r, "")(a.engine.TestAnnouncement(body.Message))
}

// writeReceipt maps an engine enqueue result to an HTTP response.
func (a *App) writeReceipt(w http.ResponseWriter, r *http.Request, requestID string) func(engine.Receipt, error) {
	return func(rec engine.Receipt, err error) {
		var verr *announce.ValidationError
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, rec)
		case errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		case errors.Is(err, engine.ErrSoundDisabled), errors.Is(err, engine.ErrAutoPlayDisabled):
			writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Reason: rec.Reason})
		case errors.Is(err, engine.ErrClosed):
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		default:
			slog.ErrorContext(r.Context(), "enqueue failed", "request_id", requestID, "err", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		}
	}
}

func (a *App) handleStop(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"discarded": a.engine.StopAll()})
}

func (a *App) handleEmergencyStop(w http.ResponseWriter, _ *http.Request) {
	n := a.engine.EmergencyStop()
	slog.Warn("emergency stop", "discarded", n)
	writeJSON(w, http.StatusOK, map[string]any{"discarded": n, "suspended": true})
}

func (a *App) handleResume(w http.ResponseWriter, _ *http.Request) {
	a.engine.Resume()
	writeJSON(w, http.StatusOK, map[string]bool{"suspended": false})
}

func (a *App) handlePreload(w http.ResponseWriter, r *http.Request) {
	var body preloadBody
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.Refs) == 0 {
		body.Refs = a.cfg.Cache.Preload
	}
	writeJSON(w, http.StatusOK, a.cache.Preload(r.Context(), body.Refs))
}

func (a *App) handleEvict(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"evicted": a.cache.EvictAll()})
}

// handleDeliveries lists journaled completions. Query parameters: window
// (a duration, default 1h) and limit (default 100, 0 for all).
func (a *App) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window, limit := time.Hour, 100
	if v := q.Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid window %q", v)})
			return
		}
		window = d
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid limit %q", v)})
			return
		}
		limit = n
	}
	if a.journal == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "delivery journal is not configured"})
		return
	}

	items, err := a.journal.Recent(r.Context(), window, limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "journal query failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Settings())
}

func (a *App) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	var patch settingsPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	if err := patch.validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	prev := a.engine.Settings()
	next := a.engine.UpdateSettings(patch.apply)
	if prev.Locale() != next.Locale() {
		a.voices.SetTarget(voice.TargetFor(next.Locale()))
	}
	slog.InfoContext(r.Context(), "settings updated", "settings", next)
	writeJSON(w, http.StatusOK, next)
}

// decodeBody decodes a JSON body into v and writes a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
