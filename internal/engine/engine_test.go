package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/callout/internal/playback"
	"github.com/MrWong99/callout/pkg/announce"
	"github.com/MrWong99/callout/pkg/audio"
	audiomock "github.com/MrWong99/callout/pkg/audio/mock"
	"github.com/MrWong99/callout/pkg/provider/tts"
	ttsmock "github.com/MrWong99/callout/pkg/provider/tts/mock"
)

// fakeRunner plays for a fixed duration and tracks concurrency.
type fakeRunner struct {
	mu        sync.Mutex
	delay     time.Duration
	active    int
	maxActive int
	started   []string
	settings  []announce.Settings
}

func (r *fakeRunner) Run(ctx context.Context, a announce.Announcement, s announce.Settings) announce.Outcome {
	r.mu.Lock()
	r.active++
	r.maxActive = max(r.maxActive, r.active)
	r.started = append(r.started, a.TicketLabel)
	r.settings = append(r.settings, s)
	d := r.delay
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()

	if a.TicketLabel == "PANIC" {
		panic("backend exploded")
	}
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return announce.Outcome{Method: announce.MethodNone, Err: ctx.Err()}
		case <-t.C:
		}
	}
	return announce.Outcome{Succeeded: true, Method: announce.MethodPreRecorded}
}

func (r *fakeRunner) startedTickets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

func (r *fakeRunner) setDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

// recorder collects completions.
type recorder struct {
	mu   sync.Mutex
	got  []announce.Completion
	seen chan struct{}
}

func newRecorder() *recorder { return &recorder{seen: make(chan struct{}, 100)} }

func (r *recorder) Report(_ context.Context, c announce.Completion) {
	r.mu.Lock()
	r.got = append(r.got, c)
	r.mu.Unlock()
	r.seen <- struct{}{}
}

func (r *recorder) completions() []announce.Completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]announce.Completion(nil), r.got...)
}

// waitN blocks until n completions have been reported.
func (r *recorder) waitN(t *testing.T, n int) []announce.Completion {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for len(r.completions()) < n {
		select {
		case <-r.seen:
		case <-deadline:
			t.Fatalf("got %d completions, want %d", len(r.completions()), n)
		}
	}
	return r.completions()
}

func newTestEngine(t *testing.T, runner Runner, opts ...Option) (*Engine, *recorder) {
	t.Helper()
	rec := newRecorder()
	opts = append([]Option{WithGap(0), WithReporter(rec)}, opts...)
	e := New(runner, opts...)
	t.Cleanup(func() { _ = e.Close() })
	return e, rec
}

func req(ticket, counter, id string) announce.Request {
	return announce.Request{RequestID: id, TicketLabel: ticket, CounterLabel: counter}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within 5s")
}

func TestEngine_FIFO(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: 2 * time.Millisecond}
	e, rec := newTestEngine(t, runner)

	tickets := []string{"A1", "B2", "A3", "C4", "D5", "E6", "F7", "G8"}
	for i, tk := range tickets {
		r := req(tk, "1", "r"+tk)
		r.IsUrgent = i%3 == 0
		if _, err := e.Enqueue(r); err != nil {
			t.Fatalf("Enqueue(%s): %v", tk, err)
		}
	}

	got := rec.waitN(t, len(tickets))
	for i, c := range got {
		if c.TicketLabel != tickets[i] {
			t.Errorf("completion[%d] = %s, want %s", i, c.TicketLabel, tickets[i])
		}
		if c.RequestID != "r"+tickets[i] {
			t.Errorf("completion[%d].RequestID = %s", i, c.RequestID)
		}
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.maxActive != 1 {
		t.Errorf("max concurrent attempts = %d, want 1", runner.maxActive)
	}
}

func TestEngine_ConcurrentEnqueueSingleAttempt(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: time.Millisecond}
	e, rec := newTestEngine(t, runner)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Enqueue(req("T"+string(rune('a'+i)), "1", "")); err != nil {
				t.Errorf("Enqueue: %v", err)
			}
		}()
	}
	wg.Wait()
	rec.waitN(t, 20)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.maxActive != 1 {
		t.Errorf("max concurrent attempts = %d, want 1", runner.maxActive)
	}
}

func TestEngine_Receipt(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: time.Second}
	e, _ := newTestEngine(t, runner)

	r1, err := e.Enqueue(req("A1", "1", "x"))
	if err != nil || !r1.Queued || r1.ID == "" {
		t.Fatalf("Enqueue = %+v, %v", r1, err)
	}
	waitFor(t, func() bool { _, ok := e.Current(); return ok })
	r2, _ := e.Enqueue(req("A2", "1", "y"))
	if r2.Position != 2 {
		t.Errorf("second Position = %d, want 2", r2.Position)
	}
	if r1.ID == r2.ID {
		t.Error("duplicate announcement IDs")
	}
}

func TestEngine_EnqueueRejections(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeRunner{})

	var ve *announce.ValidationError
	if _, err := e.Enqueue(announce.Request{CounterLabel: "1"}); !errors.As(err, &ve) {
		t.Errorf("empty request err = %v, want ValidationError", err)
	}

	e.UpdateSettings(func(s *announce.Settings) { s.AutoPlay = false })
	r, err := e.Enqueue(req("A1", "1", ""))
	if !errors.Is(err, ErrAutoPlayDisabled) || r.Queued || r.Reason != ReasonAutoPlayDisabled {
		t.Errorf("auto play off: %+v, %v", r, err)
	}

	e.UpdateSettings(func(s *announce.Settings) { s.SoundNotifications = false })
	r, err = e.Enqueue(req("A1", "1", ""))
	if !errors.Is(err, ErrSoundDisabled) || r.Reason != ReasonSoundDisabled {
		t.Errorf("sound off: %+v, %v", r, err)
	}
	if e.Len() != 0 {
		t.Errorf("Len() = %d, want 0", e.Len())
	}
}

func TestEngine_StopAllDiscardsWithoutReporting(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: 10 * time.Second}
	e, rec := newTestEngine(t, runner)
	events, unsub := e.Subscribe(64)
	defer unsub()

	for _, tk := range []string{"A1", "A2", "A3"} {
		if _, err := e.Enqueue(req(tk, "1", "")); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, func() bool { _, ok := e.Current(); return ok })

	if n := e.StopAll(); n != 3 {
		t.Errorf("StopAll() = %d, want 3", n)
	}
	if st := e.Status(); st.State != StateIdle || st.QueueLength != 0 || st.Playing != nil {
		t.Errorf("Status() after stop = %+v, want idle and empty", st)
	}

	discarded := 0
	for discarded < 3 {
		select {
		case ev := <-events:
			switch ev.Kind {
			case EventDiscarded:
				discarded++
			case EventCompleted, EventFailed:
				t.Fatalf("got %s event for %s after stop", ev.Kind, ev.Announcement.TicketLabel)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("saw %d discarded events, want 3", discarded)
		}
	}

	// The engine accepts and plays new work straight away.
	runner.setDelay(0)
	if _, err := e.Enqueue(req("B1", "2", "after")); err != nil {
		t.Fatal(err)
	}
	got := rec.waitN(t, 1)
	if len(got) != 1 || got[0].TicketLabel != "B1" {
		t.Errorf("completions = %+v, want only B1", got)
	}
}

func TestEngine_EmergencyStopAndResume(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: 10 * time.Second}
	e, rec := newTestEngine(t, runner)

	_, _ = e.Enqueue(req("A1", "1", ""))
	waitFor(t, func() bool { _, ok := e.Current(); return ok })
	if n := e.EmergencyStop(); n != 1 {
		t.Errorf("EmergencyStop() = %d, want 1", n)
	}
	runner.setDelay(0)

	_, _ = e.Enqueue(req("A2", "1", ""))
	time.Sleep(50 * time.Millisecond)
	if st := e.Status(); !st.Suspended || st.QueueLength != 1 || st.Playing != nil {
		t.Fatalf("Status() while suspended = %+v", st)
	}
	if len(rec.completions()) != 0 {
		t.Fatal("announcement played while suspended")
	}

	e.Resume()
	got := rec.waitN(t, 1)
	if got[0].TicketLabel != "A2" {
		t.Errorf("completion = %s, want A2", got[0].TicketLabel)
	}
	if e.Status().Suspended {
		t.Error("still suspended after Resume")
	}
}

func TestEngine_StateFollowsQueue(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: 20 * time.Millisecond}
	e, rec := newTestEngine(t, runner, WithGap(400*time.Millisecond))

	if st := e.Status(); st.State != StateIdle {
		t.Fatalf("initial state = %s, want idle", st.State)
	}
	_, _ = e.Enqueue(req("A1", "1", "r1"))
	if st := e.Status(); st.State != StateDraining || st.QueueLength != 1 {
		t.Errorf("right after Enqueue: state=%s len=%d, want draining/1", st.State, st.QueueLength)
	}

	rec.waitN(t, 1)
	if st := e.Status(); st.State != StateIdle || st.QueueLength != 0 || st.Playing != nil {
		t.Errorf("after sole item completed: state=%s len=%d playing=%v, want idle/0/nil",
			st.State, st.QueueLength, st.Playing != nil)
	}

	// A follow-up item waits out the gap but the engine is draining again.
	_, _ = e.Enqueue(req("A2", "1", "r2"))
	if st := e.Status(); st.State != StateDraining {
		t.Errorf("second Enqueue: state=%s, want draining", st.State)
	}
	rec.waitN(t, 2)
	if st := e.Status(); st.State != StateIdle {
		t.Errorf("after second item: state=%s, want idle", st.State)
	}
}

func TestEngine_SuspendedEnqueueStaysIdle(t *testing.T) {
	t.Parallel()

	e, rec := newTestEngine(t, &fakeRunner{})
	e.EmergencyStop()
	_, _ = e.Enqueue(req("B1", "2", ""))
	if st := e.Status(); st.State != StateIdle || st.QueueLength != 1 {
		t.Errorf("suspended Enqueue: state=%s len=%d, want idle/1", st.State, st.QueueLength)
	}
	e.Resume()
	rec.waitN(t, 1)
	if st := e.Status(); st.State != StateIdle {
		t.Errorf("after resume drained: state=%s, want idle", st.State)
	}
}

func TestEngine_PanicMarksFailedAndContinues(t *testing.T) {
	t.Parallel()

	e, rec := newTestEngine(t, &fakeRunner{})
	_, _ = e.Enqueue(req("PANIC", "1", "p"))
	_, _ = e.Enqueue(req("A2", "1", "ok"))

	got := rec.waitN(t, 2)
	if got[0].Status != announce.StatusFailed || got[0].Method != announce.MethodNone {
		t.Errorf("panicking item = %+v, want failed/none", got[0])
	}
	if got[1].Status != announce.StatusCompleted || got[1].TicketLabel != "A2" {
		t.Errorf("next item = %+v, want A2 completed", got[1])
	}
	st := e.Status()
	if st.LastFault == nil || !strings.Contains(st.LastFault.Err, "backend exploded") {
		t.Errorf("LastFault = %+v", st.LastFault)
	}
	if st.LastCompleted == nil || st.LastCompleted.TicketLabel != "A2" {
		t.Errorf("LastCompleted = %+v", st.LastCompleted)
	}
}

func TestEngine_SettingsSnapshot(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: 50 * time.Millisecond}
	e, rec := newTestEngine(t, runner)

	_, _ = e.Enqueue(req("A1", "1", ""))
	waitFor(t, func() bool { _, ok := e.Current(); return ok })
	e.UpdateSettings(func(s *announce.Settings) { s.Volume = 0.2 })
	_, _ = e.Enqueue(req("A2", "1", ""))
	rec.waitN(t, 2)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.settings[0].Volume != 1.0 {
		t.Errorf("first attempt volume = %v, want 1.0 (snapshot)", runner.settings[0].Volume)
	}
	if runner.settings[1].Volume != 0.2 {
		t.Errorf("second attempt volume = %v, want 0.2", runner.settings[1].Volume)
	}
}

func TestEngine_Gap(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var starts []time.Time
	runner := runnerFunc(func(context.Context, announce.Announcement, announce.Settings) announce.Outcome {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return announce.Outcome{Succeeded: true, Method: announce.MethodTone}
	})
	e, rec := newTestEngine(t, runner, WithGap(80*time.Millisecond))

	_, _ = e.Enqueue(req("A1", "1", ""))
	_, _ = e.Enqueue(req("A2", "1", ""))
	rec.waitN(t, 2)

	mu.Lock()
	defer mu.Unlock()
	if d := starts[1].Sub(starts[0]); d < 80*time.Millisecond {
		t.Errorf("second start %v after first, want at least the gap", d)
	}
}

type runnerFunc func(context.Context, announce.Announcement, announce.Settings) announce.Outcome

func (f runnerFunc) Run(ctx context.Context, a announce.Announcement, s announce.Settings) announce.Outcome {
	return f(ctx, a, s)
}

func TestEngine_DirectAndTestAnnouncements(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	e, rec := newTestEngine(t, runner)

	if _, err := e.AnnounceTicket("A7", "4", true); err != nil {
		t.Fatal(err)
	}
	if _, err := e.TestAnnouncement("audio check"); err != nil {
		t.Fatal(err)
	}
	got := rec.waitN(t, 2)
	if !strings.HasPrefix(got[0].RequestID, "direct-") || !got[0].IsUrgent || got[0].CounterLabel != "4" {
		t.Errorf("direct completion = %+v", got[0])
	}
	if !strings.HasPrefix(got[1].RequestID, "test-") {
		t.Errorf("test completion = %+v", got[1])
	}
}

func TestEngine_Queue(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeRunner{delay: 10 * time.Second})
	_, _ = e.Enqueue(req("A1", "1", ""))
	waitFor(t, func() bool { _, ok := e.Current(); return ok })
	_, _ = e.Enqueue(req("A2", "2", ""))

	q := e.Queue()
	if len(q) != 2 {
		t.Fatalf("Queue() len = %d, want 2", len(q))
	}
	if q[0].Ticket != "A1" || q[0].Status != announce.StatusPlaying {
		t.Errorf("q[0] = %+v, want A1 playing", q[0])
	}
	if q[1].Ticket != "A2" || q[1].Status != announce.StatusQueued {
		t.Errorf("q[1] = %+v, want A2 queued", q[1])
	}
	if st := e.Status(); st.State != StateDraining || st.QueueLength != 2 {
		t.Errorf("Status() = %+v", st)
	}
}

func TestEngine_Close(t *testing.T) {
	t.Parallel()

	e := New(&fakeRunner{delay: 10 * time.Second})
	events, _ := e.Subscribe(8)
	_, _ = e.Enqueue(req("A1", "1", ""))

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := e.Enqueue(req("A2", "1", "")); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue after Close err = %v, want ErrClosed", err)
	}
	for range events {
	}
}

// ---- end to end through the playback chain ----

type clipMap map[string]audio.Clip

func (m clipMap) Get(_ context.Context, ref string) (audio.Clip, error) {
	c, ok := m[ref]
	if !ok {
		return audio.Clip{}, errors.New("not found")
	}
	return c, nil
}

type noVoice struct{}

func (noVoice) Current() (tts.Voice, bool) { return tts.Voice{}, false }

var shortClip = audio.Clip{PCM: make([]byte, 320), Format: audio.Format{SampleRate: 16000, Channels: 1}}

func newChain(spk audio.Speaker, clips clipMap) *playback.Chain {
	return playback.NewChain([]playback.Backend{
		&playback.PreRecorded{Clips: clips, Speaker: spk},
		&playback.Synthesis{Provider: &ttsmock.Provider{}, Voices: noVoice{}, Speaker: spk},
		&playback.Tone{Speaker: spk, Hold: 10 * time.Millisecond},
	})
}

func TestEngine_ScenarioAllPreRecorded(t *testing.T) {
	t.Parallel()

	spk := &audiomock.Speaker{PlayDuration: 5 * time.Millisecond}
	clips := clipMap{"a1.wav": shortClip, "b2.wav": shortClip, "a3.wav": shortClip}
	e, rec := newTestEngine(t, newChain(spk, clips))

	in := []announce.Request{
		{RequestID: "req-A", TicketLabel: "A1", CounterLabel: "C1", PreRecordedAudioRef: "a1.wav"},
		{RequestID: "req-B", TicketLabel: "B2", CounterLabel: "C2", PreRecordedAudioRef: "b2.wav"},
		{RequestID: "req-C", TicketLabel: "A3", CounterLabel: "C1", IsUrgent: true, PreRecordedAudioRef: "a3.wav"},
	}
	for _, r := range in {
		if _, err := e.Enqueue(r); err != nil {
			t.Fatal(err)
		}
	}

	got := rec.waitN(t, 3)
	for i, c := range got {
		if c.RequestID != in[i].RequestID || c.TicketLabel != in[i].TicketLabel {
			t.Errorf("completion[%d] = %s/%s, want %s/%s", i, c.RequestID, c.TicketLabel, in[i].RequestID, in[i].TicketLabel)
		}
		if c.Method != announce.MethodPreRecorded || c.Status != announce.StatusCompleted {
			t.Errorf("completion[%d] method/status = %s/%s", i, c.Method, c.Status)
		}
	}
	if !got[2].IsUrgent {
		t.Error("recall flag lost")
	}
	if spk.MaxConcurrent() != 1 {
		t.Errorf("speaker max concurrent = %d, want 1", spk.MaxConcurrent())
	}
}

func TestEngine_FallsBackToTone(t *testing.T) {
	t.Parallel()

	e, rec := newTestEngine(t, newChain(&audiomock.Speaker{}, clipMap{}))
	events, unsub := e.Subscribe(32)
	defer unsub()

	_, _ = e.Enqueue(announce.Request{TicketLabel: "A1", CounterLabel: "3", PreRecordedAudioRef: "bad-url"})
	got := rec.waitN(t, 1)
	if got[0].Method != announce.MethodTone || got[0].Status != announce.StatusCompleted {
		t.Fatalf("completion = %+v, want tone completed", got[0])
	}

	var order []announce.Method
	for ev := range events {
		if ev.Kind == EventAttemptStarted {
			order = append(order, ev.Method)
		}
		if ev.Kind == EventCompleted {
			break
		}
	}
	want := []announce.Method{announce.MethodPreRecorded, announce.MethodSynthesis, announce.MethodTone}
	if len(order) != len(want) {
		t.Fatalf("attempt order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("attempt[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestEngine_NoDeviceDegradedCompletion(t *testing.T) {
	t.Parallel()

	chain := playback.NewChain([]playback.Backend{
		&playback.PreRecorded{Clips: clipMap{"a.wav": shortClip}, Speaker: audio.Silent{}},
		&playback.Tone{Speaker: audio.Silent{}, NoDeviceHold: 10 * time.Millisecond},
	})
	e, rec := newTestEngine(t, chain)
	_, _ = e.Enqueue(announce.Request{TicketLabel: "A1", CounterLabel: "1", PreRecordedAudioRef: "a.wav"})

	got := rec.waitN(t, 1)
	if got[0].Method != announce.MethodTone || !got[0].Degraded || got[0].Status != announce.StatusCompleted {
		t.Errorf("completion = %+v, want degraded tone completion", got[0])
	}
}
