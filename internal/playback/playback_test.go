package playback

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/MrWong99/callout/pkg/announce"
	"github.com/MrWong99/callout/pkg/audio"
	audiomock "github.com/MrWong99/callout/pkg/audio/mock"
	"github.com/MrWong99/callout/pkg/provider/tts"
	ttsmock "github.com/MrWong99/callout/pkg/provider/tts/mock"
)

// fakeBackend resolves with a fixed outcome, optionally blocking or
// panicking.
type fakeBackend struct {
	method  announce.Method
	outcome announce.Outcome
	block   bool
	panics  bool

	mu    sync.Mutex
	calls int
}

func (f *fakeBackend) Method() announce.Method { return f.method }

func (f *fakeBackend) Attempt(ctx context.Context, _ announce.Announcement, _ announce.Settings) announce.Outcome {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.panics {
		panic("boom")
	}
	if f.block {
		<-ctx.Done()
		return announce.Outcome{Err: ctx.Err()}
	}
	return f.outcome
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func ok(m announce.Method) *fakeBackend {
	return &fakeBackend{method: m, outcome: announce.Outcome{Succeeded: true}}
}

func failing(m announce.Method) *fakeBackend {
	return &fakeBackend{method: m, outcome: announce.Outcome{Err: announce.Unavailable(m, "test")}}
}

var testAnnouncement = announce.Announcement{ID: "1-abc", TicketLabel: "A1", CounterLabel: "3"}

func TestChain_FirstSuccessWins(t *testing.T) {
	t.Parallel()

	pre, syn, tone := ok(announce.MethodPreRecorded), ok(announce.MethodSynthesis), ok(announce.MethodTone)
	c := NewChain([]Backend{pre, syn, tone})

	o := c.Run(context.Background(), testAnnouncement, announce.DefaultSettings())
	if !o.Succeeded || o.Method != announce.MethodPreRecorded {
		t.Fatalf("Run() = %+v, want pre-recorded success", o)
	}
	if syn.callCount() != 0 || tone.callCount() != 0 {
		t.Errorf("later tiers called: synthesis=%d tone=%d", syn.callCount(), tone.callCount())
	}
}

func TestChain_FallsThroughInOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var events []AttemptEvent
	c := NewChain([]Backend{
		failing(announce.MethodPreRecorded),
		failing(announce.MethodSynthesis),
		ok(announce.MethodTone),
	}, WithHook(func(ev AttemptEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))

	o := c.Run(context.Background(), testAnnouncement, announce.DefaultSettings())
	if !o.Succeeded || o.Method != announce.MethodTone {
		t.Fatalf("Run() = %+v, want tone success", o)
	}

	want := []struct {
		method announce.Method
		phase  Phase
	}{
		{announce.MethodPreRecorded, PhaseStarted},
		{announce.MethodPreRecorded, PhaseFinished},
		{announce.MethodSynthesis, PhaseStarted},
		{announce.MethodSynthesis, PhaseFinished},
		{announce.MethodTone, PhaseStarted},
		{announce.MethodTone, PhaseFinished},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, w := range want {
		if events[i].Method != w.method || events[i].Phase != w.phase {
			t.Errorf("event[%d] = %s/%s, want %s/%s", i, events[i].Method, events[i].Phase, w.method, w.phase)
		}
		if events[i].AnnouncementID != testAnnouncement.ID {
			t.Errorf("event[%d] announcement = %q", i, events[i].AnnouncementID)
		}
	}
	if !errors.Is(events[1].Outcome.Err, announce.ErrBackendUnavailable) {
		t.Errorf("pre-recorded finish err = %v, want ErrBackendUnavailable", events[1].Outcome.Err)
	}
}

func TestChain_AllFail(t *testing.T) {
	t.Parallel()

	c := NewChain([]Backend{failing(announce.MethodPreRecorded), failing(announce.MethodSynthesis)})
	o := c.Run(context.Background(), testAnnouncement, announce.DefaultSettings())
	if o.Succeeded {
		t.Fatal("Run() succeeded, want failure")
	}
	if o.Method != announce.MethodNone {
		t.Errorf("Method = %q, want none", o.Method)
	}
	if !errors.Is(o.Err, announce.ErrBackendUnavailable) {
		t.Errorf("Err = %v, want joined ErrBackendUnavailable", o.Err)
	}
}

// A failed tier is logged inside its attempt span so the log line can be
// joined with the exported trace.
func TestChain_FailureLogCarriesTraceContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	var buf bytes.Buffer
	origLog := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() {
		slog.SetDefault(origLog)
		otel.SetTracerProvider(origTP)
		_ = tp.Shutdown(context.Background())
	})

	c := NewChain([]Backend{failing(announce.MethodPreRecorded), ok(announce.MethodTone)})
	if o := c.Run(context.Background(), testAnnouncement, announce.DefaultSettings()); !o.Succeeded {
		t.Fatalf("Run() = %+v, want tone success", o)
	}

	var line string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.Contains(l, "tier failed") {
			line = l
		}
	}
	if line == "" {
		t.Fatalf("no tier failure logged:\n%s", buf.String())
	}
	for _, want := range []string{"trace_id=", "span_id=", "method=pre-recorded", "announcement_id=1-abc"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line missing %q: %s", want, line)
		}
	}
}

func TestChain_PanicBecomesFailure(t *testing.T) {
	t.Parallel()

	bad := &fakeBackend{method: announce.MethodPreRecorded, panics: true}
	c := NewChain([]Backend{bad, ok(announce.MethodTone)})

	o := c.Run(context.Background(), testAnnouncement, announce.DefaultSettings())
	if !o.Succeeded || o.Method != announce.MethodTone {
		t.Fatalf("Run() = %+v, want tone success after panic", o)
	}
}

func TestChain_TimeoutFallsThrough(t *testing.T) {
	t.Parallel()

	stuck := &fakeBackend{method: announce.MethodSynthesis, block: true}
	c := NewChain([]Backend{stuck, ok(announce.MethodTone)},
		WithTimeout(announce.MethodSynthesis, 20*time.Millisecond))

	start := time.Now()
	o := c.Run(context.Background(), testAnnouncement, announce.DefaultSettings())
	if !o.Succeeded || o.Method != announce.MethodTone {
		t.Fatalf("Run() = %+v, want tone success", o)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run took %v, want bounded by the tier timeout", elapsed)
	}
}

func TestChain_CancelledStopsEarly(t *testing.T) {
	t.Parallel()

	pre := failing(announce.MethodPreRecorded)
	tone := ok(announce.MethodTone)
	c := NewChain([]Backend{pre, tone})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := c.Run(ctx, testAnnouncement, announce.DefaultSettings())
	if o.Succeeded || !errors.Is(o.Err, context.Canceled) {
		t.Fatalf("Run() = %+v, want cancelled failure", o)
	}
	if pre.callCount() != 0 || tone.callCount() != 0 {
		t.Error("backends called after cancellation")
	}
}

// ---- PreRecorded ----

type clipMap map[string]audio.Clip

func (m clipMap) Get(_ context.Context, ref string) (audio.Clip, error) {
	c, ok := m[ref]
	if !ok {
		return audio.Clip{}, errors.New("404")
	}
	return c, nil
}

var testClip = audio.Clip{PCM: make([]byte, 320), Format: audio.Format{SampleRate: 16000, Channels: 1}}

func TestPreRecorded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		ref         string
		unavailable bool
		wantOK      bool
		wantErr     error
	}{
		{"plays cached clip", "a1.wav", false, true, nil},
		{"no reference", "", false, false, announce.ErrBackendUnavailable},
		{"load failure", "bad-url", false, false, announce.ErrPlaybackFailure},
		{"no device", "a1.wav", true, false, announce.ErrBackendUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			spk := &audiomock.Speaker{Unavailable: tt.unavailable}
			b := &PreRecorded{Clips: clipMap{"a1.wav": testClip}, Speaker: spk}

			a := testAnnouncement
			a.PreRecordedAudioRef = tt.ref
			s := announce.DefaultSettings()
			s.Volume = 0.4

			o := b.Attempt(context.Background(), a, s)
			if o.Succeeded != tt.wantOK {
				t.Fatalf("Succeeded = %v, want %v (err %v)", o.Succeeded, tt.wantOK, o.Err)
			}
			if tt.wantErr != nil && !errors.Is(o.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", o.Err, tt.wantErr)
			}
			if tt.wantOK {
				calls := spk.Calls()
				if len(calls) != 1 || calls[0].Volume != 0.4 {
					t.Errorf("speaker calls = %+v, want one at volume 0.4", calls)
				}
			}
		})
	}
}

func TestPreRecorded_PlaybackError(t *testing.T) {
	t.Parallel()

	b := &PreRecorded{Clips: clipMap{"a1.wav": testClip}, Speaker: &audiomock.Speaker{PlayErr: errors.New("underrun")}}
	a := testAnnouncement
	a.PreRecordedAudioRef = "a1.wav"

	o := b.Attempt(context.Background(), a, announce.DefaultSettings())
	if o.Succeeded || !errors.Is(o.Err, announce.ErrPlaybackFailure) {
		t.Fatalf("Attempt() = %+v, want playback failure", o)
	}
}

// ---- Synthesis ----

type fixedVoice struct {
	v  tts.Voice
	ok bool
}

func (f fixedVoice) Current() (tts.Voice, bool) { return f.v, f.ok }

func TestSynthesis_Speaks(t *testing.T) {
	t.Parallel()

	prov := &ttsmock.Provider{SynthesizeResult: testClip}
	spk := &audiomock.Speaker{}
	b := &Synthesis{
		Provider:      prov,
		Voices:        fixedVoice{tts.Voice{ID: "ur-1", Lang: "ur-PK"}, true},
		Speaker:       spk,
		TrailingPause: -1,
	}

	o := b.Attempt(context.Background(), testAnnouncement, announce.DefaultSettings())
	if !o.Succeeded || o.Method != announce.MethodSynthesis {
		t.Fatalf("Attempt() = %+v, want synthesis success", o)
	}
	calls := prov.Calls()
	if len(calls) != 1 {
		t.Fatalf("synthesize calls = %d, want 1", len(calls))
	}
	want := Text(testAnnouncement, announce.DefaultSettings())
	if calls[0].Text != want {
		t.Errorf("text = %q, want %q", calls[0].Text, want)
	}
	if calls[0].Voice.ID != "ur-1" || calls[0].Params.Rate != 0.85 || calls[0].Params.Pitch != 1.2 || calls[0].Params.Locale != "ur-PK" {
		t.Errorf("call = %+v", calls[0])
	}
	if len(spk.Calls()) != 1 {
		t.Errorf("speaker calls = %d, want 1", len(spk.Calls()))
	}
}

func TestSynthesis_Unavailable(t *testing.T) {
	t.Parallel()

	prov := &ttsmock.Provider{SynthesizeResult: testClip}

	t.Run("no voice", func(t *testing.T) {
		t.Parallel()
		b := &Synthesis{Provider: prov, Voices: fixedVoice{}, Speaker: &audiomock.Speaker{}}
		o := b.Attempt(context.Background(), testAnnouncement, announce.DefaultSettings())
		if o.Succeeded || !errors.Is(o.Err, announce.ErrBackendUnavailable) {
			t.Errorf("Attempt() = %+v, want unavailable", o)
		}
	})

	t.Run("provider error", func(t *testing.T) {
		t.Parallel()
		b := &Synthesis{
			Provider: &ttsmock.Provider{SynthesizeErr: errors.New("quota")},
			Voices:   fixedVoice{tts.Voice{ID: "v"}, true},
			Speaker:  &audiomock.Speaker{},
		}
		o := b.Attempt(context.Background(), testAnnouncement, announce.DefaultSettings())
		if o.Succeeded || !errors.Is(o.Err, announce.ErrPlaybackFailure) {
			t.Errorf("Attempt() = %+v, want playback failure", o)
		}
	})
}

func TestSynthesis_PreemptsBusyUtterance(t *testing.T) {
	t.Parallel()

	spk := &audiomock.Speaker{PlayDuration: 200 * time.Millisecond}
	b := &Synthesis{
		Provider:      &ttsmock.Provider{SynthesizeResult: testClip},
		Voices:        fixedVoice{tts.Voice{ID: "v"}, true},
		Speaker:       spk,
		RestartDelay:  10 * time.Millisecond,
		TrailingPause: -1,
	}

	first := make(chan announce.Outcome, 1)
	go func() { first <- b.Attempt(context.Background(), testAnnouncement, announce.DefaultSettings()) }()

	deadline := time.Now().Add(2 * time.Second)
	for !b.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("first utterance never started")
		}
		time.Sleep(time.Millisecond)
	}

	second := b.Attempt(context.Background(), announce.Announcement{ID: "2", CustomMessage: "test"}, announce.DefaultSettings())

	if o := <-first; o.Succeeded {
		t.Error("preempted utterance reported success")
	}
	if !second.Succeeded {
		t.Errorf("second Attempt() = %+v, want success", second)
	}
	if b.Busy() {
		t.Error("Busy() after both attempts resolved")
	}
}

func TestText(t *testing.T) {
	t.Parallel()

	s := announce.DefaultSettings()
	if got := Text(announce.Announcement{TicketLabel: "A1", CustomMessage: "hello"}, s); got != "hello" {
		t.Errorf("Text() = %q, want custom message", got)
	}
	s.Language = "english"
	got := Text(announce.Announcement{TicketLabel: "A1", CounterLabel: "2"}, s)
	if got == "" || got == "hello" {
		t.Errorf("Text() = %q, want derived sentence", got)
	}
}

// ---- Tone ----

func TestTone_PlaysAndHolds(t *testing.T) {
	t.Parallel()

	spk := &audiomock.Speaker{}
	b := &Tone{Speaker: spk, Hold: 50 * time.Millisecond}

	start := time.Now()
	o := b.Attempt(context.Background(), testAnnouncement, announce.DefaultSettings())
	if !o.Succeeded || o.Degraded {
		t.Fatalf("Attempt() = %+v, want non-degraded success", o)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("resolved after %v, want at least the hold time", elapsed)
	}
	calls := spk.Calls()
	if len(calls) != 1 || calls[0].Clip.Size() == 0 {
		t.Fatalf("speaker calls = %+v, want one chime", calls)
	}
	if calls[0].Clip.Duration() != audio.DefaultTone.Length {
		t.Errorf("chime length = %v, want %v", calls[0].Clip.Duration(), audio.DefaultTone.Length)
	}
}

func TestTone_UsesConfiguredVolume(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		volume float64
		want   float64
	}{
		{"configured", 0.4, 0.4},
		{"above range", 1.7, 1},
		{"muted", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			spk := &audiomock.Speaker{}
			b := &Tone{Speaker: spk, Hold: time.Millisecond}
			set := announce.DefaultSettings()
			set.Volume = tt.volume

			if o := b.Attempt(context.Background(), testAnnouncement, set); !o.Succeeded {
				t.Fatalf("Attempt() = %+v, want success", o)
			}
			calls := spk.Calls()
			if len(calls) != 1 {
				t.Fatalf("speaker calls = %d, want 1", len(calls))
			}
			if calls[0].Volume != tt.want {
				t.Errorf("volume = %v, want %v", calls[0].Volume, tt.want)
			}
		})
	}
}

func TestTone_NoDeviceDegradedSuccess(t *testing.T) {
	t.Parallel()

	b := &Tone{Speaker: audio.Silent{}, NoDeviceHold: 30 * time.Millisecond}
	start := time.Now()
	o := b.Attempt(context.Background(), testAnnouncement, announce.DefaultSettings())
	if !o.Succeeded || !o.Degraded || o.Method != announce.MethodTone {
		t.Fatalf("Attempt() = %+v, want degraded tone success", o)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("resolved before the no-device hold elapsed")
	}
}

func TestTone_PlayErrorDegraded(t *testing.T) {
	t.Parallel()

	b := &Tone{Speaker: &audiomock.Speaker{PlayErr: errors.New("device lost")}, Hold: 10 * time.Millisecond}
	o := b.Attempt(context.Background(), testAnnouncement, announce.DefaultSettings())
	if !o.Succeeded || !o.Degraded {
		t.Fatalf("Attempt() = %+v, want degraded success", o)
	}
}

func TestTone_Cancelled(t *testing.T) {
	t.Parallel()

	b := &Tone{Speaker: audio.Silent{}, NoDeviceHold: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if o := b.Attempt(ctx, testAnnouncement, announce.DefaultSettings()); o.Succeeded {
		t.Fatalf("Attempt() = %+v, want failure on cancel", o)
	}
}

// Bad pre-recorded reference plus no selected voice ends on the tone tier.
func TestChain_BadRefNoVoiceEndsOnTone(t *testing.T) {
	t.Parallel()

	spk := &audiomock.Speaker{}
	c := NewChain([]Backend{
		&PreRecorded{Clips: clipMap{}, Speaker: spk},
		&Synthesis{Provider: &ttsmock.Provider{}, Voices: fixedVoice{}, Speaker: spk},
		&Tone{Speaker: spk, Hold: 10 * time.Millisecond},
	})
	a := announce.Announcement{ID: "x", TicketLabel: "A1", CounterLabel: "3", PreRecordedAudioRef: "bad-url"}

	o := c.Run(context.Background(), a, announce.DefaultSettings())
	if !o.Succeeded || o.Method != announce.MethodTone {
		t.Fatalf("Run() = %+v, want tone success", o)
	}
	if got := c.Methods(); len(got) != 3 || got[0] != announce.MethodPreRecorded {
		t.Errorf("Methods() = %v", got)
	}
}
