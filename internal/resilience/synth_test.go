package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/callout/pkg/audio"
	"github.com/MrWong99/callout/pkg/provider/tts"
	ttsmock "github.com/MrWong99/callout/pkg/provider/tts/mock"
)

var testClip = audio.Clip{PCM: []byte{1, 0, 2, 0}, Format: audio.Format{SampleRate: 16000, Channels: 1}}

func TestSynthesizerChain_RoutesToOwner(t *testing.T) {
	t.Parallel()

	first := &ttsmock.Provider{SynthesizeResult: testClip}
	owner := &ttsmock.Provider{SynthesizeResult: testClip}
	c := NewSynthesizerChain(CircuitBreakerConfig{})
	c.Add("first", first)
	c.Add("owner", owner)

	voice := tts.Voice{ID: "v1", Provider: "owner"}
	if _, err := c.Synthesize(context.Background(), "hello", voice, tts.Params{}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(first.Calls()) != 0 {
		t.Errorf("first called %d times, want 0", len(first.Calls()))
	}
	calls := owner.Calls()
	if len(calls) != 1 || calls[0].Voice.ID != "v1" {
		t.Fatalf("owner calls = %+v, want one call with voice v1", calls)
	}
}

func TestSynthesizerChain_FailoverClearsForeignVoice(t *testing.T) {
	t.Parallel()

	owner := &ttsmock.Provider{SynthesizeErr: errors.New("down")}
	backup := &ttsmock.Provider{SynthesizeResult: testClip}
	c := NewSynthesizerChain(CircuitBreakerConfig{})
	c.Add("owner", owner)
	c.Add("backup", backup)

	voice := tts.Voice{ID: "v1", Provider: "owner", Lang: "ur-PK"}
	clip, err := c.Synthesize(context.Background(), "hello", voice, tts.Params{Rate: 0.85})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if clip.Size() != testClip.Size() {
		t.Errorf("clip size = %d, want %d", clip.Size(), testClip.Size())
	}
	calls := backup.Calls()
	if len(calls) != 1 {
		t.Fatalf("backup calls = %d, want 1", len(calls))
	}
	if calls[0].Voice.ID != "" {
		t.Errorf("backup voice ID = %q, want empty", calls[0].Voice.ID)
	}
	if calls[0].Voice.Lang != "ur-PK" || calls[0].Params.Rate != 0.85 {
		t.Errorf("backup call = %+v, want locale and params preserved", calls[0])
	}
}

func TestSynthesizerChain_ListVoicesMerges(t *testing.T) {
	t.Parallel()

	a := &ttsmock.Provider{ListVoicesResult: []tts.Voice{{ID: "a1"}}}
	b := &ttsmock.Provider{ListVoicesErr: errors.New("offline")}
	d := &ttsmock.Provider{ListVoicesResult: []tts.Voice{{ID: "d1", Provider: "d"}, {ID: "d2", Provider: "d"}}}
	c := NewSynthesizerChain(CircuitBreakerConfig{})
	c.Add("a", a)
	c.Add("b", b)
	c.Add("d", d)

	voices, err := c.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 3 {
		t.Fatalf("got %d voices, want 3", len(voices))
	}
	if voices[0].Provider != "a" {
		t.Errorf("voices[0].Provider = %q, want a (stamped)", voices[0].Provider)
	}
}

func TestSynthesizerChain_ListVoicesAllFail(t *testing.T) {
	t.Parallel()

	c := NewSynthesizerChain(CircuitBreakerConfig{})
	c.Add("a", &ttsmock.Provider{ListVoicesErr: errors.New("offline")})

	if _, err := c.ListVoices(context.Background()); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
