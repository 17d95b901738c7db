// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// Audio is requested in raw PCM format (24 kHz, mono, signed 16-bit
// little-endian) so that it can be handed to the speaker without decoding.
// Requests are paced by a token-bucket limiter to stay below the account's
// rate limit.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"golang.org/x/time/rate"

	"github.com/MrWong99/callout/pkg/audio"
	"github.com/MrWong99/callout/pkg/provider/tts"
)

// DefaultModel is the default OpenAI speech model.
const DefaultModel = oai.SpeechModelGPT4oMiniTTS

// pcmFormat is the fixed layout of the "pcm" response format.
var pcmFormat = audio.Format{SampleRate: 24000, Channels: 1}

// builtinVoices is the fixed OpenAI voice catalogue. The speech API has no
// listing endpoint.
var builtinVoices = []struct{ id, gender string }{
	{"alloy", "neutral"},
	{"ash", "male"},
	{"coral", "female"},
	{"echo", "male"},
	{"fable", "male"},
	{"nova", "female"},
	{"onyx", "male"},
	{"sage", "female"},
	{"shimmer", "female"},
}

// maxResponseSize is the default bound on the PCM body read from the API.
const maxResponseSize = 32 << 20

// ErrResponseTooLarge is returned when the API sends more audio than the
// configured limit. The clip is not truncated.
var ErrResponseTooLarge = errors.New("openai tts: audio response exceeds size limit")

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client  oai.Client
	model   string
	lang     string
	limiter  *rate.Limiter
	maxBytes int64
}

// config holds optional configuration for the provider.
type config struct {
	baseURL           string
	organization      string
	timeout           time.Duration
	requestsPerMinute int
	language          string
	maxRetries        int
	maxResponseSize   int64
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithRequestsPerMinute sets the request pacing. Defaults to 50.
func WithRequestsPerMinute(n int) Option {
	return func(c *config) {
		c.requestsPerMinute = n
	}
}

// WithLanguage sets the locale reported for every voice. OpenAI voices are
// multilingual, so this is the locale the deployment announces in.
func WithLanguage(locale string) Option {
	return func(c *config) {
		c.language = locale
	}
}

// WithMaxResponseSize bounds the audio body of one synthesis. Defaults to
// 32 MiB.
func WithMaxResponseSize(n int64) Option {
	return func(c *config) {
		c.maxResponseSize = n
	}
}

// WithMaxRetries sets the client's retry count for transient failures.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs a new OpenAI TTS Provider.
// If model is empty, DefaultModel is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = string(DefaultModel)
	}

	cfg := &config{requestsPerMinute: 50, maxRetries: 2, maxResponseSize: maxResponseSize}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.requestsPerMinute <= 0 {
		return nil, fmt.Errorf("openai tts: requests per minute must be positive, got %d", cfg.requestsPerMinute)
	}
	if cfg.maxResponseSize <= 0 {
		return nil, fmt.Errorf("openai tts: max response size must be positive, got %d", cfg.maxResponseSize)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		lang:     cfg.language,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.requestsPerMinute)), 1),
		maxBytes: cfg.maxResponseSize,
	}, nil
}

// Synthesize implements tts.Provider. Pitch is not supported by the API and
// is ignored.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice, params tts.Params) (audio.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return audio.Clip{}, errors.New("openai tts: text must not be empty")
	}
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = builtinVoices[0].id
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return audio.Clip{}, fmt.Errorf("openai tts: rate limit wait: %w", err)
	}

	req := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voiceID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if params.Rate > 0 {
		// The API accepts speeds in [0.25, 4.0].
		req.Speed = param.NewOpt(min(max(params.Rate, 0.25), 4.0))
	}

	resp, err := p.client.Audio.Speech.New(ctx, req)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()

	// One byte past the limit tells an oversized body from one that fits.
	pcm, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if int64(len(pcm)) > p.maxBytes {
		return audio.Clip{}, fmt.Errorf("%w (%d bytes)", ErrResponseTooLarge, p.maxBytes)
	}
	if len(pcm) == 0 {
		return audio.Clip{}, errors.New("openai tts: empty audio response")
	}
	// Drop a trailing odd byte so the clip holds whole samples.
	pcm = pcm[:len(pcm)&^1]
	return audio.Clip{PCM: pcm, Format: pcmFormat}, nil
}

// ListVoices implements tts.Provider. It returns the built-in voice catalogue
// without contacting the API.
func (p *Provider) ListVoices(context.Context) ([]tts.Voice, error) {
	voices := make([]tts.Voice, 0, len(builtinVoices))
	for i, v := range builtinVoices {
		voices = append(voices, tts.Voice{
			ID:       v.id,
			Name:     v.id + " " + v.gender,
			Lang:     p.lang,
			Provider: "openai",
			Default:  i == 0,
			Metadata: map[string]string{"gender": v.gender, "model": p.model},
		})
	}
	return voices, nil
}
