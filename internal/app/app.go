// Package app wires all Callout subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds every subsystem from the
// config, Run drives the background loops until the context ends, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSpeaker,
// WithSynthesizer, WithLoader, WithSink). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callout/internal/cache"
	"github.com/MrWong99/callout/internal/config"
	"github.com/MrWong99/callout/internal/engine"
	"github.com/MrWong99/callout/internal/health"
	"github.com/MrWong99/callout/internal/journal"
	"github.com/MrWong99/callout/internal/observe"
	"github.com/MrWong99/callout/internal/playback"
	"github.com/MrWong99/callout/internal/report"
	"github.com/MrWong99/callout/internal/resilience"
	"github.com/MrWong99/callout/internal/transport"
	"github.com/MrWong99/callout/internal/voice"
	"github.com/MrWong99/callout/pkg/announce"
	"github.com/MrWong99/callout/pkg/audio"
	"github.com/MrWong99/callout/pkg/audio/device"
	"github.com/MrWong99/callout/pkg/provider/tts"
)

// faultWindow is how long a recovered engine fault keeps /readyz failing.
const faultWindow = time.Minute

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	speaker   audio.Speaker
	synth     tts.Provider
	synthLen  int
	loader    cache.Loader
	cache     *cache.Cache
	voices    *voice.Selector
	synthesis *playback.Synthesis
	chain     *playback.Chain
	engine    *engine.Engine
	reporter  *report.Reporter
	transport *transport.Client
	journal   *journal.Store
	sinks     []report.Sink
	health    *health.Handler

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSpeaker injects the audio output instead of opening the host device.
func WithSpeaker(s audio.Speaker) Option {
	return func(a *App) { a.speaker = s }
}

// WithSynthesizer injects the speech synthesizer instead of building a
// [resilience.SynthesizerChain] from the configured providers.
func WithSynthesizer(p tts.Provider) Option {
	return func(a *App) { a.synth = p }
}

// WithLoader injects the pre-recorded clip loader instead of an [cache.HTTPLoader].
func WithLoader(l cache.Loader) Option {
	return func(a *App) { a.loader = l }
}

// WithSink adds a completion sink next to the configured ones.
func WithSink(s report.Sink) Option {
	return func(a *App) { a.sinks = append(a.sinks, s) }
}

// WithMetrics overrides the metrics instance (default: [observe.DefaultMetrics]).
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. providers comes from
// main.go via the config registry, in preference order.
//
// New connects to the journal database when one is configured; every other
// network connection is made by Run.
func New(ctx context.Context, cfg *config.Config, providers []config.NamedProvider, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Output device ─────────────────────────────────────────────────
	a.initSpeaker()

	// ── 2. Synthesis providers + voice selector ──────────────────────────
	a.initSynthesis(providers)

	// ── 3. Clip cache ────────────────────────────────────────────────────
	a.initCache()

	// ── 4. Completion sinks ──────────────────────────────────────────────
	if err := a.initSinks(ctx); err != nil {
		return nil, fmt.Errorf("app: init sinks: %w", err)
	}

	// ── 5. Playback chain + engine ───────────────────────────────────────
	a.initEngine()

	// ── 6. Health ────────────────────────────────────────────────────────
	a.initHealth()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initSpeaker() {
	if a.speaker != nil {
		return
	}
	if a.cfg.Playback.Output == config.OutputNone {
		a.speaker = audio.Silent{}
		return
	}
	spk, err := device.Open(device.DefaultFormat)
	if err != nil {
		slog.Warn("no audio device; announcements will degrade to timed tone holds", "err", err)
		a.speaker = audio.Silent{}
		return
	}
	a.speaker = spk
}

func (a *App) initSynthesis(providers []config.NamedProvider) {
	if a.synth == nil {
		chain := resilience.NewSynthesizerChain(a.breakerConfig("synthesis", a.cfg.Synthesis.Breaker))
		for _, p := range providers {
			chain.Add(p.Name, p.Provider)
		}
		a.synth = chain
		a.synthLen = chain.Len()
	} else {
		a.synthLen = 1
	}

	settings := a.cfg.Announcer.Settings()
	a.voices = voice.NewSelector(a.synth.ListVoices,
		voice.WithRescanInterval(a.cfg.Voices.RescanInterval),
		voice.WithTarget(voice.TargetFor(settings.Locale())),
	)
}

func (a *App) initCache() {
	if a.loader == nil {
		a.loader = &cache.HTTPLoader{
			BaseURL:  a.cfg.Cache.BaseURL,
			BaseDir:  a.cfg.Cache.BaseDir,
			MaxBytes: a.cfg.Cache.MaxClipBytes,
		}
	}
	a.cache = cache.New(a.loader,
		cache.WithMaxBytes(a.cfg.Cache.MaxBytes),
		cache.WithEvictInterval(a.cfg.Cache.EvictInterval),
		cache.WithLoadTimeout(a.cfg.Cache.LoadTimeout),
		cache.WithPreloadWorkers(a.cfg.Cache.PreloadWorkers),
		cache.WithLookupHook(func(hit bool) {
			a.metrics.RecordCacheLookup(context.Background(), hit)
		}),
	)
}

func (a *App) initSinks(ctx context.Context) error {
	sinks := make([]report.Sink, 0, len(a.sinks)+3)

	if a.cfg.Transport.URL != "" {
		a.transport = transport.New(transport.Config{
			URL:            a.cfg.Transport.URL,
			ScreenID:       a.cfg.Transport.ScreenID,
			Header:         authHeader(a.cfg.Transport.Token),
			Backoff:        a.cfg.Transport.Backoff,
			MaxBackoff:     a.cfg.Transport.MaxBackoff,
			OnAnnouncement: a.onAnnouncement,
			OnConnect:      a.onConnect,
		})
		sinks = append(sinks, a.transport)
	}

	if dsn := a.cfg.Journal.PostgresDSN; dsn != "" {
		store, err := journal.Open(ctx, dsn, a.cfg.Transport.ScreenID)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		a.journal = store
		sinks = append(sinks, store)
		a.closers = append(a.closers, func(context.Context) error {
			store.Close()
			return nil
		})
	}

	if path := a.cfg.Report.File; path != "" {
		sinks = append(sinks, report.NewFileSink(path))
	}
	sinks = append(sinks, a.sinks...)

	ropts := []report.Option{
		report.WithMetrics(a.metrics),
		report.WithSendTimeout(a.cfg.Report.SendTimeout),
		report.WithBuffer(a.cfg.Report.Buffer),
	}
	if b := a.cfg.Report.Breaker; b.MaxFailures > 0 {
		ropts = append(ropts, report.WithBreaker(a.breakerConfig("report", b)))
	}
	for _, s := range sinks {
		ropts = append(ropts, report.WithSink(s))
	}
	a.reporter = report.New(ropts...)
	return nil
}

func (a *App) initEngine() {
	pc := a.cfg.Playback
	a.synthesis = &playback.Synthesis{
		Provider:      a.synth,
		Voices:        a.voices,
		Speaker:       a.speaker,
		TrailingPause: pc.TrailingPause,
	}
	backends := []playback.Backend{
		&playback.PreRecorded{Clips: a.cache, Speaker: a.speaker},
		a.synthesis,
		&playback.Tone{Speaker: a.speaker, Hold: pc.ToneHold},
	}

	copts := []playback.ChainOption{
		playback.WithDefaultTimeout(pc.AttemptTimeout),
		playback.WithMetrics(a.metrics),
	}
	for method, d := range map[announce.Method]time.Duration{
		announce.MethodPreRecorded: pc.PreRecordedTimeout,
		announce.MethodSynthesis:   pc.SynthesisTimeout,
		announce.MethodTone:        pc.ToneTimeout,
	} {
		if d > 0 {
			copts = append(copts, playback.WithTimeout(method, d))
		}
	}
	a.chain = playback.NewChain(backends, copts...)

	eopts := []engine.Option{
		engine.WithSettings(a.cfg.Announcer.Settings()),
		engine.WithReporter(a.reporter),
		engine.WithMetrics(a.metrics),
	}
	if a.cfg.Announcer.Gap > 0 {
		eopts = append(eopts, engine.WithGap(a.cfg.Announcer.Gap))
	}
	a.engine = engine.New(a.chain, eopts...)
}

func (a *App) initHealth() {
	checkers := []health.Checker{
		health.NoRecentFault("engine", faultWindow, func() (time.Time, bool) {
			f := a.engine.Status().LastFault
			if f == nil {
				return time.Time{}, false
			}
			return f.At, true
		}),
	}
	if a.transport != nil {
		checkers = append(checkers, health.Connected("transport", a.transport.Connected))
	}
	if a.journal != nil {
		checkers = append(checkers, health.Ping("journal", a.journal.Ping))
	}
	a.health = health.New(checkers...)
}

func (a *App) breakerConfig(name string, b config.BreakerConfig) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  b.MaxFailures,
		ResetTimeout: b.ResetTimeout,
		OnStateChange: func(member string, _, to resilience.State) {
			a.metrics.RecordBreakerTransition(context.Background(), member, to.String())
		},
	}
}

func authHeader(token string) http.Header {
	if token == "" {
		return nil
	}
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

// ─── Transport callbacks ─────────────────────────────────────────────────────

// onAnnouncement feeds requests from the central system into the engine.
// Refusals are logged; the central system learns nothing until completion.
func (a *App) onAnnouncement(_ context.Context, req announce.Request) {
	rec, err := a.engine.Enqueue(req)
	switch {
	case err == nil:
		slog.Info("announcement queued",
			"id", rec.ID, "request_id", req.RequestID, "ticket", req.TicketLabel, "position", rec.Position)
	case errors.Is(err, engine.ErrSoundDisabled), errors.Is(err, engine.ErrAutoPlayDisabled):
		slog.Info("announcement not queued", "request_id", req.RequestID, "reason", rec.Reason)
	default:
		slog.Warn("announcement rejected", "request_id", req.RequestID, "err", err)
	}
}

// onConnect runs after every (re)connect handshake.
func (a *App) onConnect() {
	a.voices.NotifyCatalogChanged()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the background loops and blocks until ctx is cancelled or one
// of them fails. Preloading runs once and never fails Run.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.cache.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.voices.Run(ctx)
		return nil
	})
	if a.transport != nil {
		g.Go(func() error { return a.transport.Run(ctx) })
	}
	if refs := a.cfg.Cache.Preload; len(refs) > 0 {
		g.Go(func() error {
			res := a.cache.Preload(ctx, refs)
			slog.Info("preloaded announcement audio", "successful", res.Successful, "total", res.Total)
			return nil
		})
	}
	g.Go(func() error {
		a.logEvents(ctx)
		return nil
	})

	slog.Info("app running",
		"synthesis_providers", a.synthLen,
		"tiers", a.chain.Methods(),
		"transport", a.transport != nil,
		"journal", a.journal != nil,
	)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// logEvents writes engine events to the log at debug level, faults at error.
func (a *App) logEvents(ctx context.Context) {
	events, cancel := a.engine.Subscribe(64)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == engine.EventFault {
				slog.Error("engine fault", "id", ev.Announcement.ID, "err", ev.Err)
				continue
			}
			slog.Debug("engine event", "kind", ev.Kind, "id", ev.Announcement.ID, "method", ev.Method)
		}
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the announcement queue.
func (a *App) Engine() *engine.Engine { return a.engine }

// Handler returns the HTTP surface: control API, health probes, and the
// Prometheus scrape endpoint when metricsHandler is non-nil.
func (a *App) Handler(metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	a.registerAPI(mux)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	return observe.Middleware(a.metrics)(mux)
}

// ApplyConfig applies the hot-reloadable parts of a config change. Sections
// that need a restart are logged and otherwise ignored; the App keeps
// reading those from the config it was built with.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.AnnouncerChanged {
		prev, next := a.engine.Settings(), new.Announcer.Settings()
		a.engine.UpdateSettings(func(s *announce.Settings) { *s = next })
		if new.Announcer.Gap != old.Announcer.Gap {
			gap := new.Announcer.Gap
			if gap <= 0 {
				gap = engine.DefaultGap
			}
			a.engine.SetGap(gap)
		}
		if prev.Locale() != next.Locale() {
			a.voices.SetTarget(voice.TargetFor(next.Locale()))
		}
		slog.Info("announcer settings reloaded", "language", next.Language, "volume", next.Volume)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that only apply after restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the engine, flushes pending completions, and runs the
// closers. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.engine.Close(); err != nil {
			slog.Warn("engine close error", "err", err)
		}
		if err := a.reporter.Close(ctx); err != nil {
			slog.Warn("reporter did not drain", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
