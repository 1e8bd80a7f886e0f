// Package app wires configuration, providers, storage, sinks, and the
// session manager into a runnable transcription server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/correct"
	"github.com/weftlabs/weft/internal/correct/llmcorrect"
	"github.com/weftlabs/weft/internal/correct/phonetic"
	"github.com/weftlabs/weft/internal/health"
	"github.com/weftlabs/weft/internal/observe"
	"github.com/weftlabs/weft/internal/reconcile"
	"github.com/weftlabs/weft/internal/resilience"
	"github.com/weftlabs/weft/internal/session"
	"github.com/weftlabs/weft/internal/sink"
	"github.com/weftlabs/weft/internal/sink/discordcaption"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/pkg/provider/llm"
	"github.com/weftlabs/weft/pkg/provider/stt"
)

// shutdownTimeout bounds how long Shutdown waits for the HTTP server and
// open sessions to wind down.
const shutdownTimeout = 15 * time.Second

// Providers bundles the external services the app depends on. STT is
// required; LLM is only needed when postprocess review is enabled.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
}

// App owns every long-lived component of the transcription server and
// tears them down in reverse construction order on Shutdown.
type App struct {
	cfg       *config.Config
	providers Providers

	metrics  *observe.Metrics
	store    *store.PostgresStore
	sinks    []sink.DeltaSink
	manager  *session.Manager
	server   *http.Server

	// Test injection points, set via Options.
	db        store.DB
	messenger discordcaption.Messenger

	closers  []func() error
	stopOnce sync.Once
	stopErr  error
}

// Option customises app construction, mainly for injecting test doubles.
type Option func(*App)

// WithStoreDB injects a database handle, skipping pgxpool creation.
func WithStoreDB(db store.DB) Option {
	return func(a *App) { a.db = db }
}

// WithMessenger injects a Discord messenger, skipping the real session.
func WithMessenger(m discordcaption.Messenger) Option {
	return func(a *App) { a.messenger = m }
}

// WithMetrics injects a metrics recorder instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSink appends an extra delta sink to every session.
func WithSink(s sink.DeltaSink) Option {
	return func(a *App) { a.sinks = append(a.sinks, s) }
}

// New builds a fully wired app from configuration. The STT provider is
// required; everything else is optional and driven by config.
func New(ctx context.Context, cfg *config.Config, providers Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	if providers.STT == nil {
		return nil, fmt.Errorf("app: stt provider is required")
	}

	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initCaptions(); err != nil {
		return nil, fmt.Errorf("app: init captions: %w", err)
	}
	if err := a.initManager(); err != nil {
		return nil, fmt.Errorf("app: init sessions: %w", err)
	}
	a.initServer()

	return a, nil
}

// initStore connects to PostgreSQL and runs the schema migration. An empty
// DSN disables persistence entirely.
func (a *App) initStore(ctx context.Context) error {
	if a.db == nil {
		dsn := a.cfg.Storage.PostgresDSN
		if dsn == "" {
			slog.Info("no postgres_dsn configured, transcripts are not persisted")
			return nil
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("ping postgres: %w", err)
		}
		a.db = pool
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
	}

	a.store = store.NewPostgresStore(a.db)
	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.sinks = append(a.sinks, a.store)
	return nil
}

// initCaptions wires the Discord live-caption sink when a caption channel
// is configured.
func (a *App) initCaptions() error {
	channelID := a.cfg.Discord.CaptionChannelID
	if channelID == "" {
		return nil
	}

	if a.messenger == nil {
		dg, err := discordgo.New("Bot " + a.cfg.Discord.BotToken)
		if err != nil {
			return fmt.Errorf("create discord session: %w", err)
		}
		a.messenger = dg
		a.closers = append(a.closers, dg.Close)
	}

	// Discord outages must not fail every delta; guard the caption sink so
	// a broken channel is skipped until it recovers.
	captions := discordcaption.New(a.messenger, channelID)
	a.sinks = append(a.sinks, sink.NewGuard(captions, resilience.NewBreaker("discord-captions")))
	slog.Info("discord captions enabled", "channel_id", channelID)
	return nil
}

// initManager builds the correction pipeline and the session manager from
// the session and postprocess config sections.
func (a *App) initManager() error {
	post, err := a.buildPostProcessor()
	if err != nil {
		return err
	}

	var policy reconcile.PromotionPolicy
	if n := a.cfg.Session.PromoteAfterSeen; n > 0 {
		policy = reconcile.AfterNSeen{N: n}
	}

	mgr, err := session.NewManager(session.ManagerConfig{
		Provider: a.providers.STT,
		Stream: stt.StreamConfig{
			SampleRate: a.cfg.Session.SampleRate,
			Channels:   a.cfg.Session.Channels,
		},
		Sinks:           a.sinks,
		Policy:          policy,
		PromoteInterval: a.cfg.Session.PromoteInterval.Std(),
		Post:            post,
		PostInterval:    a.cfg.Postprocess.Interval.Std(),
		Metrics:         a.metrics,
	})
	if err != nil {
		return err
	}
	a.manager = mgr
	return nil
}

// buildPostProcessor assembles the vocabulary + review pipeline, or returns
// nil when postprocessing is not configured.
func (a *App) buildPostProcessor() (correct.PostProcessor, error) {
	pc := a.cfg.Postprocess
	if len(pc.Vocabulary) == 0 {
		if pc.Review {
			// Without terms to correct against, the review stage would
			// silently pass everything through.
			return nil, fmt.Errorf("postprocess.review requires a non-empty vocabulary")
		}
		return nil, nil
	}

	var opts []correct.PipelineOption

	var matcherOpts []phonetic.Option
	if pc.PhoneticThreshold != 0 {
		matcherOpts = append(matcherOpts, phonetic.WithPhoneticThreshold(pc.PhoneticThreshold))
	}
	if pc.FuzzyThreshold != 0 {
		matcherOpts = append(matcherOpts, phonetic.WithFuzzyThreshold(pc.FuzzyThreshold))
	}
	opts = append(opts, correct.WithMatcher(phonetic.New(matcherOpts...)))

	if pc.Review {
		if a.providers.LLM == nil {
			return nil, fmt.Errorf("postprocess.review requires an llm provider")
		}
		var corrOpts []llmcorrect.Option
		if pc.Temperature != 0 {
			corrOpts = append(corrOpts, llmcorrect.WithTemperature(pc.Temperature))
		}
		opts = append(opts, correct.WithReviewer(llmcorrect.New(a.providers.LLM, corrOpts...)))
	}

	return correct.NewPipeline(pc.Vocabulary, opts...), nil
}

// initServer assembles the HTTP mux: session API, health endpoints, and
// the Prometheus scrape endpoint, all behind the tracing middleware.
func (a *App) initServer() {
	mux := http.NewServeMux()
	a.registerSessionRoutes(mux)

	var checkers []health.Checker
	if a.store != nil {
		checkers = append(checkers, health.Checker{Name: "database", Check: a.store.Ping})
	}
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler returns the app's HTTP handler, for tests and embedding.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Manager returns the session manager.
func (a *App) Manager() *session.Manager { return a.manager }

// Run serves HTTP until ctx is cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("server listening", "addr", a.cfg.Server.ListenAddr)

	select {
	case err := <-errCh:
		a.Shutdown(context.Background())
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		return a.Shutdown(context.Background())
	}
}

// Shutdown drains open sessions, stops the HTTP server, and releases every
// resource acquired in New. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		var errs []error
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := a.manager.CloseAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sessions: %w", err))
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		a.stopErr = errors.Join(errs...)
		slog.Info("server stopped")
	})
	return a.stopErr
}
