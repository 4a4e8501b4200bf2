// Package app wires the Parley subsystems into a running HTTP server.
//
// The App owns the full lifecycle: New builds the route table and session
// manager, Run serves until the context is cancelled or the listener fails,
// and Shutdown stops accepting connections and drains live sessions within
// the caller's deadline.
//
// For testing, inject scripted providers via the [Providers] struct and
// options like [WithMetricsHandler]; the route table is reachable through
// [App.Handler] so tests can serve it from httptest.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/parleyvoice/parley/internal/client"
	"github.com/parleyvoice/parley/internal/config"
	"github.com/parleyvoice/parley/internal/health"
	"github.com/parleyvoice/parley/internal/observe"
	"github.com/parleyvoice/parley/internal/session"
	"github.com/parleyvoice/parley/pkg/provider/llm"
	"github.com/parleyvoice/parley/pkg/provider/stt"
	"github.com/parleyvoice/parley/pkg/provider/tts"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers. It does not apply to established WebSocket connections.
const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per pipeline stage. Populated by
// main.go via the config registry; tests inject scripted fakes.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
}

// App owns the HTTP server and the sessions running on it.
type App struct {
	cfg       *config.Config
	providers Providers

	log            *slog.Logger
	metrics        *observe.Metrics
	metricsHandler http.Handler
	extraChecks    []health.Checker

	sessions *SessionManager
	health   *health.Handler
	srv      *http.Server

	draining atomic.Bool
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles and
// the telemetry wiring built in main.
type Option func(*App)

// WithLogger sets the application logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithMetrics sets the metrics instruments shared with the session layer.
// Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at GET /metrics. main passes the Prometheus
// exposition handler returned by [observe.InitProvider]; without it the route
// is not registered.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithReadinessCheck adds a checker to the /readyz probe beyond the built-in
// accepting-connections check.
func WithReadinessCheck(c health.Checker) Option {
	return func(a *App) { a.extraChecks = append(a.extraChecks, c) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New assembles the application from config and constructed providers. All
// three providers are required; missing ones are a configuration error the
// caller surfaces before binding the listener.
func New(cfg *config.Config, providers Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	switch {
	case providers.LLM == nil:
		return nil, errors.New("app: llm provider is required")
	case providers.STT == nil:
		return nil, errors.New("app: stt provider is required")
	case providers.TTS == nil:
		return nil, errors.New("app: tts provider is required")
	}

	a.sessions = NewSessionManager(a.log)

	checks := append([]health.Checker{{
		Name: "accepting",
		Check: func(context.Context) error {
			if a.draining.Load() {
				return errors.New("server is draining")
			}
			return nil
		},
	}}, a.extraChecks...)
	a.health = health.New(checks...)

	a.srv = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           a.buildRoutes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return a, nil
}

// buildRoutes assembles the route table. The short-lived routes (health,
// readiness, metrics) run behind the observability middleware; the WebSocket
// route is served outside it because a session-long HTTP span would be noise.
func (a *App) buildRoutes() http.Handler {
	instrumented := http.NewServeMux()
	a.health.Register(instrumented)
	if a.metricsHandler != nil {
		instrumented.Handle("GET /metrics", a.metricsHandler)
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /ws", a.handleWS)
	root.Handle("/", observe.Middleware(a.metrics)(instrumented))
	return root
}

// Handler exposes the assembled route table, mainly for tests serving the app
// through httptest.
func (a *App) Handler() http.Handler {
	return a.srv.Handler
}

// Sessions exposes the session manager, e.g. for status reporting.
func (a *App) Sessions() *SessionManager {
	return a.sessions
}

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

// Run binds the listener and serves until ctx is cancelled or the server
// fails. It returns nil on a context-triggered stop; the caller then calls
// [App.Shutdown] with a drain deadline.
func (a *App) Run(ctx context.Context) error {
	errC := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.srv.ListenAndServe()
		}
		errC <- err
	}()

	a.log.Info("server listening",
		"addr", a.cfg.Server.Addr(),
		"tls", a.cfg.Server.TLS != nil,
	)

	select {
	case err := <-errC:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Shutdown stops accepting requests, then cancels and drains every live
// session. It respects the context deadline; sessions still running when it
// expires are reported in the returned error. Idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.draining.Store(true)
		a.log.Info("shutting down", "active_sessions", a.sessions.Count())

		serr := a.srv.Shutdown(ctx)
		cerr := a.sessions.CloseAll(ctx)
		err = errors.Join(serr, cerr)

		a.log.Info("shutdown complete")
	})
	return err
}

// ─── WebSocket handler ───────────────────────────────────────────────────────

// handleWS upgrades the request and runs one session for the lifetime of the
// connection. The handler goroutine is the session's Run goroutine.
func (a *App) handleWS(w http.ResponseWriter, r *http.Request) {
	if a.draining.Load() {
		http.Error(w, "server is draining", http.StatusServiceUnavailable)
		return
	}

	id := uuid.NewString()
	log := a.log.With("session_id", id)

	ch, err := client.Accept(w, r, client.ChannelConfig{
		QueueLimit:     a.cfg.Session.WriterQueue,
		OriginPatterns: a.cfg.Server.AllowedOrigins,
		Logger:         log,
		Metrics:        a.metrics,
	})
	if err != nil {
		log.Debug("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer ch.Close()

	ctx, end, err := a.sessions.Begin(id)
	if err != nil {
		log.Debug("connection rejected", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer end()

	sess := session.New(session.Config{
		Client:       ch,
		STT:          a.providers.STT,
		LLM:          a.providers.LLM,
		TTS:          a.providers.TTS,
		SystemPrompt: a.cfg.Prompts.System,
		Ack:          a.cfg.Prompts.Ack,
		Greeting:     a.cfg.Prompts.Greeting,
		Quiet:        time.Duration(a.cfg.Session.QuietMs) * time.Millisecond,
		TTSWorkers:   a.cfg.Session.TTSWorkers,
		MaxTurns:     a.cfg.History.MaxTurns,
		Logger:       log,
		Metrics:      a.metrics,
	})

	if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("session ended with error", "error", err)
	}
}
