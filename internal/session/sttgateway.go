package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parleyvoice/parley/internal/observe"
	"github.com/parleyvoice/parley/pkg/provider/stt"
	"github.com/parleyvoice/parley/pkg/types"
)

// Default STT reconnection parameters.
const (
	defaultSTTBackoff    = 250 * time.Millisecond
	defaultSTTMaxBackoff = 4 * time.Second
	defaultSTTAttempts   = 5

	// transcriptBuf sizes the gateway's outbound transcript channels. The
	// session loop drains them quickly; the buffer only absorbs scheduling
	// jitter.
	transcriptBuf = 16
)

// ErrSTTDown is returned by [STTGateway.SendAudio] while no upstream stream
// is live. Callers drop the audio chunk; the gateway is reconnecting (or has
// given up) and buffering stale audio would only delay recognition further.
var ErrSTTDown = errors.New("session: stt stream down")

// STTGateway owns the upstream speech-to-text stream for one session. It
// presents stable transcript channels that survive reconnects: when the
// provider stream dies mid-session the gateway redials with exponential
// backoff and resumes pumping into the same channels, so the session loop
// never has to re-subscribe.
//
// If an outage exhausts the retry budget the gateway reports the failure on
// [STTGateway.Down] and exits. The session stays up in a degraded state,
// still able to speak, just unable to hear.
type STTGateway struct {
	provider stt.Provider
	cfg      stt.StreamConfig
	log      *slog.Logger
	metrics  *observe.Metrics

	backoff     time.Duration
	maxBackoff  time.Duration
	maxAttempts int

	partials chan types.Transcript
	finals   chan types.Transcript
	down     chan error

	mu     sync.Mutex
	handle stt.SessionHandle

	dialed   bool // an initial dial happened; later dials count as reconnects
	stopped  chan struct{}
	stopOnce sync.Once
}

// STTGatewayConfig configures an [STTGateway].
type STTGatewayConfig struct {
	// Provider is the speech-to-text backend to stream against.
	Provider stt.Provider

	// Stream holds the capture parameters passed to the provider on every
	// (re)dial.
	Stream stt.StreamConfig

	// Backoff is the initial delay between dial attempts. Doubles each
	// attempt up to MaxBackoff. Defaults to 250ms if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 4s if
	// zero.
	MaxBackoff time.Duration

	// MaxAttempts is the dial budget per outage before the gateway gives up.
	// Defaults to 5 if zero.
	MaxAttempts int

	// Logger receives connection lifecycle events. Defaults to
	// [slog.Default] if nil.
	Logger *slog.Logger

	// Metrics records reconnection attempts. Defaults to
	// [observe.DefaultMetrics] if nil.
	Metrics *observe.Metrics
}

// NewSTTGateway creates a new [STTGateway]. Call [STTGateway.Run] to dial
// and start pumping transcripts.
func NewSTTGateway(cfg STTGatewayConfig) *STTGateway {
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultSTTBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultSTTMaxBackoff
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultSTTAttempts
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &STTGateway{
		provider:    cfg.Provider,
		cfg:         cfg.Stream,
		log:         log,
		metrics:     metrics,
		backoff:     backoff,
		maxBackoff:  maxBackoff,
		maxAttempts: maxAttempts,
		partials:    make(chan types.Transcript, transcriptBuf),
		finals:      make(chan types.Transcript, transcriptBuf),
		down:        make(chan error, 1),
		stopped:     make(chan struct{}),
	}
}

// Partials returns the stream of interim transcripts. Closed when the
// gateway exits.
func (g *STTGateway) Partials() <-chan types.Transcript { return g.partials }

// Finals returns the stream of final transcripts. Closed when the gateway
// exits.
func (g *STTGateway) Finals() <-chan types.Transcript { return g.finals }

// Down delivers at most one error: the outage that exhausted the retry
// budget. A clean shutdown never signals it.
func (g *STTGateway) Down() <-chan error { return g.down }

// SendAudio forwards one capture chunk to the live upstream stream. While
// the gateway is between streams it returns [ErrSTTDown] and the chunk is
// lost; speech audio is only useful live.
func (g *STTGateway) SendAudio(chunk []byte) error {
	g.mu.Lock()
	h := g.handle
	g.mu.Unlock()

	if h == nil {
		return ErrSTTDown
	}
	if err := h.SendAudio(chunk); err != nil {
		return fmt.Errorf("stt gateway send audio: %w", err)
	}
	return nil
}

// Stop makes the gateway wind down: the current stream is closed and no
// further redials are attempted. Safe to call multiple times.
func (g *STTGateway) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopped)
	})
}

// Run dials the provider and pumps transcripts until the session ends, the
// gateway is stopped, or an outage exhausts the retry budget. It always
// returns nil: STT loss degrades the session but never tears it down.
func (g *STTGateway) Run(ctx context.Context) error {
	defer close(g.partials)
	defer close(g.finals)

	for {
		handle, err := g.connect(ctx)
		if err != nil {
			if ctx.Err() == nil && !g.isStopped() {
				g.log.Error("stt stream unavailable, session degraded", "error", err)
				g.down <- err
			}
			return nil
		}

		g.setHandle(handle)
		redial := g.pump(ctx, handle)
		g.setHandle(nil)
		_ = handle.Close()

		if !redial {
			return nil
		}
		g.log.Warn("stt stream lost, redialling")
	}
}

// connect dials the provider with capped exponential backoff. Every dial
// after the session's first counts as a reconnection attempt.
func (g *STTGateway) connect(ctx context.Context) (stt.SessionHandle, error) {
	backoff := g.backoff
	var lastErr error

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-g.stopped:
			return nil, ErrSTTDown
		default:
		}

		if g.dialed {
			g.metrics.RecordSTTReconnect(ctx)
		}
		g.dialed = true

		handle, err := g.provider.StartStream(ctx, g.cfg)
		if err == nil {
			if attempt > 1 {
				g.log.Info("stt stream established", "attempt", attempt)
			}
			return handle, nil
		}
		lastErr = err

		g.log.Warn("stt connect failed",
			"attempt", attempt,
			"max_attempts", g.maxAttempts,
			"backoff", backoff,
			"error", err,
		)

		if attempt == g.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-g.stopped:
			return nil, ErrSTTDown
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > g.maxBackoff {
			backoff = g.maxBackoff
		}
	}

	return nil, fmt.Errorf("stt gateway connect: %d attempts exhausted: %w", g.maxAttempts, lastErr)
}

// pump forwards transcripts from one stream handle until it dies or the
// session ends. It reports whether the gateway should redial.
func (g *STTGateway) pump(ctx context.Context, h stt.SessionHandle) (redial bool) {
	hp, hf := h.Partials(), h.Finals()

	for hp != nil || hf != nil {
		select {
		case <-ctx.Done():
			return false
		case <-g.stopped:
			return false
		case t, ok := <-hp:
			if !ok {
				hp = nil
				continue
			}
			g.forward(ctx, g.partials, t)
		case t, ok := <-hf:
			if !ok {
				hf = nil
				continue
			}
			g.forward(ctx, g.finals, t)
		}
	}
	return true
}

// forward delivers one transcript to the session loop. Transcripts for a
// session already tearing down are discarded.
func (g *STTGateway) forward(ctx context.Context, dst chan types.Transcript, t types.Transcript) {
	select {
	case dst <- t:
	case <-ctx.Done():
	case <-g.stopped:
	}
}

func (g *STTGateway) setHandle(h stt.SessionHandle) {
	g.mu.Lock()
	g.handle = h
	g.mu.Unlock()
}

func (g *STTGateway) isStopped() bool {
	select {
	case <-g.stopped:
		return true
	default:
		return false
	}
}
