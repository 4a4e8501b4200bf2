// Package session implements the realtime conversation loop at the core of
// Parley: one [Session] per connected client, owning utterance debouncing,
// generation lifecycle, and the ordered speech pipeline.
//
// A session is a single-goroutine event loop fed by channel pumps. Capture
// audio flows through an [STTGateway] that survives provider reconnects;
// final transcripts are debounced in an [UtteranceBuffer] until the speaker
// goes quiet; the committed utterance drives one LLM generation whose tokens
// stream back as transcripts while [SpanAccumulator] groups them into
// synthesis spans released strictly in order.
//
// Cancellation is token-based: the loop owns a generation counter, and every
// goroutine working for a generation captures the counter value at start.
// Bumping the counter (interrupt, merge restart) makes all of that
// generation's output stale; stale goroutines finish quietly and their
// results are discarded. See [Session.Run].
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parleyvoice/parley/internal/client"
	"github.com/parleyvoice/parley/internal/observe"
	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/provider/llm"
	"github.com/parleyvoice/parley/pkg/provider/stt"
	"github.com/parleyvoice/parley/pkg/provider/tts"
	"github.com/parleyvoice/parley/pkg/types"
)

// Defaults applied by [New] when the corresponding [Config] field is zero.
const (
	defaultQuiet           = 1000 * time.Millisecond
	defaultProviderTimeout = 15 * time.Second
	defaultTTSWorkers      = 4
)

// State is the session's position in the listen/think/speak cycle.
type State int

const (
	// StateIdle means no speech is buffered and no generation is running.
	StateIdle State = iota

	// StateBuffering means final transcripts are accumulating and the
	// quiet-window timer is armed.
	StateBuffering

	// StateGenerating means a generation (or the greeting) is in flight.
	StateGenerating
)

// String returns the lowercase state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StateGenerating:
		return "generating"
	default:
		return "unknown"
	}
}

// Client is the session's view of the connected peer. The transport layer
// implements it; tests substitute fakes.
type Client interface {
	// Audio yields capture PCM chunks from the peer. Closed when the peer
	// disconnects.
	Audio() <-chan []byte

	// Interrupts yields one signal per barge-in from the peer. Closed when
	// the peer disconnects.
	Interrupts() <-chan struct{}

	// Send enqueues one outbound frame. It never blocks on the peer; frames
	// may be shed under backpressure per their kind. Returns
	// [client.ErrClientGone] once the connection is unusable. Safe for
	// concurrent use.
	Send(f client.Frame) error
}

// Config configures a [Session].
type Config struct {
	// Client is the connected peer. Required.
	Client Client

	// STT, LLM and TTS are the provider backends. Required.
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider

	// Stream overrides the capture parameters sent to the STT provider.
	// Zero means the default capture format with interim results enabled.
	Stream stt.StreamConfig

	// SystemPrompt and Ack seed the conversation history before the first
	// user turn.
	SystemPrompt string
	Ack          string

	// Greeting, when non-empty, is spoken to the client on connect without
	// consulting the LLM.
	Greeting string

	// Quiet is the debounce window after the last final transcript before
	// the buffered utterance is committed. Defaults to 1 s.
	Quiet time.Duration

	// ProviderTimeout bounds each LLM stream and each TTS span synthesis.
	// Defaults to 15 s.
	ProviderTimeout time.Duration

	// TTSWorkers bounds concurrent span synthesis calls. Defaults to 4.
	TTSWorkers int

	// MaxTurns caps retained conversation exchanges; zero means unbounded.
	MaxTurns int

	// Logger receives session lifecycle events. Defaults to [slog.Default]
	// if nil. Callers typically attach a session_id attribute.
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics] if nil.
	Metrics *observe.Metrics
}

// Session drives one client's conversation. Create with [New], then call
// [Session.Run] exactly once.
type Session struct {
	client  Client
	llm     llm.Provider
	tts     tts.Provider
	gateway *STTGateway

	history *History
	buf     UtteranceBuffer

	greeting        string
	quiet           time.Duration
	providerTimeout time.Duration
	ttsWorkers      int

	log     *slog.Logger
	metrics *observe.Metrics

	// token identifies the live generation; see the package comment.
	token     atomic.Uint64
	cancelGen context.CancelFunc
	genDone   chan genResult

	group *errgroup.Group

	// Loop-owned; never touched outside the event loop.
	state      State
	quietTimer *time.Timer
	quietC     <-chan time.Time
}

// New creates a new [Session] from cfg, applying defaults for zero fields.
func New(cfg Config) *Session {
	quiet := cfg.Quiet
	if quiet <= 0 {
		quiet = defaultQuiet
	}
	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	workers := cfg.TTSWorkers
	if workers <= 0 {
		workers = defaultTTSWorkers
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	stream := cfg.Stream
	if stream.SampleRate == 0 {
		stream = defaultStreamConfig()
	}

	return &Session{
		client: cfg.Client,
		llm:    cfg.LLM,
		tts:    cfg.TTS,
		gateway: NewSTTGateway(STTGatewayConfig{
			Provider: cfg.STT,
			Stream:   stream,
			Logger:   log,
			Metrics:  metrics,
		}),
		history:         NewHistory(cfg.SystemPrompt, cfg.Ack, cfg.MaxTurns),
		greeting:        strings.TrimSpace(cfg.Greeting),
		quiet:           quiet,
		providerTimeout: timeout,
		ttsWorkers:      workers,
		log:             log,
		metrics:         metrics,
		genDone:         make(chan genResult, 1),
	}
}

// defaultStreamConfig returns the capture parameters used when the caller
// does not override them: the standard capture format with interim results,
// smart formatting, and the provider-side quiet detection aligned to the
// session's own debounce window.
func defaultStreamConfig() stt.StreamConfig {
	return stt.StreamConfig{
		SampleRate:     audio.Capture.SampleRate,
		Channels:       audio.Capture.Channels,
		Language:       "en-US",
		InterimResults: true,
		SmartFormat:    true,
		UtteranceEndMs: 1000,
		EndpointingMs:  500,
	}
}

// Run drives the session until the client disconnects or ctx is cancelled.
// It blocks; the caller owns the goroutine. All session goroutines are
// joined before Run returns.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	s.group = new(errgroup.Group)

	s.group.Go(func() error {
		return s.gateway.Run(ctx)
	})

	// Capture pump. Send failures are expected while the gateway redials;
	// the chunk is dropped, stale speech is worthless.
	s.group.Go(func() error {
		audioC := s.client.Audio()
		for {
			select {
			case <-ctx.Done():
				return nil
			case chunk, ok := <-audioC:
				if !ok {
					return nil
				}
				if err := s.gateway.SendAudio(chunk); err != nil {
					s.log.Debug("capture chunk dropped", "error", err)
				}
			}
		}
	})

	if s.greeting != "" {
		s.startGreeting(ctx, s.greeting)
		s.state = StateGenerating
	}

	s.log.Info("session started", "quiet", s.quiet, "tts_workers", s.ttsWorkers)
	err := s.loop(ctx)

	s.stopQuiet()
	if s.cancelGen != nil {
		s.cancelGen()
		s.cancelGen = nil
	}
	cancel()
	s.gateway.Stop()
	werr := s.group.Wait()

	s.log.Info("session ended", "turns", s.history.Len())
	return errors.Join(err, werr)
}

// loop is the event loop. It is the only goroutine that touches session
// state, so handlers run lock-free.
func (s *Session) loop(ctx context.Context) error {
	partials := s.gateway.Partials()
	finals := s.gateway.Finals()
	down := s.gateway.Down()
	interrupts := s.client.Interrupts()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case _, ok := <-interrupts:
			if !ok {
				s.log.Debug("client disconnected")
				return nil
			}
			s.onInterrupt(ctx)

		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if text := strings.TrimSpace(t.Text); text != "" {
				s.send(client.UserTranscript(text, false))
			}

		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			s.onFinal(ctx, t)

		case <-s.quietC:
			s.onQuiet(ctx)

		case res := <-s.genDone:
			s.onGenDone(ctx, res)

		case err := <-down:
			s.onSTTDown(err)
		}
	}
}

// onFinal handles one final transcript: relay it, then either extend the
// pending utterance or, if a generation is in flight, retract the reply and
// fold the new speech into the utterance it answered.
func (s *Session) onFinal(ctx context.Context, t types.Transcript) {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return
	}
	s.settleParkedResult(ctx)

	s.send(client.UserTranscript(text, true))

	if s.state == StateGenerating {
		s.cancelGeneration(ctx)
		s.buf.MergeRegret(text)
		s.log.Debug("generation retracted, utterance merged", "pending_bytes", len(s.buf.Pending()))
	} else {
		s.buf.Extend(text)
	}
	s.armQuiet()
	s.state = StateBuffering
}

// onQuiet fires when the speaker has stayed silent for the full debounce
// window: commit the utterance and start answering it.
func (s *Session) onQuiet(ctx context.Context) {
	s.quietTimer, s.quietC = nil, nil

	utterance := s.buf.Commit()
	if utterance == "" {
		s.state = StateIdle
		return
	}
	s.log.Debug("utterance committed", "bytes", len(utterance))
	s.startGeneration(ctx, utterance)
	s.state = StateGenerating
}

// onInterrupt handles a barge-in from the client. Idle sessions ignore it;
// otherwise pending speech is discarded and any in-flight generation is
// retracted.
func (s *Session) onInterrupt(ctx context.Context) {
	s.settleParkedResult(ctx)

	if s.state == StateIdle {
		return
	}
	s.log.Debug("interrupt", "state", s.state)
	s.stopQuiet()
	if s.state == StateGenerating {
		s.cancelGeneration(ctx)
	}
	s.buf.Clear()
	s.state = StateIdle
}

// onGenDone settles a finished generation. Results from superseded
// generations are dropped: their audio was never released, and the utterance
// they answered has been folded into a newer one.
func (s *Session) onGenDone(ctx context.Context, res genResult) {
	if res.token != s.token.Load() {
		return
	}
	if s.cancelGen != nil {
		s.cancelGen()
		s.cancelGen = nil
	}
	s.state = StateIdle

	if res.err != nil {
		// Teardown cancellation is not worth an error frame; the client is
		// gone or the server is stopping.
		if !errors.Is(res.err, context.Canceled) {
			s.log.Error("generation failed", "error", res.err)
			s.send(client.ErrorMessage(errorText(res.err)))
		}
		return
	}

	s.send(client.ResponseComplete())
	s.metrics.GenerationsCompleted.Add(ctx, 1)

	if !res.greeting && res.reply != "" {
		s.history.Append(res.utterance, res.reply)
	}
	s.log.Info("generation complete",
		"utterance_bytes", len(res.utterance),
		"reply_bytes", len(res.reply),
		"turns", s.history.Len(),
	)
}

// onSTTDown relays the one-shot degradation notice: the gateway exhausted
// its retry budget and the session can no longer hear.
func (s *Session) onSTTDown(err error) {
	s.log.Debug("stt degraded", "error", err)
	s.send(client.ErrorMessage("speech recognition unavailable"))
}

// settleParkedResult drains a generation result that finished but has not
// been through [Session.onGenDone] yet. Settling before handling new speech
// keeps ordering honest: a reply whose audio fully played counts as
// completed, not retracted.
func (s *Session) settleParkedResult(ctx context.Context) {
	select {
	case res := <-s.genDone:
		s.onGenDone(ctx, res)
	default:
	}
}

// cancelGeneration retracts the in-flight generation. The token bump makes
// its goroutines go quiet; the context cancel aborts their provider calls.
func (s *Session) cancelGeneration(ctx context.Context) {
	s.token.Add(1)
	if s.cancelGen != nil {
		s.cancelGen()
		s.cancelGen = nil
	}
	s.metrics.GenerationsCancelled.Add(ctx, 1)
}

// armQuiet restarts the quiet window. A fresh timer and channel per arm
// means a fire from an abandoned window can never be mistaken for the live
// one.
func (s *Session) armQuiet() {
	s.stopQuiet()
	s.quietTimer = time.NewTimer(s.quiet)
	s.quietC = s.quietTimer.C
}

func (s *Session) stopQuiet() {
	if s.quietTimer != nil {
		s.quietTimer.Stop()
		s.quietTimer, s.quietC = nil, nil
	}
}

// send delivers a frame best-effort from the loop. Failures mean the client
// is gone; the loop learns that through its interrupt channel closing.
func (s *Session) send(f client.Frame) {
	if err := s.client.Send(f); err != nil {
		s.log.Debug("outbound frame dropped", "kind", f.Kind, "error", err)
	}
}

// errorText maps an internal generation failure to the short message
// relayed to the client. Detail stays in the server log.
func errorText(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "response timed out"
	}
	return "response failed"
}
