package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parleyvoice/parley/internal/client"
	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/provider/llm"
	"github.com/parleyvoice/parley/pkg/types"
)

const (
	// audioFrameBytes is the PCM payload per outbound audio frame: 250 ms
	// at the 24 kHz mono 16-bit playback format.
	audioFrameBytes = 12000

	// spanBuf sizes the channel between the LLM reader and the synthesis
	// dispatcher, letting the reader run ahead of slow synthesis without
	// stalling transcript delivery.
	spanBuf = 16
)

// genResult is delivered to the session loop when a generation goroutine
// finishes, naturally or otherwise. The loop discards results whose token no
// longer matches the live generation.
type genResult struct {
	token     uint64
	utterance string
	reply     string
	greeting  bool
	err       error
}

// ttsResult carries one synthesised span, or the reason it failed, from a
// synthesis worker back to the in-order collector.
type ttsResult struct {
	span string
	pcm  []byte
	err  error
}

// stale reports whether tok no longer identifies the live generation.
// Goroutines spawned for a generation capture their token at start and check
// it before emitting anything to the client.
func (s *Session) stale(tok uint64) bool {
	return s.token.Load() != tok
}

// startGeneration snapshots the conversation, claims a fresh generation
// token, and launches the generation goroutine. Called only from the session
// loop.
func (s *Session) startGeneration(ctx context.Context, utterance string) {
	tok := s.token.Add(1)
	genCtx, cancel := context.WithCancel(ctx)
	s.cancelGen = cancel
	s.metrics.GenerationsStarted.Add(ctx, 1)

	msgs := append(s.history.Messages(), types.Message{
		Role:    types.RoleUser,
		Content: utterance,
	})

	s.group.Go(func() error {
		res := s.runGeneration(genCtx, tok, utterance, msgs)
		select {
		case s.genDone <- res:
		case <-ctx.Done():
		}
		return nil
	})
}

// startGreeting speaks the configured greeting line without consulting the
// LLM: the text is fixed, so it goes straight through the synthesis
// pipeline. A greeting is interruptible like any generation but is never
// recorded in the conversation history.
func (s *Session) startGreeting(ctx context.Context, text string) {
	tok := s.token.Add(1)
	genCtx, cancel := context.WithCancel(ctx)
	s.cancelGen = cancel
	s.metrics.GenerationsStarted.Add(ctx, 1)

	s.group.Go(func() error {
		res := s.runGreeting(genCtx, tok, text)
		select {
		case s.genDone <- res:
		case <-ctx.Done():
		}
		return nil
	})
}

// runGeneration streams one LLM completion, relaying each chunk to the
// client as an agent transcript and grouping chunks into synthesis spans.
// It returns when the stream ends, errors, times out, or the generation is
// superseded.
func (s *Session) runGeneration(ctx context.Context, tok uint64, utterance string, msgs []types.Message) genResult {
	res := genResult{token: tok, utterance: utterance}

	llmCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	chunks, err := s.llm.StreamCompletion(llmCtx, llm.CompletionRequest{Messages: msgs})
	if err != nil {
		res.err = fmt.Errorf("llm stream: %w", err)
		return res
	}

	spanCh, audioDone := s.startSpanPipeline(ctx, tok)

	var (
		spans SpanAccumulator
		reply strings.Builder

		idleTimer *time.Timer
		idleC     <-chan time.Time
	)
	stopIdle := func() {
		if idleTimer != nil {
			idleTimer.Stop()
			idleTimer, idleC = nil, nil
		}
	}
	armIdle := func() {
		stopIdle()
		idleTimer = time.NewTimer(spanIdleFlush)
		idleC = idleTimer.C
	}
	emit := func(span string) bool {
		select {
		case spanCh <- span:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			stopIdle()
			close(spanCh)
			res.err = ctx.Err()
			return res

		case <-llmCtx.Done():
			stopIdle()
			close(spanCh)
			res.err = fmt.Errorf("llm stream: %w", llmCtx.Err())
			return res

		case <-idleC:
			idleTimer, idleC = nil, nil
			if span, ok := spans.Flush(); ok && !emit(span) {
				close(spanCh)
				res.err = ctx.Err()
				return res
			}

		case chunk, ok := <-chunks:
			if !ok {
				// Natural end of stream: flush the tail span and wait for
				// its audio so the completion marker trails all speech.
				stopIdle()
				if span, ok := spans.Flush(); ok {
					emit(span)
				}
				close(spanCh)
				select {
				case <-audioDone:
				case <-ctx.Done():
				}
				res.reply = strings.TrimSpace(reply.String())
				return res
			}

			if s.stale(tok) {
				// Superseded mid-stream. Leave the provider goroutine free
				// to finish against a drained channel.
				go audio.Drain(chunks)
				stopIdle()
				close(spanCh)
				res.err = context.Canceled
				return res
			}

			if chunk.FinishReason == llm.FinishError {
				go audio.Drain(chunks)
				stopIdle()
				close(spanCh)
				res.err = fmt.Errorf("llm stream: %s", chunk.Text)
				return res
			}

			if chunk.Text != "" {
				s.metrics.LLMChunks.Add(ctx, 1)
				reply.WriteString(chunk.Text)
				if err := s.client.Send(client.AITranscript(chunk.Text)); err != nil {
					go audio.Drain(chunks)
					stopIdle()
					close(spanCh)
					res.err = fmt.Errorf("relay transcript: %w", err)
					return res
				}
				if span, ok := spans.Add(chunk.Text); ok {
					stopIdle()
					if !emit(span) {
						res.err = ctx.Err()
						close(spanCh)
						return res
					}
				} else if spans.Pending() {
					armIdle()
				}
			}
		}
	}
}

// runGreeting pushes the fixed greeting text through the transcript and
// synthesis paths as a single span.
func (s *Session) runGreeting(ctx context.Context, tok uint64, text string) genResult {
	res := genResult{token: tok, reply: text, greeting: true}

	if err := s.client.Send(client.AITranscript(text)); err != nil {
		res.err = fmt.Errorf("relay greeting: %w", err)
		return res
	}

	spanCh, audioDone := s.startSpanPipeline(ctx, tok)
	select {
	case spanCh <- text:
	case <-ctx.Done():
	}
	close(spanCh)
	select {
	case <-audioDone:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	return res
}

// startSpanPipeline launches the synthesis dispatcher and collector for one
// generation. Spans written to the returned channel are synthesised
// concurrently, up to the configured worker count, while their audio is
// released to the client strictly in span order: each span's result travels
// on a future channel enqueued at dispatch time, and the collector drains
// the futures in dispatch order.
//
// The caller closes the span channel when no more spans are coming; the
// done channel closes once all accepted spans have been released or
// abandoned.
func (s *Session) startSpanPipeline(ctx context.Context, tok uint64) (chan<- string, <-chan struct{}) {
	spanCh := make(chan string, spanBuf)
	done := make(chan struct{})

	// resultQueue carries ordered future channels; its capacity bounds how
	// many synthesis calls run concurrently.
	resultQueue := make(chan chan ttsResult, s.ttsWorkers)

	// Dispatcher: one future per span, enqueued before the worker starts so
	// queue order is span order.
	go func() {
		defer close(resultQueue)
		for {
			select {
			case span, ok := <-spanCh:
				if !ok {
					return
				}
				ch := make(chan ttsResult, 1)
				select {
				case resultQueue <- ch:
				case <-ctx.Done():
					return
				}
				go func(span string, out chan<- ttsResult) {
					start := time.Now()
					ttsCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
					defer cancel()
					pcm, err := s.tts.Synthesize(ttsCtx, span)
					metricErr := err
					if errors.Is(metricErr, context.Canceled) {
						// Superseded mid-flight, not a provider failure.
						metricErr = nil
					}
					s.metrics.RecordTTSSpan(ctx, time.Since(start), metricErr)
					out <- ttsResult{span: span, pcm: pcm, err: err}
				}(span, ch)
			case <-ctx.Done():
				return
			}
		}
	}()

	// Collector: drains futures in dispatch order and releases audio. A
	// failed span is skipped so the reply keeps playing; a span finishing
	// after its generation was superseded is silently discarded.
	go func() {
		defer close(done)
		for {
			select {
			case ch, ok := <-resultQueue:
				if !ok {
					return
				}
				select {
				case r := <-ch:
					if s.stale(tok) {
						continue
					}
					if r.err != nil {
						s.log.Warn("tts span failed, skipping",
							"span_bytes", len(r.span),
							"error", r.err,
						)
						continue
					}
					for _, frame := range audio.Chunks(r.pcm, audioFrameBytes) {
						if err := s.client.Send(client.Audio(frame)); err != nil {
							return
						}
					}
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return spanCh, done
}
