package session

import (
	"strings"
	"time"
)

const (
	// spanMaxBytes forces a flush once the accumulated span reaches this
	// size, so run-on prose without punctuation still reaches the
	// synthesizer in bounded pieces.
	spanMaxBytes = 80

	// spanIdleFlush flushes a non-empty remainder after the LLM stream
	// goes quiet without ending a sentence.
	spanIdleFlush = 200 * time.Millisecond
)

// SpanAccumulator groups streamed LLM tokens into synthesis spans. Feeding
// whole sentences to the TTS provider produces natural prosody; feeding raw
// tokens produces choppy audio. A span is emitted when the accumulated text
// ends a sentence or grows past [spanMaxBytes]; the caller is responsible
// for the idle flush (see [spanIdleFlush]).
//
// SpanAccumulator is not safe for concurrent use.
type SpanAccumulator struct {
	buf string
}

// Add appends one streamed chunk. If the chunk completes a span, the span is
// returned with ok=true and the accumulator resets.
func (a *SpanAccumulator) Add(chunk string) (span string, ok bool) {
	a.buf += chunk
	if endsSentence(a.buf) || len(a.buf) >= spanMaxBytes {
		return a.take()
	}
	return "", false
}

// Flush returns the remainder as a final span, if any text is pending.
// Called when the LLM stream ends or goes idle mid-sentence.
func (a *SpanAccumulator) Flush() (span string, ok bool) {
	return a.take()
}

// Pending reports whether undelivered text is buffered.
func (a *SpanAccumulator) Pending() bool {
	return strings.TrimSpace(a.buf) != ""
}

func (a *SpanAccumulator) take() (string, bool) {
	span := strings.TrimSpace(a.buf)
	a.buf = ""
	if span == "" {
		return "", false
	}
	return span, true
}

// endsSentence reports whether the text, ignoring trailing whitespace, ends
// with sentence punctuation.
func endsSentence(s string) bool {
	s = strings.TrimRight(s, " \t\n")
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
