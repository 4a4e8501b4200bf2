// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio to consumers and to verify which text
// spans were synthesized. Because the session layer synthesizes spans
// concurrently, scripted responses are keyed by span text rather than call
// order.
//
// Example:
//
//	p := &mock.Provider{
//	    ErrFor:   map[string]error{"Third span.": errors.New("boom")},
//	    DelayFor: map[string]time.Duration{"First span.": 50 * time.Millisecond},
//	}
//	pcm, err := p.Synthesize(ctx, "First span.")
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/parleyvoice/parley/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the span passed to Synthesize.
	Text string
}

// Provider is a mock implementation of tts.Provider.
//
// By default every call returns the span text itself as the PCM payload, which
// lets tests assert that audio output maps to the expected span without
// managing byte fixtures. Set PCMFor or PCM to override.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// PCM, if non-nil, is returned for every call not covered by PCMFor.
	PCM []byte

	// PCMFor maps span text to the PCM returned for that span.
	PCMFor map[string][]byte

	// Err, if non-nil, is returned by every call not covered by ErrFor.
	Err error

	// ErrFor maps span text to an error returned for that span.
	ErrFor map[string]error

	// DelayFor maps span text to a delay applied before returning. The delay
	// respects ctx cancellation. Useful for verifying that audio is released in
	// span order even when an early span synthesizes slowly.
	DelayFor map[string]time.Duration

	// --- Call records (read after test) ---

	// SynthesizeCalls records every invocation of Synthesize in arrival order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the scripted PCM or error for text.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text})
	delay := p.DelayFor[text]
	err, errScripted := p.ErrFor[text]
	if !errScripted {
		err = p.Err
	}
	pcm, pcmScripted := p.PCMFor[text]
	if !pcmScripted {
		if p.PCM != nil {
			pcm = p.PCM
		} else {
			pcm = []byte(text)
		}
	}
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	return cp, nil
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Texts returns the span texts passed to Synthesize in arrival order.
// Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
