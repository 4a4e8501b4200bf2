// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Deepgram Aura) and
// presents a uniform span-oriented interface. The session layer aggregates LLM
// output into short text spans and synthesizes each span as a separate call;
// spans may be synthesized concurrently, so the interface is deliberately a
// single blocking call rather than a stream. Ordering and cancellation are the
// caller's concern.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple Synthesize calls
// may run in parallel (the session layer fans spans out to a bounded worker
// pool).
type Provider interface {
	// Synthesize converts a short text span into raw PCM audio bytes in the
	// provider's configured encoding and sample rate. The call blocks until the
	// full span's audio is available or ctx is cancelled.
	//
	// An empty or whitespace-only span should return (nil, nil) without
	// contacting the service. Errors are span-scoped: the caller decides
	// whether to drop the span or abort.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
