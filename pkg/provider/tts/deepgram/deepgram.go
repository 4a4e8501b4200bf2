// Package deepgram provides a Deepgram Aura-backed TTS provider using the
// Deepgram speak REST API. It implements the tts.Provider interface.
//
// Each Synthesize call performs one POST /v1/speak request and returns the
// response body as raw PCM. The provider requests headerless linear16 output
// (container=none), so no WAV parsing is needed; the bytes can be framed and
// shipped to a client as-is.
//
// Typical usage:
//
//	p, err := deepgram.New(apiKey,
//	    deepgram.WithModel("aura-asteria-en"),
//	    deepgram.WithSampleRate(24000),
//	)
//	pcm, err := p.Synthesize(ctx, "Hello there.")
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/parleyvoice/parley/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultBaseURL    = "https://api.deepgram.com"
	speakEndpoint     = "/v1/speak"
	defaultModel      = "aura-asteria-en"
	defaultSampleRate = 24000
	defaultTimeout    = 30 * time.Second
)

// Option is a functional option for configuring a Deepgram TTS Provider.
type Option func(*Provider)

// WithModel sets the Aura voice model (e.g., "aura-asteria-en", "aura-orion-en").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithSampleRate sets the output PCM sample rate in Hz. Defaults to 24000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithBaseURL overrides the Deepgram API base URL. Intended for tests and
// self-hosted deployments.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// Provider implements tts.Provider backed by the Deepgram speak REST API.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	sampleRate int
	httpClient *http.Client
}

// New creates a new Deepgram TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// speakRequest is the JSON body for a POST /v1/speak call.
type speakRequest struct {
	Text string `json:"text"`
}

// Synthesize performs a single speak request and returns the raw PCM bytes.
// Empty or whitespace-only spans return (nil, nil) without a network call.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	data, err := json.Marshal(speakRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("deepgram: marshal speak request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.speakURL(), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("deepgram: create speak request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: POST %s: %w", speakEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram: POST %s returned status %d", speakEndpoint, resp.StatusCode)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read audio response: %w", err)
	}
	return pcm, nil
}

// speakURL builds the speak endpoint URL with the configured voice and format.
func (p *Provider) speakURL() string {
	q := url.Values{}
	q.Set("model", p.model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(p.sampleRate))
	q.Set("container", "none")
	return p.baseURL + speakEndpoint + "?" + q.Encode()
}
