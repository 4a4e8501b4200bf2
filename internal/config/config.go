// Package config provides the configuration schema, loader, and provider registry
// for the Parley voice agent server.
package config

import (
	"net"
	"strconv"
)

// LogLevel controls log verbosity for the Parley server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [Default] for any field left unset by file and environment.
const (
	DefaultListenAddr = "0.0.0.0"
	DefaultListenPort = 3000

	// DefaultQuietMs is the silence window after the last final transcript
	// before the buffered utterance is promoted and a generation starts.
	DefaultQuietMs = 1000

	DefaultWriterQueue = 64
	DefaultTTSWorkers  = 4

	DefaultLLMProvider = "gemini"
	DefaultLLMModel    = "gemini-1.5-flash"
	DefaultSTTProvider = "deepgram"
	DefaultSTTModel    = "nova-2"
	DefaultTTSProvider = "deepgram"
	DefaultTTSModel    = "aura-asteria-en"

	DefaultSystemPrompt = "You are a concise voice assistant. Keep answers short."
	DefaultAckPrompt    = "Understood. I will be brief."
)

// Config is the root configuration structure for Parley.
// It is typically loaded from a YAML file plus environment overrides using [Load].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Prompts   PromptsConfig   `yaml:"prompts"`
	Session   SessionConfig   `yaml:"session"`
	History   HistoryConfig   `yaml:"history"`
}

// ServerConfig holds network and logging settings for the Parley server.
type ServerConfig struct {
	// ListenAddr is the interface address the server binds (e.g., "0.0.0.0").
	ListenAddr string `yaml:"listen_addr"`

	// ListenPort is the TCP port the server listens on.
	ListenPort int `yaml:"listen_port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists origin patterns permitted to open the WebSocket,
	// for clients served from a different host than this server. Empty means
	// same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	// Browsers require a secure context for microphone capture, so production
	// deployments terminate TLS either here or at a fronting proxy.
	TLS *TLSConfig `yaml:"tls"`
}

// Addr returns the host:port string the HTTP server binds.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.ListenAddr, strconv.Itoa(s.ListenPort))
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// PromptsConfig holds the conversational framing injected into every session.
type PromptsConfig struct {
	// System is the preamble seeded as the first history turn of each session.
	System string `yaml:"system"`

	// Ack is the assistant acknowledgement seeded right after the preamble.
	Ack string `yaml:"ack"`

	// Greeting, when non-empty, is spoken to the client immediately after it
	// connects. It goes through TTS only; the LLM is not consulted.
	Greeting string `yaml:"greeting"`
}

// SessionConfig tunes per-session pipeline behaviour.
type SessionConfig struct {
	// QuietMs is the silence window in milliseconds after the last final
	// transcript before the buffered utterance is sent to the LLM.
	QuietMs int `yaml:"quiet_ms"`

	// WriterQueue is the depth of the outbound client frame queue. When the
	// queue overflows, droppable frames (interim transcripts, audio) are shed.
	WriterQueue int `yaml:"writer_queue"`

	// TTSWorkers bounds how many spans are synthesized concurrently per session.
	TTSWorkers int `yaml:"tts_workers"`
}

// HistoryConfig tunes the per-session chat history.
type HistoryConfig struct {
	// MaxTurns caps retained user+assistant pairs beyond the seeded preamble.
	// 0 means unlimited.
	MaxTurns int `yaml:"max_turns"`
}

// Default returns a Config populated with every default value. [Load] decodes
// the YAML file over this baseline, so absent file fields keep their defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
			ListenPort: DefaultListenPort,
			LogLevel:   LogInfo,
		},
		Providers: ProvidersConfig{
			LLM: ProviderEntry{Name: DefaultLLMProvider, Model: DefaultLLMModel},
			STT: ProviderEntry{Name: DefaultSTTProvider, Model: DefaultSTTModel},
			TTS: ProviderEntry{Name: DefaultTTSProvider, Model: DefaultTTSModel},
		},
		Prompts: PromptsConfig{
			System: DefaultSystemPrompt,
			Ack:    DefaultAckPrompt,
		},
		Session: SessionConfig{
			QuietMs:     DefaultQuietMs,
			WriterQueue: DefaultWriterQueue,
			TTSWorkers:  DefaultTTSWorkers,
		},
	}
}
