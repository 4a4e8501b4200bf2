package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "openai-native", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram"},
	"tts": {"deepgram", "elevenlabs"},
}

// Environment variables recognised by [ApplyEnv]. The three API keys are
// required; everything else falls back to the file value or default.
const (
	EnvSTTAPIKey  = "STT_API_KEY"
	EnvLLMAPIKey  = "LLM_API_KEY"
	EnvTTSAPIKey  = "TTS_API_KEY"
	EnvListenAddr = "LISTEN_ADDR"
	EnvListenPort = "LISTEN_PORT"
	EnvQuietMs    = "QUIET_MS"
	EnvLLMModel   = "LLM_MODEL"
	EnvSTTModel   = "STT_MODEL"
	EnvTTSModel   = "TTS_MODEL"
)

// Load assembles the effective configuration: defaults, overlaid by the YAML
// file at path (if it exists), overlaid by environment variables, then
// validated. A missing file is not an error — the environment alone can
// configure a working server. An empty path skips the file step entirely.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Debug("config file not found, using defaults and environment", "path", path)
		case err != nil:
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		default:
			defer f.Close()
			cfg, err = LoadFromReader(f)
			if err != nil {
				return nil, fmt.Errorf("config: parse %q: %w", path, err)
			}
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults from [Default].
// It performs no environment overlay and no validation; callers compose those
// as [Load] does. Useful in tests where configs are built from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays recognised environment variables onto cfg. Variables that
// are set override file values; unset variables leave cfg untouched.
func ApplyEnv(cfg *Config) error {
	var errs []error

	if v, ok := os.LookupEnv(EnvSTTAPIKey); ok {
		cfg.Providers.STT.APIKey = v
	}
	if v, ok := os.LookupEnv(EnvLLMAPIKey); ok {
		cfg.Providers.LLM.APIKey = v
	}
	if v, ok := os.LookupEnv(EnvTTSAPIKey); ok {
		cfg.Providers.TTS.APIKey = v
	}
	if v, ok := os.LookupEnv(EnvListenAddr); ok {
		cfg.Server.ListenAddr = v
	}
	if v, ok := os.LookupEnv(EnvListenPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s %q is not a number", EnvListenPort, v))
		} else {
			cfg.Server.ListenPort = port
		}
	}
	if v, ok := os.LookupEnv(EnvQuietMs); ok {
		ms, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s %q is not a number", EnvQuietMs, v))
		} else {
			cfg.Session.QuietMs = ms
		}
	}
	if v, ok := os.LookupEnv(EnvLLMModel); ok {
		cfg.Providers.LLM.Model = v
	}
	if v, ok := os.LookupEnv(EnvSTTModel); ok {
		cfg.Providers.STT.Model = v
	}
	if v, ok := os.LookupEnv(EnvTTSModel); ok {
		cfg.Providers.TTS.Model = v
	}

	return errors.Join(errs...)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenPort < 1 || cfg.Server.ListenPort > 65535 {
		errs = append(errs, fmt.Errorf("server.listen_port %d is out of range [1, 65535]", cfg.Server.ListenPort))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Providers — all three stages are required, including their API keys.
	for _, p := range []struct {
		kind   string
		envKey string
		entry  ProviderEntry
	}{
		{"llm", EnvLLMAPIKey, cfg.Providers.LLM},
		{"stt", EnvSTTAPIKey, cfg.Providers.STT},
		{"tts", EnvTTSAPIKey, cfg.Providers.TTS},
	} {
		if p.entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", p.kind))
		}
		if p.entry.APIKey == "" {
			errs = append(errs, fmt.Errorf("providers.%s.api_key is required (set %s or providers.%s.api_key)", p.kind, p.envKey, p.kind))
		}
		validateProviderName(p.kind, p.entry.Name)
	}

	// Session tuning
	if cfg.Session.QuietMs <= 0 {
		errs = append(errs, fmt.Errorf("session.quiet_ms %d must be positive", cfg.Session.QuietMs))
	}
	if cfg.Session.WriterQueue <= 0 {
		errs = append(errs, fmt.Errorf("session.writer_queue %d must be positive", cfg.Session.WriterQueue))
	}
	if cfg.Session.TTSWorkers <= 0 {
		errs = append(errs, fmt.Errorf("session.tts_workers %d must be positive", cfg.Session.TTSWorkers))
	}
	if cfg.History.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("history.max_turns %d must not be negative (0 means unlimited)", cfg.History.MaxTurns))
	}

	// Prompt sanity — an empty system prompt is allowed but almost certainly
	// a mistake, so warn rather than fail.
	if cfg.Prompts.System == "" {
		slog.Warn("prompts.system is empty; the assistant will answer without a persona")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
