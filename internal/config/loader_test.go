package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parleyvoice/parley/internal/config"
)

// validConfig returns a config that passes [config.Validate] before any
// test-specific mutation.
func validConfig() *config.Config {
	cfg := config.Default()
	cfg.Providers.LLM.APIKey = "llm-key"
	cfg.Providers.STT.APIKey = "stt-key"
	cfg.Providers.TTS.APIKey = "tts-key"
	return cfg
}

func clearParleyEnv(t *testing.T) {
	t.Helper()
	for _, v := range []string{
		config.EnvSTTAPIKey, config.EnvLLMAPIKey, config.EnvTTSAPIKey,
		config.EnvListenAddr, config.EnvListenPort, config.EnvQuietMs,
		config.EnvLLMModel, config.EnvSTTModel, config.EnvTTSModel,
	} {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_ValidConfigPasses(t *testing.T) {
	t.Parallel()
	if err := config.Validate(validConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MissingAPIKeys(t *testing.T) {
	t.Parallel()
	err := config.Validate(config.Default())
	if err == nil {
		t.Fatal("expected error for missing API keys, got nil")
	}
	for _, want := range []string{"providers.llm.api_key", "providers.stt.api_key", "providers.tts.api_key"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Server.LogLevel = "verbose"
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_PortOutOfRange(t *testing.T) {
	t.Parallel()
	for _, port := range []int{0, -1, 70000} {
		cfg := validConfig()
		cfg.Server.ListenPort = port
		err := config.Validate(cfg)
		if err == nil {
			t.Errorf("port %d: expected error, got nil", port)
			continue
		}
		if !strings.Contains(err.Error(), "listen_port") {
			t.Errorf("port %d: error should mention listen_port, got: %v", port, err)
		}
	}
}

func TestValidate_TLSRequiresBothFiles(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Server.TLS = &config.TLSConfig{CertFile: "server.crt"}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error for TLS without key file, got nil")
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}

func TestValidate_NonPositiveSessionTuning(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Session.QuietMs = 0
	cfg.Session.WriterQueue = -1
	cfg.Session.TTSWorkers = 0
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"quiet_ms", "writer_queue", "tts_workers"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_NegativeHistoryCap(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.History.MaxTurns = -5
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error for negative max_turns, got nil")
	}
	if !strings.Contains(err.Error(), "max_turns") {
		t.Errorf("error should mention max_turns, got: %v", err)
	}
}

func TestValidate_MissingProviderName(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Providers.LLM.Name = ""
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing provider name, got nil")
	}
	if !strings.Contains(err.Error(), "providers.llm.name") {
		t.Errorf("error should mention providers.llm.name, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	found := false
	for _, n := range llmNames {
		if n == "gemini" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"gemini\"")
	}
}

// ── Environment overlay ───────────────────────────────────────────────────────

func TestApplyEnv_OverridesFileValues(t *testing.T) {
	clearParleyEnv(t)
	t.Setenv(config.EnvSTTAPIKey, "env-stt")
	t.Setenv(config.EnvLLMAPIKey, "env-llm")
	t.Setenv(config.EnvTTSAPIKey, "env-tts")
	t.Setenv(config.EnvListenAddr, "127.0.0.1")
	t.Setenv(config.EnvListenPort, "4444")
	t.Setenv(config.EnvQuietMs, "250")
	t.Setenv(config.EnvLLMModel, "gpt-4o-mini")
	t.Setenv(config.EnvSTTModel, "nova-3")
	t.Setenv(config.EnvTTSModel, "aura-luna-en")

	cfg := validConfig()
	cfg.Providers.STT.APIKey = "file-stt"
	if err := config.ApplyEnv(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Providers.STT.APIKey != "env-stt" {
		t.Errorf("stt api_key: got %q, want env override", cfg.Providers.STT.APIKey)
	}
	if cfg.Providers.LLM.APIKey != "env-llm" || cfg.Providers.TTS.APIKey != "env-tts" {
		t.Error("llm/tts api keys were not overridden from env")
	}
	if cfg.Server.ListenAddr != "127.0.0.1" {
		t.Errorf("listen_addr: got %q, want 127.0.0.1", cfg.Server.ListenAddr)
	}
	if cfg.Server.ListenPort != 4444 {
		t.Errorf("listen_port: got %d, want 4444", cfg.Server.ListenPort)
	}
	if cfg.Session.QuietMs != 250 {
		t.Errorf("quiet_ms: got %d, want 250", cfg.Session.QuietMs)
	}
	if cfg.Providers.LLM.Model != "gpt-4o-mini" {
		t.Errorf("llm model: got %q", cfg.Providers.LLM.Model)
	}
	if cfg.Providers.STT.Model != "nova-3" {
		t.Errorf("stt model: got %q", cfg.Providers.STT.Model)
	}
	if cfg.Providers.TTS.Model != "aura-luna-en" {
		t.Errorf("tts model: got %q", cfg.Providers.TTS.Model)
	}
}

func TestApplyEnv_UnsetLeavesConfigUntouched(t *testing.T) {
	clearParleyEnv(t)
	cfg := validConfig()
	cfg.Server.ListenPort = 8123
	if err := config.ApplyEnv(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenPort != 8123 {
		t.Errorf("listen_port: got %d, want 8123", cfg.Server.ListenPort)
	}
	if cfg.Providers.STT.APIKey != "stt-key" {
		t.Errorf("stt api_key changed unexpectedly: %q", cfg.Providers.STT.APIKey)
	}
}

func TestApplyEnv_BadNumbersReported(t *testing.T) {
	clearParleyEnv(t)
	t.Setenv(config.EnvListenPort, "not-a-port")
	t.Setenv(config.EnvQuietMs, "soon")

	err := config.ApplyEnv(validConfig())
	if err == nil {
		t.Fatal("expected error for non-numeric env values, got nil")
	}
	if !strings.Contains(err.Error(), "LISTEN_PORT") {
		t.Errorf("error should mention LISTEN_PORT, got: %v", err)
	}
	if !strings.Contains(err.Error(), "QUIET_MS") {
		t.Errorf("error should mention QUIET_MS, got: %v", err)
	}
}

// ── Load (full pipeline) ──────────────────────────────────────────────────────

func TestLoad_FileWithEnvOverride(t *testing.T) {
	clearParleyEnv(t)
	t.Setenv(config.EnvSTTAPIKey, "env-stt")
	t.Setenv(config.EnvLLMAPIKey, "env-llm")
	t.Setenv(config.EnvTTSAPIKey, "env-tts")
	t.Setenv(config.EnvQuietMs, "400")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  listen_port: 8080
session:
  quiet_ms: 2000
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenPort != 8080 {
		t.Errorf("listen_port: got %d, want 8080 (from file)", cfg.Server.ListenPort)
	}
	if cfg.Session.QuietMs != 400 {
		t.Errorf("quiet_ms: got %d, want 400 (env wins over file)", cfg.Session.QuietMs)
	}
	if cfg.Providers.STT.APIKey != "env-stt" {
		t.Errorf("stt api_key: got %q, want env value", cfg.Providers.STT.APIKey)
	}
}

func TestLoad_MissingFileUsesEnvAndDefaults(t *testing.T) {
	clearParleyEnv(t)
	t.Setenv(config.EnvSTTAPIKey, "env-stt")
	t.Setenv(config.EnvLLMAPIKey, "env-llm")
	t.Setenv(config.EnvTTSAPIKey, "env-tts")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenPort != config.DefaultListenPort {
		t.Errorf("listen_port: got %d, want default %d", cfg.Server.ListenPort, config.DefaultListenPort)
	}
	if cfg.Providers.LLM.APIKey != "env-llm" {
		t.Errorf("llm api_key: got %q, want env value", cfg.Providers.LLM.APIKey)
	}
}

func TestLoad_MissingKeysFailValidation(t *testing.T) {
	clearParleyEnv(t)
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected validation error with no API keys anywhere, got nil")
	}
	if !strings.Contains(err.Error(), "api_key") {
		t.Errorf("error should mention api_key, got: %v", err)
	}
}
