package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want :9090", cfg.BindAddr)
	}
	if cfg.SpeechProtocol != "realtime" {
		t.Fatalf("SpeechProtocol = %q, want realtime", cfg.SpeechProtocol)
	}
	if cfg.Language != "en-US" {
		t.Fatalf("Language = %q, want en-US", cfg.Language)
	}
	if cfg.WatchdogTimeout != 8*time.Second {
		t.Fatalf("WatchdogTimeout = %v, want 8s", cfg.WatchdogTimeout)
	}
}

func TestLoadRejectsBadProtocol(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("AURA_SPEECH_PROTOCOL", "telegraph")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for bad protocol")
	}
}

func TestLoadFileOverlayAndEnvPrecedence(t *testing.T) {
	setCoreEnvEmpty(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "aura.yaml")
	body := []byte("speech_endpoint: https://file.example.com\nvoice: en-GB-SoniaNeural\nwatchdog_timeout: 3s\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("AURA_CONFIG_FILE", path)
	t.Setenv("AURA_SPEECH_ENDPOINT", "https://env.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Env beats file; file beats defaults.
	if cfg.SpeechEndpoint != "https://env.example.com" {
		t.Fatalf("SpeechEndpoint = %q, want env value", cfg.SpeechEndpoint)
	}
	if cfg.Voice != "en-GB-SoniaNeural" {
		t.Fatalf("Voice = %q, want file value", cfg.Voice)
	}
	if cfg.WatchdogTimeout != 3*time.Second {
		t.Fatalf("WatchdogTimeout = %v, want 3s", cfg.WatchdogTimeout)
	}
}

func TestLoadTrimsEnvValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("AURA_SPEECH_API_KEY", "  secret-key \n")
	t.Setenv("AURA_WATCHDOG_TIMEOUT", "\t4s ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SpeechAPIKey != "secret-key" {
		t.Fatalf("SpeechAPIKey = %q, want trimmed value", cfg.SpeechAPIKey)
	}
	if cfg.WatchdogTimeout != 4*time.Second {
		t.Fatalf("WatchdogTimeout = %v, want 4s", cfg.WatchdogTimeout)
	}
}

func TestVoiceConfigMapping(t *testing.T) {
	cfg := Config{
		SpeechEndpoint:   "https://eastus2.example.com",
		SpeechAPIKey:     "k",
		SpeechDeployment: "gpt-4o-realtime",
		SpeechAPIVersion: "2024-10-01-preview",
		SpeechProtocol:   "realtime",
		Voice:            "en-US-AvaNeural",
		Language:         "en-US",
		WatchdogTimeout:  8 * time.Second,
	}

	vc := cfg.VoiceConfig("", "")
	if vc.Voice != "en-US-AvaNeural" || vc.Language != "en-US" {
		t.Fatalf("defaults not applied: %+v", vc)
	}

	vc = cfg.VoiceConfig("en-GB-SoniaNeural", "en-GB")
	if vc.Voice != "en-GB-SoniaNeural" || vc.Language != "en-GB" {
		t.Fatalf("overrides not applied: %+v", vc)
	}
	if err := vc.Validate(); err != nil {
		t.Fatalf("mapped config invalid: %v", err)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_CONVERSATION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"AURA_CONFIG_FILE",
		"AURA_SPEECH_ENDPOINT",
		"AURA_SPEECH_API_KEY",
		"AURA_SPEECH_DEPLOYMENT",
		"AURA_SPEECH_API_VERSION",
		"AURA_SPEECH_PROTOCOL",
		"AURA_VOICE",
		"AURA_LANGUAGE",
		"AURA_INSTRUCTIONS",
		"AURA_TEMPERATURE",
		"AURA_OUTPUT_FORMAT",
		"AURA_FRAME_INTERVAL",
		"AURA_CONNECT_TIMEOUT",
		"AURA_WATCHDOG_TIMEOUT",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
