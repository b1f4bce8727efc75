package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mbellotti/aura/internal/voice"
)

// Config contains all runtime settings for the voice gateway service.
type Config struct {
	BindAddr                      string
	ShutdownTimeout               time.Duration
	ConversationInactivityTimeout time.Duration
	MetricsNamespace              string

	AllowAnyOrigin bool

	SpeechEndpoint   string
	SpeechAPIKey     string
	SpeechDeployment string
	SpeechAPIVersion string
	SpeechProtocol   string

	Voice        string
	Language     string
	Instructions string
	Temperature  float64
	OutputFormat string

	FrameInterval   time.Duration
	ConnectTimeout  time.Duration
	WatchdogTimeout time.Duration

	DatabaseURL string
}

// fileConfig is the optional YAML overlay. Environment variables win
// over file values; file values win over built-in defaults.
type fileConfig struct {
	BindAddr         string  `yaml:"bind_addr"`
	MetricsNamespace string  `yaml:"metrics_namespace"`
	AllowAnyOrigin   *bool   `yaml:"allow_any_origin"`
	SpeechEndpoint   string  `yaml:"speech_endpoint"`
	SpeechDeployment string  `yaml:"speech_deployment"`
	SpeechAPIVersion string  `yaml:"speech_api_version"`
	SpeechProtocol   string  `yaml:"speech_protocol"`
	Voice            string  `yaml:"voice"`
	Language         string  `yaml:"language"`
	Instructions     string  `yaml:"instructions"`
	Temperature      float64 `yaml:"temperature"`
	OutputFormat     string  `yaml:"output_format"`
	FrameInterval    string  `yaml:"frame_interval"`
	ConnectTimeout   string  `yaml:"connect_timeout"`
	WatchdogTimeout  string  `yaml:"watchdog_timeout"`
	DatabaseURL      string  `yaml:"database_url"`
}

// Load reads the optional config file named by AURA_CONFIG_FILE, then
// environment variables, and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                      ":8080",
		MetricsNamespace:              "aura",
		ShutdownTimeout:               15 * time.Second,
		ConversationInactivityTimeout: 2 * time.Minute,
		SpeechAPIVersion:              voice.DefaultAPIVersion,
		SpeechProtocol:                voice.ProtocolRealtime,
		Voice:                         "en-US-AvaNeural",
		Language:                      "en-US",
		Temperature:                   0.8,
		OutputFormat:                  "pcm16",
		FrameInterval:                 100 * time.Millisecond,
		ConnectTimeout:                10 * time.Second,
		WatchdogTimeout:               8 * time.Second,
	}

	if path := stringsTrimSpace("AURA_CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.SpeechEndpoint = envOrDefault("AURA_SPEECH_ENDPOINT", cfg.SpeechEndpoint)
	cfg.SpeechAPIKey = stringsTrimSpace("AURA_SPEECH_API_KEY")
	cfg.SpeechDeployment = envOrDefault("AURA_SPEECH_DEPLOYMENT", cfg.SpeechDeployment)
	cfg.SpeechAPIVersion = envOrDefault("AURA_SPEECH_API_VERSION", cfg.SpeechAPIVersion)
	cfg.SpeechProtocol = envOrDefault("AURA_SPEECH_PROTOCOL", cfg.SpeechProtocol)
	cfg.Voice = envOrDefault("AURA_VOICE", cfg.Voice)
	cfg.Language = envOrDefault("AURA_LANGUAGE", cfg.Language)
	cfg.Instructions = envOrDefault("AURA_INSTRUCTIONS", cfg.Instructions)
	cfg.OutputFormat = envOrDefault("AURA_OUTPUT_FORMAT", cfg.OutputFormat)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConversationInactivityTimeout, err = durationFromEnv("APP_CONVERSATION_INACTIVITY_TIMEOUT", cfg.ConversationInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FrameInterval, err = durationFromEnv("AURA_FRAME_INTERVAL", cfg.FrameInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectTimeout, err = durationFromEnv("AURA_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WatchdogTimeout, err = durationFromEnv("AURA_WATCHDOG_TIMEOUT", cfg.WatchdogTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.Temperature, err = floatFromEnv("AURA_TEMPERATURE", cfg.Temperature)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.ConversationInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_CONVERSATION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	switch cfg.SpeechProtocol {
	case voice.ProtocolRealtime, voice.ProtocolSpeech:
	default:
		return Config{}, fmt.Errorf("AURA_SPEECH_PROTOCOL must be realtime or speech")
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setIf := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setIf(&cfg.BindAddr, fc.BindAddr)
	setIf(&cfg.MetricsNamespace, fc.MetricsNamespace)
	setIf(&cfg.SpeechEndpoint, fc.SpeechEndpoint)
	setIf(&cfg.SpeechDeployment, fc.SpeechDeployment)
	setIf(&cfg.SpeechAPIVersion, fc.SpeechAPIVersion)
	setIf(&cfg.SpeechProtocol, fc.SpeechProtocol)
	setIf(&cfg.Voice, fc.Voice)
	setIf(&cfg.Language, fc.Language)
	setIf(&cfg.Instructions, fc.Instructions)
	setIf(&cfg.OutputFormat, fc.OutputFormat)
	setIf(&cfg.DatabaseURL, fc.DatabaseURL)
	if fc.AllowAnyOrigin != nil {
		cfg.AllowAnyOrigin = *fc.AllowAnyOrigin
	}
	if fc.Temperature != 0 {
		cfg.Temperature = fc.Temperature
	}

	setDur := func(dst *time.Duration, v, field string) error {
		if strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, field, err)
		}
		*dst = d
		return nil
	}
	if err := setDur(&cfg.FrameInterval, fc.FrameInterval, "frame_interval"); err != nil {
		return err
	}
	if err := setDur(&cfg.ConnectTimeout, fc.ConnectTimeout, "connect_timeout"); err != nil {
		return err
	}
	return setDur(&cfg.WatchdogTimeout, fc.WatchdogTimeout, "watchdog_timeout")
}

// VoiceConfig maps service configuration onto one voice session's
// client config. Voice and language may be overridden per conversation.
func (c Config) VoiceConfig(voiceID, language string) voice.Config {
	if strings.TrimSpace(voiceID) == "" {
		voiceID = c.Voice
	}
	if strings.TrimSpace(language) == "" {
		language = c.Language
	}
	return voice.Config{
		Endpoint:        c.SpeechEndpoint,
		APIKey:          c.SpeechAPIKey,
		Deployment:      c.SpeechDeployment,
		APIVersion:      c.SpeechAPIVersion,
		Protocol:        c.SpeechProtocol,
		Voice:           voiceID,
		Language:        language,
		Instructions:    c.Instructions,
		Temperature:     c.Temperature,
		OutputFormat:    c.OutputFormat,
		FrameInterval:   c.FrameInterval,
		ConnectTimeout:  c.ConnectTimeout,
		WatchdogTimeout: c.WatchdogTimeout,
	}
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
