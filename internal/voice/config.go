package voice

import (
	"net/url"
	"strings"
	"time"

	"github.com/mbellotti/aura/internal/audio"
)

// Protocol selects the vendor wire sub-protocol family.
const (
	ProtocolRealtime = "realtime"
	ProtocolSpeech   = "speech"
)

// DefaultAPIVersion is sent as the api-version query parameter on the
// realtime transport.
const DefaultAPIVersion = "2024-10-01-preview"

// Config holds everything one voice session needs. Endpoint, APIKey,
// and Deployment are required; the rest defaults sensibly.
type Config struct {
	Endpoint   string
	APIKey     string
	Deployment string
	APIVersion string
	Protocol   string

	Voice        string
	Language     string
	Instructions string
	Temperature  float64

	InputFormat  string
	OutputFormat string

	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool

	FrameInterval   time.Duration
	ConnectTimeout  time.Duration
	WatchdogTimeout time.Duration
}

// Validate checks required fields and reports the first problem as a
// ConfigurationError. It does not mutate the config.
func (c Config) Validate() error {
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		return &ConfigurationError{Field: "endpoint", Reason: "required"}
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return &ConfigurationError{Field: "endpoint", Reason: "not a valid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigurationError{Field: "endpoint", Reason: "scheme must be http or https"}
	}

	if strings.TrimSpace(c.APIKey) == "" {
		return &ConfigurationError{Field: "api_key", Reason: "required"}
	}
	if strings.TrimSpace(c.Deployment) == "" {
		return &ConfigurationError{Field: "deployment", Reason: "required"}
	}

	switch c.Protocol {
	case "", ProtocolRealtime, ProtocolSpeech:
	default:
		return &ConfigurationError{Field: "protocol", Reason: "must be realtime or speech"}
	}

	switch c.InputFormat {
	case "", audio.FormatPCM16:
	default:
		return &ConfigurationError{Field: "input_format", Reason: "must be pcm16"}
	}
	switch c.OutputFormat {
	case "", audio.FormatPCM16, audio.FormatOpus:
	default:
		return &ConfigurationError{Field: "output_format", Reason: "must be pcm16 or opus"}
	}

	if c.SampleRate < 0 {
		return &ConfigurationError{Field: "sample_rate", Reason: "must be positive"}
	}
	if c.Channels < 0 || c.Channels > 1 {
		return &ConfigurationError{Field: "channels", Reason: "only mono capture is supported"}
	}
	return nil
}

// withDefaults returns a copy with every optional field filled.
func (c Config) withDefaults() Config {
	out := c
	out.Endpoint = strings.TrimSpace(out.Endpoint)
	if out.APIVersion == "" {
		out.APIVersion = DefaultAPIVersion
	}
	if out.Protocol == "" {
		out.Protocol = ProtocolRealtime
	}
	if out.Language == "" {
		out.Language = "en-US"
	}
	if out.InputFormat == "" {
		out.InputFormat = audio.FormatPCM16
	}
	if out.OutputFormat == "" {
		out.OutputFormat = audio.FormatPCM16
	}
	if out.SampleRate == 0 {
		out.SampleRate = audio.DefaultSampleRate
	}
	if out.Channels == 0 {
		out.Channels = 1
	}
	if out.FrameInterval <= 0 {
		out.FrameInterval = 100 * time.Millisecond
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 10 * time.Second
	}
	return out
}
