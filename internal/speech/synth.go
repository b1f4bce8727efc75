package speech

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SynthesisPath is appended to the service endpoint for synthesis
// requests.
const SynthesisPath = "/cognitiveservices/v1"

// DefaultOutputFormat favors low-latency raw PCM for realtime playback.
const DefaultOutputFormat = "raw-16khz-16bit-mono-pcm"

// outputFormats enumerates the sample-rate/bitrate/codec combinations
// the synthesis endpoint accepts in its output-format header.
var outputFormats = map[string]bool{
	"raw-8khz-16bit-mono-pcm":          true,
	"raw-16khz-16bit-mono-pcm":         true,
	"raw-24khz-16bit-mono-pcm":         true,
	"riff-8khz-16bit-mono-pcm":         true,
	"riff-16khz-16bit-mono-pcm":        true,
	"riff-24khz-16bit-mono-pcm":        true,
	"audio-16khz-32kbitrate-mono-mp3":  true,
	"audio-16khz-128kbitrate-mono-mp3": true,
	"audio-24khz-48kbitrate-mono-mp3":  true,
	"audio-24khz-96kbitrate-mono-mp3":  true,
	"ogg-16khz-16bit-mono-opus":        true,
	"ogg-24khz-16bit-mono-opus":        true,
}

// IsValidOutputFormat reports whether format is an accepted synthesis
// output format.
func IsValidOutputFormat(format string) bool {
	return outputFormats[format]
}

// SynthesizerConfig configures the synchronous synthesis endpoint.
type SynthesizerConfig struct {
	Endpoint     string
	APIKey       string
	OutputFormat string
	Timeout      time.Duration
}

// Synthesizer posts SSML documents and returns raw audio bytes. Used
// for voice-audition previews, not for the realtime response path.
type Synthesizer struct {
	cfg    SynthesizerConfig
	client *http.Client
}

func NewSynthesizer(cfg SynthesizerConfig) (*Synthesizer, error) {
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = DefaultOutputFormat
	}
	if !IsValidOutputFormat(cfg.OutputFormat) {
		return nil, fmt.Errorf("unsupported synthesis output format %q", cfg.OutputFormat)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	return &Synthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// OutputFormat reports the configured output format.
func (s *Synthesizer) OutputFormat() string { return s.cfg.OutputFormat }

// Synthesize posts one SSML document and returns the audio bytes.
func (s *Synthesizer) Synthesize(ctx context.Context, ssml string) ([]byte, error) {
	endpoint := strings.TrimRight(s.cfg.Endpoint, "/") + SynthesisPath

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(ssml))
	if err != nil {
		return nil, fmt.Errorf("create synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", s.cfg.OutputFormat)
	req.Header.Set("Ocp-Apim-Subscription-Key", s.cfg.APIKey)

	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("synthesis status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	audio, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesis response: %w", err)
	}
	return audio, nil
}
