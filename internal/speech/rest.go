package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mbellotti/aura/internal/reliability"
)

// RecognitionPath is appended to the service endpoint for synchronous
// recognition requests.
const RecognitionPath = "/speech/recognition/conversation/cognitiveservices/v1"

const contentTypeWAV = "audio/wav; codecs=audio/pcm; samplerate=16000"

// RecognitionResult is the parsed response of one synchronous
// recognition request.
type RecognitionResult struct {
	Status string
	Text   string
}

type recognitionResponse struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
	NBest             []struct {
		Display string `json:"Display"`
	} `json:"NBest"`
}

// RecognizerConfig configures the request/response fallback path.
type RecognizerConfig struct {
	Endpoint   string // base HTTPS endpoint, no trailing slash required
	APIKey     string
	Language   string
	Timeout    time.Duration
	MaxRetries uint64
}

// Recognizer posts complete audio payloads to the recognition endpoint.
// It is the downgrade target when the streaming path goes silent.
type Recognizer struct {
	cfg    RecognizerConfig
	client *http.Client
}

func NewRecognizer(cfg RecognizerConfig) *Recognizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	return &Recognizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Recognize submits one WAV payload and returns the recognition result.
// Retryable upstream statuses are retried with exponential backoff;
// anything else fails immediately.
func (r *Recognizer) Recognize(ctx context.Context, wav []byte) (RecognitionResult, error) {
	endpoint, err := r.requestURL()
	if err != nil {
		return RecognitionResult{}, err
	}

	var result RecognitionResult
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(wav))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create recognition request: %w", err))
		}
		req.Header.Set("Content-Type", contentTypeWAV)
		req.Header.Set("Ocp-Apim-Subscription-Key", r.cfg.APIKey)
		req.Header.Set("Accept", "application/json")

		res, err := r.client.Do(req)
		if err != nil {
			return fmt.Errorf("recognition request: %w", err)
		}
		defer res.Body.Close()

		if res.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
			err := fmt.Errorf("recognition status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
			if reliability.IsRetryableHTTPStatus(res.StatusCode) {
				return err
			}
			return backoff.Permanent(err)
		}

		var parsed recognitionResponse
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("decode recognition response: %w", err))
		}

		text := parsed.DisplayText
		if text == "" && len(parsed.NBest) > 0 {
			text = parsed.NBest[0].Display
		}
		result = RecognitionResult{Status: parsed.RecognitionStatus, Text: text}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.cfg.MaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return RecognitionResult{}, err
	}
	return result, nil
}

func (r *Recognizer) requestURL() (string, error) {
	u, err := url.Parse(strings.TrimRight(r.cfg.Endpoint, "/") + RecognitionPath)
	if err != nil {
		return "", fmt.Errorf("recognition endpoint: %w", err)
	}
	q := u.Query()
	q.Set("language", r.cfg.Language)
	q.Set("format", "detailed")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
