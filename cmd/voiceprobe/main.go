// Command voiceprobe replays synthetic voice turns against a running
// gateway and reports per-turn progress. It drives the same browser
// websocket the web client uses, so a full replay exercises capture,
// the realtime session, and playback end to end.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbellotti/aura/internal/audio"
	"github.com/mbellotti/aura/internal/gateway"
	"github.com/mbellotti/aura/internal/session"
)

type options struct {
	baseURL        string
	userID         string
	voiceID        string
	language       string
	wavPath        string
	turns          int
	chunkMS        int
	realtime       float64
	startDelay     time.Duration
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type wsEnvelope struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
	Text   string `json:"text"`
	State  string `json:"state"`
}

type audioClip struct {
	Text       string
	PCM16LE    []byte
	SampleRate int
}

var defaultUtterances = []string{
	"Reply in three words: how are you?",
	"Reply in three words: what's on today?",
	"Reply in three words: favorite season?",
	"Reply in three words: any advice?",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voiceprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voiceprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var startDelayMS int
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "gateway base URL")
	flag.StringVar(&cfg.userID, "user-id", "probe-replay", "user_id used for the synthetic conversation")
	flag.StringVar(&cfg.voiceID, "voice-id", "", "optional voice_id for the conversation")
	flag.StringVar(&cfg.language, "language", "", "optional language for the conversation")
	flag.StringVar(&cfg.wavPath, "wav", "", "optional mono PCM16 WAV file replayed instead of TTS previews")
	flag.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	flag.IntVar(&cfg.chunkMS, "chunk-ms", 45, "audio chunk size in milliseconds")
	flag.Float64Var(&cfg.realtime, "realtime", 3.0, "chunk pacing multiplier (1.0=realtime, 2.0=2x)")
	flag.IntVar(&startDelayMS, "start-delay-ms", 900, "delay before first synthetic turn in milliseconds")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "timeout waiting for assistant_turn_end per turn in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 2000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,2000]")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if startDelayMS < 0 {
		startDelayMS = 0
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.startDelay = time.Duration(startDelayMS) * time.Millisecond
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	conversationID, err := createConversation(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	defer func() {
		_ = endConversation(context.Background(), httpClient, cfg.baseURL, conversationID)
	}()

	if cfg.verbose {
		fmt.Printf("voiceprobe: conversation=%s turns=%d chunk_ms=%d realtime=%.2f\n", conversationID, cfg.turns, cfg.chunkMS, cfg.realtime)
	}

	clips, err := prepareClips(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("prepare utterance audio: %w", err)
	}

	wsURL, err := wsURLForConversation(cfg.baseURL, conversationID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if cfg.startDelay > 0 {
		time.Sleep(cfg.startDelay)
	}

	turnEndCh := make(chan struct{}, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, turnEndCh, readErrCh, cfg.verbose)

	if err := sendControl(conn, conversationID, gateway.ActionStartListening); err != nil {
		return fmt.Errorf("start listening: %w", err)
	}

	seq := 0
	for i := 0; i < cfg.turns; i++ {
		select {
		case err := <-readErrCh:
			return fmt.Errorf("ws read: %w", err)
		default:
		}

		clip := clips[i%len(clips)]
		if cfg.verbose {
			fmt.Printf("voiceprobe: turn %d/%d text=%q sample_rate=%dHz bytes=%d\n", i+1, cfg.turns, clip.Text, clip.SampleRate, len(clip.PCM16LE))
		}

		if err := sendTurnAudio(conn, conversationID, clip, cfg.chunkMS, cfg.realtime, &seq); err != nil {
			return fmt.Errorf("turn %d send audio: %w", i+1, err)
		}
		if err := awaitTurnEnd(turnEndCh, readErrCh, cfg.turnTimeout); err != nil {
			return fmt.Errorf("turn %d await assistant_turn_end: %w", i+1, err)
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	if err := sendControl(conn, conversationID, gateway.ActionEnd); err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	if cfg.verbose {
		fmt.Println("voiceprobe: replay completed")
	}
	return nil
}

func createConversation(ctx context.Context, client *http.Client, cfg options) (string, error) {
	reqBody := session.CreateRequest{
		UserID:   cfg.userID,
		Voice:    strings.TrimSpace(cfg.voiceID),
		Language: strings.TrimSpace(cfg.language),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/conversations", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out session.CreateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ConversationID) == "" {
		return "", fmt.Errorf("missing conversation_id in response")
	}
	return out.ConversationID, nil
}

func endConversation(ctx context.Context, client *http.Client, baseURL, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/conversations/"+url.PathEscape(conversationID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func prepareClips(ctx context.Context, client *http.Client, cfg options) ([]audioClip, error) {
	if strings.TrimSpace(cfg.wavPath) != "" {
		data, err := os.ReadFile(cfg.wavPath)
		if err != nil {
			return nil, err
		}
		pcm, sampleRate, err := audio.DecodeWAVPCM16LE(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", cfg.wavPath, err)
		}
		return []audioClip{{Text: cfg.wavPath, PCM16LE: pcm, SampleRate: sampleRate}}, nil
	}

	cache := make(map[string]audioClip, len(cfg.texts))
	out := make([]audioClip, 0, len(cfg.texts))
	for _, text := range cfg.texts {
		if existing, ok := cache[text]; ok {
			out = append(out, existing)
			continue
		}
		clip, err := synthClip(ctx, client, cfg, text)
		if err != nil {
			return nil, err
		}
		cache[text] = clip
		out = append(out, clip)
	}
	return out, nil
}

type previewRequest struct {
	VoiceID  string `json:"voice_id,omitempty"`
	Language string `json:"language,omitempty"`
	Text     string `json:"text,omitempty"`
}

func synthClip(ctx context.Context, client *http.Client, cfg options, text string) (audioClip, error) {
	payload, err := json.Marshal(previewRequest{
		VoiceID:  strings.TrimSpace(cfg.voiceID),
		Language: strings.TrimSpace(cfg.language),
		Text:     text,
	})
	if err != nil {
		return audioClip{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/voice/tts/preview", bytes.NewReader(payload))
	if err != nil {
		return audioClip{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return audioClip{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 40<<20))
	if err != nil {
		return audioClip{}, err
	}
	if res.StatusCode != http.StatusOK {
		return audioClip{}, fmt.Errorf("preview %q HTTP %d: %s", text, res.StatusCode, strings.TrimSpace(string(body)))
	}

	pcm, sampleRate, err := audio.DecodeWAVPCM16LE(body)
	if err != nil {
		return audioClip{}, fmt.Errorf("decode preview wav for %q: %w", text, err)
	}
	if len(pcm) == 0 {
		return audioClip{}, fmt.Errorf("preview wav for %q produced no PCM bytes", text)
	}
	return audioClip{Text: text, PCM16LE: pcm, SampleRate: sampleRate}, nil
}

func wsURLForConversation(baseURL, conversationID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/voice/ws"
	q := u.Query()
	q.Set("conversation_id", conversationID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, turnEndCh chan<- struct{}, readErrCh chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case string(gateway.TypeAssistantTurnEnd):
			select {
			case turnEndCh <- struct{}{}:
			default:
			}
		case string(gateway.TypeErrorEvent):
			if verbose {
				fmt.Fprintf(os.Stderr, "voiceprobe: error_event code=%s detail=%s\n", env.Code, env.Detail)
			}
		case string(gateway.TypeSystemEvent):
			if verbose && env.Code == "protocol_fallback" {
				fmt.Fprintf(os.Stderr, "voiceprobe: session fell back to REST recognition\n")
			}
		}
	}
}

func sendControl(conn *websocket.Conn, conversationID, action string) error {
	return conn.WriteJSON(gateway.ClientControl{
		Type:           gateway.TypeClientControl,
		ConversationID: conversationID,
		Action:         action,
	})
}

func sendTurnAudio(conn *websocket.Conn, conversationID string, clip audioClip, chunkMS int, realtime float64, seq *int) error {
	sampleRate := clip.SampleRate
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	bytesPerChunk := sampleRate * 2 * chunkMS / 1000
	if bytesPerChunk < 2 {
		bytesPerChunk = 2
	}
	if bytesPerChunk%2 != 0 {
		bytesPerChunk++
	}
	if bytesPerChunk > len(clip.PCM16LE) {
		bytesPerChunk = len(clip.PCM16LE)
		if bytesPerChunk%2 != 0 {
			bytesPerChunk--
		}
	}
	if bytesPerChunk <= 0 {
		return fmt.Errorf("invalid chunk size for sample_rate=%d", sampleRate)
	}

	for off := 0; off < len(clip.PCM16LE); {
		end := off + bytesPerChunk
		if end > len(clip.PCM16LE) {
			end = len(clip.PCM16LE)
		}
		if (end-off)%2 != 0 {
			end--
		}
		if end <= off {
			break
		}
		chunkBytes := end - off
		*seq = *seq + 1
		msg := gateway.ClientAudioChunk{
			Type:           gateway.TypeClientAudioChunk,
			ConversationID: conversationID,
			Seq:            *seq,
			PCM16Base64:    base64.StdEncoding.EncodeToString(clip.PCM16LE[off:end]),
			SampleRate:     sampleRate,
			TSMs:           time.Now().UnixMilli(),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		off = end

		chunkDuration := time.Duration(float64(time.Duration(chunkBytes)*time.Second/time.Duration(sampleRate*2)) / realtime)
		if chunkDuration <= 0 {
			chunkDuration = 10 * time.Millisecond
		}
		time.Sleep(chunkDuration)
	}
	return nil
}

func awaitTurnEnd(turnEndCh <-chan struct{}, readErrCh <-chan error, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-turnEndCh:
		return nil
	case err := <-readErrCh:
		return err
	case <-timer.C:
		return fmt.Errorf("timeout after %s", timeout)
	}
}
