package voice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mbellotti/aura/internal/audio"
	"github.com/mbellotti/aura/internal/wire"
)

// RealtimePath is the wire-level path of the realtime sub-protocol.
const RealtimePath = "/openai/realtime"

// speechWSPath is the wire-level path of the speech sub-protocol.
const speechWSPath = "/speech/recognition/conversation/cognitiveservices/v1"

// Transport is one duplex connection to the remote speech endpoint.
// Implementations differ only in wire encoding; the client drives them
// identically (one Connection Manager / Protocol Decoder pair per
// sub-protocol behind a shared interface).
type Transport interface {
	// Connect opens the socket. It fails with ErrConnectionTimeout when
	// no open acknowledgment arrives in time and a ConnectionError for
	// any other transport failure.
	Connect(ctx context.Context) error
	// Send writes one frame. Safe for concurrent use.
	Send(msg wire.RawMessage) error
	// Messages delivers inbound frames in arrival order. The channel is
	// closed when the connection ends.
	Messages() <-chan wire.RawMessage
	// SendAudio encodes and writes one captured frame.
	SendAudio(pcm []byte) error
	// SendSessionConfig transmits the initial session-configuration
	// message for this sub-protocol.
	SendSessionConfig(cfg Config) error
	// SendSessionEnd transmits the orderly end-of-session message.
	SendSessionEnd() error
	Close() error
}

// TransportFactory builds a transport for a validated config. Swapped
// out in tests.
type TransportFactory func(cfg Config) (Transport, error)

// NewTransport selects the transport implementation for cfg.Protocol.
func NewTransport(cfg Config) (Transport, error) {
	switch cfg.Protocol {
	case ProtocolSpeech:
		return newSpeechTransport(cfg)
	default:
		return newRealtimeTransport(cfg)
	}
}

// deriveWSURL rewrites the configured HTTP(S) endpoint to its
// secure-socket equivalent with the given path and query.
func deriveWSURL(endpoint, path string, query url.Values) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("endpoint scheme %q not supported", u.Scheme)
	}
	u.Path = path
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// wsTransport is the shared gorilla/websocket plumbing under both
// sub-protocol transports.
type wsTransport struct {
	url         string
	header      http.Header
	dialTimeout time.Duration

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn

	msgs      chan wire.RawMessage
	closeOnce sync.Once
}

func newWSTransport(wsURL string, header http.Header, dialTimeout time.Duration) *wsTransport {
	return &wsTransport{
		url:         wsURL,
		header:      header,
		dialTimeout: dialTimeout,
		msgs:        make(chan wire.RawMessage, 256),
	}
}

func (t *wsTransport) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: t.dialTimeout}

	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	conn, res, err := dialer.DialContext(dialCtx, t.url, t.header)
	if res != nil && res.Body != nil {
		res.Body.Close()
	}
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: no open acknowledgment within %s", ErrConnectionTimeout, t.dialTimeout)
		}
		return &ConnectionError{Err: err}
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (t *wsTransport) readLoop(conn *websocket.Conn) {
	defer close(t.msgs)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.TextMessage:
			t.msgs <- wire.RawMessage{Data: data}
		case websocket.BinaryMessage:
			t.msgs <- wire.RawMessage{Binary: true, Data: data}
		}
	}
}

func (t *wsTransport) Send(msg wire.RawMessage) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return &ConnectionError{Err: errors.New("not connected")}
	}

	msgType := websocket.TextMessage
	if msg.Binary {
		msgType = websocket.BinaryMessage
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(msgType, msg.Data); err != nil {
		return &ConnectionError{Err: err}
	}
	return nil
}

func (t *wsTransport) Messages() <-chan wire.RawMessage { return t.msgs }

func (t *wsTransport) Close() error {
	var retErr error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()
		if conn != nil {
			retErr = conn.Close()
		}
	})
	return retErr
}

// realtimeTransport speaks the JSON text sub-protocol.
type realtimeTransport struct {
	*wsTransport
}

func newRealtimeTransport(cfg Config) (Transport, error) {
	q := url.Values{}
	q.Set("api-version", cfg.APIVersion)
	q.Set("deployment", cfg.Deployment)
	q.Set("api-key", cfg.APIKey)

	wsURL, err := deriveWSURL(cfg.Endpoint, RealtimePath, q)
	if err != nil {
		return nil, err
	}
	return &realtimeTransport{wsTransport: newWSTransport(wsURL, nil, cfg.ConnectTimeout)}, nil
}

func (t *realtimeTransport) SendSessionConfig(cfg Config) error {
	msg, err := wire.EncodeSessionUpdate(wire.SessionConfig{
		Voice:        cfg.Voice,
		Language:     cfg.Language,
		Instructions: cfg.Instructions,
		InputFormat:  cfg.InputFormat,
		OutputFormat: cfg.OutputFormat,
		Temperature:  cfg.Temperature,
	})
	if err != nil {
		return err
	}
	return t.Send(wire.RawMessage{Data: msg})
}

func (t *realtimeTransport) SendAudio(pcm []byte) error {
	msg, err := wire.EncodeAudioAppend(audio.EncodeBase64(pcm))
	if err != nil {
		return err
	}
	return t.Send(wire.RawMessage{Data: msg})
}

func (t *realtimeTransport) SendSessionEnd() error {
	return t.Send(wire.RawMessage{Data: wire.EncodeSessionEnd()})
}

// speechTransport speaks the binary header+payload sub-protocol.
type speechTransport struct {
	*wsTransport
	language   string
	sampleRate int
}

func newSpeechTransport(cfg Config) (Transport, error) {
	q := url.Values{}
	q.Set("language", cfg.Language)
	q.Set("format", "detailed")

	wsURL, err := deriveWSURL(cfg.Endpoint, speechWSPath, q)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Ocp-Apim-Subscription-Key", cfg.APIKey)
	header.Set("X-ConnectionId", strings.ReplaceAll(uuid.NewString(), "-", ""))

	return &speechTransport{
		wsTransport: newWSTransport(wsURL, header, cfg.ConnectTimeout),
		language:    cfg.Language,
		sampleRate:  cfg.SampleRate,
	}, nil
}

func (t *speechTransport) sendFrame(frame wire.SpeechFrame) error {
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	return t.Send(wire.RawMessage{Binary: true, Data: data})
}

func (t *speechTransport) SendSessionConfig(cfg Config) error {
	payload := fmt.Sprintf(
		`{"context":{"system":{"name":"aura"},"audio":{"input":{"samplerate":%d,"channels":1,"bitspersample":16}}},"recognition":{"language":%q}}`,
		t.sampleRate, t.language)
	return t.sendFrame(wire.NewSpeechFrame(wire.PathSpeechConfig, "application/json", []byte(payload)))
}

func (t *speechTransport) SendAudio(pcm []byte) error {
	return t.sendFrame(wire.NewSpeechFrame(wire.PathAudio, "audio/x-wav", pcm))
}

// SendSessionEnd signals end of the audio stream with an empty audio
// frame, the sub-protocol's end-of-stream marker.
func (t *speechTransport) SendSessionEnd() error {
	return t.sendFrame(wire.NewSpeechFrame(wire.PathAudio, "audio/x-wav", nil))
}
