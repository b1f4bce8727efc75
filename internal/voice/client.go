package voice

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbellotti/aura/internal/audio"
	"github.com/mbellotti/aura/internal/events"
	"github.com/mbellotti/aura/internal/policy"
	"github.com/mbellotti/aura/internal/speech"
	"github.com/mbellotti/aura/internal/wire"
)

// Error codes carried on published error events.
const (
	CodeConnectionError   = "connection_error"
	CodeConnectionTimeout = "connection_timeout"
	CodeDeviceError       = "device_error"
	CodeDecodeError       = "decode_error"
	CodePlaybackError     = "playback_error"
	CodeRecognitionError  = "recognition_error"
	CodeRemoteError       = "remote_error"
)

// RecognizeFunc is the request/response recognition fallback. It takes
// one complete WAV payload and returns the parsed result.
type RecognizeFunc func(ctx context.Context, wav []byte) (speech.RecognitionResult, error)

// Options supplies the client's pluggable edges. Source and Sink are
// required; everything else defaults.
type Options struct {
	Source CaptureSource
	Sink   PlaybackSink

	// Bus receives every session event. Shared with the caller so UI
	// code can subscribe before Connect.
	Bus *events.Bus

	// Transport overrides transport construction. Tests use this.
	Transport TransportFactory

	// Recognize overrides the degraded-mode recognizer. Tests use this.
	Recognize RecognizeFunc

	// OnFrameDrop is invoked with a reason label whenever an inbound
	// frame is discarded (metrics hook).
	OnFrameDrop func(reason string)

	Logf func(format string, args ...any)
}

// Client is one voice session against the remote speech endpoint. All
// exported methods are safe for concurrent use. A client does not
// reconnect on its own; after a failure the owner decides whether to
// call Connect again.
type Client struct {
	cfg  Config
	bus  *events.Bus
	logf func(format string, args ...any)

	newTransport TransportFactory
	recognize    RecognizeFunc
	source       CaptureSource
	sink         PlaybackSink
	decoder      *wire.Decoder

	mu         sync.Mutex
	state      State
	closing    bool
	flags      Flags
	muted      bool
	sessionID  string
	transport  Transport
	cancelDial context.CancelFunc
	capture    *capture
	playback   *playback
	reactorEnd chan struct{}
	watchEnd   chan struct{}
	watchStop  chan struct{}

	degraded   bool
	pending    []byte
	framesSent atomic.Bool
	lastRecv   atomic.Int64
}

// NewClient validates cfg and builds an unconnected client.
func NewClient(cfg Config, opts Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	if opts.Source == nil {
		return nil, &ConfigurationError{Field: "source", Reason: "capture source is required"}
	}
	if opts.Sink == nil {
		return nil, &ConfigurationError{Field: "sink", Reason: "playback sink is required"}
	}

	c := &Client{
		cfg:          cfg,
		bus:          opts.Bus,
		logf:         opts.Logf,
		newTransport: opts.Transport,
		recognize:    opts.Recognize,
		source:       opts.Source,
		sink:         opts.Sink,
		state:        StateIdle,
	}
	if c.bus == nil {
		c.bus = events.NewBus()
	}
	if c.logf == nil {
		c.logf = log.Printf
	}
	if c.newTransport == nil {
		c.newTransport = NewTransport
	}
	if c.recognize == nil {
		c.recognize = speech.NewRecognizer(speech.RecognizerConfig{
			Endpoint: cfg.Endpoint,
			APIKey:   cfg.APIKey,
			Language: cfg.Language,
		}).Recognize
	}
	c.decoder = &wire.Decoder{Logf: c.logf, OnDrop: opts.OnFrameDrop}
	return c, nil
}

// Interrupt discards queued and in-flight response audio, typically on
// a user barge-in. The session keeps running.
func (c *Client) Interrupt() {
	c.mu.Lock()
	pb := c.playback
	c.mu.Unlock()
	if pb != nil {
		pb.Cancel()
	}
}

// Bus exposes the event bus for subscriptions.
func (c *Client) Bus() *events.Bus { return c.bus }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Flags returns a snapshot of the activity booleans.
func (c *Client) Flags() Flags {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags
}

// SessionID returns the remote session identifier, empty until the
// session acknowledgment arrives.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Degraded reports whether the client has downgraded to the
// request/response recognition path.
func (c *Client) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// SetMuted toggles frame suppression. Muted capture keeps the device
// running but sends nothing upstream.
func (c *Client) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

// Muted reports the current mute flag.
func (c *Client) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Connect dials the streaming endpoint, sends the session
// configuration, and starts the inbound reactor. It may only be called
// from the idle state or after a previous session ended.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle && !c.state.terminal() {
		state := c.state
		c.mu.Unlock()
		return &StateError{Op: "connect", State: state}
	}
	c.reset()
	c.state = StateConnecting

	transport, err := c.newTransport(c.cfg)
	if err != nil {
		c.state = StateIdle
		c.mu.Unlock()
		return err
	}
	dialCtx, cancel := context.WithCancel(ctx)
	c.transport = transport
	c.cancelDial = cancel
	c.mu.Unlock()

	err = transport.Connect(dialCtx)
	cancel()

	c.mu.Lock()
	c.cancelDial = nil
	if c.state != StateConnecting {
		// Disconnect won the race; the dial result no longer matters.
		c.mu.Unlock()
		_ = transport.Close()
		if err == nil {
			return &StateError{Op: "connect", State: StateIdle}
		}
		return err
	}
	if err != nil {
		c.state = StateIdle
		c.transport = nil
		c.mu.Unlock()
		c.publishErr(err)
		return err
	}

	c.state = StateConnected
	c.lastRecv.Store(time.Now().UnixNano())
	c.mu.Unlock()

	c.logf("voice: connected to %s", policy.MaskURL(c.cfg.Endpoint))
	c.bus.Publish(events.Event{Kind: events.KindConnected})

	if err := transport.SendSessionConfig(c.cfg); err != nil {
		c.publishErr(err)
		c.Disconnect()
		return err
	}

	c.mu.Lock()
	if c.cfg.Protocol == ProtocolSpeech {
		// The speech sub-protocol has no session acknowledgment; the
		// config frame is fire-and-forget.
		c.state = StateSessionReady
	} else {
		c.state = StateConfiguring
	}
	pb, err := newPlayback(c.sink, c.cfg.SampleRate, c.cfg.OutputFormat, c.bus, c.setSpeaking, c.logf)
	if err != nil {
		c.mu.Unlock()
		c.publishErr(err)
		c.Disconnect()
		return err
	}
	c.playback = pb
	reactorEnd := make(chan struct{})
	c.reactorEnd = reactorEnd
	c.mu.Unlock()

	go pb.run()
	go c.reactor(transport, reactorEnd)
	if c.cfg.WatchdogTimeout > 0 {
		c.mu.Lock()
		c.watchStop = make(chan struct{})
		c.watchEnd = make(chan struct{})
		stop, end := c.watchStop, c.watchEnd
		c.mu.Unlock()
		go c.watchdog(stop, end)
	}
	return nil
}

// reset clears per-session bookkeeping before a fresh dial.
func (c *Client) reset() {
	c.flags = Flags{}
	c.sessionID = ""
	c.degraded = false
	c.pending = nil
	c.framesSent.Store(false)
}

// Disconnect tears the session down: capture first so no frame races
// the close, then the orderly end-of-session message, then the socket.
// Safe to call at any time, including repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state == StateIdle || c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	if c.cancelDial != nil {
		c.cancelDial()
	}
	c.state = StateEnded

	capture := c.capture
	c.capture = nil
	playback := c.playback
	c.playback = nil
	transport := c.transport
	c.transport = nil
	reactorEnd := c.reactorEnd
	c.reactorEnd = nil
	watchStop, watchEnd := c.watchStop, c.watchEnd
	c.watchStop, c.watchEnd = nil, nil
	wasListening := c.flags.Listening
	c.flags = Flags{}
	c.mu.Unlock()

	if watchStop != nil {
		close(watchStop)
		<-watchEnd
	}
	if capture != nil {
		capture.halt()
		if wasListening {
			c.bus.Publish(events.Event{Kind: events.KindListeningStopped})
		}
	}
	if transport != nil {
		if err := transport.SendSessionEnd(); err != nil {
			c.logf("voice: end-of-session send failed: %v", err)
		}
		_ = transport.Close()
	}
	if reactorEnd != nil {
		<-reactorEnd
	}
	if playback != nil {
		playback.halt()
	}

	c.mu.Lock()
	c.state = StateIdle
	c.closing = false
	c.mu.Unlock()
	c.bus.Publish(events.Event{Kind: events.KindDisconnected})
}

// StartListening opens the capture device and begins streaming frames.
func (c *Client) StartListening() error {
	c.mu.Lock()
	if !c.state.canListen() {
		state := c.state
		c.mu.Unlock()
		return &StateError{Op: "start listening", State: state}
	}
	if c.flags.Listening {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.source.Start(c.cfg.SampleRate, c.cfg.Channels); err != nil {
		derr := &DeviceError{Err: err}
		c.publishErr(derr)
		return derr
	}

	capt := newCapture(c.source, c.cfg.SampleRate, c.cfg.FrameInterval, c.sendFrame, c.captureFailed)

	c.mu.Lock()
	if !c.state.canListen() {
		state := c.state
		c.mu.Unlock()
		_ = c.source.Stop()
		return &StateError{Op: "start listening", State: state}
	}
	c.capture = capt
	c.flags.Listening = true
	c.mu.Unlock()

	go capt.run()
	c.bus.Publish(events.Event{Kind: events.KindListeningStarted})
	return nil
}

// StopListening closes the capture device. In degraded mode it also
// submits the buffered audio for recognition.
func (c *Client) StopListening() {
	c.mu.Lock()
	cap := c.capture
	c.capture = nil
	wasListening := c.flags.Listening
	c.flags.Listening = false
	degraded := c.degraded
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if cap != nil {
		cap.halt()
	}
	if wasListening {
		c.bus.Publish(events.Event{Kind: events.KindListeningStopped})
	}
	if degraded && len(pending) > 0 {
		go c.recognizePending(pending)
	}
}

// sendFrame routes one captured frame. Frames are dropped while the
// session is not ready or the client is muted; in degraded mode they
// accumulate for the request/response path instead.
func (c *Client) sendFrame(pcm []byte) {
	c.mu.Lock()
	if c.muted || !c.flags.Listening {
		c.mu.Unlock()
		return
	}
	if c.degraded {
		c.pending = append(c.pending, pcm...)
		c.mu.Unlock()
		return
	}
	if c.state != StateSessionReady {
		c.mu.Unlock()
		return
	}
	transport := c.transport
	c.mu.Unlock()
	if transport == nil {
		return
	}

	if err := transport.SendAudio(pcm); err != nil {
		c.logf("voice: audio frame send failed: %v", err)
		return
	}
	c.framesSent.Store(true)
}

func (c *Client) captureFailed(err error) {
	c.publishErr(err)
	c.StopListening()
}

// reactor drains the transport and applies decoded events in arrival
// order. It owns every state transition driven by remote messages.
func (c *Client) reactor(t Transport, end chan struct{}) {
	for msg := range t.Messages() {
		c.lastRecv.Store(time.Now().UnixNano())
		for _, evt := range c.decoder.Decode(msg) {
			c.apply(evt)
		}
	}
	// Signal completion before any self-initiated teardown so that
	// Disconnect never waits on this goroutine's own call chain.
	close(end)

	c.mu.Lock()
	lost := c.transport == t && !c.state.terminal()
	c.mu.Unlock()
	if lost {
		// Remote hangup. No automatic reconnect.
		c.publishErr(&ConnectionError{Err: errors.New("connection closed by remote")})
		c.Disconnect()
	}
}

func (c *Client) apply(evt events.Event) {
	c.mu.Lock()
	switch evt.Kind {
	case events.KindSessionCreated:
		c.sessionID = evt.SessionID
		if c.state == StateConfiguring || c.state == StateConnected {
			c.state = StateSessionReady
		}
	case events.KindSessionEnded:
		c.state = StateEnded
	case events.KindTranscriptFinal:
		c.flags.Processing = true
	case events.KindResponseFinal:
		c.flags.Processing = false
	}
	playback := c.playback
	c.mu.Unlock()

	if evt.Kind == events.KindResponseAudio && playback != nil {
		playback.Enqueue(evt.Audio)
	}
	c.bus.Publish(evt)
}

func (c *Client) setSpeaking(on bool) {
	c.mu.Lock()
	c.flags.Speaking = on
	c.mu.Unlock()
}

// watchdog downgrades the session once when frames go out but nothing
// comes back for the configured window. The downgrade is one-way: the
// streaming socket stays closed and recognition moves to the
// request/response endpoint for the rest of the session.
func (c *Client) watchdog(stop, end chan struct{}) {
	defer close(end)
	ticker := time.NewTicker(c.cfg.WatchdogTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.framesSent.Load() {
				continue
			}
			silence := time.Since(time.Unix(0, c.lastRecv.Load()))
			if silence < c.cfg.WatchdogTimeout {
				continue
			}
			c.downgrade(silence)
			return
		}
	}
}

func (c *Client) downgrade(silence time.Duration) {
	c.mu.Lock()
	if c.degraded || c.state.terminal() {
		c.mu.Unlock()
		return
	}
	c.degraded = true
	c.state = StateSessionReady
	transport := c.transport
	c.transport = nil
	c.mu.Unlock()

	c.logf("voice: no frames received for %s, falling back to request/response recognition", silence.Round(time.Millisecond))
	if transport != nil {
		_ = transport.Close()
	}
	c.bus.Publish(events.Event{Kind: events.KindProtocolFallback, Detail: "streaming transport went silent"})
}

// recognizePending submits one buffered utterance on the fallback path.
func (c *Client) recognizePending(pcm []byte) {
	wav, err := audio.EncodeWAVPCM16LE(pcm, c.cfg.SampleRate)
	if err != nil {
		c.logf("voice: wav encode failed: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := c.recognize(ctx, wav)
	if err != nil {
		c.logf("voice: fallback recognition failed: %v", err)
		c.bus.Publish(events.Event{Kind: events.KindError, Code: CodeRecognitionError, Detail: err.Error()})
		return
	}
	if result.Status != wire.StatusSuccess || result.Text == "" {
		return
	}
	c.apply(events.Event{Kind: events.KindTranscriptFinal, Text: result.Text})
}

func (c *Client) publishErr(err error) {
	code := CodeConnectionError
	switch {
	case errors.Is(err, ErrConnectionTimeout):
		code = CodeConnectionTimeout
	default:
		var devErr *DeviceError
		var decErr *DecodeError
		var playErr *PlaybackError
		switch {
		case errors.As(err, &devErr):
			code = CodeDeviceError
		case errors.As(err, &decErr):
			code = CodeDecodeError
		case errors.As(err, &playErr):
			code = CodePlaybackError
		}
	}
	c.logf("voice: %v", err)
	c.bus.Publish(events.Event{Kind: events.KindError, Code: code, Detail: err.Error()})
}
