package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mbellotti/aura/internal/config"
	"github.com/mbellotti/aura/internal/events"
	"github.com/mbellotti/aura/internal/observability"
	"github.com/mbellotti/aura/internal/policy"
	"github.com/mbellotti/aura/internal/reliability"
	"github.com/mbellotti/aura/internal/session"
	"github.com/mbellotti/aura/internal/speech"
	"github.com/mbellotti/aura/internal/transcript"
	"github.com/mbellotti/aura/internal/voice"
)

// VoiceClient is the slice of the voice client the bridge drives.
// Satisfied by *voice.Client; swapped out in tests.
type VoiceClient interface {
	Connect(ctx context.Context) error
	Disconnect()
	StartListening() error
	StopListening()
	SetMuted(muted bool)
	Interrupt()
	State() voice.State
	Flags() voice.Flags
	Degraded() bool
	Bus() *events.Bus
}

// ClientFactory builds the voice client for one conversation.
type ClientFactory func(cfg voice.Config, source voice.CaptureSource, sink voice.PlaybackSink) (VoiceClient, error)

// Bridge connects one browser websocket to one voice session: inbound
// browser messages drive the client, client events stream back out as
// browser messages, and final transcript turns are persisted.
type Bridge struct {
	cfg       config.Config
	sessions  *session.Manager
	store     transcript.Store
	synth     *speech.Synthesizer
	metrics   *observability.Metrics
	logf      func(format string, args ...any)
	newClient ClientFactory
}

func New(cfg config.Config, sessions *session.Manager, store transcript.Store, synth *speech.Synthesizer, metrics *observability.Metrics) *Bridge {
	b := &Bridge{
		cfg:      cfg,
		sessions: sessions,
		store:    store,
		synth:    synth,
		metrics:  metrics,
		logf:     log.Printf,
	}
	b.newClient = func(vcfg voice.Config, source voice.CaptureSource, sink voice.PlaybackSink) (VoiceClient, error) {
		return voice.NewClient(vcfg, voice.Options{
			Source: source,
			Sink:   sink,
			OnFrameDrop: func(reason string) {
				metrics.DroppedFrames.WithLabelValues(reason).Inc()
			},
			Logf: b.logf,
		})
	}
	return b
}

// RunConnection owns one browser connection for its whole lifetime. It
// returns when the inbound channel closes, the context is canceled, or
// the browser asks to end the conversation.
func (b *Bridge) RunConnection(ctx context.Context, conv *session.Conversation, inbound <-chan any, outbound chan<- any) error {
	send := func(msg any) bool {
		select {
		case outbound <- msg:
			return true
		default:
			// Keep websocket writes single-threaded; drop when the
			// outbound queue is saturated.
			if t, ok := MessageTypeOf(msg); ok {
				b.metrics.WSMessages.WithLabelValues("outbound_dropped", string(t)).Inc()
			}
			return false
		}
	}

	source := newBrowserSource()
	sink := newBrowserSink(conv.ID, send)

	client, err := b.newClient(b.cfg.VoiceConfig(conv.Voice, conv.Language), source, sink)
	if err != nil {
		send(ErrorEvent{
			Type:           TypeErrorEvent,
			ConversationID: conv.ID,
			Code:           "configuration_error",
			Source:         "gateway",
			Detail:         err.Error(),
		})
		return err
	}

	connStart := time.Now()
	unsub := client.Bus().Subscribe(b.forwarder(conv.ID, client, send, connStart))
	defer unsub()

	if err := client.Connect(ctx); err != nil {
		send(ErrorEvent{
			Type:           TypeErrorEvent,
			ConversationID: conv.ID,
			Code:           errorCode(err),
			Source:         "voice",
			Retryable:      true,
			Detail:         err.Error(),
		})
		return err
	}
	defer client.Disconnect()

	b.metrics.SessionEvents.WithLabelValues("voice_connected").Inc()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case ClientAudioChunk:
				b.handleAudioChunk(conv.ID, m, source, send)
			case ClientControl:
				if done := b.handleControl(conv.ID, m, client, send); done {
					return nil
				}
			default:
				b.logf("gateway: unexpected inbound message %T", msg)
			}
		}
	}
}

func (b *Bridge) handleAudioChunk(conversationID string, m ClientAudioChunk, source *browserSource, send func(any) bool) {
	pcm, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
	if err != nil {
		send(ErrorEvent{
			Type:           TypeErrorEvent,
			ConversationID: conversationID,
			Code:           "invalid_audio_chunk",
			Source:         "gateway",
			Detail:         "pcm16_base64 is not valid base64",
		})
		return
	}
	source.push(pcm)
	_ = b.sessions.Touch(conversationID)
}

// handleControl applies one browser control action. It reports true
// when the conversation should end.
func (b *Bridge) handleControl(conversationID string, m ClientControl, client VoiceClient, send func(any) bool) bool {
	_ = b.sessions.Touch(conversationID)

	switch m.Action {
	case ActionStartListening:
		if err := client.StartListening(); err != nil {
			send(ErrorEvent{
				Type:           TypeErrorEvent,
				ConversationID: conversationID,
				Code:           errorCode(err),
				Source:         "voice",
				Detail:         err.Error(),
			})
		}
	case ActionStopListening:
		client.StopListening()
	case ActionMute:
		client.SetMuted(true)
		send(SystemEvent{Type: TypeSystemEvent, ConversationID: conversationID, Code: "muted"})
	case ActionUnmute:
		client.SetMuted(false)
		send(SystemEvent{Type: TypeSystemEvent, ConversationID: conversationID, Code: "unmuted"})
	case ActionInterrupt:
		client.Interrupt()
		_ = b.sessions.Interrupt(conversationID)
		send(SystemEvent{Type: TypeSystemEvent, ConversationID: conversationID, Code: "interrupted"})
	case ActionEnd:
		if _, err := b.sessions.End(conversationID); err != nil {
			b.logf("gateway: end conversation %s: %v", conversationID, err)
		}
		b.metrics.ActiveConversations.Set(float64(b.sessions.ActiveCount()))
		b.metrics.SessionEvents.WithLabelValues("ended").Inc()
		return true
	}
	return false
}

// forwarder translates voice session events into browser messages.
// Handlers run on the client's reactor goroutine in publish order, so
// the browser sees transcripts and audio in the order they arrived.
func (b *Bridge) forwarder(conversationID string, client VoiceClient, send func(any) bool, connStart time.Time) events.Handler {
	var transcriptAt time.Time
	var sawFirstAudio bool

	stateMsg := func() SessionStateChanged {
		flags := client.Flags()
		return SessionStateChanged{
			Type:           TypeSessionStateChanged,
			ConversationID: conversationID,
			State:          client.State().String(),
			Listening:      flags.Listening,
			Processing:     flags.Processing,
			Speaking:       flags.Speaking,
			Degraded:       client.Degraded(),
		}
	}

	return func(e events.Event) {
		switch e.Kind {
		case events.KindConnected, events.KindDisconnected,
			events.KindListeningStarted, events.KindListeningStopped,
			events.KindSessionEnded:
			send(stateMsg())

		case events.KindSessionCreated:
			_ = b.sessions.BindVoiceSession(conversationID, e.SessionID)
			b.metrics.ObserveStage("connect_to_session_ready", time.Since(connStart))
			send(stateMsg())

		case events.KindUserSpeechStarted:
			// Barge-in: the user talking over the assistant cancels
			// whatever is still queued for playback.
			if client.Flags().Speaking {
				client.Interrupt()
				_ = b.sessions.Interrupt(conversationID)
				b.metrics.SessionEvents.WithLabelValues("barge_in").Inc()
			}
			send(SystemEvent{Type: TypeSystemEvent, ConversationID: conversationID, Code: "user_speech_started"})

		case events.KindUserSpeechStopped:
			send(SystemEvent{Type: TypeSystemEvent, ConversationID: conversationID, Code: "user_speech_stopped"})

		case events.KindTranscriptInterim:
			send(TranscriptPartial{
				Type:           TypeTranscriptPartial,
				ConversationID: conversationID,
				Text:           e.Text,
				TSMs:           e.At.UnixMilli(),
			})

		case events.KindTranscriptFinal:
			transcriptAt = time.Now()
			sawFirstAudio = false
			send(TranscriptFinal{
				Type:           TypeTranscriptFinal,
				ConversationID: conversationID,
				Text:           e.Text,
				TSMs:           e.At.UnixMilli(),
			})
			go b.persist(conversationID, e.SessionID, transcript.RoleUser, e.Text)

		case events.KindResponseInterim:
			send(AssistantTextDelta{
				Type:           TypeAssistantTextDelta,
				ConversationID: conversationID,
				TextDelta:      e.Text,
			})

		case events.KindResponseFinal:
			send(AssistantTurnEnd{
				Type:           TypeAssistantTurnEnd,
				ConversationID: conversationID,
				Text:           e.Text,
			})
			if !transcriptAt.IsZero() {
				b.metrics.ObserveStage("turn_total", time.Since(transcriptAt))
			}
			go b.persist(conversationID, e.SessionID, transcript.RoleAssistant, e.Text)

		case events.KindSpeechStarted:
			if !sawFirstAudio && !transcriptAt.IsZero() {
				sawFirstAudio = true
				b.metrics.ObserveFirstAudioLatency(time.Since(transcriptAt))
			}
			send(stateMsg())

		case events.KindSpeechStopped:
			send(stateMsg())

		case events.KindProtocolFallback:
			_ = b.sessions.MarkDegraded(conversationID)
			b.metrics.ProtocolFallbacks.Inc()
			b.metrics.ObserveIndicator("fallback_used")
			send(SystemEvent{
				Type:           TypeSystemEvent,
				ConversationID: conversationID,
				Code:           "protocol_fallback",
				Detail:         e.Detail,
			})

		case events.KindError:
			send(ErrorEvent{
				Type:           TypeErrorEvent,
				ConversationID: conversationID,
				Code:           e.Code,
				Source:         "voice",
				Retryable:      reliability.IsRetryableRealtimeCode(e.Code),
				Detail:         e.Detail,
			})
		}
	}
}

// persist saves one finalized turn, masking PII first.
func (b *Bridge) persist(conversationID, sessionID, role, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	redacted, changed := policy.RedactPII(text)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := b.store.Save(ctx, transcript.Entry{
		ConversationID: conversationID,
		SessionID:      sessionID,
		Role:           role,
		Text:           redacted,
		Redacted:       changed,
	})
	if err != nil {
		b.logf("gateway: persist %s turn: %v", role, err)
	}
}

// PreviewTTS synthesizes a short sample for the given voice and wraps
// it as WAV for direct browser playback.
func (b *Bridge) PreviewTTS(ctx context.Context, voiceID, language, text string) ([]byte, error) {
	if b.synth == nil {
		return nil, errors.New("synthesizer not configured")
	}
	if strings.TrimSpace(voiceID) == "" {
		voiceID = b.cfg.Voice
	}
	if strings.TrimSpace(language) == "" {
		language = b.cfg.Language
	}
	if strings.TrimSpace(text) == "" {
		text = "Hi, I'm here whenever you want to talk."
	}

	doc := speech.SSML{Voice: voiceID, Language: language}.Document(text)
	pcm, err := b.synth.Synthesize(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("synthesize preview: %w", err)
	}
	return wrapWAV(pcm)
}

func errorCode(err error) string {
	var cfgErr *voice.ConfigurationError
	var stateErr *voice.StateError
	var devErr *voice.DeviceError
	switch {
	case errors.Is(err, voice.ErrConnectionTimeout):
		return voice.CodeConnectionTimeout
	case errors.As(err, &cfgErr):
		return "configuration_error"
	case errors.As(err, &stateErr):
		return "state_error"
	case errors.As(err, &devErr):
		return voice.CodeDeviceError
	default:
		return voice.CodeConnectionError
	}
}
