package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies browser websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk    MessageType = "client_audio_chunk"
	TypeClientControl       MessageType = "client_control"
	TypeTranscriptPartial   MessageType = "transcript_partial"
	TypeTranscriptFinal     MessageType = "transcript_final"
	TypeAssistantTextDelta  MessageType = "assistant_text_delta"
	TypeAssistantAudio      MessageType = "assistant_audio_chunk"
	TypeAssistantTurnEnd    MessageType = "assistant_turn_end"
	TypeSessionStateChanged MessageType = "session_state_changed"
	TypeSystemEvent         MessageType = "system_event"
	TypeErrorEvent          MessageType = "error_event"
)

// Control actions accepted on client_control messages.
const (
	ActionStartListening = "start_listening"
	ActionStopListening  = "stop_listening"
	ActionMute           = "mute"
	ActionUnmute         = "unmute"
	ActionInterrupt      = "interrupt"
	ActionEnd            = "end"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Seq            int         `json:"seq"`
	PCM16Base64    string      `json:"pcm16_base64"`
	SampleRate     int         `json:"sample_rate"`
	TSMs           int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Action         string      `json:"action"`
}

type TranscriptPartial struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Text           string      `json:"text"`
	TSMs           int64       `json:"ts_ms"`
}

type TranscriptFinal struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Text           string      `json:"text"`
	TSMs           int64       `json:"ts_ms"`
}

type AssistantTextDelta struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	TextDelta      string      `json:"text_delta"`
}

type AssistantAudioChunk struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Seq            int         `json:"seq"`
	Format         string      `json:"format"`
	SampleRate     int         `json:"sample_rate"`
	AudioBase64    string      `json:"audio_base64"`
}

type AssistantTurnEnd struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Text           string      `json:"text,omitempty"`
}

type SessionStateChanged struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	State          string      `json:"state"`
	Listening      bool        `json:"listening"`
	Processing     bool        `json:"processing"`
	Speaking       bool        `json:"speaking"`
	Degraded       bool        `json:"degraded"`
}

type SystemEvent struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Code           string      `json:"code"`
	Detail         string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Code           string      `json:"code"`
	Source         string      `json:"source"`
	Retryable      bool        `json:"retryable"`
	Detail         string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ConversationID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ConversationID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionStartListening, ActionStopListening, ActionMute, ActionUnmute, ActionInterrupt, ActionEnd:
		default:
			return nil, fmt.Errorf("unknown control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// MessageTypeOf reports the wire type of any gateway message value.
func MessageTypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientAudioChunk:
		return m.Type, true
	case ClientControl:
		return m.Type, true
	case TranscriptPartial:
		return m.Type, true
	case TranscriptFinal:
		return m.Type, true
	case AssistantTextDelta:
		return m.Type, true
	case AssistantAudioChunk:
		return m.Type, true
	case AssistantTurnEnd:
		return m.Type, true
	case SessionStateChanged:
		return m.Type, true
	case SystemEvent:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
