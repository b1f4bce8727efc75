package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mbellotti/aura/internal/events"
)

// Event type strings on the JSON text sub-protocol. The three client
// implementations this protocol descends from used inconsistent names,
// so each normalized variant accepts every spelling observed.
const (
	typeSessionCreated = "session.created"
	typeSessionUpdated = "session.updated"
	typeSessionEnded   = "session.ended"

	typeSessionUpdate = "session.update"
	typeAudioAppend   = "input_audio_buffer.append"
	typeSessionEnd    = "session.end"
)

// SessionConfig is the session-configuration message sent after the
// transport opens.
type SessionConfig struct {
	Voice        string  `json:"voice,omitempty"`
	Language     string  `json:"language,omitempty"`
	Instructions string  `json:"instructions,omitempty"`
	InputFormat  string  `json:"input_audio_format,omitempty"`
	OutputFormat string  `json:"output_audio_format,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

func EncodeSessionUpdate(cfg SessionConfig) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":    typeSessionUpdate,
		"session": cfg,
	})
}

func EncodeAudioAppend(audioBase64 string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":  typeAudioAppend,
		"audio": audioBase64,
	})
}

func EncodeSessionEnd() []byte {
	return []byte(`{"type":"` + typeSessionEnd + `"}`)
}

// DecodeRealtimeMessage parses one JSON text frame into zero or more
// normalized events. Subscribers never see sub-format specific field
// shapes: session ids and text are lifted out of whichever key the
// server used. An empty slice with a nil error means the message was
// recognized but carries nothing for subscribers.
func DecodeRealtimeMessage(data []byte) ([]events.Event, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("realtime message: %w: %v", ErrMalformedMessage, err)
	}

	msgType := asString(raw["type"])
	if msgType == "" {
		return nil, fmt.Errorf("realtime message: %w: missing type", ErrMalformedMessage)
	}

	switch msgType {
	case typeSessionCreated:
		id := sessionIDFrom(raw)
		if id == "" {
			return nil, fmt.Errorf("realtime message: %w: %s without session id", ErrMalformedMessage, msgType)
		}
		return []events.Event{{Kind: events.KindSessionCreated, SessionID: id}}, nil

	case typeSessionUpdated:
		return []events.Event{{Kind: events.KindSessionUpdated, SessionID: sessionIDFrom(raw)}}, nil

	case typeSessionEnded, "session.closed":
		return []events.Event{{Kind: events.KindSessionEnded, SessionID: sessionIDFrom(raw)}}, nil

	case "input_audio_buffer.speech_started", "speech.started":
		return []events.Event{{Kind: events.KindUserSpeechStarted}}, nil

	case "input_audio_buffer.speech_stopped", "speech.stopped":
		return []events.Event{{Kind: events.KindUserSpeechStopped}}, nil

	case "conversation.item.input_audio_transcription.delta", "transcript.partial":
		return textEvent(events.KindTranscriptInterim, raw), nil

	case "conversation.item.input_audio_transcription.completed", "transcript.final":
		return textEvent(events.KindTranscriptFinal, raw), nil

	case "response.audio_transcript.delta", "response.text.delta", "response.partial":
		return textEvent(events.KindResponseInterim, raw), nil

	case "response.audio_transcript.done", "response.text.done", "response.final":
		return textEvent(events.KindResponseFinal, raw), nil

	case "response.audio.delta", "response.audio":
		b64 := textFrom(raw, "delta", "audio")
		if b64 == "" {
			return nil, nil
		}
		audio, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("realtime message: %w: audio payload not base64", ErrMalformedMessage)
		}
		return []events.Event{{Kind: events.KindResponseAudio, Audio: audio}}, nil

	case "response.done", "response.created", "rate_limits.updated",
		"input_audio_buffer.committed", "conversation.item.created":
		// Recognized control traffic with nothing for subscribers.
		return nil, nil

	case "error":
		code, detail := errorFrom(raw)
		return []events.Event{{Kind: events.KindError, Code: code, Detail: detail}}, nil

	default:
		return nil, fmt.Errorf("realtime message: %w: %q", ErrUnknownEventType, msgType)
	}
}

func textEvent(kind events.Kind, raw map[string]any) []events.Event {
	text := textFrom(raw, "delta", "text", "transcript")
	if text == "" {
		return nil
	}
	return []events.Event{{Kind: kind, SessionID: sessionIDFrom(raw), Text: text}}
}

// sessionIDFrom lifts the session identifier out of any of the key
// shapes the coexisting server variants produce: top-level session_id
// or id, or the same nested under "session" or "data".
func sessionIDFrom(raw map[string]any) string {
	for _, key := range []string{"session_id", "id"} {
		if v := asString(raw[key]); v != "" {
			return v
		}
	}
	for _, key := range []string{"session", "data"} {
		nested, ok := raw[key].(map[string]any)
		if !ok {
			continue
		}
		for _, inner := range []string{"id", "session_id"} {
			if v := asString(nested[inner]); v != "" {
				return v
			}
		}
	}
	return ""
}

func textFrom(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if v := asString(raw[key]); v != "" {
			return v
		}
	}
	if nested, ok := raw["data"].(map[string]any); ok {
		for _, key := range keys {
			if v := asString(nested[key]); v != "" {
				return v
			}
		}
	}
	return ""
}

func errorFrom(raw map[string]any) (code, detail string) {
	for _, key := range []string{"error", "data"} {
		if nested, ok := raw[key].(map[string]any); ok {
			code = asString(nested["code"])
			if code == "" {
				code = asString(nested["type"])
			}
			detail = asString(nested["message"])
			if detail == "" {
				detail = asString(nested["detail"])
			}
			if code != "" || detail != "" {
				return code, detail
			}
		}
	}
	return asString(raw["code"]), asString(raw["message"])
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func normalizeStatus(v string) string {
	return strings.TrimSpace(v)
}
