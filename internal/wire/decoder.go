package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/mbellotti/aura/internal/events"
)

var (
	// ErrMalformedMessage marks payloads that fail to decode as any
	// recognized sub-format. Callers log and drop; the session continues.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnknownEventType marks structurally valid messages whose type is
	// not recognized. Logged and dropped like malformed payloads.
	ErrUnknownEventType = errors.New("unknown event type")
)

// Recognition statuses carried in speech.phrase results.
const (
	StatusSuccess               = "Success"
	StatusNoMatch               = "NoMatch"
	StatusInitialSilenceTimeout = "InitialSilenceTimeout"
)

// RawMessage is one frame as it arrived on the transport.
type RawMessage struct {
	Binary bool
	Data   []byte
}

// Decoder turns raw transport frames into the normalized event stream.
// Frames are handled to completion in arrival order; a frame that fails
// to decode never halts delivery of subsequent frames.
type Decoder struct {
	// Logf receives drop diagnostics. Defaults to log.Printf.
	Logf func(format string, args ...any)
	// OnDrop, when set, is invoked with a reason label for every dropped
	// frame (metrics hook).
	OnDrop func(reason string)
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode parses one frame and returns the events it carries, possibly
// none. Malformed or unknown frames are logged, counted, and dropped.
func (d *Decoder) Decode(msg RawMessage) []events.Event {
	evts, err := d.decode(msg)
	if err != nil {
		d.drop(err)
		return nil
	}
	return evts
}

func (d *Decoder) decode(msg RawMessage) ([]events.Event, error) {
	if !msg.Binary {
		return DecodeRealtimeMessage(msg.Data)
	}
	if looksLikeBinFrame(msg.Data) {
		frame, err := DecodeBinFrame(msg.Data)
		if err != nil {
			return nil, err
		}
		return d.binFrameEvents(frame)
	}
	frame, err := DecodeSpeechFrame(msg.Data)
	if err != nil {
		return nil, err
	}
	return d.speechFrameEvents(frame)
}

func (d *Decoder) binFrameEvents(frame BinFrame) ([]events.Event, error) {
	switch frame.Type {
	case BinTypeEvent:
		return DecodeRealtimeMessage(frame.Payload)
	case BinTypeAudio:
		return DecodeRealtimeMessage(frame.Payload)
	default:
		return nil, fmt.Errorf("bin frame: %w: type 0x%02x", ErrUnknownEventType, frame.Type)
	}
}

// recognitionResult is the payload of speech.hypothesis and
// speech.phrase frames.
type recognitionResult struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
	Text              string `json:"Text"`
	NBest             []struct {
		Display string `json:"Display"`
	} `json:"NBest"`
}

func (r recognitionResult) bestText() string {
	if r.DisplayText != "" {
		return r.DisplayText
	}
	if len(r.NBest) > 0 {
		return r.NBest[0].Display
	}
	return r.Text
}

func (d *Decoder) speechFrameEvents(frame SpeechFrame) ([]events.Event, error) {
	switch frame.Path {
	case PathSpeechStart:
		return []events.Event{{Kind: events.KindUserSpeechStarted}}, nil
	case PathSpeechEnd:
		return []events.Event{{Kind: events.KindUserSpeechStopped}}, nil
	case PathTurnStart, PathTurnEnd:
		// Turn boundaries carry nothing for subscribers.
		return nil, nil

	case PathSpeechHypothesis:
		var result recognitionResult
		if err := json.Unmarshal(frame.Payload, &result); err != nil {
			return nil, fmt.Errorf("speech.hypothesis: %w: %v", ErrMalformedMessage, err)
		}
		if result.Text == "" {
			return nil, nil
		}
		return []events.Event{{Kind: events.KindTranscriptInterim, Text: result.Text}}, nil

	case PathSpeechPhrase:
		var result recognitionResult
		if err := json.Unmarshal(frame.Payload, &result); err != nil {
			return nil, fmt.Errorf("speech.phrase: %w: %v", ErrMalformedMessage, err)
		}
		return d.phraseEvents(result), nil

	default:
		return nil, fmt.Errorf("speech frame: %w: path %q", ErrUnknownEventType, frame.Path)
	}
}

// phraseEvents maps recognition statuses to events. Only Success with
// non-empty text is visible to subscribers; NoMatch and
// InitialSilenceTimeout are silently dropped, anything else is logged
// and dropped.
func (d *Decoder) phraseEvents(result recognitionResult) []events.Event {
	switch normalizeStatus(result.RecognitionStatus) {
	case StatusSuccess:
		text := result.bestText()
		if text == "" {
			return nil
		}
		return []events.Event{{Kind: events.KindTranscriptFinal, Text: text}}
	case StatusNoMatch, StatusInitialSilenceTimeout:
		return nil
	default:
		d.logf("wire: dropping speech.phrase with status %q", result.RecognitionStatus)
		if d.OnDrop != nil {
			d.OnDrop("unknown_status")
		}
		return nil
	}
}

func (d *Decoder) drop(err error) {
	d.logf("wire: dropping frame: %v", err)
	if d.OnDrop == nil {
		return
	}
	switch {
	case errors.Is(err, ErrUnknownEventType):
		d.OnDrop("unknown_type")
	default:
		d.OnDrop("malformed")
	}
}

func (d *Decoder) logf(format string, args ...any) {
	if d.Logf != nil {
		d.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}
