package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known frame paths on the speech sub-protocol.
const (
	PathSpeechConfig     = "speech.config"
	PathAudio            = "audio"
	PathSpeechHypothesis = "speech.hypothesis"
	PathSpeechPhrase     = "speech.phrase"
	PathSpeechStart      = "speech.startDetected"
	PathSpeechEnd        = "speech.endDetected"
	PathTurnStart        = "turn.start"
	PathTurnEnd          = "turn.end"
)

const (
	headerPath        = "Path"
	headerRequestID   = "X-RequestId"
	headerTimestamp   = "X-Timestamp"
	headerContentType = "Content-Type"

	maxHeaderBytes = 0xFFFF
)

var errHeaderTooLarge = errors.New("speech frame header exceeds 65535 bytes")

// SpeechFrame is one message on the binary header+payload sub-protocol:
// a 2-byte big-endian header length, UTF-8 header text terminated by a
// blank line, then the payload bytes.
type SpeechFrame struct {
	Path        string
	RequestID   string
	Timestamp   string
	ContentType string
	Payload     []byte
}

// NewSpeechFrame builds an outbound frame with a fresh request id and
// the current UTC timestamp.
func NewSpeechFrame(path, contentType string, payload []byte) SpeechFrame {
	return SpeechFrame{
		Path:        path,
		RequestID:   strings.ReplaceAll(uuid.NewString(), "-", ""),
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		ContentType: contentType,
		Payload:     payload,
	}
}

// Encode serializes the frame for the wire.
func (f SpeechFrame) Encode() ([]byte, error) {
	var header bytes.Buffer
	fmt.Fprintf(&header, "%s: %s\r\n", headerPath, f.Path)
	if f.RequestID != "" {
		fmt.Fprintf(&header, "%s: %s\r\n", headerRequestID, f.RequestID)
	}
	if f.Timestamp != "" {
		fmt.Fprintf(&header, "%s: %s\r\n", headerTimestamp, f.Timestamp)
	}
	if f.ContentType != "" {
		fmt.Fprintf(&header, "%s: %s\r\n", headerContentType, f.ContentType)
	}
	header.WriteString("\r\n")

	if header.Len() > maxHeaderBytes {
		return nil, errHeaderTooLarge
	}

	out := make([]byte, 0, 2+header.Len()+len(f.Payload))
	out = binary.BigEndian.AppendUint16(out, uint16(header.Len()))
	out = append(out, header.Bytes()...)
	out = append(out, f.Payload...)
	return out, nil
}

// DecodeSpeechFrame parses a wire frame back into its header fields and
// payload. Unknown header keys are ignored.
func DecodeSpeechFrame(data []byte) (SpeechFrame, error) {
	if len(data) < 2 {
		return SpeechFrame{}, fmt.Errorf("speech frame: %w: short prefix", ErrMalformedMessage)
	}
	headerLen := int(binary.BigEndian.Uint16(data[:2]))
	if headerLen == 0 || 2+headerLen > len(data) {
		return SpeechFrame{}, fmt.Errorf("speech frame: %w: header length %d out of range", ErrMalformedMessage, headerLen)
	}

	headerText := string(data[2 : 2+headerLen])
	f := SpeechFrame{Payload: data[2+headerLen:]}

	for _, line := range strings.Split(headerText, "\r\n") {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return SpeechFrame{}, fmt.Errorf("speech frame: %w: header line %q", ErrMalformedMessage, line)
		}
		value = strings.TrimSpace(value)
		switch {
		case strings.EqualFold(key, headerPath):
			f.Path = value
		case strings.EqualFold(key, headerRequestID):
			f.RequestID = value
		case strings.EqualFold(key, headerTimestamp):
			f.Timestamp = value
		case strings.EqualFold(key, headerContentType):
			f.ContentType = value
		}
	}

	if f.Path == "" {
		return SpeechFrame{}, fmt.Errorf("speech frame: %w: missing Path header", ErrMalformedMessage)
	}
	return f, nil
}
