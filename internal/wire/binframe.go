package wire

import (
	"encoding/binary"
	"fmt"
)

// Message type bytes on the length-prefixed binary sub-protocol.
const (
	BinTypeEvent byte = 0x01
	BinTypeAudio byte = 0x02
)

// BinFrame is one message on the alternate binary sub-protocol:
// a 1-byte message type, a 4-byte little-endian payload length, then a
// UTF-8 JSON payload.
type BinFrame struct {
	Type    byte
	Payload []byte
}

func (f BinFrame) Encode() []byte {
	out := make([]byte, 0, 5+len(f.Payload))
	out = append(out, f.Type)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(f.Payload)))
	return append(out, f.Payload...)
}

// DecodeBinFrame parses a length-prefixed binary frame. The declared
// payload length must match the bytes present exactly.
func DecodeBinFrame(data []byte) (BinFrame, error) {
	if len(data) < 5 {
		return BinFrame{}, fmt.Errorf("bin frame: %w: short prefix", ErrMalformedMessage)
	}
	declared := binary.LittleEndian.Uint32(data[1:5])
	if int(declared) != len(data)-5 {
		return BinFrame{}, fmt.Errorf("bin frame: %w: declared length %d, have %d", ErrMalformedMessage, declared, len(data)-5)
	}
	return BinFrame{Type: data[0], Payload: data[5:]}, nil
}

// looksLikeBinFrame reports whether data is plausibly a length-prefixed
// binary frame. Used to disambiguate the two binary sub-protocols.
func looksLikeBinFrame(data []byte) bool {
	if len(data) < 5 {
		return false
	}
	return int(binary.LittleEndian.Uint32(data[1:5])) == len(data)-5
}
