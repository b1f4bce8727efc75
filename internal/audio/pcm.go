package audio

import (
	"encoding/base64"
	"time"
)

// DefaultSampleRate is the canonical capture and playback rate.
const DefaultSampleRate = 16000

// Wire format identifiers used in session configuration.
const (
	FormatPCM16 = "pcm16"
	FormatOpus  = "opus"
)

// FrameBytes returns the PCM16LE mono byte length of one frame of the
// given duration.
func FrameBytes(sampleRate int, d time.Duration) int {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	samples := int(int64(sampleRate) * d.Nanoseconds() / int64(time.Second))
	return samples * 2
}

// ChunkPCM16 splits a PCM16LE byte stream into frames of frameDur each.
// The final frame may be shorter; a trailing odd byte is dropped so
// frames always contain whole samples.
func ChunkPCM16(pcm []byte, sampleRate int, frameDur time.Duration) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	if len(pcm)%2 == 1 {
		pcm = pcm[:len(pcm)-1]
	}
	size := FrameBytes(sampleRate, frameDur)
	if size <= 0 {
		return [][]byte{pcm}
	}

	frames := make([][]byte, 0, (len(pcm)+size-1)/size)
	for off := 0; off < len(pcm); off += size {
		end := off + size
		if end > len(pcm) {
			end = len(pcm)
		}
		frames = append(frames, pcm[off:end])
	}
	return frames
}

// EncodeBase64 converts a raw payload to its wire representation.
func EncodeBase64(payload []byte) string {
	return base64.StdEncoding.EncodeToString(payload)
}

// DecodeBase64 converts a wire payload back to raw bytes.
func DecodeBase64(payload string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(payload)
}
