package audio

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// Largest Opus frame at 16kHz mono is 120ms = 1920 samples.
const maxOpusFrameSamples = 1920

// OpusDecoder converts Opus packets to PCM16LE mono bytes. It is used
// for the alternate playback payload format; PCM16 payloads bypass it.
type OpusDecoder struct {
	dec        *opus.Decoder
	sampleRate int
}

func NewOpusDecoder(sampleRate int) (*OpusDecoder, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, sampleRate: sampleRate}, nil
}

// Decode decodes one Opus packet into PCM16LE bytes.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	buf := make([]int16, maxOpusFrameSamples)
	n, err := d.dec.Decode(packet, buf)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}

	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		pcm[i*2] = byte(buf[i])
		pcm[i*2+1] = byte(buf[i] >> 8)
	}
	return pcm, nil
}
