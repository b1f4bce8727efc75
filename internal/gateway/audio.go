package gateway

import (
	"encoding/base64"
	"errors"
	"sync"

	"github.com/mbellotti/aura/internal/audio"
)

// browserSource adapts browser-pushed audio chunks to the capture
// pipeline's pull model. The pipeline drains it at frame pace; when the
// browser sends nothing, reads come back empty and no frame goes out.
type browserSource struct {
	mu      sync.Mutex
	buf     []byte
	started bool
}

// Keeps roughly 10s of 16kHz PCM16 before old audio is discarded.
const maxBufferedBytes = 320_000

func newBrowserSource() *browserSource {
	return &browserSource{}
}

func (s *browserSource) Start(sampleRate, channels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *browserSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return 0, errors.New("source not started")
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *browserSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.buf = nil
	return nil
}

func (s *browserSource) push(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.buf = append(s.buf, pcm...)
	if overflow := len(s.buf) - maxBufferedBytes; overflow > 0 {
		s.buf = s.buf[overflow:]
	}
}

// browserSink forwards rendered assistant audio to the browser as
// base64 chunks on the outbound queue. A saturated queue drops the
// chunk; stalling the playback worker would stall the whole reactor.
type browserSink struct {
	conversationID string
	send           func(msg any) bool

	mu         sync.Mutex
	seq        int
	sampleRate int
}

func newBrowserSink(conversationID string, send func(msg any) bool) *browserSink {
	return &browserSink{conversationID: conversationID, send: send}
}

func (s *browserSink) Start(sampleRate, channels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampleRate = sampleRate
	return nil
}

func (s *browserSink) Write(pcm []byte) (int, error) {
	s.mu.Lock()
	s.seq++
	msg := AssistantAudioChunk{
		Type:           TypeAssistantAudio,
		ConversationID: s.conversationID,
		Seq:            s.seq,
		Format:         "pcm16",
		SampleRate:     s.sampleRate,
		AudioBase64:    base64.StdEncoding.EncodeToString(pcm),
	}
	s.mu.Unlock()

	s.send(msg)
	return len(pcm), nil
}

func (s *browserSink) Stop() error { return nil }

// wrapWAV packages raw synthesis output for direct browser playback.
func wrapWAV(pcm []byte) ([]byte, error) {
	return audio.EncodeWAVPCM16LE(pcm, audio.DefaultSampleRate)
}
