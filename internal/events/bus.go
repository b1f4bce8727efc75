package events

import (
	"sync"
	"time"
)

// Kind identifies a session event variant.
type Kind string

const (
	KindConnected         Kind = "connected"
	KindDisconnected      Kind = "disconnected"
	KindSessionCreated    Kind = "session_created"
	KindSessionUpdated    Kind = "session_updated"
	KindSessionEnded      Kind = "session_ended"
	KindListeningStarted  Kind = "listening_started"
	KindListeningStopped  Kind = "listening_stopped"
	KindUserSpeechStarted Kind = "user_speech_started"
	KindUserSpeechStopped Kind = "user_speech_stopped"
	KindTranscriptInterim Kind = "transcript_interim"
	KindTranscriptFinal   Kind = "transcript_final"
	KindResponseInterim   Kind = "response_interim"
	KindResponseFinal     Kind = "response_final"
	KindResponseAudio     Kind = "response_audio"
	KindSpeechStarted     Kind = "speech_started"
	KindSpeechStopped     Kind = "speech_stopped"
	KindAudioPlayed       Kind = "audio_played"
	KindProtocolFallback  Kind = "protocol_fallback"
	KindError             Kind = "error"
)

// Event is one normalized session event. Text carries transcript or
// response text, Audio carries a synthesized audio payload, Code and
// Detail describe errors.
type Event struct {
	Kind      Kind
	SessionID string
	Text      string
	Audio     []byte
	Code      string
	Detail    string
	At        time.Time
}

// Handler receives events. Handlers run synchronously on the publishing
// goroutine, so delivery order per subscriber matches publish order.
type Handler func(Event)

type subscriber struct {
	id int
	fn Handler
}

// Bus is a typed publish/subscribe registry shared by the voice client
// components. Subscribers must unsubscribe on teardown.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler and returns its unsubscribe function.
// The unsubscribe function is safe to call more than once.
func (b *Bus) Subscribe(fn Handler) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to every subscriber in registration order.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.Lock()
	snapshot := make([]subscriber, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, s := range snapshot {
		s.fn(e)
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
