package gateway

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/mbellotti/aura/internal/config"
	"github.com/mbellotti/aura/internal/events"
	"github.com/mbellotti/aura/internal/observability"
	"github.com/mbellotti/aura/internal/session"
	"github.com/mbellotti/aura/internal/transcript"
	"github.com/mbellotti/aura/internal/voice"
)

type fakeClient struct {
	mu           sync.Mutex
	bus          *events.Bus
	connectErr   error
	connected    bool
	disconnected bool
	listening    bool
	muted        bool
	interrupts   int
	speaking     bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{bus: events.NewBus()}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeClient) StartListening() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listening = true
	return nil
}

func (f *fakeClient) StopListening() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listening = false
}

func (f *fakeClient) SetMuted(m bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = m
}

func (f *fakeClient) Interrupt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
}

func (f *fakeClient) State() voice.State { return voice.StateSessionReady }

func (f *fakeClient) Flags() voice.Flags {
	f.mu.Lock()
	defer f.mu.Unlock()
	return voice.Flags{Listening: f.listening, Speaking: f.speaking}
}

func (f *fakeClient) Degraded() bool { return false }

func (f *fakeClient) Bus() *events.Bus { return f.bus }

var testMetricsOnce sync.Once
var testMetrics *observability.Metrics

func sharedMetrics() *observability.Metrics {
	// Prometheus registration is global; one instance serves all tests.
	testMetricsOnce.Do(func() {
		testMetrics = observability.NewMetrics("gateway_test")
	})
	return testMetrics
}

func newTestBridge(t *testing.T, client *fakeClient) (*Bridge, *session.Manager, *transcript.InMemoryStore) {
	t.Helper()
	sessions := session.NewManager(time.Minute)
	store := transcript.NewInMemoryStore()
	b := New(config.Config{Voice: "en-US-AvaNeural", Language: "en-US"}, sessions, store, nil, sharedMetrics())
	b.logf = t.Logf
	b.newClient = func(cfg voice.Config, source voice.CaptureSource, sink voice.PlaybackSink) (VoiceClient, error) {
		return client, nil
	}
	return b, sessions, store
}

func runBridge(t *testing.T, b *Bridge, conv *session.Conversation) (inbound chan any, outbound chan any, done chan error) {
	t.Helper()
	inbound = make(chan any, 16)
	outbound = make(chan any, 64)
	done = make(chan error, 1)
	go func() {
		done <- b.RunConnection(context.Background(), conv, inbound, outbound)
	}()
	return inbound, outbound, done
}

// waitSubscribed blocks until RunConnection has attached its event
// forwarder; publishing before that would drop the event.
func waitSubscribed(t *testing.T, bus *events.Bus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("event forwarder never subscribed")
		}
		time.Sleep(time.Millisecond)
	}
}

func waitOutbound(t *testing.T, outbound chan any, want MessageType) any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-outbound:
			if got, ok := MessageTypeOf(msg); ok && got == want {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestBridgeControlActions(t *testing.T) {
	client := newFakeClient()
	b, sessions, _ := newTestBridge(t, client)
	conv := sessions.Create("u1", "", "en-US")

	inbound, outbound, done := runBridge(t, b, conv)

	inbound <- ClientControl{Type: TypeClientControl, ConversationID: conv.ID, Action: ActionStartListening}
	inbound <- ClientControl{Type: TypeClientControl, ConversationID: conv.ID, Action: ActionMute}
	waitOutbound(t, outbound, TypeSystemEvent)

	client.mu.Lock()
	listening, muted := client.listening, client.muted
	client.mu.Unlock()
	if !listening || !muted {
		t.Fatalf("listening = %v, muted = %v, want both true", listening, muted)
	}

	inbound <- ClientControl{Type: TypeClientControl, ConversationID: conv.ID, Action: ActionEnd}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunConnection() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("bridge did not stop on end action")
	}

	client.mu.Lock()
	disconnected := client.disconnected
	client.mu.Unlock()
	if !disconnected {
		t.Fatalf("voice client not disconnected")
	}

	got, err := sessions.Get(conv.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != session.StatusEnded {
		t.Fatalf("conversation status = %q, want ended", got.Status)
	}
}

func TestBridgeForwardsTranscriptsAndPersists(t *testing.T) {
	client := newFakeClient()
	b, sessions, store := newTestBridge(t, client)
	conv := sessions.Create("u1", "", "en-US")

	inbound, outbound, _ := runBridge(t, b, conv)
	defer close(inbound)

	waitSubscribed(t, client.bus)
	client.bus.Publish(events.Event{Kind: events.KindTranscriptInterim, Text: "hel"})
	client.bus.Publish(events.Event{Kind: events.KindTranscriptFinal, SessionID: "vs1", Text: "call me at 555-123-4567"})

	partial := waitOutbound(t, outbound, TypeTranscriptPartial).(TranscriptPartial)
	if partial.Text != "hel" {
		t.Fatalf("partial text = %q", partial.Text)
	}
	final := waitOutbound(t, outbound, TypeTranscriptFinal).(TranscriptFinal)
	if final.Text != "call me at 555-123-4567" {
		t.Fatalf("final text = %q", final.Text)
	}

	// Persisted copy is redacted; the live message is not.
	deadline := time.Now().Add(2 * time.Second)
	for {
		entries, err := store.History(context.Background(), conv.ID, 10)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(entries) == 1 {
			e := entries[0]
			if e.Role != transcript.RoleUser || !e.Redacted {
				t.Fatalf("persisted entry = %+v", e)
			}
			if e.Text == final.Text {
				t.Fatalf("phone number persisted in cleartext: %q", e.Text)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("transcript never persisted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBridgeBargeInInterrupts(t *testing.T) {
	client := newFakeClient()
	client.speaking = true
	b, sessions, _ := newTestBridge(t, client)
	conv := sessions.Create("u1", "", "en-US")

	inbound, outbound, _ := runBridge(t, b, conv)
	defer close(inbound)

	waitSubscribed(t, client.bus)
	client.bus.Publish(events.Event{Kind: events.KindUserSpeechStarted})
	waitOutbound(t, outbound, TypeSystemEvent)

	client.mu.Lock()
	interrupts := client.interrupts
	client.mu.Unlock()
	if interrupts != 1 {
		t.Fatalf("interrupts = %d, want 1", interrupts)
	}

	got, err := sessions.Get(conv.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.InterruptionCount != 1 {
		t.Fatalf("InterruptionCount = %d, want 1", got.InterruptionCount)
	}
}

func TestBridgeAudioChunkFeedsSource(t *testing.T) {
	client := newFakeClient()
	b, sessions, _ := newTestBridge(t, client)
	conv := sessions.Create("u1", "", "en-US")

	srcReady := make(chan *browserSource, 1)
	b.newClient = func(cfg voice.Config, source voice.CaptureSource, sink voice.PlaybackSink) (VoiceClient, error) {
		srcReady <- source.(*browserSource)
		return client, nil
	}

	inbound, _, _ := runBridge(t, b, conv)
	defer close(inbound)

	var src *browserSource
	select {
	case src = <-srcReady:
	case <-time.After(2 * time.Second):
		t.Fatalf("client factory never invoked")
	}
	if err := src.Start(16000, 1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	pcm := []byte{1, 2, 3, 4}
	inbound <- ClientAudioChunk{
		Type:           TypeClientAudioChunk,
		ConversationID: conv.ID,
		PCM16Base64:    base64.StdEncoding.EncodeToString(pcm),
		SampleRate:     16000,
	}
	buf := make([]byte, 8)
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := src.Read(buf)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if n == len(pcm) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("audio chunk never reached the source")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
