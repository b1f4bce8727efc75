package wire

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/mbellotti/aura/internal/events"
)

func TestDecodeSessionCreatedTopLevelID(t *testing.T) {
	d := NewDecoder()
	evts := d.Decode(RawMessage{Data: []byte(`{"type":"session.created","session_id":"abc123"}`)})
	if len(evts) != 1 {
		t.Fatalf("decoded %d events, want 1", len(evts))
	}
	if evts[0].Kind != events.KindSessionCreated || evts[0].SessionID != "abc123" {
		t.Fatalf("event = %+v, want session_created abc123", evts[0])
	}
}

func TestDecodeSessionCreatedNestedID(t *testing.T) {
	d := NewDecoder()
	for _, raw := range []string{
		`{"type":"session.created","session":{"id":"s-9"}}`,
		`{"type":"session.created","data":{"id":"s-9"}}`,
		`{"type":"session.created","id":"s-9"}`,
	} {
		evts := d.Decode(RawMessage{Data: []byte(raw)})
		if len(evts) != 1 || evts[0].SessionID != "s-9" {
			t.Fatalf("raw %s: events = %+v, want one with id s-9", raw, evts)
		}
	}
}

func TestDecodeTranscriptAndResponseText(t *testing.T) {
	d := NewDecoder()
	cases := []struct {
		raw  string
		kind events.Kind
		text string
	}{
		{`{"type":"conversation.item.input_audio_transcription.delta","delta":"hel"}`, events.KindTranscriptInterim, "hel"},
		{`{"type":"transcript.final","text":"hello there"}`, events.KindTranscriptFinal, "hello there"},
		{`{"type":"response.audio_transcript.delta","delta":"hi"}`, events.KindResponseInterim, "hi"},
		{`{"type":"response.text.done","text":"hi friend"}`, events.KindResponseFinal, "hi friend"},
		{`{"type":"transcript.final","data":{"text":"nested"}}`, events.KindTranscriptFinal, "nested"},
	}
	for _, tc := range cases {
		evts := d.Decode(RawMessage{Data: []byte(tc.raw)})
		if len(evts) != 1 {
			t.Fatalf("raw %s: decoded %d events, want 1", tc.raw, len(evts))
		}
		if evts[0].Kind != tc.kind || evts[0].Text != tc.text {
			t.Fatalf("raw %s: event = %+v, want kind=%s text=%q", tc.raw, evts[0], tc.kind, tc.text)
		}
	}
}

func TestDecodeResponseAudioDelta(t *testing.T) {
	d := NewDecoder()
	pcm := []byte{0x10, 0x20, 0x30}
	raw, _ := json.Marshal(map[string]any{
		"type":  "response.audio.delta",
		"delta": base64.StdEncoding.EncodeToString(pcm),
	})

	evts := d.Decode(RawMessage{Data: raw})
	if len(evts) != 1 || evts[0].Kind != events.KindResponseAudio {
		t.Fatalf("events = %+v, want one response_audio", evts)
	}
	if string(evts[0].Audio) != string(pcm) {
		t.Fatalf("audio = %v, want %v", evts[0].Audio, pcm)
	}
}

func TestDecodeMalformedFrameIsDroppedNotFatal(t *testing.T) {
	var dropped []string
	d := NewDecoder()
	d.Logf = func(string, ...any) {}
	d.OnDrop = func(reason string) { dropped = append(dropped, reason) }

	if evts := d.Decode(RawMessage{Data: []byte(`{not json`)}); len(evts) != 0 {
		t.Fatalf("expected no events for malformed frame, got %+v", evts)
	}
	if evts := d.Decode(RawMessage{Data: []byte(`{"type":"totally.unknown"}`)}); len(evts) != 0 {
		t.Fatalf("expected no events for unknown type, got %+v", evts)
	}

	// A valid frame after the bad ones still decodes.
	evts := d.Decode(RawMessage{Data: []byte(`{"type":"session.created","session_id":"ok"}`)})
	if len(evts) != 1 || evts[0].SessionID != "ok" {
		t.Fatalf("valid frame after drops: events = %+v", evts)
	}

	if len(dropped) != 2 || dropped[0] != "malformed" || dropped[1] != "unknown_type" {
		t.Fatalf("drop reasons = %v, want [malformed unknown_type]", dropped)
	}
}

func TestDecodeSpeechPhraseStatuses(t *testing.T) {
	d := NewDecoder()
	d.Logf = func(string, ...any) {}

	encode := func(payload string) []byte {
		f := NewSpeechFrame(PathSpeechPhrase, "application/json", []byte(payload))
		data, err := f.Encode()
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		return data
	}

	evts := d.Decode(RawMessage{Binary: true, Data: encode(`{"RecognitionStatus":"Success","DisplayText":"turn on the lights"}`)})
	if len(evts) != 1 || evts[0].Kind != events.KindTranscriptFinal || evts[0].Text != "turn on the lights" {
		t.Fatalf("Success: events = %+v", evts)
	}

	// NoMatch and InitialSilenceTimeout are silently dropped.
	for _, status := range []string{StatusNoMatch, StatusInitialSilenceTimeout} {
		evts := d.Decode(RawMessage{Binary: true, Data: encode(`{"RecognitionStatus":"` + status + `"}`)})
		if len(evts) != 0 {
			t.Fatalf("%s: expected zero events, got %+v", status, evts)
		}
	}

	// Unknown statuses are logged and dropped.
	var reason string
	d.OnDrop = func(r string) { reason = r }
	evts = d.Decode(RawMessage{Binary: true, Data: encode(`{"RecognitionStatus":"BabbleTimeout"}`)})
	if len(evts) != 0 || reason != "unknown_status" {
		t.Fatalf("unknown status: events=%+v reason=%q", evts, reason)
	}
}

func TestDecodeSpeechPhraseFallsBackToNBest(t *testing.T) {
	d := NewDecoder()
	f := NewSpeechFrame(PathSpeechPhrase, "application/json",
		[]byte(`{"RecognitionStatus":"Success","NBest":[{"Display":"best guess"}]}`))
	data, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	evts := d.Decode(RawMessage{Binary: true, Data: data})
	if len(evts) != 1 || evts[0].Text != "best guess" {
		t.Fatalf("events = %+v, want NBest display text", evts)
	}
}

func TestDecodeSpeechDetectionPaths(t *testing.T) {
	d := NewDecoder()
	cases := []struct {
		path string
		kind events.Kind
	}{
		{PathSpeechStart, events.KindUserSpeechStarted},
		{PathSpeechEnd, events.KindUserSpeechStopped},
	}
	for _, tc := range cases {
		f := NewSpeechFrame(tc.path, "application/json", []byte(`{}`))
		data, err := f.Encode()
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		evts := d.Decode(RawMessage{Binary: true, Data: data})
		if len(evts) != 1 || evts[0].Kind != tc.kind {
			t.Fatalf("path %s: events = %+v, want %s", tc.path, evts, tc.kind)
		}
	}
}

func TestDecodeBinFrameEnvelope(t *testing.T) {
	d := NewDecoder()
	frame := BinFrame{Type: BinTypeEvent, Payload: []byte(`{"type":"session.created","id":"bin-1"}`)}

	evts := d.Decode(RawMessage{Binary: true, Data: frame.Encode()})
	if len(evts) != 1 || evts[0].Kind != events.KindSessionCreated || evts[0].SessionID != "bin-1" {
		t.Fatalf("events = %+v, want session_created bin-1", evts)
	}
}

func TestDecodeBinFrameLengthMismatch(t *testing.T) {
	frame := BinFrame{Type: BinTypeEvent, Payload: []byte(`{}`)}
	data := frame.Encode()
	// Corrupt the declared length. The frame no longer matches the
	// length-prefixed format and fails speech-frame parsing too.
	data[1] = 0xFF

	var dropped int
	d := NewDecoder()
	d.Logf = func(string, ...any) {}
	d.OnDrop = func(string) { dropped++ }

	if evts := d.Decode(RawMessage{Binary: true, Data: data}); len(evts) != 0 {
		t.Fatalf("expected corrupt frame to be dropped, got %+v", evts)
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
}

func TestDecodeArrivalOrderPreserved(t *testing.T) {
	d := NewDecoder()
	frames := []RawMessage{
		{Data: []byte(`{"type":"session.created","session_id":"s1"}`)},
		{Data: []byte(`{"type":"transcript.partial","text":"one"}`)},
		{Data: []byte(`{"type":"transcript.final","text":"one two"}`)},
		{Data: []byte(`{"type":"response.text.delta","delta":"three"}`)},
	}

	var kinds []events.Kind
	for _, f := range frames {
		for _, e := range d.Decode(f) {
			kinds = append(kinds, e.Kind)
		}
	}

	want := []events.Kind{
		events.KindSessionCreated,
		events.KindTranscriptInterim,
		events.KindTranscriptFinal,
		events.KindResponseInterim,
	}
	if len(kinds) != len(want) {
		t.Fatalf("got %d events, want %d", len(kinds), len(want))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestEncodeSessionUpdate(t *testing.T) {
	raw, err := EncodeSessionUpdate(SessionConfig{
		Voice:        "verse",
		InputFormat:  "pcm16",
		OutputFormat: "pcm16",
		Temperature:  0.7,
	})
	if err != nil {
		t.Fatalf("EncodeSessionUpdate() error = %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if parsed["type"] != "session.update" {
		t.Fatalf("type = %v, want session.update", parsed["type"])
	}
	session, ok := parsed["session"].(map[string]any)
	if !ok || session["voice"] != "verse" {
		t.Fatalf("session = %v, want voice verse", parsed["session"])
	}
}
