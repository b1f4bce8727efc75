package speech

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSynthesizePostsSSML(t *testing.T) {
	var gotFormat, gotContentType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFormat = r.Header.Get("X-Microsoft-OutputFormat")
		gotContentType = r.Header.Get("Content-Type")
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = string(buf)
		_, _ = w.Write([]byte{0x52, 0x49, 0x46, 0x46})
	}))
	defer srv.Close()

	s, err := NewSynthesizer(SynthesizerConfig{Endpoint: srv.URL, APIKey: "k", OutputFormat: "riff-16khz-16bit-mono-pcm"})
	if err != nil {
		t.Fatalf("NewSynthesizer() error = %v", err)
	}

	doc := SSML{Voice: "en-US-AvaNeural", Language: "en-US"}.Document("hi there")
	audio, err := s.Synthesize(context.Background(), doc)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(audio) != 4 {
		t.Fatalf("audio length = %d, want 4", len(audio))
	}
	if gotFormat != "riff-16khz-16bit-mono-pcm" {
		t.Fatalf("output format header = %q", gotFormat)
	}
	if gotContentType != "application/ssml+xml" {
		t.Fatalf("content type = %q", gotContentType)
	}
	if !strings.Contains(gotBody, "en-US-AvaNeural") {
		t.Fatalf("ssml body missing voice: %s", gotBody)
	}
}

func TestNewSynthesizerRejectsUnknownFormat(t *testing.T) {
	if _, err := NewSynthesizer(SynthesizerConfig{Endpoint: "https://x", APIKey: "k", OutputFormat: "wax-cylinder"}); err == nil {
		t.Fatalf("expected error for unknown output format")
	}
}

func TestSSMLDocumentEscapesText(t *testing.T) {
	doc := SSML{Voice: "v", Language: "en-US"}.Document(`say <hello> & "bye"`)
	if strings.Contains(doc, "<hello>") {
		t.Fatalf("text not escaped: %s", doc)
	}
	if !strings.Contains(doc, "&lt;hello&gt;") {
		t.Fatalf("expected escaped angle brackets: %s", doc)
	}
}

func TestSSMLDocumentProsodyRate(t *testing.T) {
	doc := SSML{Voice: "v", Rate: 0.9}.Document("slow down")
	if !strings.Contains(doc, "prosody") {
		t.Fatalf("expected prosody element for non-default rate: %s", doc)
	}
	if !strings.Contains(doc, "-10%") {
		t.Fatalf("expected -10%% rate: %s", doc)
	}

	plain := SSML{Voice: "v"}.Document("normal")
	if strings.Contains(plain, "prosody") {
		t.Fatalf("default rate should not add prosody: %s", plain)
	}
}
