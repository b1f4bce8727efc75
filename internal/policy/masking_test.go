package policy

import (
	"strings"
	"testing"
)

func TestMaskURLHidesCredentialParams(t *testing.T) {
	in := "wss://x.example.com/openai/realtime?api-version=2024-10-01-preview&deployment=d1&api-key=super-secret-key"
	out := MaskURL(in)

	if strings.Contains(out, "super-secret-key") {
		t.Fatalf("masked URL still contains credential: %s", out)
	}
	if !strings.Contains(out, "deployment=d1") {
		t.Fatalf("masked URL lost non-secret params: %s", out)
	}
	if !strings.Contains(out, "api-version=2024-10-01-preview") {
		t.Fatalf("masked URL lost api-version: %s", out)
	}
}

func TestMaskURLUnparseableInput(t *testing.T) {
	if out := MaskURL("://not a url?key=abc"); strings.Contains(out, "abc") {
		t.Fatalf("unparseable input leaked credential: %s", out)
	}
}

func TestMaskSecret(t *testing.T) {
	if got := MaskSecret("abcd"); got != "***" {
		t.Fatalf("short secret = %q, want fully masked", got)
	}
	got := MaskSecret("sk-1234567890")
	if strings.Contains(got, "1234567890") {
		t.Fatalf("secret body leaked: %q", got)
	}
	if !strings.HasPrefix(got, "sk") {
		t.Fatalf("expected recognizable prefix, got %q", got)
	}
}
