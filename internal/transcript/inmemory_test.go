package transcript

import (
	"context"
	"testing"
)

func TestInMemoryStoreSaveAndHistory(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	turns := []Entry{
		{ConversationID: "c1", SessionID: "s1", Role: RoleUser, Text: "hello"},
		{ConversationID: "c1", SessionID: "s1", Role: RoleAssistant, Text: "hi there"},
		{ConversationID: "c1", SessionID: "s1", Role: RoleUser, Text: "how are you"},
		{ConversationID: "c2", SessionID: "s2", Role: RoleUser, Text: "other conversation"},
	}
	for _, e := range turns {
		if err := s.Save(ctx, e); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	got, err := s.History(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("History() returned %d entries, want 2", len(got))
	}
	if got[0].Text != "hi there" || got[1].Text != "how are you" {
		t.Fatalf("History() order wrong: %q, %q", got[0].Text, got[1].Text)
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("Save() did not fill id/created_at: %+v", got[0])
	}

	got, err = s.History(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("History() with no limit returned %d entries, want 3", len(got))
	}

	got, err = s.History(ctx, "missing", 10)
	if err != nil || got != nil {
		t.Fatalf("History() for unknown conversation = %v, %v", got, err)
	}
}
