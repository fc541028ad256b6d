package conversation

import (
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
)

func TestFlattenParts(t *testing.T) {
	tests := []struct {
		name  string
		parts []*ai.Part
		want  string
	}{
		{
			name:  "single text part",
			parts: []*ai.Part{ai.NewTextPart("hello")},
			want:  "hello",
		},
		{
			name: "multiple text parts concatenated in order",
			parts: []*ai.Part{
				ai.NewTextPart("hello "),
				ai.NewTextPart("world"),
			},
			want: "hello world",
		},
		{
			name: "non-text parts dropped",
			parts: []*ai.Part{
				ai.NewTextPart("before "),
				ai.NewMediaPart("image/png", "data:image/png;base64,AAAA"),
				ai.NewTextPart("after"),
			},
			want: "before after",
		},
		{
			name:  "only non-text parts yields empty",
			parts: []*ai.Part{ai.NewMediaPart("image/png", "data:image/png;base64,AAAA")},
			want:  "",
		},
		{
			name:  "nil part skipped",
			parts: []*ai.Part{nil, ai.NewTextPart("x")},
			want:  "x",
		},
		{
			name:  "empty slice",
			parts: nil,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FlattenParts(tt.parts); got != tt.want {
				t.Errorf("FlattenParts() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageParts(t *testing.T) {
	m := &Message{
		ID:      uuid.New(),
		Role:    RoleAssistant,
		Content: "flat text",
	}

	parts := m.Parts()
	if len(parts) != 1 {
		t.Fatalf("Parts() returned %d parts, want 1", len(parts))
	}
	if !parts[0].IsText() {
		t.Error("Parts()[0] should be a text part")
	}
	if parts[0].Text != "flat text" {
		t.Errorf("Parts()[0].Text = %q, want %q", parts[0].Text, "flat text")
	}
}

// Text content must survive encode → decode unchanged.
func TestFlattenRoundTrip(t *testing.T) {
	original := []*ai.Part{
		ai.NewTextPart("first "),
		ai.NewTextPart("second"),
	}

	m := &Message{Content: FlattenParts(original)}
	if got := FlattenParts(m.Parts()); got != "first second" {
		t.Errorf("round-trip = %q, want %q", got, "first second")
	}
}

func TestAIMessage(t *testing.T) {
	m := &Message{Role: RoleUser, Content: "hi"}

	aiMsg := m.AIMessage()
	if aiMsg.Role != ai.RoleUser {
		t.Errorf("AIMessage().Role = %q, want %q", aiMsg.Role, ai.RoleUser)
	}
	if got := aiMsg.Text(); got != "hi" {
		t.Errorf("AIMessage().Text() = %q, want %q", got, "hi")
	}
}

func TestAIMessages(t *testing.T) {
	msgs := []*Message{
		{Role: RoleUser, Content: "question"},
		{Role: RoleAssistant, Content: "answer"},
	}

	aiMsgs := AIMessages(msgs)
	if len(aiMsgs) != 2 {
		t.Fatalf("AIMessages() returned %d messages, want 2", len(aiMsgs))
	}
	if aiMsgs[0].Role != ai.RoleUser || aiMsgs[0].Text() != "question" {
		t.Errorf("AIMessages()[0] = %q/%q", aiMsgs[0].Role, aiMsgs[0].Text())
	}
	if aiMsgs[1].Role != ai.RoleModel || aiMsgs[1].Text() != "answer" {
		t.Errorf("AIMessages()[1] = %q/%q", aiMsgs[1].Role, aiMsgs[1].Text())
	}
}

func TestScopeValid(t *testing.T) {
	for _, s := range []Scope{ScopeBlog, ScopeSocial, ScopeEmail, ScopeGeneral} {
		if !s.Valid() {
			t.Errorf("Scope(%q).Valid() = false, want true", s)
		}
	}
	for _, s := range []Scope{"", "podcast", "BLOG"} {
		if s.Valid() {
			t.Errorf("Scope(%q).Valid() = true, want false", s)
		}
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleAssistant, RoleSystem} {
		if !r.Valid() {
			t.Errorf("Role(%q).Valid() = false, want true", r)
		}
	}
	for _, r := range []Role{"", "model", "User"} {
		if r.Valid() {
			t.Errorf("Role(%q).Valid() = true, want false", r)
		}
	}
}
