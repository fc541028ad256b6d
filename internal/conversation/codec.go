package conversation

import (
	"strings"

	"github.com/firebase/genkit/go/ai"
)

// FlattenParts concatenates the text of all text parts into a single string.
// Non-text parts (media, tool requests, tool responses) are dropped: the
// storage model is flat text, and only text survives a round-trip.
//
// Returns the empty string when no part carries text.
func FlattenParts(parts []*ai.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if p == nil || !p.IsText() {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// Parts re-wraps the flat stored content as a single text part.
// The inverse of FlattenParts for text-only content; part boundaries from
// the original request are not preserved.
func (m *Message) Parts() []*ai.Part {
	return []*ai.Part{ai.NewTextPart(m.Content)}
}

// AIMessage converts the stored message into a model-facing message.
// Stored assistant turns map to genkit's "model" role.
func (m *Message) AIMessage() *ai.Message {
	role := ai.Role(m.Role)
	if m.Role == RoleAssistant {
		role = ai.RoleModel
	}
	return &ai.Message{
		Role:    role,
		Content: m.Parts(),
	}
}

// AIMessages converts a transcript slice for a completion call.
func AIMessages(msgs []*Message) []*ai.Message {
	out := make([]*ai.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.AIMessage()
	}
	return out
}
