// Package conversation manages conversation and message persistence with a
// PostgreSQL backend.
//
// A conversation is an ordered transcript of messages. Ordering is explicit:
// every message carries a sequence number assigned under a row lock on its
// parent conversation, so readers never depend on insertion timestamps.
package conversation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the conversation or message does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrEmptyContent indicates a message with no usable text content.
	ErrEmptyContent = errors.New("empty message content")

	// ErrInvalidRole indicates a role outside user/assistant/system.
	ErrInvalidRole = errors.New("invalid message role")

	// ErrInvalidScope indicates an unknown conversation scope.
	ErrInvalidScope = errors.New("invalid conversation scope")

	// ErrTitleRequired indicates an empty or whitespace-only title.
	ErrTitleRequired = errors.New("title is required")

	// ErrTitleTooLong indicates a title exceeding MaxTitleLength.
	ErrTitleTooLong = errors.New("title too long")
)

// MaxTitleLength is the maximum conversation title length in bytes,
// matching the VARCHAR(255) column.
const MaxTitleLength = 255

// Scope categorizes what kind of content a conversation is about.
type Scope string

const (
	ScopeBlog    Scope = "blog"
	ScopeSocial  Scope = "social"
	ScopeEmail   Scope = "email"
	ScopeGeneral Scope = "general"
)

// Valid reports whether the scope is one of the known values.
func (s Scope) Valid() bool {
	switch s {
	case ScopeBlog, ScopeSocial, ScopeEmail, ScopeGeneral:
		return true
	default:
		return false
	}
}

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Conversation is a persisted conversation record.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Scope     Scope     `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single turn within a conversation.
//
// Content is stored flat (plain text). Structured multi-part content from
// the wire is flattened on write and re-wrapped on read; see codec.go.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SequenceNumber int64     `json:"sequence_number"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
