// Package chat coordinates a single conversation exchange: input
// validation, durable persistence of both sides of the exchange, and the
// streamed completion in between.
//
// The Controller owns transient in-memory history for one conversation;
// the store owns durability. One exchange may be in flight at a time.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/quillchat/quill/internal/conversation"
	"github.com/quillchat/quill/internal/relay"
)

// Sentinel errors for controller operations.
var (
	// ErrBusy indicates an exchange is already in flight for this controller.
	ErrBusy = errors.New("exchange already in flight")

	// ErrEmptyInput indicates the submitted input was empty or whitespace.
	ErrEmptyInput = errors.New("input is empty")

	// ErrNoPendingReply indicates Resume found no trailing user message.
	ErrNoPendingReply = errors.New("no pending reply to resume")
)

// State is the controller's position in the exchange lifecycle.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateStreaming
	StateErrored
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateStreaming:
		return "streaming"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// MessageStore persists conversation turns. Satisfied by *conversation.Store.
type MessageStore interface {
	AppendMessage(ctx context.Context, conversationID uuid.UUID, role conversation.Role, content string) (*conversation.Message, error)
	Messages(ctx context.Context, conversationID uuid.UUID, limit, offset int32) ([]*conversation.Message, error)
}

// Completer streams a completion for a transcript. Satisfied by *relay.Relay.
type Completer interface {
	Stream(ctx context.Context, turns []*ai.Message, callback relay.StreamCallback) (string, error)
}

// Controller drives the submission cycle for one conversation.
//
// All methods are safe for concurrent use; a second Submit or Resume while
// an exchange is in flight returns ErrBusy without side effects.
type Controller struct {
	conversationID uuid.UUID
	store          MessageStore
	completer      Completer
	logger         *slog.Logger

	mu      sync.Mutex
	state   State
	history []*conversation.Message
}

// NewController creates a controller bound to one conversation.
func NewController(conversationID uuid.UUID, store MessageStore, completer Completer, logger *slog.Logger) (*Controller, error) {
	if conversationID == uuid.Nil {
		return nil, errors.New("conversation id is required")
	}
	if store == nil {
		return nil, errors.New("message store is required")
	}
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Controller{
		conversationID: conversationID,
		store:          store,
		completer:      completer,
		logger:         logger,
		state:          StateIdle,
	}, nil
}

// ConversationID returns the bound conversation.
func (c *Controller) ConversationID() uuid.UUID {
	return c.conversationID
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether an exchange is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateSubmitting || c.state == StateStreaming
}

// History returns a copy of the in-memory message list.
func (c *Controller) History() []*conversation.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*conversation.Message, len(c.history))
	copy(out, c.history)
	return out
}

// Load hydrates in-memory history from the store, replacing any prior state.
func (c *Controller) Load(ctx context.Context) error {
	msgs, err := c.store.Messages(ctx, c.conversationID, 0, 0)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	c.mu.Lock()
	c.history = msgs
	c.mu.Unlock()
	return nil
}

// NeedsReply reports whether the conversation ends with a user message that
// has no assistant reply. Used after Load to detect an exchange interrupted
// between the user-message write and the assistant-message write.
func (c *Controller) NeedsReply() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return false
	}
	return c.history[len(c.history)-1].Role == conversation.RoleUser
}

// Submit runs one full exchange: persist the user message, stream the
// completion, persist the assistant message.
//
// The user message is durably persisted before the completer is invoked;
// a persistence failure means the completer is never called. A completer
// failure persists no assistant message. If the final assistant-message
// write fails, the assembled text is still returned (and retained in
// memory) alongside the wrapped error.
func (c *Controller) Submit(ctx context.Context, input string, onChunk relay.StreamCallback) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrEmptyInput
	}

	if err := c.begin(); err != nil {
		return "", err
	}

	userMsg, err := c.store.AppendMessage(ctx, c.conversationID, conversation.RoleUser, input)
	if err != nil {
		c.fail()
		return "", fmt.Errorf("persisting user message: %w", err)
	}
	c.push(userMsg)

	return c.complete(ctx, onChunk)
}

// Resume replays the completion for a conversation whose last stored
// message is an unanswered user message. The user message is not
// re-persisted.
func (c *Controller) Resume(ctx context.Context, onChunk relay.StreamCallback) (string, error) {
	if !c.NeedsReply() {
		return "", ErrNoPendingReply
	}
	if err := c.begin(); err != nil {
		return "", err
	}
	return c.complete(ctx, onChunk)
}

// complete streams the completion over current history and persists the
// assistant message. Caller must have entered the submitting state.
func (c *Controller) complete(ctx context.Context, onChunk relay.StreamCallback) (string, error) {
	c.setState(StateStreaming)

	turns := conversation.AIMessages(c.History())
	text, err := c.completer.Stream(ctx, turns, onChunk)
	if err != nil {
		c.fail()
		return "", fmt.Errorf("streaming completion: %w", err)
	}

	assistantMsg, err := c.store.AppendMessage(ctx, c.conversationID, conversation.RoleAssistant, text)
	if err != nil {
		// The user already saw the streamed text; keep it in memory and
		// surface the divergence to the caller.
		c.push(&conversation.Message{
			ConversationID: c.conversationID,
			Role:           conversation.RoleAssistant,
			Content:        text,
		})
		c.fail()
		c.logger.Error("assistant message not persisted",
			"conversation_id", c.conversationID,
			"error", err,
		)
		return text, fmt.Errorf("persisting assistant message: %w", err)
	}
	c.push(assistantMsg)

	c.setState(StateIdle)
	return text, nil
}

// begin transitions into the submitting state, rejecting concurrent
// exchanges. A prior errored state is reset.
func (c *Controller) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSubmitting || c.state == StateStreaming {
		return ErrBusy
	}
	c.state = StateSubmitting
	return nil
}

func (c *Controller) fail() {
	c.setState(StateErrored)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) push(msg *conversation.Message) {
	c.mu.Lock()
	c.history = append(c.history, msg)
	c.mu.Unlock()
}
