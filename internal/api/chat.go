package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/quillchat/quill/internal/chat"
	"github.com/quillchat/quill/internal/conversation"
	"github.com/quillchat/quill/internal/relay"
)

// SSE event types for chat streaming.
const (
	EventChunk = "chunk" // partial response text
	EventDone  = "done"  // stream completed successfully
	EventError = "error" // error occurred during streaming
)

// ChunkPayload is the SSE data payload for streaming text chunks.
type ChunkPayload struct {
	Text string `json:"text"`
}

// DonePayload is the SSE data payload when streaming completes.
type DonePayload struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversationId,omitempty"`
}

// ErrorPayload is the SSE data payload when an error occurs.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Completer streams a completion over a transcript and suggests
// conversation titles. Satisfied by *relay.Relay.
type Completer interface {
	Stream(ctx context.Context, turns []*ai.Message, callback relay.StreamCallback) (string, error)
	Title(ctx context.Context, userMessage string) string
}

// chatHandler serves the streaming chat endpoints.
type chatHandler struct {
	store     ConversationStore
	completer Completer
	logger    *slog.Logger
}

// Wire format of the stateless completion endpoint. Mirrors the UI's
// message shape: parts carry typed fragments, only text ones count.
type wirePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wireMessage struct {
	Role  string     `json:"role"`
	Parts []wirePart `json:"parts"`
}

type completionRequest struct {
	Messages []wireMessage `json:"messages"`
}

// turns flattens wire messages into model turns. Non-text parts are
// dropped without error; a message whose parts are all non-text becomes
// an empty turn, preserved to keep role alternation intact.
func (req *completionRequest) turns() ([]*ai.Message, error) {
	msgs := make([]*ai.Message, 0, len(req.Messages))
	for i, m := range req.Messages {
		var role ai.Role
		switch m.Role {
		case "user":
			role = ai.RoleUser
		case "assistant":
			role = ai.RoleModel
		case "system":
			role = ai.RoleSystem
		default:
			return nil, fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}

		var sb strings.Builder
		for _, p := range m.Parts {
			if p.Type != "text" {
				continue
			}
			sb.WriteString(p.Text)
		}
		msgs = append(msgs, &ai.Message{
			Role:    role,
			Content: []*ai.Part{ai.NewTextPart(sb.String())},
		})
	}
	return msgs, nil
}

// completion handles POST /api/v1/chat: a stateless completion over the
// transcript supplied in the request body. Nothing is persisted.
func (h *chatHandler) completion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "missing_messages", "messages are required", h.logger)
		return
	}

	turns, err := req.turns()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_messages", err.Error(), h.logger)
		return
	}

	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	response, err := h.completer.Stream(r.Context(), turns, chunkWriter(w, flusher))
	if err != nil {
		h.streamError(r.Context(), w, flusher, err)
		return
	}

	_ = writeEvent(w, flusher, EventDone, DonePayload{Response: response})
}

type converseRequest struct {
	Content string `json:"content"`
}

// converse handles POST /api/v1/conversations/{id}/chat: one full
// persisted exchange. The user message is durably stored before the
// model is invoked; the assistant message is stored after the stream
// completes.
func (h *chatHandler) converse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, h.logger)
	if !ok {
		return
	}

	var req converseRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "missing_content", "content is required", h.logger)
		return
	}

	if sess := sessionFromContext(r.Context()); sess != nil {
		h.logger.Debug("exchange requested", "conversation_id", id, "user_id", sess.UserID)
	}

	if _, err := h.store.Conversation(r.Context(), id); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get conversation", h.logger)
		return
	}

	ctrl, err := chat.NewController(id, h.store, h.completer, h.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "controller_failed", "failed to start exchange", h.logger)
		return
	}
	if err := ctrl.Load(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "load_failed", "failed to load history", h.logger)
		return
	}

	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	response, err := ctrl.Submit(r.Context(), req.Content, chunkWriter(w, flusher))
	if err != nil {
		h.streamError(r.Context(), w, flusher, err)
		return
	}

	_ = writeEvent(w, flusher, EventDone, DonePayload{
		Response:       response,
		ConversationID: id.String(),
	})
}

type titleResponse struct {
	Title string `json:"title"`
}

// generateTitle handles POST /api/v1/conversations/{id}/title: derives a
// short title from the conversation's first user message and persists it.
// Intended for UIs that create conversations with a placeholder title and
// re-title them after the first exchange.
func (h *chatHandler) generateTitle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, h.logger)
	if !ok {
		return
	}

	msgs, err := h.store.Messages(r.Context(), id, 1, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to load messages", h.logger)
		return
	}
	if len(msgs) == 0 {
		// Distinguish a missing conversation from an empty one.
		if _, err := h.store.Conversation(r.Context(), id); errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "no_messages", "conversation has no messages yet", h.logger)
		return
	}

	title := h.completer.Title(r.Context(), msgs[0].Content)
	if title == "" {
		writeError(w, http.StatusBadGateway, "title_generation_failed", "could not generate a title", h.logger)
		return
	}

	conv, err := h.store.RenameConversation(r.Context(), id, title)
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "rename_failed", "failed to store title", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, titleResponse{Title: conv.Title})
}

// startSSE sets the SSE response headers and resolves the flusher.
func startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return flusher, true
}

// chunkWriter adapts SSE chunk events to the relay's stream callback.
// A write failure (usually client disconnect) aborts the stream.
func chunkWriter(w io.Writer, flusher http.Flusher) relay.StreamCallback {
	return func(ctx context.Context, text string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return writeEvent(w, flusher, EventChunk, ChunkPayload{Text: text})
	}
}

// streamError maps stream failures to SSE error events. Headers are
// already sent at this point, so a JSON status response is not an option.
func (h *chatHandler) streamError(ctx context.Context, w io.Writer, f http.Flusher, err error) {
	if ctx.Err() != nil {
		// Client is gone; nobody is reading events anymore.
		h.logger.Info("client disconnected during stream")
		return
	}

	code := "stream_error"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = "timeout"
	case errors.Is(err, relay.ErrUpstream):
		code = "upstream_error"
	case errors.Is(err, chat.ErrBusy):
		code = "busy"
	}

	h.logger.Error("stream failed", "code", code, "error", err)
	_ = writeEvent(w, f, EventError, ErrorPayload{
		Code:    code,
		Message: err.Error(),
	})
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
