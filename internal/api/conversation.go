package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/quillchat/quill/internal/conversation"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ConversationStore is the persistence surface the handlers need.
// Satisfied by *conversation.Store.
type ConversationStore interface {
	CreateConversation(ctx context.Context, title string, scope conversation.Scope) (*conversation.Conversation, error)
	Conversation(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error)
	Conversations(ctx context.Context, limit, offset int32) ([]*conversation.Conversation, error)
	RenameConversation(ctx context.Context, id uuid.UUID, title string) (*conversation.Conversation, error)
	AppendMessage(ctx context.Context, conversationID uuid.UUID, role conversation.Role, content string) (*conversation.Message, error)
	Messages(ctx context.Context, conversationID uuid.UUID, limit, offset int32) ([]*conversation.Message, error)
	LastMessage(ctx context.Context, conversationID uuid.UUID) (*conversation.Message, error)
}

// conversationHandler serves conversation CRUD endpoints.
type conversationHandler struct {
	store  ConversationStore
	logger *slog.Logger
}

type createConversationRequest struct {
	Title string `json:"title"`
	Scope string `json:"scope"`
}

// create handles POST /api/v1/conversations.
func (h *conversationHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}

	conv, err := h.store.CreateConversation(r.Context(), req.Title, conversation.Scope(req.Scope))
	switch {
	case errors.Is(err, conversation.ErrTitleRequired):
		writeError(w, http.StatusBadRequest, "title_required", err.Error(), h.logger)
		return
	case errors.Is(err, conversation.ErrInvalidScope):
		writeError(w, http.StatusBadRequest, "invalid_scope", err.Error(), h.logger)
		return
	case errors.Is(err, conversation.ErrTitleTooLong):
		writeError(w, http.StatusBadRequest, "title_too_long", err.Error(), h.logger)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "create_failed", "failed to create conversation", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// list handles GET /api/v1/conversations.
func (h *conversationHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := parsePagination(w, r, h.logger)
	if !ok {
		return
	}

	convs, err := h.store.Conversations(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list conversations", h.logger)
		return
	}
	if convs == nil {
		convs = []*conversation.Conversation{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// get handles GET /api/v1/conversations/{id}.
func (h *conversationHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, h.logger)
	if !ok {
		return
	}

	conv, err := h.store.Conversation(r.Context(), id)
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get conversation", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// messages handles GET /api/v1/conversations/{id}/messages.
// The needsReply flag tells the UI a user message is still unanswered,
// so it can offer to resume the exchange.
func (h *conversationHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, h.logger)
	if !ok {
		return
	}

	if _, err := h.store.Conversation(r.Context(), id); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get conversation", h.logger)
		return
	}

	limit, offset, ok := parsePagination(w, r, h.logger)
	if !ok {
		return
	}

	msgs, err := h.store.Messages(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list messages", h.logger)
		return
	}
	if msgs == nil {
		msgs = []*conversation.Message{}
	}

	needsReply := false
	last, err := h.store.LastMessage(r.Context(), id)
	if err == nil {
		needsReply = last.Role == conversation.RoleUser
	} else if !errors.Is(err, conversation.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to inspect last message", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages":   msgs,
		"needsReply": needsReply,
	})
}

// pathID parses the {id} path segment as a UUID.
func pathID(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid conversation ID", logger)
		return uuid.Nil, false
	}
	return id, true
}

// parsePagination reads optional limit/offset query parameters.
func parsePagination(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (limit, offset int32, ok bool) {
	limit = defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || n < 1 || n > maxListLimit {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 200", logger)
			return 0, 0, false
		}
		limit = int32(n)
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be non-negative", logger)
			return 0, 0, false
		}
		offset = int32(n)
	}
	return limit, offset, true
}
